package main

import (
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/matsen/prec/internal/paper"
)

// Constants for output formatting.
const (
	DefaultLimit       = 10 // Default result count for recommend/neighbors
	DefaultSearchLimit = 50 // Default limit for search

	SummaryTitleLen = 70 // Title truncation in result lists
	TextWrapWidth   = 68 // Abstract wrap width in detail views
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError writes an error message to stderr and returns the exit code.
func outputError(code int, format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	return code
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// exitOnError exits with the code for err's class when err is non-nil.
func exitOnError(err error, doing string) {
	if err != nil {
		exitWithError(exitCodeFor(err), "%s: %v", doing, err)
	}
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// printPaperSummary prints one line-block for a paper in a result list.
func printPaperSummary(num int, p paper.Paper) {
	fmt.Printf("[%d] %d\n", num, p.ID)
	fmt.Printf("    %s\n", truncateString(p.Title, SummaryTitleLen))
	if p.Authors != "" {
		fmt.Printf("    %s\n", p.Authors)
	}
	fmt.Printf("    journal %d\n\n", p.JournalID)
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// wrapText wraps text to the specified width with indentation on subsequent lines.
func wrapText(text string, width int, indent string) string {
	if len(text) <= width {
		return text
	}

	var lines []string
	var currentLine strings.Builder

	for _, word := range strings.Fields(text) {
		if currentLine.Len() == 0 {
			currentLine.WriteString(word)
		} else if currentLine.Len()+1+len(word) <= width {
			currentLine.WriteString(" ")
			currentLine.WriteString(word)
		} else {
			lines = append(lines, currentLine.String())
			currentLine.Reset()
			currentLine.WriteString(word)
		}
	}
	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	return strings.Join(lines, "\n"+indent)
}
