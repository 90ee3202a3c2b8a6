package storage

import (
	"bufio"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/matsen/prec/internal/paper"
)

// MaxJSONLLineCapacity is the maximum buffer size for reading JSONL lines (1MB per line).
const MaxJSONLLineCapacity = 1024 * 1024

// PaperRecord is one line of a papers JSONL file: metadata plus the topic
// indices assigned by the topic model.
type PaperRecord struct {
	paper.Paper
	Topics []int `json:"topics"`
}

// ReadJournals reads all journals from a JSONL file.
func ReadJournals(path string) ([]paper.Journal, error) {
	var journals []paper.Journal
	err := readJSONL(path, func(lineNum int, line []byte) error {
		var j paper.Journal
		if err := json.Unmarshal(line, &j); err != nil {
			return fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		if err := j.ValidateForCreate(); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		journals = append(journals, j)
		return nil
	})
	return journals, err
}

// ReadPapers reads all paper records from a JSONL file.
func ReadPapers(path string) ([]PaperRecord, error) {
	var records []PaperRecord
	err := readJSONL(path, func(lineNum int, line []byte) error {
		var r PaperRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		if err := r.ValidateForCreate(); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		records = append(records, r)
		return nil
	})
	return records, err
}

// readJSONL calls fn for each non-empty line of the file at path.
func readJSONL(path string, fn func(lineNum int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	// Increase buffer size for long abstracts
	buf := make([]byte, MaxJSONLLineCapacity)
	scanner.Buffer(buf, MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNum, line); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}
