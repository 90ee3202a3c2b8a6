package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/prec/internal/paper"
)

var (
	searchAuthor  string
	searchJournal int64
	searchLimit   int
)

func init() {
	searchCmd.Flags().StringVar(&searchAuthor, "author", "", "Case-insensitive substring of the authors field")
	searchCmd.Flags().Int64Var(&searchJournal, "journal", 0, "Journal ID")
	searchCmd.Flags().IntVar(&searchLimit, "limit", DefaultSearchLimit, "Maximum results for --author (0 for all)")
	searchCmd.MarkFlagsMutuallyExclusive("author", "journal")
	searchCmd.MarkFlagsOneRequired("author", "journal")

	rootCmd.AddCommand(getCmd, deleteCmd, searchCmd)
}

var getCmd = &cobra.Command{
	Use:   "get <paper-id>",
	Short: "Get a single paper with its journal",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <paper-id>",
	Short: "Delete a paper and its topics",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var searchCmd = &cobra.Command{
	Use:   "search (--author A | --journal ID)",
	Short: "Find papers by author or journal",
	Long: `Find papers by author substring or by journal.

Examples:
  prec search --author smith
  prec search --journal 3`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

// PaperDetail is the response for get.
type PaperDetail struct {
	paper.Paper
	Journal *paper.Journal `json:"journal"`
}

func runGet(cmd *cobra.Command, args []string) error {
	id := mustParseID(args[0])

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	p, err := a.store.GetPaper(ctx, id)
	exitOnError(err, "getting paper")
	j, err := a.store.GetJournal(ctx, p.JournalID)
	exitOnError(err, "getting journal")

	if !humanOutput {
		outputJSON(PaperDetail{Paper: *p, Journal: j})
		return nil
	}

	fmt.Printf("ID:       %d\n", p.ID)
	fmt.Printf("Title:    %s\n", wrapText(p.Title, TextWrapWidth, "          "))
	fmt.Printf("Authors:  %s\n", p.Authors)
	rank := "unranked"
	if paper.IsRanked(j.Rank) {
		rank = fmt.Sprintf("rank %d", j.Rank)
	}
	fmt.Printf("Journal:  %s (%s)\n", j.Name, rank)
	if p.Abstract != "" {
		fmt.Printf("\nAbstract:\n  %s\n", wrapText(p.Abstract, TextWrapWidth, "  "))
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id := mustParseID(args[0])

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	exitOnError(a.store.DeletePaper(ctx, id), "deleting paper")

	if humanOutput {
		fmt.Printf("Deleted paper %d\n", id)
	} else {
		outputJSON(StatusResponse{Status: "deleted"})
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	var papers []paper.Paper
	var err error
	if searchAuthor != "" {
		papers, err = a.store.SearchAuthors(ctx, searchAuthor, searchLimit)
	} else {
		papers, err = a.store.PapersByJournal(ctx, searchJournal)
	}
	exitOnError(err, "searching")

	// Empty result is not an error
	if papers == nil {
		papers = []paper.Paper{}
	}

	if !humanOutput {
		outputJSON(papers)
		return nil
	}
	if len(papers) == 0 {
		fmt.Println("No papers found")
		return nil
	}
	fmt.Printf("Found %d papers:\n\n", len(papers))
	for i, p := range papers {
		printPaperSummary(i+1, p)
	}
	return nil
}
