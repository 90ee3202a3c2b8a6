package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/prec/internal/logging"
	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

func init() {
	importCmd.AddCommand(importJournalsCmd, importPapersCmd)
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import journals or papers from JSONL",
	Long: `Import journals or papers from JSONL files.

Journals must be imported before the papers that reference them. Records
with an existing ID replace the stored record.

Journal lines:
  {"id": 1, "name": "Journal of Topics", "field": "ml", "ranking": 5}

Paper lines (topics are 1-indexed, within [1, K]):
  {"id": 10, "authors": "Smith, J", "journal_id": 1, "title": "...", "abstract": "...", "topics": [1, 3]}`,
}

var importJournalsCmd = &cobra.Command{
	Use:   "journals <file>",
	Short: "Import journals from a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportJournals,
}

var importPapersCmd = &cobra.Command{
	Use:   "papers <file>",
	Short: "Import papers with their topics from a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportPapers,
}

// ImportResult is the response for import commands.
type ImportResult struct {
	Kind     string `json:"kind"`
	Imported int    `json:"imported"`
}

func runImportJournals(cmd *cobra.Command, args []string) error {
	journals, err := storage.ReadJournals(args[0])
	if err != nil {
		exitWithError(ExitDataError, "reading journals: %v", err)
	}

	a := mustOpenApp(cmd.Context())
	defer a.Close()

	n, err := importJournals(cmd.Context(), a.store, journals)
	reportImport("journals", n, err)
	return nil
}

func runImportPapers(cmd *cobra.Command, args []string) error {
	records, err := storage.ReadPapers(args[0])
	if err != nil {
		exitWithError(ExitDataError, "reading papers: %v", err)
	}

	a := mustOpenApp(cmd.Context())
	defer a.Close()

	n, err := importPapers(cmd.Context(), a.store, records)
	reportImport("papers", n, err)
	return nil
}

func importJournals(ctx context.Context, store storage.Catalog, journals []paper.Journal) (int, error) {
	for i, j := range journals {
		if err := store.UpsertJournal(ctx, j); err != nil {
			return i, fmt.Errorf("journal %d: %w", j.ID, err)
		}
	}
	return len(journals), nil
}

// importPapers stores each record with the vector encoding of its topics.
// It stops at the first failure; earlier records stay imported.
func importPapers(ctx context.Context, store storage.Backend, records []storage.PaperRecord) (int, error) {
	codec, err := topic.NewCodec(store.TopicCount())
	if err != nil {
		return 0, err
	}
	logger := logging.With("import")

	for i, r := range records {
		v, err := codec.Encode(r.Topics)
		if err != nil {
			return i, fmt.Errorf("paper %d: %w", r.ID, err)
		}
		if err := store.UpsertPaper(ctx, r.Paper, v); err != nil {
			return i, fmt.Errorf("paper %d: %w", r.ID, err)
		}
		logger.Debug().Int64("paper", r.ID).Ints("topics", r.Topics).Msg("imported")
	}
	return len(records), nil
}

func reportImport(kind string, n int, err error) {
	if err != nil {
		exitWithError(exitCodeFor(err), "imported %d %s before failing: %v", n, kind, err)
	}
	if humanOutput {
		fmt.Printf("Imported %d %s\n", n, kind)
	} else {
		outputJSON(ImportResult{Kind: kind, Imported: n})
	}
}
