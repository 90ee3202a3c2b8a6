package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/prec/internal/config"
)

var (
	initTopics  int
	initBackend string
)

func init() {
	initCmd.Flags().IntVar(&initTopics, "topics", 0, "Number of topics K (default from global config)")
	initCmd.Flags().StringVar(&initBackend, "backend", "", "Storage backend: sqlite or graph (default sqlite)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new prec repository",
	Long: `Initialize a new prec repository in the current directory.

Creates:
  .prec/
  ├── config.yml    # Topic count, backend and server settings
  └── prec.db       # Storage (prec.bolt for the graph backend)

Unset flags fall back to ~/.config/prec/config.yml.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	root, exitCode := getStartingDirectory()
	if exitCode != 0 {
		os.Exit(exitCode)
	}

	if config.IsRepository(root) {
		exitWithError(ExitError, "directory already contains a prec repository")
	}

	global, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	cfg := global.Seed(initTopics, initBackend)
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	if err := initRepository(cmd.Context(), root, cfg); err != nil {
		exitWithError(exitCodeFor(err), "%v", err)
	}

	if humanOutput {
		fmt.Printf("Initialized prec repository in %s (%d topics, %s backend)\n", config.PrecPath(root), cfg.Topics, cfg.Backend)
	} else {
		outputJSON(StatusResponse{Status: "initialized", Path: config.PrecPath(root)})
	}
	return nil
}

// initRepository creates the .prec directory, writes cfg and creates the empty store.
func initRepository(ctx context.Context, root string, cfg *config.Config) error {
	if err := os.MkdirAll(config.PrecPath(root), 0755); err != nil {
		return fmt.Errorf("creating .prec directory: %w", err)
	}
	if err := cfg.Save(root); err != nil {
		return err
	}
	store, err := openBackend(ctx, root, cfg)
	if err != nil {
		return fmt.Errorf("creating %s storage: %w", cfg.Backend, err)
	}
	return store.Close()
}
