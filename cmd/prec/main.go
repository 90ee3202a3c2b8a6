// Package main provides the prec CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/matsen/prec/internal/config"
	"github.com/matsen/prec/internal/logging"
	"github.com/matsen/prec/internal/metrics"
	"github.com/matsen/prec/internal/recommend"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/storage/graphstore"
	"github.com/matsen/prec/internal/storage/sqlstore"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "prec",
	Short: "Content-based academic paper recommender",
	Long: `prec recommends academic papers by topic overlap.

Each paper carries a fixed-width topic vector. Queries are ranked by cosine
similarity with journal rank as tie-break, and neighbours of a paper are found
by Jaccard overlap of topic sets. All commands output JSON by default.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

func init() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.Version = Version
}

// initLogging configures the global logger from PREC_LOG_LEVEL and the global config.
func initLogging() {
	cfg := logging.DefaultConfig()
	if global, err := config.LoadGlobalConfig(); err == nil {
		if global.LogLevel != "" && os.Getenv("PREC_LOG_LEVEL") == "" {
			cfg.Level = global.LogLevel
		}
		if global.LogFormat != "" {
			cfg.Format = global.LogFormat
		}
	}
	if humanOutput {
		cfg.Format = "console"
	}
	logging.Init(cfg)
}

// getStartingDirectory returns PREC_ROOT if set, otherwise the working directory.
func getStartingDirectory() (string, int) {
	if root := os.Getenv("PREC_ROOT"); root != "" {
		return root, 0
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", outputError(ExitError, "getting current directory: %v", err)
	}
	return cwd, 0
}

// mustFindRepository finds the repository root, exits on error.
func mustFindRepository() string {
	start, exitCode := getStartingDirectory()
	if exitCode != 0 {
		os.Exit(exitCode)
	}

	repoRoot, err := config.FindRepository(start)
	if err != nil {
		exitWithError(ExitConfigError, "%v (run 'prec init' first)", err)
	}
	return repoRoot
}

// mustLoadConfig loads configuration, exits on error.
// A repository log level applies unless PREC_LOG_LEVEL is set.
func mustLoadConfig(repoRoot string) *config.Config {
	cfg, err := config.Load(repoRoot)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if cfg.LogLevel != "" && os.Getenv("PREC_LOG_LEVEL") == "" {
		lc := logging.DefaultConfig()
		lc.Level = cfg.LogLevel
		if humanOutput {
			lc.Format = "console"
		}
		logging.Init(lc)
	}
	return cfg
}

// openBackend opens the configured storage backend.
func openBackend(ctx context.Context, root string, cfg *config.Config) (storage.Backend, error) {
	path := cfg.DataPath(root)
	switch cfg.Backend {
	case config.BackendGraph:
		s, err := graphstore.Open(path, cfg.Topics)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		db, err := sqlstore.Open(ctx, path, cfg.Topics)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w: got %q", config.ErrInvalidBackend, cfg.Backend)
	}
}

// app bundles what most commands need.
type app struct {
	root     string
	cfg      *config.Config
	store    storage.Backend
	engine   *recommend.Engine
	registry *prometheus.Registry
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log := logging.With("cli")
		log.Warn().Err(err).Msg("closing storage")
	}
}

// newApp opens the backend behind a circuit breaker and builds an engine on it.
func newApp(ctx context.Context, root string, cfg *config.Config) (*app, error) {
	backend, err := openBackend(ctx, root, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)
	logger := logging.With("storage")
	store := storage.Guard(backend, storage.BreakerSettings{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
		OnStateChange: func(state string) {
			recorder.SetBreakerState(state)
			logger.Warn().Str("state", state).Msg("storage circuit breaker changed state")
		},
	})

	engine, err := recommend.New(store, recommend.Options{
		CacheResults: cfg.CacheResults,
		Metrics:      recorder,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		root:     root,
		cfg:      cfg,
		store:    store,
		engine:   engine,
		registry: registry,
	}, nil
}

// mustOpenApp finds the repository and opens it, exits on error.
// The caller is responsible for calling Close() on the returned app.
func mustOpenApp(ctx context.Context) *app {
	root := mustFindRepository()
	cfg := mustLoadConfig(root)
	a, err := newApp(ctx, root, cfg)
	if err != nil {
		exitWithError(exitCodeFor(err), "opening %s storage: %v", cfg.Backend, err)
	}
	return a
}
