package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/prec/internal/api"
	"github.com/matsen/prec/internal/logging"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config server.addr)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recommendations over HTTP",
	Long: `Serve recommendations over HTTP.

Routes:
  GET  /v1/recommendations?topics=1,3&limit=10   (or ?vector=1,0,1)
  GET  /v1/papers/{id}
  GET  /v1/papers/{id}/neighbors?limit=5
  PUT  /v1/papers/{id}/topics                    body {"topics": [1, 2]}
  GET  /healthz
  GET  /metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := mustOpenApp(ctx)
	defer a.Close()

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	server := api.NewServer(a.engine, a.store, api.Options{
		RateLimit:  a.cfg.Server.RateLimit,
		Burst:      a.cfg.Server.Burst,
		RetryAfter: a.cfg.Breaker.OpenTimeout,
		Gatherer:   a.registry,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger := logging.With("serve")
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Int("topics", a.engine.TopicCount()).Str("backend", a.cfg.Backend).Msg("listening")
		errc <- srv.ListenAndServe()
	}()
	if humanOutput {
		fmt.Printf("Serving on http://%s\n", addr)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			exitWithError(ExitError, "serving: %v", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			exitWithError(ExitError, "shutting down: %v", err)
		}
	}
	return nil
}
