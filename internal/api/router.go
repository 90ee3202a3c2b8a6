// Package api serves recommendations over HTTP using the chi router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/matsen/prec/internal/logging"
	"github.com/matsen/prec/internal/recommend"
	"github.com/matsen/prec/internal/storage"
)

// DefaultLimit is the result count used when a request omits limit.
const DefaultLimit = 10

// requestTimeout bounds every handler's storage work.
const requestTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	// RateLimit is requests per second across all clients. Zero disables limiting.
	RateLimit float64
	Burst     int
	// RetryAfter is advertised on 503 responses, usually the breaker's open timeout.
	RetryAfter time.Duration
	// Gatherer backs /metrics. Nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
	Logger   *zerolog.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	engine     *recommend.Engine
	catalog    storage.Catalog
	limiter    *rate.Limiter
	retryAfter time.Duration
	gatherer   prometheus.Gatherer
	logger     zerolog.Logger
}

// NewServer returns a server answering from engine and catalog.
func NewServer(engine *recommend.Engine, catalog storage.Catalog, opts Options) *Server {
	s := &Server{
		engine:     engine,
		catalog:    catalog,
		retryAfter: opts.RetryAfter,
		gatherer:   opts.Gatherer,
		logger:     logging.With("api"),
	}
	if opts.Logger != nil {
		s.logger = opts.Logger.With().Str("component", "api").Logger()
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)
	}
	if s.retryAfter <= 0 {
		s.retryAfter = storage.DefaultBreakerSettings().OpenTimeout
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.throttle)
		r.Get("/recommendations", s.recommendations)
		r.Route("/papers/{id}", func(r chi.Router) {
			r.Get("/", s.getPaper)
			r.Get("/neighbors", s.neighbors)
			r.Put("/topics", s.putTopics)
		})
	})

	return r
}

// throttle rejects requests beyond the shared token bucket with 429.
func (s *Server) throttle(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
