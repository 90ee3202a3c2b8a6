// Package metrics exposes Prometheus instrumentation for recommendations,
// the result cache and the storage circuit breaker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request kinds.
const (
	KindVector    = "vector"
	KindNeighbors = "neighbors"
	KindReencode  = "reencode"
)

// Request outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeInvalid     = "invalid"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Recorder holds the collectors. A nil *Recorder records nothing, so callers
// never need to check whether metrics are enabled.
type Recorder struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cache        *prometheus.CounterVec
	breakerState prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prec_recommend_requests_total",
				Help: "Total number of engine requests by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prec_recommend_duration_seconds",
				Help:    "Duration of engine requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		cache: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prec_result_cache_total",
				Help: "Result cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		breakerState: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "prec_storage_breaker_state",
				Help: "Storage circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
	}
}

// ObserveRequest records one engine request.
func (r *Recorder) ObserveRequest(kind, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(kind, outcome).Inc()
	r.duration.WithLabelValues(kind).Observe(d.Seconds())
}

// CacheLookup records a result cache lookup: "hit", "miss" or "error".
func (r *Recorder) CacheLookup(result string) {
	if r == nil {
		return
	}
	r.cache.WithLabelValues(result).Inc()
}

// SetBreakerState records a circuit breaker transition.
func (r *Recorder) SetBreakerState(state string) {
	if r == nil {
		return
	}
	switch state {
	case "closed":
		r.breakerState.Set(0)
	case "half-open":
		r.breakerState.Set(1)
	case "open":
		r.breakerState.Set(2)
	}
}
