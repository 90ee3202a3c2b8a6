// Package recommend ranks papers against a topic query or finds the Jaccard
// neighbourhood of a paper, on top of any storage.Adapter.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/matsen/prec/internal/logging"
	"github.com/matsen/prec/internal/metrics"
	"github.com/matsen/prec/internal/neighbors"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

// ErrInvalidLimit is returned when fewer than one result is requested.
var ErrInvalidLimit = errors.New("limit must be at least 1")

// Options configures an Engine.
type Options struct {
	// Logger defaults to the global logger tagged component=recommend.
	Logger *zerolog.Logger
	// CacheResults stores each ranked result through the adapter and serves
	// repeats from there until the next write.
	CacheResults bool
	// Metrics may be nil.
	Metrics *metrics.Recorder
}

// Engine answers recommendation queries. It holds no mutable state of its
// own and is safe for concurrent use if the adapter is.
type Engine struct {
	store   storage.Adapter
	logger  zerolog.Logger
	cache   bool
	metrics *metrics.Recorder
}

// New returns an engine reading from store.
func New(store storage.Adapter, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("recommend: nil storage adapter")
	}
	logger := logging.With("recommend")
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "recommend").Logger()
	}
	return &Engine{
		store:   store,
		logger:  logger,
		cache:   opts.CacheResults,
		metrics: opts.Metrics,
	}, nil
}

// TopicCount returns the vector width of the underlying store.
func (e *Engine) TopicCount() int {
	return e.store.TopicCount()
}

func (e *Engine) codec() topic.Codec {
	return topic.Codec{K: e.store.TopicCount()}
}

// RecommendByVector returns up to limit papers from ranked journals, most
// similar to query first.
func (e *Engine) RecommendByVector(ctx context.Context, query topic.Vector, limit int) (recs []Recommendation, err error) {
	start := time.Now()
	defer func() { e.observe(metrics.KindVector, start, err, len(recs)) }()

	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	if err := e.codec().Check(query); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("vector:%d:%s:%d", len(query), query, limit)
	return cached(ctx, e, key, func() ([]Recommendation, error) {
		records, err := e.store.FetchAllVectors(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching vectors: %w", err)
		}
		return RankBySimilarity(query, records, limit)
	})
}

// RecommendByTopics encodes 1-indexed topics and calls RecommendByVector.
func (e *Engine) RecommendByTopics(ctx context.Context, indices []int, limit int) ([]Recommendation, error) {
	query, err := e.codec().Encode(indices)
	if err != nil {
		e.observe(metrics.KindVector, time.Now(), err, 0)
		return nil, err
	}
	return e.RecommendByVector(ctx, query, limit)
}

// RecommendByNeighbors returns exactly limit Jaccard neighbours of anchor, or
// an empty slice if fewer than limit papers share a topic with it.
func (e *Engine) RecommendByNeighbors(ctx context.Context, anchor int64, limit int) (ns []neighbors.Neighbor, err error) {
	start := time.Now()
	defer func() { e.observe(metrics.KindNeighbors, start, err, len(ns)) }()

	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}

	key := fmt.Sprintf("neighbors:%d:%d", anchor, limit)
	return cached(ctx, e, key, func() ([]neighbors.Neighbor, error) {
		candidates, err := e.store.FetchOverlapCandidates(ctx, anchor)
		if err != nil {
			return nil, fmt.Errorf("fetching neighbours of %d: %w", anchor, err)
		}
		return neighbors.Jaccard(anchor, candidates, limit), nil
	})
}

// ReencodeEntity replaces a paper's vector with the encoding of indices.
func (e *Engine) ReencodeEntity(ctx context.Context, id int64, indices []int) (err error) {
	start := time.Now()
	defer func() { e.observe(metrics.KindReencode, start, err, 0) }()

	v, err := e.codec().Encode(indices)
	if err != nil {
		return err
	}
	if err := e.store.PersistTopicVector(ctx, id, v); err != nil {
		return fmt.Errorf("persisting vector for %d: %w", id, err)
	}
	return nil
}

// Resize re-encodes every stored vector to k topics.
func (e *Engine) Resize(ctx context.Context, k int) error {
	from := e.store.TopicCount()
	if err := e.store.SetTopicCount(ctx, k); err != nil {
		return fmt.Errorf("resizing %d -> %d topics: %w", from, k, err)
	}
	e.logger.Info().Int("from", from).Int("to", k).Msg("resized topic vectors")
	return nil
}

// cached serves key from the result cache when enabled, otherwise computes
// and stores it. Cache failures are logged and never fail the request.
func cached[T any](ctx context.Context, e *Engine, key string, compute func() ([]T, error)) ([]T, error) {
	if !e.cache {
		return compute()
	}

	payload, ok, err := e.store.LoadResults(ctx, key)
	switch {
	case err != nil:
		e.metrics.CacheLookup("error")
		e.logger.Warn().Err(err).Str("key", key).Msg("result cache read failed")
	case ok:
		var out []T
		if err := json.Unmarshal(payload, &out); err == nil {
			e.metrics.CacheLookup("hit")
			if out == nil {
				out = []T{}
			}
			return out, nil
		}
		e.metrics.CacheLookup("error")
		e.logger.Warn().Str("key", key).Msg("discarding undecodable cached result")
	default:
		e.metrics.CacheLookup("miss")
	}

	// Read before computing: a write that commits meanwhile bumps the
	// generation and the store below is refused.
	gen, err := e.store.ResultsGeneration(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("result cache generation unavailable")
		return compute()
	}

	out, err := compute()
	if err != nil {
		return nil, err
	}

	payload, err = json.Marshal(out)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("result cache encode failed")
		return out, nil
	}
	stored, err := e.store.StoreResults(ctx, key, gen, payload)
	switch {
	case err != nil:
		e.logger.Warn().Err(err).Str("key", key).Msg("result cache write failed")
	case !stored:
		e.logger.Debug().Str("key", key).Uint64("generation", gen).Msg("store changed during computation, result not cached")
	}
	return out, nil
}

func (e *Engine) observe(kind string, start time.Time, err error, n int) {
	d := time.Since(start)
	e.metrics.ObserveRequest(kind, Outcome(err), d)

	ev := e.logger.Debug()
	if err != nil {
		ev = e.logger.Debug().Err(err)
	}
	ev.Str("kind", kind).Int("results", n).Dur("took", d).Msg("request")
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, storage.ErrPaperNotFound), errors.Is(err, storage.ErrJournalNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, storage.ErrStorageUnavailable):
		return metrics.OutcomeUnavailable
	case IsInvalidInput(err):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}

// IsInvalidInput reports whether err was caused by a malformed request rather
// than the state of the store.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, topic.ErrInvalidTopicIndex) ||
		errors.Is(err, topic.ErrConfigurationMismatch) ||
		errors.Is(err, topic.ErrNegativeWeight) ||
		errors.Is(err, topic.ErrInvalidTopicCount)
}
