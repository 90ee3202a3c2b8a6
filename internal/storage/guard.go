package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/topic"
)

// BreakerSettings configures the circuit breaker placed in front of a backend.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive storage failures that opens the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a trial request.
	OpenTimeout time.Duration
	// OnStateChange, if set, is called with the new state name ("closed", "half-open", "open").
	OnStateChange func(state string)
}

// DefaultBreakerSettings returns the settings used when none are configured.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// Guard wraps b so that repeated storage failures open a circuit breaker.
// While open, every call fails fast with ErrStorageUnavailable. Not-found and
// validation errors do not count as failures.
func Guard(b Backend, s BreakerSettings) Backend {
	if s.MaxFailures == 0 {
		s.MaxFailures = DefaultBreakerSettings().MaxFailures
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = DefaultBreakerSettings().OpenTimeout
	}

	settings := gobreaker.Settings{
		Name:        "storage",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if s.OnStateChange != nil {
				s.OnStateChange(to.String())
			}
		},
	}

	return &guarded{
		next: b,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// isSuccessful reports whether err should leave the breaker's failure count alone.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !errors.Is(err, ErrStorageUnavailable)
}

type guarded struct {
	next Backend
	cb   *gobreaker.CircuitBreaker[any]
}

// run executes fn through the breaker, translating rejections into ErrStorageUnavailable.
func run[T any](g *guarded, fn func() (T, error)) (T, error) {
	var out T
	_, err := g.cb.Execute(func() (any, error) {
		v, err := fn()
		out = v
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, err
}

func exec(g *guarded, fn func() error) error {
	_, err := run(g, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (g *guarded) TopicCount() int { return g.next.TopicCount() }

func (g *guarded) FetchAllVectors(ctx context.Context) ([]VectorRecord, error) {
	return run(g, func() ([]VectorRecord, error) { return g.next.FetchAllVectors(ctx) })
}

func (g *guarded) FetchOverlapCandidates(ctx context.Context, anchor int64) ([]Candidate, error) {
	return run(g, func() ([]Candidate, error) { return g.next.FetchOverlapCandidates(ctx, anchor) })
}

func (g *guarded) PersistTopicVector(ctx context.Context, id int64, v topic.Vector) error {
	return exec(g, func() error { return g.next.PersistTopicVector(ctx, id, v) })
}

func (g *guarded) LoadResults(ctx context.Context, key string) ([]byte, bool, error) {
	type hit struct {
		payload []byte
		ok      bool
	}
	h, err := run(g, func() (hit, error) {
		p, ok, err := g.next.LoadResults(ctx, key)
		return hit{p, ok}, err
	})
	return h.payload, h.ok, err
}

func (g *guarded) ResultsGeneration(ctx context.Context) (uint64, error) {
	return run(g, func() (uint64, error) { return g.next.ResultsGeneration(ctx) })
}

func (g *guarded) StoreResults(ctx context.Context, key string, generation uint64, payload []byte) (bool, error) {
	return run(g, func() (bool, error) { return g.next.StoreResults(ctx, key, generation, payload) })
}

func (g *guarded) SetTopicCount(ctx context.Context, k int) error {
	return exec(g, func() error { return g.next.SetTopicCount(ctx, k) })
}

func (g *guarded) Close() error { return g.next.Close() }

func (g *guarded) UpsertJournal(ctx context.Context, j paper.Journal) error {
	return exec(g, func() error { return g.next.UpsertJournal(ctx, j) })
}

func (g *guarded) GetJournal(ctx context.Context, id int64) (*paper.Journal, error) {
	return run(g, func() (*paper.Journal, error) { return g.next.GetJournal(ctx, id) })
}

func (g *guarded) UpsertPaper(ctx context.Context, p paper.Paper, v topic.Vector) error {
	return exec(g, func() error { return g.next.UpsertPaper(ctx, p, v) })
}

func (g *guarded) UpdatePaper(ctx context.Context, p paper.Paper) error {
	return exec(g, func() error { return g.next.UpdatePaper(ctx, p) })
}

func (g *guarded) GetPaper(ctx context.Context, id int64) (*paper.Paper, error) {
	return run(g, func() (*paper.Paper, error) { return g.next.GetPaper(ctx, id) })
}

func (g *guarded) DeletePaper(ctx context.Context, id int64) error {
	return exec(g, func() error { return g.next.DeletePaper(ctx, id) })
}

func (g *guarded) PapersByJournal(ctx context.Context, journalID int64) ([]paper.Paper, error) {
	return run(g, func() ([]paper.Paper, error) { return g.next.PapersByJournal(ctx, journalID) })
}

func (g *guarded) SearchAuthors(ctx context.Context, substring string, limit int) ([]paper.Paper, error) {
	return run(g, func() ([]paper.Paper, error) { return g.next.SearchAuthors(ctx, substring, limit) })
}

func (g *guarded) CountPapers(ctx context.Context) (int, error) {
	return run(g, func() (int, error) { return g.next.CountPapers(ctx) })
}
