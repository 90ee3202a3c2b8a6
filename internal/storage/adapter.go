// Package storage defines the storage adapter consumed by the recommendation
// engine, plus the metadata catalog and JSONL loaders shared by both backends.
//
// Two backends implement Backend: sqlstore (wide-table relational layout) and
// graphstore (paper/topic edges in bbolt). The engine never knows which one it has.
package storage

import (
	"context"
	"errors"

	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/topic"
)

// Errors returned by storage backends.
var (
	// ErrStorageUnavailable wraps every I/O or driver failure. It is retryable.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPaperNotFound      = errors.New("paper not found")
	ErrJournalNotFound    = errors.New("journal not found")
)

// VectorRecord is a stored paper with its topic vector and journal rank.
type VectorRecord struct {
	paper.Paper
	Vector      topic.Vector
	JournalRank int
}

// Candidate is a paper considered for Jaccard neighbourhood.
type Candidate struct {
	PaperID int64
	Vector  topic.Vector
}

// Adapter is the storage surface used by the recommendation engine.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// TopicCount returns the width K of stored vectors.
	TopicCount() int

	// FetchAllVectors returns every paper that has a topic vector.
	FetchAllVectors(ctx context.Context) ([]VectorRecord, error)

	// FetchOverlapCandidates returns the anchor and every paper sharing at
	// least one topic with it. Returns ErrPaperNotFound for an unknown anchor.
	FetchOverlapCandidates(ctx context.Context, anchor int64) ([]Candidate, error)

	// PersistTopicVector overwrites a paper's vector atomically and drops
	// cached results.
	PersistTopicVector(ctx context.Context, id int64, v topic.Vector) error

	// LoadResults returns a cached result payload, if present.
	LoadResults(ctx context.Context, key string) ([]byte, bool, error)

	// ResultsGeneration returns a counter that every write bumps in the same
	// transaction that drops cached results.
	ResultsGeneration(ctx context.Context) (uint64, error)

	// StoreResults replaces the cached payload for key, but only if the
	// generation still equals generation. It reports whether it stored.
	// Read the generation before computing payload, so that a write landing
	// during the computation keeps its stale result out of the cache.
	StoreResults(ctx context.Context, key string, generation uint64, payload []byte) (bool, error)

	// SetTopicCount re-encodes every stored vector to width k.
	// Nothing changes if any vector has a topic beyond k.
	SetTopicCount(ctx context.Context, k int) error

	Close() error
}

// Catalog is the paper and journal metadata surface.
type Catalog interface {
	UpsertJournal(ctx context.Context, j paper.Journal) error
	GetJournal(ctx context.Context, id int64) (*paper.Journal, error)

	// UpsertPaper stores paper metadata together with its topic vector.
	UpsertPaper(ctx context.Context, p paper.Paper, v topic.Vector) error
	// UpdatePaper replaces metadata only; the topic vector is untouched.
	UpdatePaper(ctx context.Context, p paper.Paper) error
	GetPaper(ctx context.Context, id int64) (*paper.Paper, error)
	// DeletePaper removes the paper and its topic vector.
	DeletePaper(ctx context.Context, id int64) error

	PapersByJournal(ctx context.Context, journalID int64) ([]paper.Paper, error)
	SearchAuthors(ctx context.Context, substring string, limit int) ([]paper.Paper, error)
	CountPapers(ctx context.Context) (int, error)
}

// Backend is a complete storage backend.
type Backend interface {
	Adapter
	Catalog
}
