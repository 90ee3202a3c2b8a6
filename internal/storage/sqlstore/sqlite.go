// Package sqlstore is the relational storage backend. Topic vectors live in a
// wide table with one integer column per topic, next to paper and journal tables.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB

	// mu guards stmts. Readers hold it for the whole operation so a concurrent
	// SetTopicCount never swaps the table layout underneath them.
	mu    sync.RWMutex
	stmts *statements
}

var _ storage.Backend = (*DB)(nil)

const (
	metaTopicCount        = "topic_count"
	metaResultsGeneration = "results_generation"
)

// Open opens or creates a SQLite database at the given path for k topics.
// An existing database created with a different topic count is rejected.
func Open(ctx context.Context, path string, k int) (*DB, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", topic.ErrInvalidTopicCount, k)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("opening database", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.init(ctx, k); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// TopicCount returns the configured topic count.
func (d *DB) TopicCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stmts.k
}

// init creates the schema if needed and reconciles the stored topic count.
func (d *DB) init(ctx context.Context, k int) error {
	schema := `
		CREATE TABLE IF NOT EXISTS academic_journal (
			journal_id INTEGER PRIMARY KEY,
			journal_name TEXT NOT NULL,
			category TEXT,
			ranking INTEGER NOT NULL DEFAULT -1
		);

		CREATE TABLE IF NOT EXISTS academic_paper (
			paper_id INTEGER PRIMARY KEY,
			authors TEXT,
			journal_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			abstract TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_paper_journal ON academic_paper(journal_id);

		CREATE TABLE IF NOT EXISTS prec_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		-- Derived results, dropped whenever vectors or metadata change
		CREATE TABLE IF NOT EXISTS similarity_cache (
			cache_key TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return unavailable("creating schema", err)
	}

	stored, ok, err := d.storedTopicCount(ctx, d.db)
	if err != nil {
		return err
	}
	if ok && stored != k {
		return fmt.Errorf("%w: database has %d topics, configuration has %d (run 'prec resize %d' to re-encode)",
			topic.ErrConfigurationMismatch, stored, k, k)
	}

	stmts := newStatements(k)
	if _, err := d.db.ExecContext(ctx, stmts.createTopics); err != nil {
		return unavailable("creating topics table", err)
	}
	if !ok {
		if err := setMeta(ctx, d.db, metaTopicCount, strconv.Itoa(k)); err != nil {
			return err
		}
	}

	d.stmts = stmts
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) storedTopicCount(ctx context.Context, q execer) (int, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM prec_meta WHERE key = ?`, metaTopicCount).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("reading topic count", err)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parsing stored topic count %q: %w", value, err)
	}
	return n, true, nil
}

func setMeta(ctx context.Context, q execer, key, value string) error {
	_, err := q.ExecContext(ctx, `INSERT OR REPLACE INTO prec_meta (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return unavailable("writing "+key, err)
	}
	return nil
}

// invalidateResults drops every cached result and bumps the results
// generation. Every write calls it inside its own transaction.
func invalidateResults(ctx context.Context, q execer) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM similarity_cache`); err != nil {
		return unavailable("clearing result cache", err)
	}
	_, err := q.ExecContext(ctx, `INSERT INTO prec_meta (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(value AS INTEGER) + 1`, metaResultsGeneration)
	if err != nil {
		return unavailable("bumping results generation", err)
	}
	return nil
}

func resultsGeneration(ctx context.Context, q execer) (uint64, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM prec_meta WHERE key = ?`, metaResultsGeneration).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("reading results generation", err)
	}
	gen, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing results generation %q: %w", value, err)
	}
	return gen, nil
}

// unavailable marks a driver failure as a retryable storage error.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
}

// withTx runs fn in a transaction, committing on success.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("beginning transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("committing transaction", err)
	}
	return nil
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// vectorDest returns scan destinations for every element of v.
func vectorDest(v topic.Vector) []any {
	dest := make([]any, len(v))
	for i := range v {
		dest[i] = &v[i]
	}
	return dest
}

func vectorArgs(id int64, v topic.Vector) []any {
	args := make([]any, 0, len(v)+1)
	args = append(args, id)
	for _, w := range v {
		args = append(args, w)
	}
	return args
}
