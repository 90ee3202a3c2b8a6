package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

// FetchAllVectors returns every paper with a topic vector, joined to its journal rank.
func (d *DB) FetchAllVectors(ctx context.Context) ([]storage.VectorRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, d.stmts.selectAll)
	if err != nil {
		return nil, unavailable("querying vectors", err)
	}
	defer rows.Close()

	var records []storage.VectorRecord
	for rows.Next() {
		r, err := d.scanVectorRecord(rows)
		if err != nil {
			return nil, unavailable("scanning vector", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating vectors", err)
	}
	return records, nil
}

func (d *DB) scanVectorRecord(s scanner) (storage.VectorRecord, error) {
	var r storage.VectorRecord
	var authors, abstract sql.NullString
	r.Vector = make(topic.Vector, d.stmts.k)

	dest := []any{&r.ID, &authors, &r.JournalID, &r.Title, &abstract, &r.JournalRank}
	dest = append(dest, vectorDest(r.Vector)...)
	if err := s.Scan(dest...); err != nil {
		return r, err
	}
	r.Authors = authors.String
	r.Abstract = abstract.String
	return r, nil
}

// FetchOverlapCandidates returns the anchor and every paper with a nonzero
// weight on one of the anchor's topics.
func (d *DB) FetchOverlapCandidates(ctx context.Context, anchor int64) ([]storage.Candidate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var candidates []storage.Candidate
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		v := make(topic.Vector, d.stmts.k)
		err := tx.QueryRowContext(ctx, d.stmts.selectVector, anchor).Scan(vectorDest(v)...)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", storage.ErrPaperNotFound, anchor)
		}
		if err != nil {
			return unavailable("reading anchor vector", err)
		}

		support := sortedSupport(v)
		if len(support) == 0 {
			candidates = []storage.Candidate{{PaperID: anchor, Vector: v}}
			return nil
		}

		rows, err := tx.QueryContext(ctx, d.stmts.overlapQuery(support))
		if err != nil {
			return unavailable("querying overlap", err)
		}
		defer rows.Close()

		for rows.Next() {
			c := storage.Candidate{Vector: make(topic.Vector, d.stmts.k)}
			dest := append([]any{&c.PaperID}, vectorDest(c.Vector)...)
			if err := rows.Scan(dest...); err != nil {
				return unavailable("scanning candidate", err)
			}
			candidates = append(candidates, c)
		}
		if err := rows.Err(); err != nil {
			return unavailable("iterating candidates", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func sortedSupport(v topic.Vector) []int {
	support := make([]int, 0, len(v))
	for pos := range topic.Support(v) {
		support = append(support, pos)
	}
	sort.Ints(support)
	return support
}

// PersistTopicVector overwrites the stored vector of an existing paper.
func (d *DB) PersistTopicVector(ctx context.Context, id int64, v topic.Vector) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	codec := topic.Codec{K: d.stmts.k}
	if err := codec.Check(v); err != nil {
		return err
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		if err := paperExists(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, d.stmts.upsertTopics, vectorArgs(id, v)...); err != nil {
			return unavailable("writing topic vector", err)
		}
		return invalidateResults(ctx, tx)
	})
}

func paperExists(ctx context.Context, q execer, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM academic_paper WHERE paper_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", storage.ErrPaperNotFound, id)
	}
	if err != nil {
		return unavailable("looking up paper", err)
	}
	return nil
}

// LoadResults returns a cached result payload.
func (d *DB) LoadResults(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := d.db.QueryRowContext(ctx, `SELECT payload FROM similarity_cache WHERE cache_key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("reading cached results", err)
	}
	return payload, true, nil
}

// ResultsGeneration returns the counter bumped by every write.
func (d *DB) ResultsGeneration(ctx context.Context) (uint64, error) {
	return resultsGeneration(ctx, d.db)
}

// StoreResults caches payload for key if no write has committed since
// generation was read. It reports whether the payload was stored.
func (d *DB) StoreResults(ctx context.Context, key string, generation uint64, payload []byte) (bool, error) {
	stored := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		current, err := resultsGeneration(ctx, tx)
		if err != nil || current != generation {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO similarity_cache (cache_key, payload) VALUES (?, ?)`, key, payload); err != nil {
			return unavailable("writing cached results", err)
		}
		stored = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

// SetTopicCount rebuilds topics_per_paper with k columns, re-encoding every
// row. The rebuild is a single transaction: if any vector does not fit in k
// topics nothing is changed.
func (d *DB) SetTopicCount(ctx context.Context, k int) error {
	if k < 1 {
		return fmt.Errorf("%w: got %d", topic.ErrInvalidTopicCount, k)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if k == d.stmts.k {
		return nil
	}
	next := newStatements(k)

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		type row struct {
			id int64
			v  topic.Vector
		}
		var existing []row

		rows, err := tx.QueryContext(ctx, d.stmts.selectTopics)
		if err != nil {
			return unavailable("reading topic vectors", err)
		}
		for rows.Next() {
			r := row{v: make(topic.Vector, d.stmts.k)}
			dest := append([]any{&r.id}, vectorDest(r.v)...)
			if err := rows.Scan(dest...); err != nil {
				rows.Close()
				return unavailable("scanning topic vector", err)
			}
			existing = append(existing, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return unavailable("iterating topic vectors", err)
		}
		rows.Close()

		for i := range existing {
			resized, err := topic.Resize(existing[i].v, k)
			if err != nil {
				return fmt.Errorf("paper %d: %w", existing[i].id, err)
			}
			existing[i].v = resized
		}

		if _, err := tx.ExecContext(ctx, `DROP TABLE topics_per_paper`); err != nil {
			return unavailable("dropping topics table", err)
		}
		if _, err := tx.ExecContext(ctx, next.createTopics); err != nil {
			return unavailable("creating topics table", err)
		}
		for _, r := range existing {
			if _, err := tx.ExecContext(ctx, next.upsertTopics, vectorArgs(r.id, r.v)...); err != nil {
				return unavailable("writing topic vector", err)
			}
		}
		if err := setMeta(ctx, tx, metaTopicCount, strconv.Itoa(k)); err != nil {
			return err
		}
		return invalidateResults(ctx, tx)
	})
	if err != nil {
		return err
	}

	d.stmts = next
	return nil
}

// journalRank returns the rank of a journal, or ErrJournalNotFound.
func journalRank(ctx context.Context, q execer, id int64) (int, error) {
	var rank int
	err := q.QueryRowContext(ctx, `SELECT ranking FROM academic_journal WHERE journal_id = ?`, id).Scan(&rank)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", storage.ErrJournalNotFound, id)
	}
	if err != nil {
		return 0, unavailable("looking up journal", err)
	}
	return rank, nil
}

// scanPaper reads the academic_paper columns in table order.
func scanPaper(s scanner) (paper.Paper, error) {
	var p paper.Paper
	var authors, abstract sql.NullString
	if err := s.Scan(&p.ID, &authors, &p.JournalID, &p.Title, &abstract); err != nil {
		return p, err
	}
	p.Authors = authors.String
	p.Abstract = abstract.String
	return p, nil
}
