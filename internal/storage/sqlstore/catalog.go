package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

const paperColumns = `paper_id, authors, journal_id, title, abstract`

// UpsertJournal inserts or replaces a journal. A rank of 0 is stored as unranked.
func (d *DB) UpsertJournal(ctx context.Context, j paper.Journal) error {
	if err := j.ValidateForCreate(); err != nil {
		return err
	}
	rank := j.Rank
	if !paper.IsRanked(rank) {
		rank = paper.Unranked
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO academic_journal (journal_id, journal_name, category, ranking)
			VALUES (?, ?, ?, ?)
		`, j.ID, j.Name, nullIfEmpty(j.Field), rank)
		if err != nil {
			return unavailable("writing journal", err)
		}
		return invalidateResults(ctx, tx)
	})
}

// GetJournal returns a journal by ID.
func (d *DB) GetJournal(ctx context.Context, id int64) (*paper.Journal, error) {
	var j paper.Journal
	var field sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT journal_id, journal_name, category, ranking FROM academic_journal WHERE journal_id = ?
	`, id).Scan(&j.ID, &j.Name, &field, &j.Rank)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", storage.ErrJournalNotFound, id)
	}
	if err != nil {
		return nil, unavailable("reading journal", err)
	}
	j.Field = field.String
	return &j, nil
}

// UpsertPaper stores paper metadata and its topic vector in one transaction.
// The journal must already exist.
func (d *DB) UpsertPaper(ctx context.Context, p paper.Paper, v topic.Vector) error {
	if err := p.ValidateForCreate(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	codec := topic.Codec{K: d.stmts.k}
	if err := codec.Check(v); err != nil {
		return err
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := journalRank(ctx, tx, p.JournalID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO academic_paper (`+paperColumns+`)
			VALUES (?, ?, ?, ?, ?)
		`, p.ID, p.Authors, p.JournalID, p.Title, nullIfEmpty(p.Abstract))
		if err != nil {
			return unavailable("writing paper", err)
		}
		if _, err := tx.ExecContext(ctx, d.stmts.upsertTopics, vectorArgs(p.ID, v)...); err != nil {
			return unavailable("writing topic vector", err)
		}
		return invalidateResults(ctx, tx)
	})
}

// UpdatePaper replaces a paper's metadata. Its topic vector is untouched.
func (d *DB) UpdatePaper(ctx context.Context, p paper.Paper) error {
	if err := p.ValidateForCreate(); err != nil {
		return err
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := journalRank(ctx, tx, p.JournalID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE academic_paper SET authors = ?, journal_id = ?, title = ?, abstract = ?
			WHERE paper_id = ?
		`, p.Authors, p.JournalID, p.Title, nullIfEmpty(p.Abstract), p.ID)
		if err != nil {
			return unavailable("updating paper", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", storage.ErrPaperNotFound, p.ID)
		}
		return invalidateResults(ctx, tx)
	})
}

// GetPaper returns a paper by ID.
func (d *DB) GetPaper(ctx context.Context, id int64) (*paper.Paper, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+paperColumns+` FROM academic_paper WHERE paper_id = ?`, id)
	p, err := scanPaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", storage.ErrPaperNotFound, id)
	}
	if err != nil {
		return nil, unavailable("reading paper", err)
	}
	return &p, nil
}

// DeletePaper removes a paper and its topic vector.
func (d *DB) DeletePaper(ctx context.Context, id int64) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM academic_paper WHERE paper_id = ?`, id)
		if err != nil {
			return unavailable("deleting paper", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", storage.ErrPaperNotFound, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM topics_per_paper WHERE paper_id = ?`, id); err != nil {
			return unavailable("deleting topic vector", err)
		}
		return invalidateResults(ctx, tx)
	})
}

// PapersByJournal returns the papers published in a journal, ordered by ID.
func (d *DB) PapersByJournal(ctx context.Context, journalID int64) ([]paper.Paper, error) {
	if _, err := journalRank(ctx, d.db, journalID); err != nil {
		return nil, err
	}
	return d.queryPapers(ctx, `SELECT `+paperColumns+` FROM academic_paper WHERE journal_id = ? ORDER BY paper_id`, journalID)
}

// SearchAuthors returns papers whose author list contains substring
// (case-insensitive for ASCII), ordered by ID. limit <= 0 means no limit.
func (d *DB) SearchAuthors(ctx context.Context, substring string, limit int) ([]paper.Paper, error) {
	if limit <= 0 {
		limit = -1
	}
	pattern := "%" + escapeLike(substring) + "%"
	return d.queryPapers(ctx, `
		SELECT `+paperColumns+` FROM academic_paper
		WHERE authors LIKE ? ESCAPE '\'
		ORDER BY paper_id
		LIMIT ?
	`, pattern, limit)
}

// CountPapers returns the number of stored papers.
func (d *DB) CountPapers(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM academic_paper`).Scan(&n); err != nil {
		return 0, unavailable("counting papers", err)
	}
	return n, nil
}

func (d *DB) queryPapers(ctx context.Context, query string, args ...any) ([]paper.Paper, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("querying papers", err)
	}
	defer rows.Close()

	papers := []paper.Paper{}
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, unavailable("scanning paper", err)
		}
		papers = append(papers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating papers", err)
	}
	return papers, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
