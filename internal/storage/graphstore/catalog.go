package graphstore

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return unavailable("decoding record", fmt.Errorf("%w: %w", errCorrupt, err))
	}
	return nil
}

// UpsertJournal inserts or replaces a journal. A rank of 0 is stored as unranked.
func (s *Store) UpsertJournal(ctx context.Context, j paper.Journal) error {
	if err := j.ValidateForCreate(); err != nil {
		return err
	}
	if !paper.IsRanked(j.Rank) {
		j.Rank = paper.Unranked
	}
	data, err := encode(j)
	if err != nil {
		return err
	}

	return s.update("writing journal", func(tx *bbolt.Tx) error {
		if err := put(tx.Bucket(bucketJournals), idKey(j.ID), data, "journal"); err != nil {
			return err
		}
		return invalidateResults(tx)
	})
}

// GetJournal returns a journal by ID.
func (s *Store) GetJournal(ctx context.Context, id int64) (*paper.Journal, error) {
	var j paper.Journal
	err := s.view("reading journal", func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketJournals).Get(idKey(id))
		if raw == nil {
			return fmt.Errorf("%w: %d", storage.ErrJournalNotFound, id)
		}
		return decode(raw, &j)
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func requireJournal(tx *bbolt.Tx, id int64) error {
	if tx.Bucket(bucketJournals).Get(idKey(id)) == nil {
		return fmt.Errorf("%w: %d", storage.ErrJournalNotFound, id)
	}
	return nil
}

// UpsertPaper stores the paper node and its topic edges in one transaction.
// The journal must already exist.
func (s *Store) UpsertPaper(ctx context.Context, p paper.Paper, v topic.Vector) error {
	if err := p.ValidateForCreate(); err != nil {
		return err
	}
	data, err := encode(p)
	if err != nil {
		return err
	}

	return s.update("writing paper", func(tx *bbolt.Tx) error {
		if err := checkWidth(tx, v); err != nil {
			return err
		}
		if err := requireJournal(tx, p.JournalID); err != nil {
			return err
		}
		if err := put(tx.Bucket(bucketPapers), idKey(p.ID), data, "paper"); err != nil {
			return err
		}
		if err := writeEdges(tx, p.ID, v); err != nil {
			return err
		}
		return invalidateResults(tx)
	})
}

// UpdatePaper replaces a paper's metadata. Its topic edges are untouched.
func (s *Store) UpdatePaper(ctx context.Context, p paper.Paper) error {
	if err := p.ValidateForCreate(); err != nil {
		return err
	}
	data, err := encode(p)
	if err != nil {
		return err
	}

	return s.update("updating paper", func(tx *bbolt.Tx) error {
		papers := tx.Bucket(bucketPapers)
		if papers.Get(idKey(p.ID)) == nil {
			return fmt.Errorf("%w: %d", storage.ErrPaperNotFound, p.ID)
		}
		if err := requireJournal(tx, p.JournalID); err != nil {
			return err
		}
		if err := put(papers, idKey(p.ID), data, "paper"); err != nil {
			return err
		}
		return invalidateResults(tx)
	})
}

// GetPaper returns a paper by ID.
func (s *Store) GetPaper(ctx context.Context, id int64) (*paper.Paper, error) {
	var p paper.Paper
	err := s.view("reading paper", func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPapers).Get(idKey(id))
		if raw == nil {
			return fmt.Errorf("%w: %d", storage.ErrPaperNotFound, id)
		}
		return decode(raw, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePaper removes the paper node and every edge touching it.
func (s *Store) DeletePaper(ctx context.Context, id int64) error {
	return s.update("deleting paper", func(tx *bbolt.Tx) error {
		papers := tx.Bucket(bucketPapers)
		if papers.Get(idKey(id)) == nil {
			return fmt.Errorf("%w: %d", storage.ErrPaperNotFound, id)
		}
		if err := dropEdges(tx, id); err != nil {
			return err
		}
		if err := papers.Delete(idKey(id)); err != nil {
			return unavailable("deleting paper", err)
		}
		return invalidateResults(tx)
	})
}

// PapersByJournal returns the papers published in a journal, ordered by ID.
func (s *Store) PapersByJournal(ctx context.Context, journalID int64) ([]paper.Paper, error) {
	var papers []paper.Paper
	err := s.view("listing papers", func(tx *bbolt.Tx) error {
		if err := requireJournal(tx, journalID); err != nil {
			return err
		}
		var err error
		papers, err = scanPapers(tx, 0, func(p paper.Paper) bool { return p.JournalID == journalID })
		return err
	})
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// SearchAuthors returns papers whose author list contains substring,
// ignoring case, ordered by ID. limit <= 0 means no limit.
func (s *Store) SearchAuthors(ctx context.Context, substring string, limit int) ([]paper.Paper, error) {
	needle := strings.ToLower(substring)
	var papers []paper.Paper
	err := s.view("searching authors", func(tx *bbolt.Tx) error {
		var err error
		papers, err = scanPapers(tx, limit, func(p paper.Paper) bool {
			return strings.Contains(strings.ToLower(p.Authors), needle)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return papers, nil
}

// CountPapers returns the number of paper nodes.
func (s *Store) CountPapers(ctx context.Context) (int, error) {
	var n int
	err := s.view("counting papers", func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketPapers).Stats().KeyN
		return nil
	})
	return n, err
}

// scanPapers walks the papers bucket in ID order collecting matches.
func scanPapers(tx *bbolt.Tx, limit int, keep func(paper.Paper) bool) ([]paper.Paper, error) {
	papers := []paper.Paper{}
	c := tx.Bucket(bucketPapers).Cursor()
	for k, raw := c.First(); k != nil; k, raw = c.Next() {
		var p paper.Paper
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if !keep(p) {
			continue
		}
		papers = append(papers, p)
		if limit > 0 && len(papers) == limit {
			break
		}
	}
	return papers, nil
}
