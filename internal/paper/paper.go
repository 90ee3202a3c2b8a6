// Package paper defines the core domain types for academic papers and journals.
package paper

import "errors"

// Paper is an academic paper as held by the metadata store.
// Authors, Title and Abstract are passed through to results unchanged.
type Paper struct {
	ID        int64  `json:"id"`
	Authors   string `json:"authors"`
	JournalID int64  `json:"journal_id"`
	Title     string `json:"title"`
	Abstract  string `json:"abstract,omitempty"`
}

// Journal is a publication venue. Rank is a tie-break signal: lower is better.
type Journal struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Field string `json:"field,omitempty"`
	Rank  int    `json:"ranking"`
}

// Unranked is the rank recorded for journals with no ranking.
// Rank 0 is treated the same way.
const Unranked = -1

// IsRanked reports whether rank is a real ranking rather than a sentinel.
func IsRanked(rank int) bool {
	return rank > 0
}

// Validation errors.
var (
	ErrInvalidID        = errors.New("id must be positive")
	ErrInvalidJournalID = errors.New("journal_id must be positive")
	ErrEmptyTitle       = errors.New("title is required")
	ErrEmptyName        = errors.New("journal name is required")
)

// ValidateForCreate checks the fields required to store a paper.
func (p *Paper) ValidateForCreate() error {
	if p.ID <= 0 {
		return ErrInvalidID
	}
	if p.JournalID <= 0 {
		return ErrInvalidJournalID
	}
	if p.Title == "" {
		return ErrEmptyTitle
	}
	return nil
}

// ValidateForCreate checks the fields required to store a journal.
func (j *Journal) ValidateForCreate() error {
	if j.ID <= 0 {
		return ErrInvalidID
	}
	if j.Name == "" {
		return ErrEmptyName
	}
	return nil
}
