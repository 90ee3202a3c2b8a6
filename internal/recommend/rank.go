package recommend

import (
	"fmt"

	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/ranking"
	"github.com/matsen/prec/internal/similarity"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

// Recommendation is one ranked paper. Metadata is passed through from storage.
type Recommendation struct {
	PaperID   int64   `json:"entity_id"`
	Score     float64 `json:"score"`
	Abstract  string  `json:"abstract"`
	Authors   string  `json:"authors"`
	JournalID int64   `json:"journal_id"`
	Title     string  `json:"title"`

	journalRank int
}

// ByScore orders recommendations by score, highest first, then by journal
// rank (lower is better), then by paper ID.
var ByScore = ranking.ByDesc(func(r Recommendation) float64 { return r.Score }).
	Then(ranking.ByAsc(func(r Recommendation) int { return r.journalRank })).
	Then(ranking.ByAsc(func(r Recommendation) int64 { return r.PaperID }))

// RankBySimilarity scores every record against query and returns the top
// limit papers from ranked journals. Fewer than limit qualifying papers
// returns them all. A record whose width differs from query's is a
// topic.ErrConfigurationMismatch.
func RankBySimilarity(query topic.Vector, records []storage.VectorRecord, limit int) ([]Recommendation, error) {
	scored := make([]Recommendation, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != len(query) {
			return nil, fmt.Errorf("%w: paper %d has %d topics, query has %d",
				topic.ErrConfigurationMismatch, r.ID, len(r.Vector), len(query))
		}
		if !paper.IsRanked(r.JournalRank) {
			continue
		}
		scored = append(scored, Recommendation{
			PaperID:     r.ID,
			Score:       similarity.Cosine(query, r.Vector),
			Abstract:    r.Abstract,
			Authors:     r.Authors,
			JournalID:   r.JournalID,
			Title:       r.Title,
			journalRank: r.JournalRank,
		})
	}
	return ranking.TopK(scored, limit, ByScore), nil
}
