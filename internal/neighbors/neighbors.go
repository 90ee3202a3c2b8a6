// Package neighbors finds the nearest neighbours of a paper by Jaccard index
// over topic-support sets.
package neighbors

import (
	"github.com/matsen/prec/internal/ranking"
	"github.com/matsen/prec/internal/similarity"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

// Neighbor is one paper in an anchor's neighbourhood.
type Neighbor struct {
	PaperID      int64   `json:"entity_id"`
	Jaccard      float64 `json:"jaccard_index"`
	Intersection int     `json:"intersection_count"`
	Union        int     `json:"union_count"`
}

// Order ranks neighbours by Jaccard index, highest first, then by paper ID.
var Order = ranking.ByDesc(func(n Neighbor) float64 { return n.Jaccard }).
	Then(ranking.ByAsc(func(n Neighbor) int64 { return n.PaperID }))

// Jaccard returns the k nearest neighbours of anchor among entities.
//
// A candidate qualifies when it shares at least one topic with the anchor; the
// anchor itself never qualifies. If fewer than k candidates qualify the result
// is empty: a neighbourhood is either complete or absent. The result is also
// empty when the anchor is not among entities, has no topics, or k < 1.
func Jaccard(anchor int64, entities []storage.Candidate, k int) []Neighbor {
	if k < 1 {
		return []Neighbor{}
	}

	var anchorEntity *storage.Candidate
	for i := range entities {
		if entities[i].PaperID == anchor {
			anchorEntity = &entities[i]
			break
		}
	}
	if anchorEntity == nil || topic.IsZero(anchorEntity.Vector) {
		return []Neighbor{}
	}

	seen := make(map[int64]bool, len(entities))
	qualifying := make([]Neighbor, 0, len(entities))
	for _, e := range entities {
		if e.PaperID == anchor || seen[e.PaperID] {
			continue
		}
		seen[e.PaperID] = true

		o := similarity.Jaccard(anchorEntity.Vector, e.Vector)
		if o.Intersection == 0 {
			continue
		}
		qualifying = append(qualifying, Neighbor{
			PaperID:      e.PaperID,
			Jaccard:      o.Index,
			Intersection: o.Intersection,
			Union:        o.Union,
		})
	}

	if len(qualifying) < k {
		return []Neighbor{}
	}
	return ranking.TopK(qualifying, k, Order)
}
