// Package similarity scores topic vectors against each other.
package similarity

import (
	"math"

	"github.com/matsen/prec/internal/topic"
)

// Cosine returns the cosine similarity of a and b rounded to two decimals.
// Topic weights are nonnegative, so the result lies in [0, 1].
// A zero-norm vector scores 0 against everything, as do vectors of different width.
func Cosine(a, b topic.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return Round2(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Round2 rounds x to two decimal places, half away from zero.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Overlap describes the topic-set overlap between two papers.
type Overlap struct {
	Intersection int     `json:"intersection_count"`
	Union        int     `json:"union_count"`
	Index        float64 `json:"jaccard_index"`
}

// Jaccard computes the Jaccard index over the topic supports of a and b.
// Vectors may differ in width; positions beyond the shorter one count as zero.
// An empty union yields index 0.
func Jaccard(a, b topic.Vector) Overlap {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	var o Overlap
	for i := 0; i < n; i++ {
		inA := i < len(a) && a[i] != 0
		inB := i < len(b) && b[i] != 0
		if inA && inB {
			o.Intersection++
		}
		if inA || inB {
			o.Union++
		}
	}

	if o.Union > 0 {
		o.Index = float64(o.Intersection) / float64(o.Union)
	}
	return o
}
