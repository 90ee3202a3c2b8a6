// Package topic encodes topic-model assignments as fixed-width indicator vectors.
package topic

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Vector is a fixed-width topic weight vector. Position i holds the weight of
// topic i+1. Weights are nonnegative; the topic model emits 0/1 indicators.
type Vector []int

// Codec errors.
var (
	ErrInvalidTopicIndex     = errors.New("invalid topic index")
	ErrConfigurationMismatch = errors.New("topic vector width does not match configured topic count")
	ErrNegativeWeight        = errors.New("topic weight must be nonnegative")
	ErrInvalidTopicCount     = errors.New("topic count must be at least 1")
)

// Codec converts between topic index sets and vectors of width K.
type Codec struct {
	K int
}

// NewCodec returns a codec for k topics.
func NewCodec(k int) (Codec, error) {
	if k < 1 {
		return Codec{}, fmt.Errorf("%w: got %d", ErrInvalidTopicCount, k)
	}
	return Codec{K: k}, nil
}

// Encode builds the indicator vector for the given 1-indexed topics.
// Duplicate indices are collapsed. Any index outside [1, K] is an error.
func (c Codec) Encode(indices []int) (Vector, error) {
	v := make(Vector, c.K)
	for _, idx := range indices {
		if idx < 1 || idx > c.K {
			return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidTopicIndex, idx, c.K)
		}
		v[idx-1] = 1
	}
	return v, nil
}

// Decode returns the 1-indexed topics with nonzero weight, ascending.
func Decode(v Vector) []int {
	indices := []int{}
	for i, w := range v {
		if w != 0 {
			indices = append(indices, i+1)
		}
	}
	return indices
}

// Check verifies that v has width K and no negative weights.
func (c Codec) Check(v Vector) error {
	if len(v) != c.K {
		return fmt.Errorf("%w: got %d, want %d", ErrConfigurationMismatch, len(v), c.K)
	}
	for i, w := range v {
		if w < 0 {
			return fmt.Errorf("%w: position %d has weight %d", ErrNegativeWeight, i, w)
		}
	}
	return nil
}

// Resize copies v into a vector of width k, keeping weights.
// Fails if v has nonzero weight at a position that does not exist in width k.
func Resize(v Vector, k int) (Vector, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopicCount, k)
	}
	out := make(Vector, k)
	for i, w := range v {
		if w == 0 {
			continue
		}
		if i >= k {
			return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidTopicIndex, i+1, k)
		}
		out[i] = w
	}
	return out, nil
}

// Support returns the set of zero-based positions with nonzero weight.
func Support(v Vector) map[int]struct{} {
	s := make(map[int]struct{})
	for i, w := range v {
		if w != 0 {
			s[i] = struct{}{}
		}
	}
	return s
}

// IsZero reports whether v has no assigned topics.
func IsZero(v Vector) bool {
	for _, w := range v {
		if w != 0 {
			return false
		}
	}
	return true
}

// ParseIndices parses a comma-separated list of topic indices such as "1,3,7".
// The result is sorted and deduplicated. An empty string yields an empty list.
func ParseIndices(s string) ([]int, error) {
	fields := splitList(s)
	seen := make(map[int]bool, len(fields))
	indices := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidTopicIndex, f)
		}
		if !seen[n] {
			seen[n] = true
			indices = append(indices, n)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

// ParseVector parses a comma-separated weight vector such as "1,0,1".
func ParseVector(s string) (Vector, error) {
	fields := splitList(s)
	v := make(Vector, 0, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("parsing weight %d (%q): %w", i, f, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: position %d has weight %d", ErrNegativeWeight, i, n)
		}
		v = append(v, n)
	}
	return v, nil
}

// String formats v as a comma-separated list.
func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, w := range v {
		parts[i] = strconv.Itoa(w)
	}
	return strings.Join(parts, ",")
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
