// Package ranking orders scored results with an explicit comparator and
// truncates them to the top K.
//
// Storage engines return rows in unspecified order, so every ranking in prec
// goes through an Order whose last key is unique (the paper ID). Two calls on
// the same input always produce the same output.
package ranking

import (
	"cmp"
	"slices"
)

// Order is a lexicographic comparator built from key functions.
// The zero Order treats all elements as equal.
type Order[T any] struct {
	keys []func(a, b T) int
}

// ByDesc orders by key, largest first.
func ByDesc[T any, K cmp.Ordered](key func(T) K) Order[T] {
	return Order[T]{keys: []func(a, b T) int{
		func(a, b T) int { return cmp.Compare(key(b), key(a)) },
	}}
}

// ByAsc orders by key, smallest first.
func ByAsc[T any, K cmp.Ordered](key func(T) K) Order[T] {
	return Order[T]{keys: []func(a, b T) int{
		func(a, b T) int { return cmp.Compare(key(a), key(b)) },
	}}
}

// Then returns an order that breaks ties in o using next.
func (o Order[T]) Then(next Order[T]) Order[T] {
	keys := make([]func(a, b T) int, 0, len(o.keys)+len(next.keys))
	keys = append(keys, o.keys...)
	keys = append(keys, next.keys...)
	return Order[T]{keys: keys}
}

// Compare returns -1 if a sorts before b, 1 if after, 0 if tied on every key.
func (o Order[T]) Compare(a, b T) int {
	for _, k := range o.keys {
		if c := k(a, b); c != 0 {
			return c
		}
	}
	return 0
}

// TopK returns the first k elements of items under o.
// items is not modified. k <= 0 returns an empty slice.
func TopK[T any](items []T, k int, o Order[T]) []T {
	if k <= 0 {
		return []T{}
	}
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, o.Compare)
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	if sorted == nil {
		sorted = []T{}
	}
	return sorted
}
