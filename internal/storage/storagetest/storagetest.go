// Package storagetest is a contract suite run against every storage backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

// Opener returns a fresh, empty backend configured for k topics.
// The backend is closed by the suite.
type Opener func(t *testing.T, k int) storage.Backend

// Journals used by Seed.
var Journals = []paper.Journal{
	{ID: 1, Name: "Journal of Topics", Field: "ml", Rank: 5},
	{ID: 2, Name: "Annals of Vectors", Field: "ml", Rank: 1},
	{ID: 3, Name: "Unranked Letters", Rank: paper.Unranked},
}

// Papers used by Seed, with their vectors for K=3.
var Papers = []struct {
	Paper  paper.Paper
	Vector topic.Vector
}{
	{paper.Paper{ID: 10, Authors: "Smith, J; Doe, A", JournalID: 1, Title: "A", Abstract: "topics one and three"}, topic.Vector{1, 0, 1}},
	{paper.Paper{ID: 20, Authors: "Jones, B", JournalID: 2, Title: "B"}, topic.Vector{1, 1, 1}},
	{paper.Paper{ID: 30, Authors: "Brown, C; Smith, K", JournalID: 3, Title: "C"}, topic.Vector{0, 1, 0}},
	{paper.Paper{ID: 40, Authors: "White, D", JournalID: 1, Title: "Empty"}, topic.Vector{0, 0, 0}},
}

// Seed loads Journals and Papers into b, which must have K=3.
func Seed(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := context.Background()
	for _, j := range Journals {
		if err := b.UpsertJournal(ctx, j); err != nil {
			t.Fatalf("UpsertJournal(%d) error = %v", j.ID, err)
		}
	}
	for _, p := range Papers {
		if err := b.UpsertPaper(ctx, p.Paper, p.Vector); err != nil {
			t.Fatalf("UpsertPaper(%d) error = %v", p.Paper.ID, err)
		}
	}
}

// Run exercises the Backend contract.
func Run(t *testing.T, open Opener) {
	t.Run("FetchAllVectors", func(t *testing.T) { testFetchAllVectors(t, open) })
	t.Run("FetchOverlapCandidates", func(t *testing.T) { testFetchOverlapCandidates(t, open) })
	t.Run("PersistTopicVector", func(t *testing.T) { testPersistTopicVector(t, open) })
	t.Run("Results", func(t *testing.T) { testResults(t, open) })
	t.Run("SetTopicCount", func(t *testing.T) { testSetTopicCount(t, open) })
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, open) })
	t.Run("ConcurrentReadWrite", func(t *testing.T) { testConcurrentReadWrite(t, open) })
}

func openSeeded(t *testing.T, open Opener) storage.Backend {
	t.Helper()
	b := open(t, 3)
	t.Cleanup(func() { b.Close() })
	Seed(t, b)
	return b
}

func testFetchAllVectors(t *testing.T, open Opener) {
	b := openSeeded(t, open)

	if got := b.TopicCount(); got != 3 {
		t.Errorf("TopicCount() = %d, want 3", got)
	}

	records, err := b.FetchAllVectors(context.Background())
	if err != nil {
		t.Fatalf("FetchAllVectors() error = %v", err)
	}
	if len(records) != len(Papers) {
		t.Fatalf("FetchAllVectors() returned %d records, want %d", len(records), len(Papers))
	}

	byID := make(map[int64]storage.VectorRecord)
	for _, r := range records {
		byID[r.ID] = r
	}

	wantRank := map[int64]int{1: 5, 2: 1, 3: paper.Unranked}
	for _, p := range Papers {
		r, ok := byID[p.Paper.ID]
		if !ok {
			t.Errorf("paper %d missing", p.Paper.ID)
			continue
		}
		if !slices.Equal(r.Vector, p.Vector) {
			t.Errorf("paper %d vector = %v, want %v", p.Paper.ID, r.Vector, p.Vector)
		}
		if r.Paper != p.Paper {
			t.Errorf("paper %d metadata = %+v, want %+v", p.Paper.ID, r.Paper, p.Paper)
		}
		if r.JournalRank != wantRank[p.Paper.JournalID] {
			t.Errorf("paper %d journal rank = %d, want %d", p.Paper.ID, r.JournalRank, wantRank[p.Paper.JournalID])
		}
	}
}

func candidateIDs(cs []storage.Candidate) []int64 {
	ids := make([]int64, len(cs))
	for i, c := range cs {
		ids[i] = c.PaperID
	}
	slices.Sort(ids)
	return ids
}

func testFetchOverlapCandidates(t *testing.T, open Opener) {
	b := openSeeded(t, open)
	ctx := context.Background()

	tests := []struct {
		name   string
		anchor int64
		want   []int64
	}{
		// 10 = {1,3}: shares topic 1 and 3 with 20, nothing with 30
		{"anchor with partial overlap", 10, []int64{10, 20}},
		{"anchor overlapping everyone", 20, []int64{10, 20, 30}},
		{"single topic anchor", 30, []int64{20, 30}},
		{"topic-less anchor", 40, []int64{40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := b.FetchOverlapCandidates(ctx, tt.anchor)
			if err != nil {
				t.Fatalf("FetchOverlapCandidates(%d) error = %v", tt.anchor, err)
			}
			if got := candidateIDs(cs); !slices.Equal(got, tt.want) {
				t.Errorf("FetchOverlapCandidates(%d) = %v, want %v", tt.anchor, got, tt.want)
			}
			for _, c := range cs {
				if len(c.Vector) != 3 {
					t.Errorf("candidate %d has width %d, want 3", c.PaperID, len(c.Vector))
				}
			}
		})
	}

	t.Run("unknown anchor", func(t *testing.T) {
		_, err := b.FetchOverlapCandidates(ctx, 999)
		if !errors.Is(err, storage.ErrPaperNotFound) {
			t.Errorf("FetchOverlapCandidates(999) error = %v, want ErrPaperNotFound", err)
		}
	})
}

func vectorOf(t *testing.T, b storage.Backend, id int64) topic.Vector {
	t.Helper()
	records, err := b.FetchAllVectors(context.Background())
	if err != nil {
		t.Fatalf("FetchAllVectors() error = %v", err)
	}
	for _, r := range records {
		if r.ID == id {
			return r.Vector
		}
	}
	return nil
}

func testPersistTopicVector(t *testing.T, open Opener) {
	b := openSeeded(t, open)
	ctx := context.Background()

	if err := b.PersistTopicVector(ctx, 10, topic.Vector{0, 1, 0}); err != nil {
		t.Fatalf("PersistTopicVector() error = %v", err)
	}
	if got := vectorOf(t, b, 10); !slices.Equal(got, topic.Vector{0, 1, 0}) {
		t.Errorf("vector after overwrite = %v, want [0 1 0]", got)
	}

	// Overlap must follow the new vector, not the old one.
	cs, err := b.FetchOverlapCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("FetchOverlapCandidates() error = %v", err)
	}
	if got := candidateIDs(cs); !slices.Equal(got, []int64{10, 20, 30}) {
		t.Errorf("overlap after overwrite = %v, want [10 20 30]", got)
	}

	if err := b.PersistTopicVector(ctx, 999, topic.Vector{1, 0, 0}); !errors.Is(err, storage.ErrPaperNotFound) {
		t.Errorf("PersistTopicVector(unknown) error = %v, want ErrPaperNotFound", err)
	}
	if err := b.PersistTopicVector(ctx, 10, topic.Vector{1, 0}); !errors.Is(err, topic.ErrConfigurationMismatch) {
		t.Errorf("PersistTopicVector(width 2) error = %v, want ErrConfigurationMismatch", err)
	}
}

// storeCurrent caches payload under the current results generation.
func storeCurrent(t *testing.T, b storage.Backend, key, payload string) {
	t.Helper()
	ctx := context.Background()
	gen, err := b.ResultsGeneration(ctx)
	if err != nil {
		t.Fatalf("ResultsGeneration() error = %v", err)
	}
	stored, err := b.StoreResults(ctx, key, gen, []byte(payload))
	if err != nil || !stored {
		t.Fatalf("StoreResults() = %v, %v; want stored", stored, err)
	}
}

func testResults(t *testing.T, open Opener) {
	b := openSeeded(t, open)
	ctx := context.Background()

	if _, ok, err := b.LoadResults(ctx, "k"); err != nil || ok {
		t.Fatalf("LoadResults(empty) = ok %v, err %v; want miss", ok, err)
	}

	storeCurrent(t, b, "k", `[1]`)
	storeCurrent(t, b, "k", `[2]`)
	payload, ok, err := b.LoadResults(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("LoadResults() = ok %v, err %v; want hit", ok, err)
	}
	if string(payload) != `[2]` {
		t.Errorf("LoadResults() = %s, want [2]", payload)
	}

	writes := []struct {
		name string
		fn   func() error
	}{
		{"PersistTopicVector", func() error { return b.PersistTopicVector(ctx, 20, topic.Vector{1, 0, 0}) }},
		{"UpsertPaper", func() error { return b.UpsertPaper(ctx, Papers[0].Paper, Papers[0].Vector) }},
		{"UpdatePaper", func() error { return b.UpdatePaper(ctx, Papers[1].Paper) }},
		{"UpsertJournal", func() error { return b.UpsertJournal(ctx, Journals[0]) }},
		{"DeletePaper", func() error { return b.DeletePaper(ctx, 40) }},
	}
	for _, w := range writes {
		t.Run(w.name+" invalidates", func(t *testing.T) {
			storeCurrent(t, b, "k", `[3]`)
			before, err := b.ResultsGeneration(ctx)
			if err != nil {
				t.Fatalf("ResultsGeneration() error = %v", err)
			}

			if err := w.fn(); err != nil {
				t.Fatalf("%s() error = %v", w.name, err)
			}
			if _, ok, err := b.LoadResults(ctx, "k"); err != nil || ok {
				t.Errorf("LoadResults() after %s = ok %v, err %v; want miss", w.name, ok, err)
			}

			after, err := b.ResultsGeneration(ctx)
			if err != nil {
				t.Fatalf("ResultsGeneration() error = %v", err)
			}
			if after <= before {
				t.Errorf("generation after %s = %d, want > %d", w.name, after, before)
			}

			// a result computed before the write must not be cached after it
			stored, err := b.StoreResults(ctx, "k", before, []byte(`[stale]`))
			if err != nil {
				t.Fatalf("StoreResults(stale) error = %v", err)
			}
			if stored {
				t.Errorf("StoreResults() with pre-%s generation stored", w.name)
			}
			if _, ok, _ := b.LoadResults(ctx, "k"); ok {
				t.Errorf("stale payload visible after %s", w.name)
			}
		})
	}
}

func testSetTopicCount(t *testing.T, open Opener) {
	b := openSeeded(t, open)
	ctx := context.Background()

	storeCurrent(t, b, "k", `x`)
	before, err := b.ResultsGeneration(ctx)
	if err != nil {
		t.Fatalf("ResultsGeneration() error = %v", err)
	}

	if err := b.SetTopicCount(ctx, 5); err != nil {
		t.Fatalf("SetTopicCount(5) error = %v", err)
	}
	if got := b.TopicCount(); got != 5 {
		t.Errorf("TopicCount() = %d, want 5", got)
	}
	if got := vectorOf(t, b, 10); !slices.Equal(got, topic.Vector{1, 0, 1, 0, 0}) {
		t.Errorf("vector after grow = %v, want [1 0 1 0 0]", got)
	}
	if _, ok, _ := b.LoadResults(ctx, "k"); ok {
		t.Error("cached results survived SetTopicCount")
	}
	if stored, _ := b.StoreResults(ctx, "k", before, []byte(`x`)); stored {
		t.Error("StoreResults() with pre-resize generation stored")
	}

	if err := b.PersistTopicVector(ctx, 40, topic.Vector{0, 0, 0, 0, 1}); err != nil {
		t.Fatalf("PersistTopicVector() error = %v", err)
	}

	// Paper 40 now uses topic 5, so shrinking to 3 must fail and change nothing.
	err = b.SetTopicCount(ctx, 3)
	if !errors.Is(err, topic.ErrInvalidTopicIndex) {
		t.Fatalf("SetTopicCount(3) error = %v, want ErrInvalidTopicIndex", err)
	}
	if got := b.TopicCount(); got != 5 {
		t.Errorf("TopicCount() after failed shrink = %d, want 5", got)
	}
	if got := vectorOf(t, b, 10); !slices.Equal(got, topic.Vector{1, 0, 1, 0, 0}) {
		t.Errorf("vector after failed shrink = %v, want [1 0 1 0 0]", got)
	}

	if err := b.PersistTopicVector(ctx, 40, topic.Vector{0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("PersistTopicVector() error = %v", err)
	}
	if err := b.SetTopicCount(ctx, 3); err != nil {
		t.Fatalf("SetTopicCount(3) error = %v", err)
	}
	if got := vectorOf(t, b, 20); !slices.Equal(got, topic.Vector{1, 1, 1}) {
		t.Errorf("vector after shrink = %v, want [1 1 1]", got)
	}

	if err := b.SetTopicCount(ctx, 0); !errors.Is(err, topic.ErrInvalidTopicCount) {
		t.Errorf("SetTopicCount(0) error = %v, want ErrInvalidTopicCount", err)
	}
}

func testCatalog(t *testing.T, open Opener) {
	b := openSeeded(t, open)
	ctx := context.Background()

	t.Run("journals", func(t *testing.T) {
		j, err := b.GetJournal(ctx, 2)
		if err != nil {
			t.Fatalf("GetJournal() error = %v", err)
		}
		if *j != Journals[1] {
			t.Errorf("GetJournal() = %+v, want %+v", *j, Journals[1])
		}

		if err := b.UpsertJournal(ctx, paper.Journal{ID: 4, Name: "Zero", Rank: 0}); err != nil {
			t.Fatalf("UpsertJournal() error = %v", err)
		}
		j, err = b.GetJournal(ctx, 4)
		if err != nil {
			t.Fatalf("GetJournal() error = %v", err)
		}
		if j.Rank != paper.Unranked {
			t.Errorf("rank 0 stored as %d, want %d", j.Rank, paper.Unranked)
		}

		if _, err := b.GetJournal(ctx, 99); !errors.Is(err, storage.ErrJournalNotFound) {
			t.Errorf("GetJournal(99) error = %v, want ErrJournalNotFound", err)
		}
	})

	t.Run("papers", func(t *testing.T) {
		p, err := b.GetPaper(ctx, 10)
		if err != nil {
			t.Fatalf("GetPaper() error = %v", err)
		}
		if *p != Papers[0].Paper {
			t.Errorf("GetPaper() = %+v, want %+v", *p, Papers[0].Paper)
		}

		orphan := paper.Paper{ID: 50, JournalID: 77, Title: "Orphan"}
		if err := b.UpsertPaper(ctx, orphan, topic.Vector{1, 0, 0}); !errors.Is(err, storage.ErrJournalNotFound) {
			t.Errorf("UpsertPaper(orphan) error = %v, want ErrJournalNotFound", err)
		}
		if err := b.UpsertPaper(ctx, paper.Paper{ID: 51, JournalID: 1}, topic.Vector{1, 0, 0}); !errors.Is(err, paper.ErrEmptyTitle) {
			t.Errorf("UpsertPaper(no title) error = %v, want ErrEmptyTitle", err)
		}

		updated := Papers[1].Paper
		updated.Title = "B, revised"
		updated.JournalID = 1
		if err := b.UpdatePaper(ctx, updated); err != nil {
			t.Fatalf("UpdatePaper() error = %v", err)
		}
		p, err = b.GetPaper(ctx, 20)
		if err != nil {
			t.Fatalf("GetPaper() error = %v", err)
		}
		if *p != updated {
			t.Errorf("GetPaper() after update = %+v, want %+v", *p, updated)
		}
		if got := vectorOf(t, b, 20); !slices.Equal(got, topic.Vector{1, 1, 1}) {
			t.Errorf("UpdatePaper changed vector to %v", got)
		}
		missing := updated
		missing.ID = 999
		if err := b.UpdatePaper(ctx, missing); !errors.Is(err, storage.ErrPaperNotFound) {
			t.Errorf("UpdatePaper(unknown) error = %v, want ErrPaperNotFound", err)
		}
	})

	t.Run("queries", func(t *testing.T) {
		inJournal, err := b.PapersByJournal(ctx, 1)
		if err != nil {
			t.Fatalf("PapersByJournal() error = %v", err)
		}
		if got := paperIDs(inJournal); !slices.Equal(got, []int64{10, 20, 40}) {
			t.Errorf("PapersByJournal(1) = %v, want [10 20 40]", got)
		}
		if _, err := b.PapersByJournal(ctx, 99); !errors.Is(err, storage.ErrJournalNotFound) {
			t.Errorf("PapersByJournal(99) error = %v, want ErrJournalNotFound", err)
		}

		found, err := b.SearchAuthors(ctx, "smith", 0)
		if err != nil {
			t.Fatalf("SearchAuthors() error = %v", err)
		}
		if got := paperIDs(found); !slices.Equal(got, []int64{10, 30}) {
			t.Errorf("SearchAuthors(smith) = %v, want [10 30]", got)
		}
		found, err = b.SearchAuthors(ctx, "smith", 1)
		if err != nil {
			t.Fatalf("SearchAuthors() error = %v", err)
		}
		if got := paperIDs(found); !slices.Equal(got, []int64{10}) {
			t.Errorf("SearchAuthors(smith, 1) = %v, want [10]", got)
		}
		found, err = b.SearchAuthors(ctx, "%", 0)
		if err != nil {
			t.Fatalf("SearchAuthors() error = %v", err)
		}
		if len(found) != 0 {
			t.Errorf("SearchAuthors(%%) = %v, want none", paperIDs(found))
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := b.DeletePaper(ctx, 30); err != nil {
			t.Fatalf("DeletePaper() error = %v", err)
		}
		if _, err := b.GetPaper(ctx, 30); !errors.Is(err, storage.ErrPaperNotFound) {
			t.Errorf("GetPaper(deleted) error = %v, want ErrPaperNotFound", err)
		}
		if v := vectorOf(t, b, 30); v != nil {
			t.Errorf("deleted paper still has vector %v", v)
		}
		cs, err := b.FetchOverlapCandidates(ctx, 20)
		if err != nil {
			t.Fatalf("FetchOverlapCandidates() error = %v", err)
		}
		if slices.Contains(candidateIDs(cs), 30) {
			t.Error("deleted paper still an overlap candidate")
		}
		if err := b.DeletePaper(ctx, 30); !errors.Is(err, storage.ErrPaperNotFound) {
			t.Errorf("DeletePaper(deleted) error = %v, want ErrPaperNotFound", err)
		}

		n, err := b.CountPapers(ctx)
		if err != nil {
			t.Fatalf("CountPapers() error = %v", err)
		}
		if n != len(Papers)-1 {
			t.Errorf("CountPapers() = %d, want %d", n, len(Papers)-1)
		}
	})
}

func paperIDs(ps []paper.Paper) []int64 {
	ids := make([]int64, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

// testConcurrentReadWrite overwrites one vector from several goroutines while
// others read. Every observed vector must be one that was written whole.
func testConcurrentReadWrite(t *testing.T, open Opener) {
	b := openSeeded(t, open)
	ctx := context.Background()

	written := []topic.Vector{{1, 0, 0}, {0, 1, 1}, {1, 1, 0}}
	valid := func(v topic.Vector) bool {
		if slices.Equal(v, Papers[0].Vector) {
			return true
		}
		for _, w := range written {
			if slices.Equal(v, w) {
				return true
			}
		}
		return false
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 3; i++ {
		wg.Add(2)
		go func(v topic.Vector) {
			defer wg.Done()
			for n := 0; n < 10; n++ {
				if err := b.PersistTopicVector(ctx, 10, v); err != nil {
					errs <- err
					return
				}
			}
		}(written[i])
		go func() {
			defer wg.Done()
			for n := 0; n < 10; n++ {
				records, err := b.FetchAllVectors(ctx)
				if err != nil {
					errs <- err
					return
				}
				for _, r := range records {
					if r.ID == 10 && !valid(r.Vector) {
						errs <- fmt.Errorf("observed torn vector %v", r.Vector)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if v := vectorOf(t, b, 10); !valid(v) {
		t.Errorf("final vector %v was never written", v)
	}
}
