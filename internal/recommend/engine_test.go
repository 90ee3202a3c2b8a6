package recommend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/matsen/prec/internal/logging"
	"github.com/matsen/prec/internal/metrics"
	"github.com/matsen/prec/internal/neighbors"
	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/storage/graphstore"
	"github.com/matsen/prec/internal/storage/sqlstore"
	"github.com/matsen/prec/internal/topic"
)

// backends opens each storage variant with k topics.
var backends = []struct {
	name string
	open func(t *testing.T, k int) storage.Backend
}{
	{"sqlite", func(t *testing.T, k int) storage.Backend {
		db, err := sqlstore.Open(context.Background(), filepath.Join(t.TempDir(), "prec.db"), k)
		if err != nil {
			t.Fatalf("sqlstore.Open() error = %v", err)
		}
		t.Cleanup(func() { db.Close() })
		return db
	}},
	{"graph", func(t *testing.T, k int) storage.Backend {
		s, err := graphstore.Open(filepath.Join(t.TempDir(), "prec.bolt"), k)
		if err != nil {
			t.Fatalf("graphstore.Open() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

type fixturePaper struct {
	id      int64
	journal int64
	topics  []int
}

// load stores journals with the given ranks (journal i+1 has ranks[i]) and papers.
func load(t *testing.T, b storage.Backend, ranks []int, papers []fixturePaper) {
	t.Helper()
	ctx := context.Background()
	for i, r := range ranks {
		j := paper.Journal{ID: int64(i + 1), Name: fmt.Sprintf("J%d", i+1), Rank: r}
		if err := b.UpsertJournal(ctx, j); err != nil {
			t.Fatalf("UpsertJournal() error = %v", err)
		}
	}
	codec := topic.Codec{K: b.TopicCount()}
	for _, p := range papers {
		v, err := codec.Encode(p.topics)
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", p.topics, err)
		}
		meta := paper.Paper{
			ID:        p.id,
			JournalID: p.journal,
			Title:     fmt.Sprintf("Paper %d", p.id),
			Authors:   "Author",
			Abstract:  fmt.Sprintf("Abstract %d", p.id),
		}
		if err := b.UpsertPaper(ctx, meta, v); err != nil {
			t.Fatalf("UpsertPaper(%d) error = %v", p.id, err)
		}
	}
}

func newEngine(t *testing.T, store storage.Adapter, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		l := logging.NewTestLogger(&bytes.Buffer{})
		opts.Logger = &l
	}
	e, err := New(store, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func recIDs(recs []Recommendation) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.PaperID
	}
	return out
}

func neighborIDs(ns []neighbors.Neighbor) []int64 {
	out := make([]int64, len(ns))
	for i, n := range ns {
		out[i] = n.PaperID
	}
	return out
}

func TestRecommendByVector_KnownScores(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			b := be.open(t, 3)
			load(t, b, []int{1}, []fixturePaper{
				{id: 1, journal: 1, topics: []int{1, 3}},
				{id: 2, journal: 1, topics: []int{1, 2, 3}},
			})
			e := newEngine(t, b, Options{})

			recs, err := e.RecommendByTopics(context.Background(), []int{1, 3}, 10)
			if err != nil {
				t.Fatalf("RecommendByTopics() error = %v", err)
			}
			if len(recs) != 2 {
				t.Fatalf("got %d recommendations, want 2", len(recs))
			}
			if recs[0].PaperID != 1 || recs[0].Score != 1 {
				t.Errorf("first = %d (%v), want 1 (1)", recs[0].PaperID, recs[0].Score)
			}
			if recs[1].PaperID != 2 || recs[1].Score != 0.82 {
				t.Errorf("second = %d (%v), want 2 (0.82)", recs[1].PaperID, recs[1].Score)
			}
			if recs[1].Title != "Paper 2" || recs[1].Abstract != "Abstract 2" || recs[1].JournalID != 1 {
				t.Errorf("metadata not passed through: %+v", recs[1])
			}
		})
	}
}

func TestRecommendByVector_TieBreaks(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			b := be.open(t, 3)
			// journal 1 rank 7, journal 2 rank 2, journal 3 unranked, journal 4 rank 0
			load(t, b, []int{7, 2, -1, 0}, []fixturePaper{
				{id: 30, journal: 1, topics: []int{1}},
				{id: 20, journal: 1, topics: []int{1}},
				{id: 40, journal: 2, topics: []int{1}},
				{id: 50, journal: 3, topics: []int{1}},
				{id: 60, journal: 4, topics: []int{1}},
				{id: 10, journal: 1, topics: []int{2}},
			})
			e := newEngine(t, b, Options{})

			recs, err := e.RecommendByVector(context.Background(), topic.Vector{1, 0, 0}, 10)
			if err != nil {
				t.Fatalf("RecommendByVector() error = %v", err)
			}
			// Equal scores: better journal rank first, then lower ID.
			want := []int64{40, 20, 30, 10}
			if got := recIDs(recs); !slices.Equal(got, want) {
				t.Errorf("order = %v, want %v", got, want)
			}
		})
	}
}

func TestRecommendByVector_Truncates(t *testing.T) {
	b := backends[0].open(t, 3)
	load(t, b, []int{1}, []fixturePaper{
		{id: 1, journal: 1, topics: []int{1}},
		{id: 2, journal: 1, topics: []int{1, 2}},
		{id: 3, journal: 1, topics: []int{2}},
	})
	e := newEngine(t, b, Options{})

	for limit := 1; limit <= 4; limit++ {
		recs, err := e.RecommendByVector(context.Background(), topic.Vector{1, 0, 0}, limit)
		if err != nil {
			t.Fatalf("RecommendByVector(limit=%d) error = %v", limit, err)
		}
		if want := min(limit, 3); len(recs) != want {
			t.Errorf("limit %d: got %d results, want %d", limit, len(recs), want)
		}
	}
}

func TestRecommendByVector_EmptyTopicPaper(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			b := be.open(t, 3)
			load(t, b, []int{1}, []fixturePaper{
				{id: 1, journal: 1, topics: []int{}},
				{id: 2, journal: 1, topics: []int{2}},
			})
			e := newEngine(t, b, Options{})
			ctx := context.Background()

			for _, q := range []topic.Vector{{1, 0, 0}, {1, 1, 1}, {0, 0, 0}} {
				recs, err := e.RecommendByVector(ctx, q, 5)
				if err != nil {
					t.Fatalf("RecommendByVector(%v) error = %v", q, err)
				}
				for _, r := range recs {
					if r.PaperID == 1 && r.Score != 0 {
						t.Errorf("topic-less paper scored %v against %v", r.Score, q)
					}
				}
			}

			ns, err := e.RecommendByNeighbors(ctx, 2, 1)
			if err != nil {
				t.Fatalf("RecommendByNeighbors() error = %v", err)
			}
			if len(ns) != 0 {
				t.Errorf("topic-less paper became a neighbour: %v", neighborIDs(ns))
			}
		})
	}
}

// Neighbours demand exactly the requested count; vector ranking returns what
// it has.
func TestNeighborsVersusVectorShortage(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			b := be.open(t, 5)
			load(t, b, []int{3, -1}, []fixturePaper{
				{id: 1, journal: 1, topics: []int{1, 2}},
				{id: 2, journal: 1, topics: []int{2, 3}},
				{id: 3, journal: 1, topics: []int{1, 4}},
				{id: 9, journal: 2, topics: []int{1, 2, 3}}, // anchor, unranked journal
			})
			e := newEngine(t, b, Options{})
			ctx := context.Background()

			ns, err := e.RecommendByNeighbors(ctx, 9, 5)
			if err != nil {
				t.Fatalf("RecommendByNeighbors() error = %v", err)
			}
			if ns == nil || len(ns) != 0 {
				t.Errorf("RecommendByNeighbors(k=5) = %v, want empty non-nil", ns)
			}

			recs, err := e.RecommendByTopics(ctx, []int{1, 2, 3}, 5)
			if err != nil {
				t.Fatalf("RecommendByTopics() error = %v", err)
			}
			if len(recs) != 3 {
				t.Errorf("RecommendByTopics(k=5) returned %d, want 3", len(recs))
			}

			ns, err = e.RecommendByNeighbors(ctx, 9, 3)
			if err != nil {
				t.Fatalf("RecommendByNeighbors() error = %v", err)
			}
			// 1 and 2 score 2/3, 3 scores 1/4
			if got := neighborIDs(ns); !slices.Equal(got, []int64{1, 2, 3}) {
				t.Errorf("RecommendByNeighbors(k=3) = %v, want [1 2 3]", got)
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			b := be.open(t, 4)
			var papers []fixturePaper
			for i := int64(1); i <= 30; i++ {
				papers = append(papers, fixturePaper{
					id:      i,
					journal: 1 + i%3,
					topics:  []int{1 + int(i%4), 1 + int(i*7%4)},
				})
			}
			load(t, b, []int{2, 2, 5}, papers)
			e := newEngine(t, b, Options{})
			ctx := context.Background()

			first, err := e.RecommendByTopics(ctx, []int{1, 2}, 12)
			if err != nil {
				t.Fatalf("RecommendByTopics() error = %v", err)
			}
			firstN, err := e.RecommendByNeighbors(ctx, 5, 6)
			if err != nil {
				t.Fatalf("RecommendByNeighbors() error = %v", err)
			}
			wantV, _ := json.Marshal(first)
			wantN, _ := json.Marshal(firstN)

			for i := 0; i < 5; i++ {
				recs, _ := e.RecommendByTopics(ctx, []int{1, 2}, 12)
				ns, _ := e.RecommendByNeighbors(ctx, 5, 6)
				gotV, _ := json.Marshal(recs)
				gotN, _ := json.Marshal(ns)
				if !bytes.Equal(gotV, wantV) || !bytes.Equal(gotN, wantN) {
					t.Fatalf("call %d produced different output", i)
				}
			}
		})
	}
}

func TestBackendsAgree(t *testing.T) {
	fixture := []fixturePaper{
		{id: 1, journal: 1, topics: []int{1, 2}},
		{id: 2, journal: 2, topics: []int{2, 3, 4}},
		{id: 3, journal: 1, topics: []int{4}},
		{id: 4, journal: 2, topics: []int{1, 4}},
		{id: 5, journal: 3, topics: []int{2}},
	}
	var outputs [][]byte
	for _, be := range backends {
		b := be.open(t, 4)
		load(t, b, []int{4, 1, -1}, fixture)
		e := newEngine(t, b, Options{})

		recs, err := e.RecommendByTopics(context.Background(), []int{2, 4}, 3)
		if err != nil {
			t.Fatalf("%s: RecommendByTopics() error = %v", be.name, err)
		}
		ns, err := e.RecommendByNeighbors(context.Background(), 2, 3)
		if err != nil {
			t.Fatalf("%s: RecommendByNeighbors() error = %v", be.name, err)
		}
		out, _ := json.Marshal(struct {
			R []Recommendation
			N []neighbors.Neighbor
		}{recs, ns})
		outputs = append(outputs, out)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Errorf("backends disagree:\n%s\n%s", outputs[0], outputs[1])
	}
}

func TestReencodeEntity(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			b := be.open(t, 3)
			load(t, b, []int{1}, []fixturePaper{
				{id: 1, journal: 1, topics: []int{1}},
				{id: 2, journal: 1, topics: []int{2}},
			})
			e := newEngine(t, b, Options{})
			ctx := context.Background()

			if err := e.ReencodeEntity(ctx, 2, []int{1, 1}); err != nil {
				t.Fatalf("ReencodeEntity() error = %v", err)
			}
			recs, err := e.RecommendByTopics(ctx, []int{1}, 2)
			if err != nil {
				t.Fatalf("RecommendByTopics() error = %v", err)
			}
			if recs[0].Score != 1 || recs[1].Score != 1 {
				t.Errorf("scores after reencode = %v, %v; want 1, 1", recs[0].Score, recs[1].Score)
			}

			if err := e.ReencodeEntity(ctx, 2, []int{4}); !errors.Is(err, topic.ErrInvalidTopicIndex) {
				t.Errorf("ReencodeEntity([4]) error = %v, want ErrInvalidTopicIndex", err)
			}
			if err := e.ReencodeEntity(ctx, 99, []int{1}); !errors.Is(err, storage.ErrPaperNotFound) {
				t.Errorf("ReencodeEntity(99) error = %v, want ErrPaperNotFound", err)
			}
		})
	}
}

func TestResize(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			b := be.open(t, 3)
			load(t, b, []int{1}, []fixturePaper{{id: 1, journal: 1, topics: []int{3}}})
			e := newEngine(t, b, Options{})
			ctx := context.Background()

			if err := e.Resize(ctx, 5); err != nil {
				t.Fatalf("Resize(5) error = %v", err)
			}
			if e.TopicCount() != 5 {
				t.Errorf("TopicCount() = %d, want 5", e.TopicCount())
			}
			if _, err := e.RecommendByVector(ctx, topic.Vector{0, 0, 1}, 1); !errors.Is(err, topic.ErrConfigurationMismatch) {
				t.Errorf("old-width query error = %v, want ErrConfigurationMismatch", err)
			}
			recs, err := e.RecommendByTopics(ctx, []int{3, 5}, 1)
			if err != nil {
				t.Fatalf("RecommendByTopics() error = %v", err)
			}
			if recs[0].Score != 0.71 {
				t.Errorf("score = %v, want 0.71", recs[0].Score)
			}

			if err := e.Resize(ctx, 2); !errors.Is(err, topic.ErrInvalidTopicIndex) {
				t.Errorf("Resize(2) error = %v, want ErrInvalidTopicIndex", err)
			}
		})
	}
}

func TestInvalidInput(t *testing.T) {
	fake := &fakeAdapter{k: 3}
	e := newEngine(t, fake, Options{})
	ctx := context.Background()

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{"zero limit", func() error { _, err := e.RecommendByVector(ctx, topic.Vector{1, 0, 0}, 0); return err }, ErrInvalidLimit},
		{"negative neighbour limit", func() error { _, err := e.RecommendByNeighbors(ctx, 1, -1); return err }, ErrInvalidLimit},
		{"short query", func() error { _, err := e.RecommendByVector(ctx, topic.Vector{1, 0}, 3); return err }, topic.ErrConfigurationMismatch},
		{"negative weight", func() error { _, err := e.RecommendByVector(ctx, topic.Vector{1, -1, 0}, 3); return err }, topic.ErrNegativeWeight},
		{"topic out of range", func() error { _, err := e.RecommendByTopics(ctx, []int{0}, 3); return err }, topic.ErrInvalidTopicIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if !IsInvalidInput(err) {
				t.Errorf("IsInvalidInput(%v) = false", err)
			}
		})
	}
	if fake.fetches != 0 {
		t.Errorf("storage read %d times for invalid requests, want 0", fake.fetches)
	}
}

func TestStorageUnavailablePropagates(t *testing.T) {
	fake := &fakeAdapter{k: 3, err: fmt.Errorf("query: %w", storage.ErrStorageUnavailable)}
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	e := newEngine(t, fake, Options{Metrics: rec})

	_, err := e.RecommendByVector(context.Background(), topic.Vector{1, 0, 0}, 1)
	if !errors.Is(err, storage.ErrStorageUnavailable) {
		t.Errorf("RecommendByVector() error = %v, want ErrStorageUnavailable", err)
	}
	_, err = e.RecommendByNeighbors(context.Background(), 1, 1)
	if !errors.Is(err, storage.ErrStorageUnavailable) {
		t.Errorf("RecommendByNeighbors() error = %v, want ErrStorageUnavailable", err)
	}
	if fake.fetches != 2 {
		t.Errorf("fetches = %d, want 2 (no retries)", fake.fetches)
	}
	if got := Outcome(err); got != metrics.OutcomeUnavailable {
		t.Errorf("Outcome() = %q, want %q", got, metrics.OutcomeUnavailable)
	}
}

func TestResultCache(t *testing.T) {
	fake := &fakeAdapter{
		k: 3,
		records: []storage.VectorRecord{
			{Paper: paper.Paper{ID: 1, JournalID: 1, Title: "A"}, Vector: topic.Vector{1, 0, 1}, JournalRank: 1},
			{Paper: paper.Paper{ID: 2, JournalID: 1, Title: "B"}, Vector: topic.Vector{1, 1, 1}, JournalRank: 1},
		},
	}
	reg := prometheus.NewRegistry()
	e := newEngine(t, fake, Options{CacheResults: true, Metrics: metrics.New(reg)})
	ctx := context.Background()

	first, err := e.RecommendByVector(ctx, topic.Vector{1, 0, 1}, 2)
	if err != nil {
		t.Fatalf("RecommendByVector() error = %v", err)
	}
	second, err := e.RecommendByVector(ctx, topic.Vector{1, 0, 1}, 2)
	if err != nil {
		t.Fatalf("RecommendByVector() error = %v", err)
	}
	if fake.fetches != 1 {
		t.Errorf("fetches = %d, want 1", fake.fetches)
	}
	if !slices.Equal(recIDs(first), recIDs(second)) || first[1].Score != second[1].Score {
		t.Errorf("cached result %+v differs from computed %+v", second, first)
	}

	// A different limit is a different key.
	if _, err := e.RecommendByVector(ctx, topic.Vector{1, 0, 1}, 1); err != nil {
		t.Fatalf("RecommendByVector() error = %v", err)
	}
	if fake.fetches != 2 {
		t.Errorf("fetches = %d, want 2", fake.fetches)
	}

	expected := `
		# HELP prec_result_cache_total Result cache lookups by result (hit, miss, error)
		# TYPE prec_result_cache_total counter
		prec_result_cache_total{result="hit"} 1
		prec_result_cache_total{result="miss"} 2
	`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "prec_result_cache_total"); err != nil {
		t.Error(err)
	}
}

func TestResultCache_InvalidatedByWrite(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			b := be.open(t, 3)
			load(t, b, []int{1}, []fixturePaper{
				{id: 1, journal: 1, topics: []int{1}},
				{id: 2, journal: 1, topics: []int{2}},
				{id: 3, journal: 1, topics: []int{1, 2}},
			})
			e := newEngine(t, b, Options{CacheResults: true})
			ctx := context.Background()

			before, err := e.RecommendByNeighbors(ctx, 3, 2)
			if err != nil {
				t.Fatalf("RecommendByNeighbors() error = %v", err)
			}
			if len(before) != 2 {
				t.Fatalf("got %d neighbours, want 2", len(before))
			}

			if err := e.ReencodeEntity(ctx, 2, []int{3}); err != nil {
				t.Fatalf("ReencodeEntity() error = %v", err)
			}
			after, err := e.RecommendByNeighbors(ctx, 3, 2)
			if err != nil {
				t.Fatalf("RecommendByNeighbors() error = %v", err)
			}
			if len(after) != 0 {
				t.Errorf("stale cached neighbours served after write: %v", neighborIDs(after))
			}
		})
	}
}

func TestResultCache_FailureIsNotFatal(t *testing.T) {
	fake := &fakeAdapter{
		k:        3,
		cacheErr: fmt.Errorf("cache: %w", storage.ErrStorageUnavailable),
		records: []storage.VectorRecord{
			{Paper: paper.Paper{ID: 1, JournalID: 1, Title: "A"}, Vector: topic.Vector{1, 0, 0}, JournalRank: 1},
		},
	}
	var buf bytes.Buffer
	logger := logging.NewTestLogger(&buf)
	e := newEngine(t, fake, Options{CacheResults: true, Logger: &logger})

	recs, err := e.RecommendByVector(context.Background(), topic.Vector{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("RecommendByVector() error = %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d results, want 1", len(recs))
	}
	if !strings.Contains(buf.String(), "result cache read failed") {
		t.Errorf("cache failure not logged: %s", buf.String())
	}
}

// writeDuringFetch persists a vector right after the first FetchAllVectors
// has read, as a concurrent writer would.
type writeDuringFetch struct {
	storage.Backend
	once  sync.Once
	id    int64
	write topic.Vector
}

func (w *writeDuringFetch) FetchAllVectors(ctx context.Context) ([]storage.VectorRecord, error) {
	records, err := w.Backend.FetchAllVectors(ctx)
	if err != nil {
		return nil, err
	}
	var werr error
	w.once.Do(func() { werr = w.Backend.PersistTopicVector(ctx, w.id, w.write) })
	return records, werr
}

func TestResultCache_WriteDuringComputation(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			b := be.open(t, 3)
			load(t, b, []int{1}, []fixturePaper{
				{id: 1, journal: 1, topics: []int{1}},
				{id: 2, journal: 1, topics: []int{2}},
			})
			store := &writeDuringFetch{Backend: b, id: 2, write: topic.Vector{1, 0, 0}}
			e := newEngine(t, store, Options{CacheResults: true})
			ctx := context.Background()

			if _, err := e.RecommendByVector(ctx, topic.Vector{1, 0, 0}, 2); err != nil {
				t.Fatalf("RecommendByVector() error = %v", err)
			}
			got, err := e.RecommendByVector(ctx, topic.Vector{1, 0, 0}, 2)
			if err != nil {
				t.Fatalf("RecommendByVector() error = %v", err)
			}
			want, err := newEngine(t, b, Options{}).RecommendByVector(ctx, topic.Vector{1, 0, 0}, 2)
			if err != nil {
				t.Fatalf("uncached RecommendByVector() error = %v", err)
			}

			score := func(recs []Recommendation, id int64) float64 {
				for _, r := range recs {
					if r.PaperID == id {
						return r.Score
					}
				}
				t.Fatalf("paper %d missing from %v", id, recIDs(recs))
				return 0
			}
			if s := score(want, 2); s != 1 {
				t.Fatalf("uncached score for paper 2 = %v, want 1", s)
			}
			if s := score(got, 2); s != 1 {
				t.Errorf("cached score for paper 2 = %v, want 1 (result computed before the write was cached)", s)
			}
		})
	}
}

func TestRecommendByVector_StoredWidthMismatch(t *testing.T) {
	fake := &fakeAdapter{
		k: 3,
		records: []storage.VectorRecord{
			{Paper: paper.Paper{ID: 1, JournalID: 1}, Vector: topic.Vector{1, 0, 0}, JournalRank: 1},
			{Paper: paper.Paper{ID: 2, JournalID: 1}, Vector: topic.Vector{1, 0}, JournalRank: 1},
		},
	}
	e := newEngine(t, fake, Options{})

	_, err := e.RecommendByVector(context.Background(), topic.Vector{1, 0, 0}, 2)
	if !errors.Is(err, topic.ErrConfigurationMismatch) {
		t.Errorf("RecommendByVector() error = %v, want %v", err, topic.ErrConfigurationMismatch)
	}
}

func TestConcurrentQueries(t *testing.T) {
	b := backends[1].open(t, 3)
	load(t, b, []int{1}, []fixturePaper{
		{id: 1, journal: 1, topics: []int{1}},
		{id: 2, journal: 1, topics: []int{1, 2}},
		{id: 3, journal: 1, topics: []int{2, 3}},
	})
	e := newEngine(t, b, Options{CacheResults: true})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.RecommendByTopics(ctx, []int{1}, 2); err != nil {
				errs <- err
			}
			if _, err := e.RecommendByNeighbors(ctx, 2, 2); err != nil {
				errs <- err
			}
		}()
		go func(i int) {
			defer wg.Done()
			if err := e.ReencodeEntity(ctx, 3, []int{1 + i%3}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNew_NilStore(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("New(nil) error = nil")
	}
}

// fakeAdapter serves fixed records and counts storage reads.
type fakeAdapter struct {
	mu       sync.Mutex
	k        int
	records  []storage.VectorRecord
	err      error
	cacheErr error
	cache    map[string][]byte
	gen      uint64
	fetches  int
}

func (f *fakeAdapter) TopicCount() int { return f.k }

func (f *fakeAdapter) FetchAllVectors(ctx context.Context) ([]storage.VectorRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.records), nil
}

func (f *fakeAdapter) FetchOverlapCandidates(ctx context.Context, anchor int64) ([]storage.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	var cs []storage.Candidate
	for _, r := range f.records {
		cs = append(cs, storage.Candidate{PaperID: r.ID, Vector: r.Vector})
	}
	return cs, nil
}

func (f *fakeAdapter) PersistTopicVector(ctx context.Context, id int64, v topic.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cache = nil
	f.gen++
	return nil
}

func (f *fakeAdapter) LoadResults(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cacheErr != nil {
		return nil, false, f.cacheErr
	}
	p, ok := f.cache[key]
	return p, ok, nil
}

func (f *fakeAdapter) ResultsGeneration(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen, f.cacheErr
}

func (f *fakeAdapter) StoreResults(ctx context.Context, key string, generation uint64, payload []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cacheErr != nil {
		return false, f.cacheErr
	}
	if generation != f.gen {
		return false, nil
	}
	if f.cache == nil {
		f.cache = make(map[string][]byte)
	}
	f.cache[key] = payload
	return true, nil
}

func (f *fakeAdapter) SetTopicCount(ctx context.Context, k int) error {
	f.k = k
	return nil
}

func (f *fakeAdapter) Close() error { return nil }
