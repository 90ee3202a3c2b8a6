package graphstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"

	"go.etcd.io/bbolt"

	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

// vectorOf assembles a paper's vector from its outgoing topic edges.
// Returns nil if the paper has no vector node.
func vectorOf(tx *bbolt.Tx, id int64, k int) (topic.Vector, error) {
	edges := tx.Bucket(bucketPaperTopics).Bucket(idKey(id))
	if edges == nil {
		return nil, nil
	}
	v := make(topic.Vector, k)
	err := edges.ForEach(func(key, val []byte) error {
		pos := keyTopic(key)
		if pos >= k {
			return unavailable("reading topic edges", fmt.Errorf("%w: paper %d has topic %d beyond %d", errCorrupt, id, pos+1, k))
		}
		v[pos] = valueWeight(val)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// FetchAllVectors returns every paper with a vector node, joined to its journal rank.
func (s *Store) FetchAllVectors(ctx context.Context) ([]storage.VectorRecord, error) {
	var records []storage.VectorRecord
	err := s.view("fetching vectors", func(tx *bbolt.Tx) error {
		k, err := topicCount(tx)
		if err != nil {
			return err
		}
		papers := tx.Bucket(bucketPapers)
		journals := tx.Bucket(bucketJournals)

		c := tx.Bucket(bucketPaperTopics).Cursor()
		for key, _ := c.First(); key != nil; key, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := keyID(key)

			var p paper.Paper
			raw := papers.Get(key)
			if raw == nil {
				continue
			}
			if err := decode(raw, &p); err != nil {
				return err
			}
			var j paper.Journal
			rawJ := journals.Get(idKey(p.JournalID))
			if rawJ == nil {
				continue
			}
			if err := decode(rawJ, &j); err != nil {
				return err
			}

			v, err := vectorOf(tx, id, k)
			if err != nil {
				return err
			}
			records = append(records, storage.VectorRecord{Paper: p, Vector: v, JournalRank: j.Rank})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FetchOverlapCandidates walks from the anchor to its topics and from each
// topic to the papers attached to it. The anchor is included.
func (s *Store) FetchOverlapCandidates(ctx context.Context, anchor int64) ([]storage.Candidate, error) {
	var candidates []storage.Candidate
	err := s.view("fetching overlap candidates", func(tx *bbolt.Tx) error {
		k, err := topicCount(tx)
		if err != nil {
			return err
		}
		edges := tx.Bucket(bucketPaperTopics).Bucket(idKey(anchor))
		if edges == nil {
			return fmt.Errorf("%w: %d", storage.ErrPaperNotFound, anchor)
		}

		reached := map[int64]struct{}{anchor: {}}
		topics := tx.Bucket(bucketTopicPapers)
		err = edges.ForEach(func(tk, _ []byte) error {
			members := topics.Bucket(tk)
			if members == nil {
				return nil
			}
			return members.ForEach(func(pk, _ []byte) error {
				reached[keyID(pk)] = struct{}{}
				return nil
			})
		})
		if err != nil {
			return err
		}

		ids := make([]int64, 0, len(reached))
		for id := range reached {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		for _, id := range ids {
			v, err := vectorOf(tx, id, k)
			if err != nil {
				return err
			}
			if v == nil {
				continue
			}
			candidates = append(candidates, storage.Candidate{PaperID: id, Vector: v})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// PersistTopicVector replaces all topic edges of an existing paper.
func (s *Store) PersistTopicVector(ctx context.Context, id int64, v topic.Vector) error {
	return s.update("persisting topic vector", func(tx *bbolt.Tx) error {
		if err := checkWidth(tx, v); err != nil {
			return err
		}
		if tx.Bucket(bucketPapers).Get(idKey(id)) == nil {
			return fmt.Errorf("%w: %d", storage.ErrPaperNotFound, id)
		}
		if err := writeEdges(tx, id, v); err != nil {
			return err
		}
		return invalidateResults(tx)
	})
}

func checkWidth(tx *bbolt.Tx, v topic.Vector) error {
	k, err := topicCount(tx)
	if err != nil {
		return err
	}
	return topic.Codec{K: k}.Check(v)
}

// writeEdges drops the paper's existing edges in both directions and writes
// one edge per nonzero weight in v.
func writeEdges(tx *bbolt.Tx, id int64, v topic.Vector) error {
	if err := dropEdges(tx, id); err != nil {
		return err
	}

	pk := idKey(id)
	out, err := tx.Bucket(bucketPaperTopics).CreateBucket(pk)
	if err != nil {
		return unavailable("creating vector node", err)
	}
	topics := tx.Bucket(bucketTopicPapers)
	for pos, w := range v {
		if w == 0 {
			continue
		}
		tk := topicKey(pos)
		if err := put(out, tk, weightValue(w), "topic edge"); err != nil {
			return err
		}
		in, err := topics.CreateBucketIfNotExists(tk)
		if err != nil {
			return unavailable("creating topic node", err)
		}
		if err := put(in, pk, weightValue(w), "paper edge"); err != nil {
			return err
		}
	}
	return nil
}

// dropEdges removes the paper's vector node and its reverse edges.
func dropEdges(tx *bbolt.Tx, id int64) error {
	pk := idKey(id)
	paperTopics := tx.Bucket(bucketPaperTopics)
	out := paperTopics.Bucket(pk)
	if out == nil {
		return nil
	}

	var linked [][]byte
	if err := out.ForEach(func(tk, _ []byte) error {
		linked = append(linked, slices.Clone(tk))
		return nil
	}); err != nil {
		return err
	}

	topics := tx.Bucket(bucketTopicPapers)
	for _, tk := range linked {
		in := topics.Bucket(tk)
		if in == nil {
			continue
		}
		if err := in.Delete(pk); err != nil {
			return unavailable("deleting paper edge", err)
		}
	}
	if err := paperTopics.DeleteBucket(pk); err != nil {
		return unavailable("deleting vector node", err)
	}
	return nil
}

// LoadResults returns a cached result payload.
func (s *Store) LoadResults(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.view("reading cached results", func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(bucketResults).Get([]byte(key)); raw != nil {
			payload = slices.Clone(raw)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return payload, payload != nil, nil
}

// ResultsGeneration returns the counter bumped by every write.
func (s *Store) ResultsGeneration(ctx context.Context) (uint64, error) {
	var gen uint64
	err := s.view("reading results generation", func(tx *bbolt.Tx) error {
		gen = resultsGeneration(tx)
		return nil
	})
	return gen, err
}

// StoreResults caches payload for key if no write has committed since
// generation was read. It reports whether the payload was stored.
func (s *Store) StoreResults(ctx context.Context, key string, generation uint64, payload []byte) (bool, error) {
	stored := false
	err := s.update("writing cached results", func(tx *bbolt.Tx) error {
		if resultsGeneration(tx) != generation {
			return nil
		}
		stored = true
		return put(tx.Bucket(bucketResults), []byte(key), payload, "cached results")
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

func resultsGeneration(tx *bbolt.Tx) uint64 {
	raw := tx.Bucket(bucketMeta).Get(keyResultsGeneration)
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// invalidateResults drops every cached result and bumps the results
// generation. Every write calls it inside its own transaction.
func invalidateResults(tx *bbolt.Tx) error {
	if err := tx.DeleteBucket(bucketResults); err != nil {
		return unavailable("clearing result cache", err)
	}
	if _, err := tx.CreateBucket(bucketResults); err != nil {
		return unavailable("clearing result cache", err)
	}
	next := binary.BigEndian.AppendUint64(nil, resultsGeneration(tx)+1)
	return put(tx.Bucket(bucketMeta), keyResultsGeneration, next, "results generation")
}

// SetTopicCount changes the vector width. Edges carry topic positions rather
// than fixed columns, so growing only rewrites the stored count; shrinking
// first checks that no edge points past the new width.
func (s *Store) SetTopicCount(ctx context.Context, k int) error {
	if k < 1 {
		return fmt.Errorf("%w: got %d", topic.ErrInvalidTopicCount, k)
	}

	err := s.update("resizing topic vectors", func(tx *bbolt.Tx) error {
		current, err := topicCount(tx)
		if err != nil {
			return err
		}
		if k == current {
			return nil
		}

		if k < current {
			c := tx.Bucket(bucketTopicPapers).Cursor()
			for tk, _ := c.Seek(topicKey(k)); tk != nil; tk, _ = c.Next() {
				members := tx.Bucket(bucketTopicPapers).Bucket(tk)
				if members == nil {
					continue
				}
				if pk, _ := members.Cursor().First(); pk != nil {
					return fmt.Errorf("paper %d: %w: %d not in [1, %d]",
						keyID(pk), topic.ErrInvalidTopicIndex, keyTopic(tk)+1, k)
				}
			}
		}

		if err := putTopicCount(tx, k); err != nil {
			return err
		}
		return invalidateResults(tx)
	})
	if err != nil {
		return err
	}

	s.k.Store(int64(k))
	return nil
}
