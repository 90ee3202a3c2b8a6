// Package graphstore is the graph-traversal storage backend.
//
// Papers and topics are nodes; a paper's topic vector is the set of weighted
// edges from the paper to its topics, stored in both directions:
//
//	paper_topics/<paper>/<topic> = weight
//	topic_papers/<topic>/<paper> = weight
//
// Overlap candidates are found by walking anchor -> topics -> papers, and
// vectors are assembled from the outgoing edges. There is no precomputed
// similarity table.
package graphstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

var (
	bucketJournals    = []byte("journals")
	bucketPapers      = []byte("papers")
	bucketPaperTopics = []byte("paper_topics")
	bucketTopicPapers = []byte("topic_papers")
	bucketResults     = []byte("results")
	bucketMeta        = []byte("meta")

	keyTopicCount        = []byte("topic_count")
	keyResultsGeneration = []byte("results_generation")
)

// Store is a bbolt-backed graph of papers, topics and journals.
type Store struct {
	db *bbolt.DB
	k  atomic.Int64
}

var _ storage.Backend = (*Store)(nil)

// Open opens or creates the graph database at path for k topics.
// An existing database created with a different topic count is rejected.
func Open(path string, k int) (*Store, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", topic.ErrInvalidTopicCount, k)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, unavailable("opening graph database", err)
	}

	s := &Store{db: db}
	err = s.update("initializing graph database", func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketJournals, bucketPapers, bucketPaperTopics, bucketTopicPapers, bucketResults, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return unavailable("creating bucket "+string(name), err)
			}
		}

		stored, ok, err := storedTopicCount(tx)
		if err != nil {
			return err
		}
		if ok && stored != k {
			return fmt.Errorf("%w: database has %d topics, configuration has %d (run 'prec resize %d' to re-encode)",
				topic.ErrConfigurationMismatch, stored, k, k)
		}
		if !ok {
			return putTopicCount(tx, k)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.k.Store(int64(k))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// TopicCount returns the configured topic count.
func (s *Store) TopicCount() int {
	return int(s.k.Load())
}

// update runs fn in a read-write transaction. Errors returned by fn pass
// through unchanged; a failure to begin or commit is reported as unavailable.
func (s *Store) update(op string, fn func(tx *bbolt.Tx) error) error {
	var fnErr error
	err := s.db.Update(func(tx *bbolt.Tx) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return unavailable(op, err)
	}
	return err
}

// view runs fn in a read-only snapshot transaction.
func (s *Store) view(op string, fn func(tx *bbolt.Tx) error) error {
	var fnErr error
	err := s.db.View(func(tx *bbolt.Tx) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return unavailable(op, err)
	}
	return err
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, err)
}

var errCorrupt = errors.New("corrupt record")

func storedTopicCount(tx *bbolt.Tx) (int, bool, error) {
	raw := tx.Bucket(bucketMeta).Get(keyTopicCount)
	if raw == nil {
		return 0, false, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, false, unavailable("reading topic count", fmt.Errorf("%w: %q", errCorrupt, raw))
	}
	return n, true, nil
}

// topicCount returns K as of the transaction's snapshot.
func topicCount(tx *bbolt.Tx) (int, error) {
	k, ok, err := storedTopicCount(tx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, unavailable("reading topic count", fmt.Errorf("%w: missing", errCorrupt))
	}
	return k, nil
}

func putTopicCount(tx *bbolt.Tx, k int) error {
	if err := tx.Bucket(bucketMeta).Put(keyTopicCount, []byte(strconv.Itoa(k))); err != nil {
		return unavailable("writing topic count", err)
	}
	return nil
}

// idKey encodes an ID as a big-endian key so cursor order is numeric order.
func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func keyID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// topicKey encodes a zero-based topic position.
func topicKey(pos int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(pos))
	return b
}

func keyTopic(b []byte) int {
	return int(binary.BigEndian.Uint32(b))
}

func weightValue(w int) []byte {
	return binary.AppendUvarint(nil, uint64(w))
}

func valueWeight(b []byte) int {
	w, _ := binary.Uvarint(b)
	return int(w)
}

func put(b *bbolt.Bucket, key, value []byte, what string) error {
	if err := b.Put(key, value); err != nil {
		return unavailable("writing "+what, err)
	}
	return nil
}
