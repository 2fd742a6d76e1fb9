package cache

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"chronicle/proofread/internal/analysis"
)

var boltBucket = []byte("analysis")

// BoltStore is a single-file cache for command line runs.
type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// OpenBolt opens or creates the cache file at path.
func OpenBolt(path string, ttl time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BoltStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *BoltStore) Get(_ context.Context, key string) (analysis.Response, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return analysis.Response{}, false, fmt.Errorf("read cache: %w", err)
	}
	if data == nil {
		return analysis.Response{}, false, nil
	}
	e, err := decode(data)
	if err != nil {
		return analysis.Response{}, false, err
	}
	if s.now().Sub(e.StoredAt) > s.ttl {
		return analysis.Response{}, false, nil
	}
	return e.Response, true, nil
}

func (s *BoltStore) Put(_ context.Context, key string, resp analysis.Response) error {
	data, err := encode(resp, s.now())
	if err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), data)
	}); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Prune removes expired entries and reports how many went.
func (s *BoltStore) Prune() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		var expired [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			e, err := decode(v)
			if err != nil || s.now().Sub(e.StoredAt) > s.ttl {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return removed, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
