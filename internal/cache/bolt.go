package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names, one per logical store
var (
	bucketImages = []byte(StoreImages)
	bucketData   = []byte(StoreData)
)

// BoltStore implements Store on BoltDB.
type BoltStore struct {
	db     *bolt.DB
	maxAge time.Duration
	logger *slog.Logger

	now func() time.Time

	// Tracks lazy-expiry deletions so Close can wait them out.
	wg sync.WaitGroup
}

// NewBoltStore opens (or creates) the cache database under dir.
func NewBoltStore(dir string, logger *slog.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "streamlayer.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketImages, bucketData} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:     db,
		maxAge: DefaultMaxAge,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *BoltStore) Close() error {
	s.wg.Wait()
	return s.db.Close()
}

// Set writes value under key, then runs an eviction pass: if the store is
// over its item ceiling, oldest-timestamp entries are deleted until it is
// back at the limit.
func (s *BoltStore) Set(store, key string, value []byte) error {
	env := envelope{
		Timestamp: s.now().UnixMilli(),
		Size:      len(value),
		Value:     value,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	limit := storeLimit(store)

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return fmt.Errorf("unknown store %q", store)
		}
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		return evictOldest(b, limit)
	})
}

// Get returns the value under key, or a miss when the key is absent,
// expired, or unreadable. Expired entries are deleted off the read path.
func (s *BoltStore) Get(store, key string) ([]byte, bool) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("cache read failed", "store", store, "key", key, "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Error("cache entry corrupt", "store", store, "key", key, "error", err)
		return nil, false
	}

	if s.expired(env.Timestamp) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Delete(store, key); err != nil {
				s.logger.Error("expired entry delete failed", "store", store, "key", key, "error", err)
			}
		}()
		return nil, false
	}

	return env.Value, true
}

func (s *BoltStore) Delete(store, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) Clear(store string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) expired(timestampMilli int64) bool {
	written := time.UnixMilli(timestampMilli)
	return s.now().Sub(written) > s.maxAge
}

// evictOldest deletes oldest-timestamp entries until the bucket holds at
// most limit items. Runs inside the caller's write transaction.
func evictOldest(b *bolt.Bucket, limit int) error {
	count := b.Stats().KeyN
	if count <= limit {
		return nil
	}

	type aged struct {
		key []byte
		ts  int64
	}
	entries := make([]aged, 0, count)

	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var env envelope
		ts := int64(0)
		if err := json.Unmarshal(v, &env); err == nil {
			ts = env.Timestamp
		}
		key := make([]byte, len(k))
		copy(key, k)
		entries = append(entries, aged{key: key, ts: ts})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })

	for i := 0; i < count-limit; i++ {
		if err := b.Delete(entries[i].key); err != nil {
			return err
		}
	}
	return nil
}
