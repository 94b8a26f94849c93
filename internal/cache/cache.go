// Package cache implements the two-tier cache used by the player core: a
// durable key/value store for cover images and catalog responses, and a
// process-lifetime in-memory blob cache.
//
// Durable entries carry a write timestamp. Expiry is lazy: an entry older
// than the max age is deleted on the read that discovers it, not by a
// background sweep. Each logical store also has an item-count ceiling;
// writes that push a store over its ceiling evict oldest-written entries
// first. Storage failures are logged and degrade to cache-miss behavior.
package cache

import (
	"encoding/json"
	"time"
)

// Logical store names. Keys are opaque strings such as "album-<id>-<size>"
// or "playlist-tracks-<id>".
const (
	StoreImages = "images"
	StoreData   = "data"
)

// DefaultMaxAge is how long an entry stays readable after it is written.
const DefaultMaxAge = 7 * 24 * time.Hour

// Item-count ceilings per logical store.
const (
	ImageStoreLimit = 500
	DataStoreLimit  = 100
)

func storeLimit(store string) int {
	if store == StoreImages {
		return ImageStoreLimit
	}
	return DataStoreLimit
}

// Store is the durable cache contract. Get never fails: storage errors are
// absorbed and reported as a miss, so callers must tolerate absent values.
type Store interface {
	Set(store, key string, value []byte) error
	Get(store, key string) ([]byte, bool)
	Delete(store, key string) error
	Clear(store string) error
	Close() error
}

// envelope wraps a stored value with its write timestamp.
type envelope struct {
	Timestamp int64  `json:"ts"`
	Size      int    `json:"size"`
	Value     []byte `json:"value"`
}

// SetJSON marshals value and stores it under key in the data store.
func SetJSON(s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(StoreData, key, data)
}

// GetJSON reads key from the data store into dest. A decode failure counts
// as a miss.
func GetJSON(s Store, key string, dest any) bool {
	data, ok := s.Get(StoreData, key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}
