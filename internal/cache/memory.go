package cache

import "sync"

// Blob is a revocable handle to in-memory binary data. The release hook
// frees whatever backs the handle (a decoder buffer, a pooled slice) and
// runs at most once.
type Blob struct {
	Data []byte

	once    sync.Once
	release func()
}

// NewBlob wraps data in a handle. release may be nil.
func NewBlob(data []byte, release func()) *Blob {
	return &Blob{Data: data, release: release}
}

// Revoke releases the handle's backing resource and drops the data.
func (b *Blob) Revoke() {
	b.once.Do(func() {
		if b.release != nil {
			b.release()
		}
		b.Data = nil
	})
}

// BlobCache is a process-lifetime map from cache key to blob handle.
// It has no TTL and no eviction; it is bounded by the persistent store's
// population patterns and the lifetime of the embedding process.
type BlobCache struct {
	mu    sync.RWMutex
	blobs map[string]*Blob
}

// NewBlobCache creates an empty blob cache.
func NewBlobCache() *BlobCache {
	return &BlobCache{blobs: make(map[string]*Blob)}
}

func (c *BlobCache) Get(key string) (*Blob, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blobs[key]
	return b, ok
}

func (c *BlobCache) Set(key string, blob *Blob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.blobs[key]; ok && old != blob {
		old.Revoke()
	}
	c.blobs[key] = blob
}

func (c *BlobCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blobs[key]
	return ok
}

// Clear revokes every held handle before dropping references, so no
// backing resource outlives the cache contents.
func (c *BlobCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.blobs {
		b.Revoke()
	}
	c.blobs = make(map[string]*Blob)
}

// Len reports the number of held handles.
func (c *BlobCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blobs)
}
