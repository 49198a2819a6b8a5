package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local byte cache.
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	if val, found := c.cache.Get(key); found {
		return val.([]byte), true
	}
	return nil, false
}

// Set stores a value; a zero ttl uses the cache default.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) error {
	c.cache.Delete(key)
	return nil
}

// Clear removes all values from the cache
func (c *MemoryCache) Clear() error {
	c.cache.Flush()
	return nil
}

// Memo is a typed, concurrency-safe map of computed values that never
// expire. It backs memoization whose lifetime is the owning object's.
type Memo[V any] struct {
	cache *gocache.Cache
}

// NewMemo creates an empty memo.
func NewMemo[V any]() *Memo[V] {
	return &Memo[V]{cache: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the stored value for key.
func (m *Memo[V]) Get(key string) (V, bool) {
	if val, found := m.cache.Get(key); found {
		return val.(V), true
	}
	var zero V
	return zero, false
}

// Put stores value under key, replacing any earlier value.
func (m *Memo[V]) Put(key string, value V) {
	m.cache.Set(key, value, gocache.NoExpiration)
}

// Len returns the number of stored values.
func (m *Memo[V]) Len() int {
	return m.cache.ItemCount()
}
