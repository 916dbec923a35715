package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCacheFactory creates LRU tier instances.
type LRUCacheFactory struct {
	maxSize int
}

// NewLRUCacheFactory creates a new LRU tier factory.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize}
}

// Create creates a new LRU tier instance.
func (lcf *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(lcf.maxSize)
}

// LRUCache is the L1 tier: strict least-recently-used eviction via golang-lru.
// TTLs are not tracked here; the tiered cache checks liveness on read.
type LRUCache struct {
	cache     *lru.Cache[string, any]
	hits      int64
	misses    int64
	evictions int64
	maxSize   int64
}

// NewLRUCache creates a new LRU-based tier.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	cache, err := lru.New[string, any](maxSize)
	if err != nil {
		return nil, err
	}

	return &LRUCache{
		cache:   cache,
		maxSize: int64(maxSize),
	}, nil
}

// Get retrieves a value and marks it most recently used.
func (lc *LRUCache) Get(key string) (any, bool) {
	value, found := lc.cache.Get(key)
	if found {
		atomic.AddInt64(&lc.hits, 1)
	} else {
		atomic.AddInt64(&lc.misses, 1)
	}
	return value, found
}

// Set stores a value, evicting the least recently used one when full.
func (lc *LRUCache) Set(key string, value any, cost int64, ttl time.Duration) bool {
	if lc.cache.Add(key, value) {
		atomic.AddInt64(&lc.evictions, 1)
	}
	return true
}

// Delete removes a value.
func (lc *LRUCache) Delete(key string) {
	lc.cache.Remove(key)
}

// Keys returns keys from oldest to newest.
func (lc *LRUCache) Keys() []string {
	return lc.cache.Keys()
}

// Clear removes all values.
func (lc *LRUCache) Clear() {
	lc.cache.Purge()
}

// Close releases all values.
func (lc *LRUCache) Close() {
	lc.cache.Purge()
}

// Metrics returns tier metrics. Size is the number of held values.
func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      int64(lc.cache.Len()),
	}
}

// Capacity returns the maximum number of values.
func (lc *LRUCache) Capacity() int {
	return int(lc.maxSize)
}
