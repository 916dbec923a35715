package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto tier instances.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto tier factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto tier instance.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// lfuItem carries the string key so evictions can update the key index.
type lfuItem struct {
	key   string
	value any
}

// LFUCache is the L2 tier backed by Ristretto. Ristretto admits and evicts
// by sampled frequency, so no recency order is guaranteed on overflow.
type LFUCache struct {
	cache     *lfu.Cache
	hits      int64
	misses    int64
	evictions int64

	// Ristretto cannot enumerate keys; index tracks what is resident.
	indexMu sync.Mutex
	index   map[string]struct{}
}

// NewLFUCache creates a new Ristretto-based tier.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	rc := &LFUCache{index: make(map[string]struct{})}

	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(item *lfu.Item) {
			atomic.AddInt64(&rc.evictions, 1)
			rc.unindex(item.Value)
		},
		OnReject: func(item *lfu.Item) {
			rc.unindex(item.Value)
		},
	})
	if err != nil {
		return nil, err
	}
	rc.cache = cache
	return rc, nil
}

func (rc *LFUCache) unindex(v any) {
	item, ok := v.(*lfuItem)
	if !ok {
		return
	}
	rc.indexMu.Lock()
	delete(rc.index, item.key)
	rc.indexMu.Unlock()
}

// Get retrieves a value from the tier.
func (rc *LFUCache) Get(key string) (any, bool) {
	value, found := rc.cache.Get(key)
	if !found {
		atomic.AddInt64(&rc.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&rc.hits, 1)
	return value.(*lfuItem).value, true
}

// Set stores a value and waits until it is visible to Get.
// It returns false when Ristretto drops or rejects the write.
func (rc *LFUCache) Set(key string, value any, cost int64, ttl time.Duration) bool {
	if ttl < 0 {
		return false
	}
	rc.indexMu.Lock()
	rc.index[key] = struct{}{}
	rc.indexMu.Unlock()

	if !rc.cache.SetWithTTL(key, &lfuItem{key: key, value: value}, cost, ttl) {
		rc.indexMu.Lock()
		delete(rc.index, key)
		rc.indexMu.Unlock()
		return false
	}
	rc.cache.Wait()
	return true
}

// Delete removes a value from the tier.
func (rc *LFUCache) Delete(key string) {
	rc.cache.Del(key)
	rc.indexMu.Lock()
	delete(rc.index, key)
	rc.indexMu.Unlock()
}

// Keys returns the indexed keys that are still resident.
func (rc *LFUCache) Keys() []string {
	rc.indexMu.Lock()
	candidates := make([]string, 0, len(rc.index))
	for k := range rc.index {
		candidates = append(candidates, k)
	}
	rc.indexMu.Unlock()

	keys := candidates[:0]
	for _, k := range candidates {
		if _, ok := rc.cache.Get(k); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Clear removes all values from the tier.
func (rc *LFUCache) Clear() {
	rc.cache.Clear()
	rc.indexMu.Lock()
	rc.index = make(map[string]struct{})
	rc.indexMu.Unlock()
}

// Close closes the tier.
func (rc *LFUCache) Close() {
	rc.cache.Close()
}

// Metrics returns tier metrics. Size is the configured maximum cost.
func (rc *LFUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&rc.hits),
		Misses:    atomic.LoadInt64(&rc.misses),
		Evictions: atomic.LoadInt64(&rc.evictions),
		Size:      rc.cache.MaxCost(),
	}
}
