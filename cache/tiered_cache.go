package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huykn/actioncache/codec"
	"github.com/huykn/actioncache/codec/zstdcodec"
	"github.com/huykn/actioncache/stats"
	"github.com/huykn/actioncache/storage"
	"github.com/huykn/actioncache/types"
)

// invalidationSamples is how many recent invalidation durations are averaged.
const invalidationSamples = 100

// ErrEmptyKey is returned when an entry is written without a key.
var ErrEmptyKey = NewError("cache key is empty")

// TieredCache is a per-node cache with three tiers: L1 (LRU), L2 (compressed)
// and L3 (persistent). Reads probe L1 to L3 and promote hits upward; writes
// go to one tier chosen from the action, priority and payload size.
type TieredCache struct {
	l1         LocalCache
	l2         LocalCache
	l3         storage.PersistentStore
	codec      codec.Codec
	ownedCodec *zstdcodec.Codec
	serializer Marshaller
	logger     Logger
	stats      stats.Collector
	options    Options
	now        func() time.Time
	closed     int32

	// L3 keys written or read through this cache.
	l3Mu    sync.Mutex
	l3Index map[string]struct{}

	// Guards AccessCount and LastAccessed of entries held in L1.
	accessMu sync.Mutex

	m             Metrics
	metricsMu     sync.Mutex
	evictionBase  int64
	lastClear     time.Time
	invalidations []time.Duration
}

// New creates a new TieredCache.
func New(opts Options) (*TieredCache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.L1Factory == nil {
		opts.L1Factory = NewLRUCacheFactory(opts.L1MaxSize)
	}
	if opts.L2Factory == nil {
		opts.L2Factory = NewLFUCacheFactory(L2Config(opts.L2MaxSize))
	}
	if opts.Persistent == nil {
		opts.Persistent = storage.NewMemoryStore()
	}
	if opts.Marshaller == nil {
		opts.Marshaller = NewJSONMarshaller()
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewNoop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tc := &TieredCache{
		l3:         opts.Persistent,
		codec:      opts.Codec,
		serializer: opts.Marshaller,
		logger:     opts.Logger,
		stats:      opts.Stats,
		options:    opts,
		now:        opts.Now,
		l3Index:    make(map[string]struct{}),
	}

	if tc.codec == nil {
		zc, err := zstdcodec.New()
		if err != nil {
			return nil, err
		}
		tc.codec = zc
		tc.ownedCodec = zc
	}

	l1, err := opts.L1Factory.Create()
	if err != nil {
		tc.closeCodec()
		return nil, fmt.Errorf("creating L1: %w", err)
	}
	l2, err := opts.L2Factory.Create()
	if err != nil {
		l1.Close()
		tc.closeCodec()
		return nil, fmt.Errorf("creating L2: %w", err)
	}
	tc.l1 = l1
	tc.l2 = l2

	return tc, nil
}

// Get returns the cached result of action.
func (tc *TieredCache) Get(ctx context.Context, action types.ObjectAction) (*types.ActionResult, bool) {
	entry, ok := tc.GetEntry(ctx, types.NewCacheKey(action).String())
	if !ok {
		return nil, false
	}
	var result types.ActionResult
	if err := tc.serializer.Unmarshal(entry.Payload, &result); err != nil {
		tc.report(err)
		if tc.options.DebugMode {
			tc.logger.Error("Get: result deserialization failed", "key", entry.Key, "error", err)
		}
		return nil, false
	}
	return &result, true
}

// Set caches result for action. A zero ttl selects the policy TTL.
func (tc *TieredCache) Set(ctx context.Context, action types.ObjectAction, result types.ActionResult, ttl time.Duration) error {
	payload, err := tc.serializer.Marshal(result)
	if err != nil {
		return fmt.Errorf("serializing result: %w", err)
	}
	return tc.SetEntry(ctx, types.NewCacheKey(action).String(), payload, SetOptions{
		TTL:      ttl,
		Priority: action.Priority,
		Failed:   result.Failed(),
	})
}

// Contains reports whether a live result for action is cached, without
// touching counters or promoting it.
func (tc *TieredCache) Contains(ctx context.Context, action types.ObjectAction) bool {
	_, ok := tc.Peek(ctx, types.NewCacheKey(action).String())
	return ok
}

// GetEntry probes L1, L2 then L3 for key. The first live hit is promoted
// into every faster tier.
func (tc *TieredCache) GetEntry(ctx context.Context, key string) (*Entry, bool) {
	if atomic.LoadInt32(&tc.closed) != 0 {
		return nil, false
	}

	atomic.AddInt64(&tc.m.TotalRequests, 1)
	tc.stats.IncCounter(stats.MetricRequests, 1)
	now := tc.now()

	if v, ok := tc.l1.Get(key); ok {
		if e, ok := v.(*Entry); ok && e.Live(now) {
			atomic.AddInt64(&tc.m.L1Hits, 1)
			tc.stats.IncCounter(stats.MetricL1Hits, 1)
			return tc.touch(e, now), true
		}
		tc.l1.Delete(key)
	}
	atomic.AddInt64(&tc.m.L1Misses, 1)

	if v, ok := tc.l2.Get(key); ok {
		e, err := tc.decodeL2(v)
		if err == nil && e.Live(now) {
			atomic.AddInt64(&tc.m.L2Hits, 1)
			tc.stats.IncCounter(stats.MetricL2Hits, 1)
			if tc.options.DebugMode {
				tc.logger.Debug("Get: L2 hit, promoting", "key", key)
			}
			e.Tier = TierL1
			tc.l1.Set(key, e, 1, e.Remaining(now))
			hit := tc.touch(e, now)
			hit.Tier = TierL2
			return hit, true
		}
		if err != nil {
			tc.report(err)
		}
		tc.l2.Delete(key)
	}
	atomic.AddInt64(&tc.m.L2Misses, 1)

	if e, ok := tc.readL3(ctx, key, now); ok {
		atomic.AddInt64(&tc.m.L3Hits, 1)
		tc.stats.IncCounter(stats.MetricL3Hits, 1)
		if tc.options.DebugMode {
			tc.logger.Debug("Get: L3 hit, promoting", "key", key)
		}
		tc.writeL2(key, e, now)
		e.Tier = TierL1
		tc.l1.Set(key, e, 1, e.Remaining(now))
		hit := tc.touch(e, now)
		hit.Tier = TierL3
		return hit, true
	}
	atomic.AddInt64(&tc.m.L3Misses, 1)
	tc.stats.IncCounter(stats.MetricMisses, 1)

	return nil, false
}

// Peek returns a live entry without promotion or counter updates.
func (tc *TieredCache) Peek(ctx context.Context, key string) (*Entry, bool) {
	if atomic.LoadInt32(&tc.closed) != 0 {
		return nil, false
	}
	now := tc.now()
	if v, ok := tc.l1.Get(key); ok {
		if e, ok := v.(*Entry); ok && e.Live(now) {
			tc.accessMu.Lock()
			cp := *e
			tc.accessMu.Unlock()
			return &cp, true
		}
	}
	if v, ok := tc.l2.Get(key); ok {
		if e, err := tc.decodeL2(v); err == nil && e.Live(now) {
			return e, true
		}
	}
	return tc.readL3(ctx, key, now)
}

// SetEntry stores payload under key. The TTL and tier are derived from the
// action and object types encoded in key unless opts overrides the TTL.
func (tc *TieredCache) SetEntry(ctx context.Context, key string, payload []byte, opts SetOptions) error {
	if atomic.LoadInt32(&tc.closed) != 0 {
		return ErrCacheClosed
	}
	if key == "" {
		return ErrEmptyKey
	}

	ck := types.ParseCacheKey(key)
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = EffectiveTTL(tc.options.DefaultTTL, ck.ActionType, ck.ObjectType, opts.Failed)
	}
	tier := SelectTier(opts.Priority, ck.ActionType, opts.Failed, len(payload))
	now := tc.now()

	e := &Entry{
		Key:          key,
		Payload:      append([]byte(nil), payload...),
		CreatedAt:    now,
		TTL:          ttl,
		Tier:         tier,
		LastAccessed: now,
	}

	if tc.options.DebugMode {
		tc.logger.Debug("Set: storing entry", "key", key, "tier", tier.String(), "ttl", ttl)
	}

	// Drop copies in other tiers so an older value cannot shadow this one.
	if tier != TierL1 {
		tc.l1.Delete(key)
	}
	if tier != TierL2 {
		tc.l2.Delete(key)
	}
	if tier != TierL3 && tc.indexedL3(key) {
		tc.removeL3(ctx, key)
	}

	switch tier {
	case TierL1:
		tc.l1.Set(key, e, 1, ttl)
	case TierL2:
		if !tc.writeL2(key, e, now) {
			// Ristretto may refuse a write; keep the value reachable.
			e.Tier = TierL3
			tc.writeL3(ctx, key, e)
		}
	case TierL3:
		tc.writeL3(ctx, key, e)
	}
	return nil
}

// Delete removes key from every tier and reports whether any tier held it.
func (tc *TieredCache) Delete(ctx context.Context, key string) bool {
	_, inL1 := tc.l1.Get(key)
	_, inL2 := tc.l2.Get(key)
	inL3 := tc.indexedL3(key)

	tc.l1.Delete(key)
	tc.l2.Delete(key)
	if !inL3 {
		_, inL3 = tc.readL3(ctx, key, tc.now())
	}
	tc.removeL3(ctx, key)
	return inL1 || inL2 || inL3
}

// Invalidate removes every entry whose key satisfies pred from all tiers
// and returns the number of distinct keys removed.
func (tc *TieredCache) Invalidate(ctx context.Context, pred func(types.CacheKey) bool) int {
	start := time.Now()
	removed := make(map[string]struct{})

	for _, k := range tc.l1.Keys() {
		if pred(types.ParseCacheKey(k)) {
			tc.l1.Delete(k)
			removed[k] = struct{}{}
		}
	}
	for _, k := range tc.l2.Keys() {
		if pred(types.ParseCacheKey(k)) {
			tc.l2.Delete(k)
			removed[k] = struct{}{}
		}
	}
	for _, k := range tc.l3Keys(ctx) {
		if pred(types.ParseCacheKey(k)) {
			tc.removeL3(ctx, k)
			removed[k] = struct{}{}
		}
	}

	n := len(removed)
	atomic.AddInt64(&tc.m.TotalInvalidations, int64(n))
	tc.stats.IncCounter(stats.MetricInvalidations, int64(n))
	tc.recordInvalidation(time.Since(start))

	if tc.options.DebugMode {
		tc.logger.Debug("Invalidate: removed entries", "count", n)
	}
	return n
}

// Keys returns the distinct keys held by any tier.
func (tc *TieredCache) Keys(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(ks []string) {
		for _, k := range ks {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	add(tc.l1.Keys())
	add(tc.l2.Keys())
	add(tc.l3Keys(ctx))
	return keys
}

// Clear empties all tiers and resets counters. The lifetime request and
// clear counts are kept.
func (tc *TieredCache) Clear(ctx context.Context) error {
	if atomic.LoadInt32(&tc.closed) != 0 {
		return ErrCacheClosed
	}

	tc.l1.Clear()
	tc.l2.Clear()

	l3ctx, cancel := tc.l3Context(ctx)
	defer cancel()
	if err := tc.l3.Clear(l3ctx); err != nil {
		tc.absorb("Clear: L3 clear failed", "*", err)
	}
	tc.l3Mu.Lock()
	tc.l3Index = make(map[string]struct{})
	tc.l3Mu.Unlock()

	tc.metricsMu.Lock()
	for _, counter := range []*int64{
		&tc.m.L1Hits, &tc.m.L1Misses,
		&tc.m.L2Hits, &tc.m.L2Misses,
		&tc.m.L3Hits, &tc.m.L3Misses,
		&tc.m.L3Errors, &tc.m.TotalInvalidations,
		&tc.m.UncompressedBytes, &tc.m.CompressedBytes,
	} {
		atomic.StoreInt64(counter, 0)
	}
	atomic.AddInt64(&tc.m.TotalClears, 1)
	tc.evictionBase = tc.tierEvictions()
	tc.lastClear = tc.now()
	tc.invalidations = nil
	tc.metricsMu.Unlock()

	if tc.options.DebugMode {
		tc.logger.Debug("Clear: cleared all tiers")
	}
	return nil
}

// Metrics returns a snapshot of the cache counters.
func (tc *TieredCache) Metrics() Metrics {
	tc.metricsMu.Lock()
	defer tc.metricsMu.Unlock()

	m := Metrics{
		L1Hits:             atomic.LoadInt64(&tc.m.L1Hits),
		L1Misses:           atomic.LoadInt64(&tc.m.L1Misses),
		L2Hits:             atomic.LoadInt64(&tc.m.L2Hits),
		L2Misses:           atomic.LoadInt64(&tc.m.L2Misses),
		L3Hits:             atomic.LoadInt64(&tc.m.L3Hits),
		L3Misses:           atomic.LoadInt64(&tc.m.L3Misses),
		TotalRequests:      atomic.LoadInt64(&tc.m.TotalRequests),
		L3Errors:           atomic.LoadInt64(&tc.m.L3Errors),
		TotalInvalidations: atomic.LoadInt64(&tc.m.TotalInvalidations),
		TotalClears:        atomic.LoadInt64(&tc.m.TotalClears),
		UncompressedBytes:  atomic.LoadInt64(&tc.m.UncompressedBytes),
		CompressedBytes:    atomic.LoadInt64(&tc.m.CompressedBytes),
		Evictions:          tc.tierEvictions() - tc.evictionBase,
		LastClear:          tc.lastClear,
	}
	if len(tc.invalidations) > 0 {
		var total time.Duration
		for _, d := range tc.invalidations {
			total += d
		}
		m.AverageInvalidation = total / time.Duration(len(tc.invalidations))
	}
	return m
}

// Close closes every tier. Closing twice is a no-op.
func (tc *TieredCache) Close() error {
	if !atomic.CompareAndSwapInt32(&tc.closed, 0, 1) {
		return nil
	}
	tc.l1.Close()
	tc.l2.Close()
	err := tc.l3.Close()
	tc.closeCodec()
	return err
}

func (tc *TieredCache) closeCodec() {
	if tc.ownedCodec != nil {
		tc.ownedCodec.Close()
	}
}

// touch records an access and returns a copy of e.
func (tc *TieredCache) touch(e *Entry, now time.Time) *Entry {
	tc.accessMu.Lock()
	defer tc.accessMu.Unlock()
	e.AccessCount++
	e.LastAccessed = now
	cp := *e
	return &cp
}

func (tc *TieredCache) writeL2(key string, e *Entry, now time.Time) bool {
	remaining := e.Remaining(now)
	if remaining <= 0 {
		return false
	}
	cp := *e
	cp.Tier = TierL2
	raw, err := tc.serializer.Marshal(&cp)
	if err != nil {
		tc.report(err)
		return false
	}
	compressed, err := tc.codec.Encode(raw)
	if err != nil {
		tc.report(err)
		return false
	}
	if !tc.l2.Set(key, compressed, 1, remaining) {
		if tc.options.DebugMode {
			tc.logger.Debug("Set: L2 rejected entry", "key", key)
		}
		return false
	}
	atomic.AddInt64(&tc.m.UncompressedBytes, int64(len(raw)))
	atomic.AddInt64(&tc.m.CompressedBytes, int64(len(compressed)))
	return true
}

func (tc *TieredCache) decodeL2(v any) (*Entry, error) {
	compressed, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected L2 value %T", v)
	}
	raw, err := tc.codec.Decode(compressed)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := tc.serializer.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (tc *TieredCache) writeL3(ctx context.Context, key string, e *Entry) {
	cp := *e
	cp.Tier = TierL3
	raw, err := tc.serializer.Marshal(&cp)
	if err != nil {
		tc.report(err)
		return
	}

	ctx, cancel := tc.l3Context(ctx)
	defer cancel()
	if err := tc.l3.Store(ctx, key, raw); err != nil {
		tc.absorb("Set: L3 store failed", key, err)
		return
	}
	tc.l3Mu.Lock()
	tc.l3Index[key] = struct{}{}
	tc.l3Mu.Unlock()
}

func (tc *TieredCache) readL3(ctx context.Context, key string, now time.Time) (*Entry, bool) {
	ctx, cancel := tc.l3Context(ctx)
	defer cancel()

	raw, err := tc.l3.Retrieve(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			tc.absorb("Get: L3 retrieve failed", key, err)
		}
		return nil, false
	}

	var e Entry
	if err := tc.serializer.Unmarshal(raw, &e); err != nil {
		tc.absorb("Get: L3 entry corrupt", key, err)
		return nil, false
	}
	if !e.Live(now) {
		if err := tc.l3.Remove(ctx, key); err != nil {
			tc.absorb("Get: L3 expired removal failed", key, err)
		}
		tc.unindexL3(key)
		return nil, false
	}

	tc.l3Mu.Lock()
	tc.l3Index[key] = struct{}{}
	tc.l3Mu.Unlock()
	return &e, true
}

func (tc *TieredCache) removeL3(ctx context.Context, key string) {
	ctx, cancel := tc.l3Context(ctx)
	defer cancel()
	if err := tc.l3.Remove(ctx, key); err != nil {
		tc.absorb("Delete: L3 remove failed", key, err)
	}
	tc.unindexL3(key)
}

func (tc *TieredCache) indexedL3(key string) bool {
	tc.l3Mu.Lock()
	defer tc.l3Mu.Unlock()
	_, ok := tc.l3Index[key]
	return ok
}

func (tc *TieredCache) unindexL3(key string) {
	tc.l3Mu.Lock()
	delete(tc.l3Index, key)
	tc.l3Mu.Unlock()
}

// l3Keys merges the local index with the store's own listing when available.
func (tc *TieredCache) l3Keys(ctx context.Context) []string {
	tc.l3Mu.Lock()
	seen := make(map[string]struct{}, len(tc.l3Index))
	keys := make([]string, 0, len(tc.l3Index))
	for k := range tc.l3Index {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	tc.l3Mu.Unlock()

	lister, ok := tc.l3.(storage.Lister)
	if !ok {
		return keys
	}
	ctx, cancel := tc.l3Context(ctx)
	defer cancel()
	listed, err := lister.Keys(ctx)
	if err != nil {
		tc.absorb("Keys: L3 listing failed", "*", err)
		return keys
	}
	for _, k := range listed {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func (tc *TieredCache) l3Context(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tc.options.ContextTimeout > 0 {
		return context.WithTimeout(ctx, tc.options.ContextTimeout)
	}
	return context.WithCancel(ctx)
}

// absorb handles an L3 failure: it is logged and reported, never returned.
func (tc *TieredCache) absorb(msg, key string, err error) {
	atomic.AddInt64(&tc.m.L3Errors, 1)
	tc.stats.IncCounter(stats.MetricL3Errors, 1)
	if !errors.Is(err, storage.ErrPersistentStore) {
		err = fmt.Errorf("%w: %v", storage.ErrPersistentStore, err)
	}
	tc.report(err)
	tc.logger.Warn(msg, "key", key, "error", err)
}

func (tc *TieredCache) report(err error) {
	if tc.options.OnError != nil {
		tc.options.OnError(err)
	}
}

func (tc *TieredCache) tierEvictions() int64 {
	return tc.l1.Metrics().Evictions + tc.l2.Metrics().Evictions
}

func (tc *TieredCache) recordInvalidation(d time.Duration) {
	tc.metricsMu.Lock()
	defer tc.metricsMu.Unlock()
	tc.invalidations = append(tc.invalidations, d)
	if len(tc.invalidations) > invalidationSamples {
		tc.invalidations = tc.invalidations[len(tc.invalidations)-invalidationSamples:]
	}
}
