package cache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/huykn/actioncache/storage"
	"github.com/huykn/actioncache/types"
)

func newTestCache(t *testing.T, configure func(*Options)) *TieredCache {
	t.Helper()
	opts := DefaultOptions()
	if configure != nil {
		configure(&opts)
	}
	tc, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(func() { tc.Close() })
	return tc
}

func testAction(action types.ActionType, object types.ObjectType, id string) types.ObjectAction {
	return types.NewObjectAction(action, object, id, types.ActionContext{UserID: "u1", SessionID: "s1"})
}

func keyOf(a types.ObjectAction) string {
	return types.NewCacheKey(a).String()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSetThenGetLandsInSelectedTier(t *testing.T) {
	tc := newTestCache(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		data []byte
		opts SetOptions
		tier Tier
	}{
		{"read goes to L1", keyOf(testAction(types.ActionRead, types.ObjectVendor, "v1")), []byte("r"), SetOptions{}, TierL1},
		{"generate goes to L2", keyOf(testAction(types.ActionGenerate, types.ObjectVendor, "v2")), []byte("g"), SetOptions{}, TierL2},
		{"failed goes to L3", keyOf(testAction(types.ActionGenerate, types.ObjectVendor, "v3")), []byte("f"), SetOptions{Failed: true}, TierL3},
		{"large goes to L3", keyOf(testAction(types.ActionRead, types.ObjectVendor, "v4")), bytes.Repeat([]byte("x"), LargePayloadThreshold+1), SetOptions{}, TierL3},
		{"critical goes to L1", keyOf(testAction(types.ActionGenerate, types.ObjectVendor, "v5")), []byte("c"), SetOptions{Priority: types.PriorityCritical, Failed: true}, TierL1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tc.SetEntry(ctx, tt.key, tt.data, tt.opts); err != nil {
				t.Fatalf("Failed to set entry: %v", err)
			}
			entry, ok := tc.GetEntry(ctx, tt.key)
			if !ok {
				t.Fatal("Expected hit after set")
			}
			if entry.Tier != tt.tier {
				t.Fatalf("Expected hit from %s, got %s", tt.tier, entry.Tier)
			}
			if !bytes.Equal(entry.Payload, tt.data) {
				t.Fatal("Payload mismatch")
			}
		})
	}
}

func TestGetPromotesToFasterTiers(t *testing.T) {
	tc := newTestCache(t, nil)
	ctx := context.Background()
	key := keyOf(testAction(types.ActionAnalyze, types.ObjectRequirement, "r1"))

	if err := tc.SetEntry(ctx, key, []byte("payload"), SetOptions{Failed: true}); err != nil {
		t.Fatalf("Failed to set entry: %v", err)
	}

	first, ok := tc.GetEntry(ctx, key)
	if !ok || first.Tier != TierL3 {
		t.Fatalf("Expected first hit from L3, got %+v", first)
	}
	second, ok := tc.GetEntry(ctx, key)
	if !ok || second.Tier != TierL1 {
		t.Fatalf("Expected promoted hit from L1, got %+v", second)
	}
	if second.AccessCount != 2 {
		t.Fatalf("Expected access count 2, got %d", second.AccessCount)
	}

	m := tc.Metrics()
	if m.L3Hits != 1 || m.L1Hits != 1 || m.TotalRequests != 2 {
		t.Fatalf("Unexpected metrics %+v", m)
	}

	tc.l1.Delete(key)
	third, ok := tc.GetEntry(ctx, key)
	if !ok || third.Tier != TierL2 {
		t.Fatalf("Expected L2 copy after promotion, got %+v", third)
	}
}

func TestEntryExpiresAtTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tc := newTestCache(t, func(o *Options) { o.Now = clock.Now })
	ctx := context.Background()

	key := keyOf(testAction(types.ActionRead, types.ObjectVendor, "v1"))
	if err := tc.SetEntry(ctx, key, []byte("v"), SetOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Failed to set entry: %v", err)
	}

	clock.Advance(time.Minute - time.Nanosecond)
	if _, ok := tc.GetEntry(ctx, key); !ok {
		t.Fatal("Expected hit just before TTL")
	}

	clock.Advance(time.Nanosecond)
	if _, ok := tc.GetEntry(ctx, key); ok {
		t.Fatal("Expected miss at TTL")
	}
}

func TestExpiredL3EntryIsRemoved(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := storage.NewMemoryStore()
	tc := newTestCache(t, func(o *Options) {
		o.Now = clock.Now
		o.Persistent = store
	})
	ctx := context.Background()

	key := keyOf(testAction(types.ActionRead, types.ObjectVendor, "v1"))
	tc.SetEntry(ctx, key, []byte("v"), SetOptions{TTL: time.Second, Failed: true})

	clock.Advance(2 * time.Second)
	if _, ok := tc.GetEntry(ctx, key); ok {
		t.Fatal("Expected expired entry to miss")
	}
	if _, err := store.Retrieve(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected expired entry removed from L3, got %v", err)
	}
}

func TestL1EvictsLeastRecentlyUsed(t *testing.T) {
	tc := newTestCache(t, func(o *Options) { o.L1MaxSize = 2 })
	ctx := context.Background()

	k1 := keyOf(testAction(types.ActionRead, types.ObjectVendor, "k1"))
	k2 := keyOf(testAction(types.ActionRead, types.ObjectVendor, "k2"))
	k3 := keyOf(testAction(types.ActionRead, types.ObjectVendor, "k3"))
	for _, k := range []string{k1, k2, k3} {
		if err := tc.SetEntry(ctx, k, []byte(k), SetOptions{}); err != nil {
			t.Fatalf("Failed to set entry: %v", err)
		}
	}

	if _, ok := tc.GetEntry(ctx, k1); ok {
		t.Fatal("Expected k1 to be evicted")
	}
	if _, ok := tc.GetEntry(ctx, k2); !ok {
		t.Fatal("Expected k2 to hit")
	}
	if _, ok := tc.GetEntry(ctx, k3); !ok {
		t.Fatal("Expected k3 to hit")
	}
	if ev := tc.Metrics().Evictions; ev != 1 {
		t.Fatalf("Expected 1 eviction, got %d", ev)
	}
}

func TestPolicyTTLMultipliers(t *testing.T) {
	tc := newTestCache(t, func(o *Options) { o.DefaultTTL = 40 * time.Minute })
	ctx := context.Background()

	read := testAction(types.ActionRead, types.ObjectVendor, "v1")
	generate := testAction(types.ActionGenerate, types.ObjectVendor, "v1")
	tc.SetEntry(ctx, keyOf(read), []byte("r"), SetOptions{})
	tc.SetEntry(ctx, keyOf(generate), []byte("g"), SetOptions{})

	r, _ := tc.Peek(ctx, keyOf(read))
	g, _ := tc.Peek(ctx, keyOf(generate))
	if r.TTL != 80*time.Minute {
		t.Fatalf("Expected read TTL 80m, got %v", r.TTL)
	}
	if g.TTL != 20*time.Minute {
		t.Fatalf("Expected generate TTL 20m, got %v", g.TTL)
	}
}

func TestInvalidateRemovesOnlyMatches(t *testing.T) {
	tc := newTestCache(t, nil)
	ctx := context.Background()

	matching := []string{
		keyOf(testAction(types.ActionRead, types.ObjectDocument, "doc-1")),
		keyOf(testAction(types.ActionGenerate, types.ObjectDocument, "doc-2")),
		keyOf(testAction(types.ActionValidate, types.ObjectDocument, "doc-3")),
	}
	others := []string{
		keyOf(testAction(types.ActionRead, types.ObjectVendor, "v-1")),
		keyOf(testAction(types.ActionGenerate, types.ObjectVendor, "v-2")),
	}

	tc.SetEntry(ctx, matching[0], []byte("a"), SetOptions{})
	tc.SetEntry(ctx, matching[1], []byte("b"), SetOptions{})
	tc.SetEntry(ctx, matching[2], []byte("c"), SetOptions{Failed: true})
	tc.SetEntry(ctx, others[0], []byte("d"), SetOptions{})
	tc.SetEntry(ctx, others[1], []byte("e"), SetOptions{Failed: true})

	// Put copies of one key in every tier.
	tc.GetEntry(ctx, matching[2])

	n := tc.Invalidate(ctx, func(k types.CacheKey) bool {
		return k.ObjectType == types.ObjectDocument
	})
	if n != len(matching) {
		t.Fatalf("Expected %d invalidated, got %d", len(matching), n)
	}
	for _, k := range matching {
		if _, ok := tc.GetEntry(ctx, k); ok {
			t.Fatalf("Expected %s to be invalidated", k)
		}
	}
	for _, k := range others {
		if _, ok := tc.GetEntry(ctx, k); !ok {
			t.Fatalf("Expected %s to survive", k)
		}
	}
	if got := tc.Metrics().TotalInvalidations; got != int64(len(matching)) {
		t.Fatalf("Expected %d invalidations recorded, got %d", len(matching), got)
	}
}

func TestSetReplacesCopyInOtherTier(t *testing.T) {
	tc := newTestCache(t, nil)
	ctx := context.Background()
	key := keyOf(testAction(types.ActionGenerate, types.ObjectVendor, "v1"))

	tc.SetEntry(ctx, key, []byte("old"), SetOptions{Priority: types.PriorityHigh})
	tc.SetEntry(ctx, key, []byte("new"), SetOptions{Failed: true})

	entry, ok := tc.GetEntry(ctx, key)
	if !ok || string(entry.Payload) != "new" {
		t.Fatalf("Expected latest value, got %+v", entry)
	}
}

func TestClearPreservesRequestCount(t *testing.T) {
	tc := newTestCache(t, nil)
	ctx := context.Background()
	key := keyOf(testAction(types.ActionRead, types.ObjectVendor, "v1"))

	tc.SetEntry(ctx, key, []byte("v"), SetOptions{})
	tc.GetEntry(ctx, key)
	tc.GetEntry(ctx, "missing")

	if err := tc.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	if _, ok := tc.GetEntry(ctx, key); ok {
		t.Fatal("Expected miss after clear")
	}

	m := tc.Metrics()
	if m.TotalRequests != 3 {
		t.Fatalf("Expected 3 lifetime requests, got %d", m.TotalRequests)
	}
	if m.L1Hits != 0 || m.L1Misses != 1 {
		t.Fatalf("Expected counters reset before last get, got %+v", m)
	}
	if m.TotalClears != 1 || m.LastClear.IsZero() {
		t.Fatalf("Expected one recorded clear, got %+v", m)
	}
	if len(tc.Keys(ctx)) != 0 {
		t.Fatal("Expected no keys after clear")
	}
}

type failingStore struct{}

func (failingStore) Store(context.Context, string, []byte) error { return errors.New("disk full") }
func (failingStore) Retrieve(context.Context, string) ([]byte, error) {
	return nil, errors.New("io error")
}
func (failingStore) Remove(context.Context, string) error { return errors.New("io error") }
func (failingStore) Clear(context.Context) error          { return errors.New("io error") }
func (failingStore) Close() error                         { return nil }

func TestL3ErrorsAreAbsorbed(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	tc := newTestCache(t, func(o *Options) {
		o.Persistent = failingStore{}
		o.OnError = func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		}
	})
	ctx := context.Background()
	key := keyOf(testAction(types.ActionGenerate, types.ObjectVendor, "v1"))

	if err := tc.SetEntry(ctx, key, []byte("v"), SetOptions{Failed: true}); err != nil {
		t.Fatalf("L3 failure should not surface: %v", err)
	}
	if _, ok := tc.GetEntry(ctx, key); ok {
		t.Fatal("Expected miss when L3 is failing")
	}
	if err := tc.Clear(ctx); err != nil {
		t.Fatalf("L3 failure should not surface on clear: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) == 0 {
		t.Fatal("Expected errors to be reported")
	}
	for _, err := range reported {
		if !errors.Is(err, storage.ErrPersistentStore) {
			t.Fatalf("Expected ErrPersistentStore, got %v", err)
		}
	}
}

func TestActionResultRoundTrip(t *testing.T) {
	tc := newTestCache(t, nil)
	ctx := context.Background()

	action := testAction(types.ActionGenerate, types.ObjectDocument, "doc-1")
	action.Parameters = map[string]any{"format": "pdf"}
	result := types.ActionResult{
		ActionID:   action.ID,
		Status:     types.StatusCompleted,
		OutputType: "document",
		Output:     []byte("%PDF-1.7"),
	}

	if err := tc.Set(ctx, action, result, 0); err != nil {
		t.Fatalf("Failed to set result: %v", err)
	}
	if !tc.Contains(ctx, action) {
		t.Fatal("Expected Contains to report the result")
	}

	// A new action with the same inputs shares the key.
	again := testAction(types.ActionGenerate, types.ObjectDocument, "doc-1")
	again.Parameters = map[string]any{"format": "pdf"}
	got, ok := tc.Get(ctx, again)
	if !ok {
		t.Fatal("Expected cached result")
	}
	if got.Status != types.StatusCompleted || string(got.Output) != "%PDF-1.7" {
		t.Fatalf("Unexpected result %+v", got)
	}
}

func TestL2CompressesValues(t *testing.T) {
	tc := newTestCache(t, nil)
	ctx := context.Background()
	key := keyOf(testAction(types.ActionGenerate, types.ObjectVendor, "v1"))

	payload := []byte(strings.Repeat("generated section text ", 200))
	tc.SetEntry(ctx, key, payload, SetOptions{})

	m := tc.Metrics()
	if m.UncompressedBytes == 0 || m.CompressionRatio() >= 1 {
		t.Fatalf("Expected compression on L2, got %+v", m)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	tc := newTestCache(t, nil)
	if err := tc.SetEntry(context.Background(), "", []byte("v"), SetOptions{}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Expected ErrEmptyKey, got %v", err)
	}
}

func TestClosedCache(t *testing.T) {
	tc := newTestCache(t, nil)
	tc.Close()

	if err := tc.SetEntry(context.Background(), "k", []byte("v"), SetOptions{}); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("Expected ErrCacheClosed, got %v", err)
	}
	if _, ok := tc.GetEntry(context.Background(), "k"); ok {
		t.Fatal("Expected miss on closed cache")
	}
	if err := tc.Close(); err != nil {
		t.Fatalf("Second close should be a no-op: %v", err)
	}
}
