package cache

import (
	"testing"
)

func TestLRUCacheNew(t *testing.T) {
	cache, err := NewLRUCache(100)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	if cache.Capacity() != 100 {
		t.Fatalf("Expected capacity 100, got %d", cache.Capacity())
	}
}

func TestLRUCacheNewWithInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := NewLRUCache(size); err == nil {
			t.Fatalf("Expected error when creating cache with size %d", size)
		}
	}
}

func TestLRUCacheGetRefreshesRecency(t *testing.T) {
	cache, err := NewLRUCache(2)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	cache.Set("a", 1, 1, 0)
	cache.Set("b", 2, 1, 0)
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("Expected a to be present")
	}
	cache.Set("c", 3, 1, 0)

	if _, ok := cache.Get("b"); ok {
		t.Fatal("Expected b to be evicted as least recently used")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("Expected a to survive")
	}

	m := cache.Metrics()
	if m.Evictions != 1 {
		t.Fatalf("Expected 1 eviction, got %d", m.Evictions)
	}
	if m.Hits != 2 || m.Misses != 1 {
		t.Fatalf("Expected 2 hits and 1 miss, got %+v", m)
	}
	if m.Size != 2 {
		t.Fatalf("Expected size 2, got %d", m.Size)
	}
}

func TestLRUCacheDeleteAndClear(t *testing.T) {
	cache, err := NewLRUCache(10)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	cache.Set("a", 1, 1, 0)
	cache.Set("b", 2, 1, 0)
	cache.Delete("a")
	if keys := cache.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("Expected only b, got %v", keys)
	}

	cache.Clear()
	if len(cache.Keys()) != 0 {
		t.Fatal("Expected empty cache after clear")
	}
	if cache.Metrics().Evictions != 0 {
		t.Fatal("Delete and clear should not count as evictions")
	}
}

func TestLRUCacheFactory(t *testing.T) {
	lc, err := NewLRUCacheFactory(5).Create()
	if err != nil {
		t.Fatalf("Failed to create cache from factory: %v", err)
	}
	defer lc.Close()

	if _, ok := lc.(*LRUCache); !ok {
		t.Fatalf("Expected *LRUCache, got %T", lc)
	}
}
