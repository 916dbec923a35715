package storage

import (
	"context"
	"sync"
)

// Compile-time checks that MemoryStore implements the store interfaces.
var (
	_ PersistentStore = (*MemoryStore)(nil)
	_ Lister          = (*MemoryStore)(nil)
)

// MemoryStore keeps L3 data in process memory. It is the default backend.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Store saves a copy of data.
func (ms *MemoryStore) Store(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data[key] = append([]byte(nil), data...)
	return nil
}

// Retrieve returns a copy of the stored data.
func (ms *MemoryStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	data, ok := ms.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Remove deletes key.
func (ms *MemoryStore) Remove(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.data, key)
	return nil
}

// Clear removes all keys.
func (ms *MemoryStore) Clear(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data = make(map[string][]byte)
	return nil
}

// Keys lists the stored keys.
func (ms *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	keys := make([]string, 0, len(ms.data))
	for k := range ms.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close is a no-op.
func (ms *MemoryStore) Close() error {
	return nil
}
