// Package storage provides persistent backends for the third cache tier.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Retrieve when a key is not stored.
var ErrNotFound = errors.New("key not found in persistent store")

// ErrPersistentStore wraps backend I/O failures. The tiered cache absorbs it.
var ErrPersistentStore = errors.New("persistent store failure")

// PersistentStore is the narrow interface the tiered cache uses for L3.
// Implementations must tolerate concurrent calls.
type PersistentStore interface {
	// Store writes data under key, replacing any previous value.
	Store(ctx context.Context, key string, data []byte) error

	// Retrieve returns the data stored under key, or ErrNotFound.
	Retrieve(ctx context.Context, key string) ([]byte, error)

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear removes every key owned by the store.
	Clear(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}
