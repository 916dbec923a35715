package cache

import (
	"context"
	"time"

	"github.com/huykn/actioncache/types"
)

// Logger defines the interface for logging in the cache.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Marshaller defines the interface for entry and result serialization.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// LocalCache defines the interface for one in-process tier.
type LocalCache interface {
	// Get retrieves a value from the tier.
	Get(key string) (any, bool)

	// Set stores a value. A positive ttl lets the tier drop the value on its own.
	Set(key string, value any, cost int64, ttl time.Duration) bool

	// Delete removes a value from the tier.
	Delete(key string)

	// Keys returns the keys currently held.
	Keys() []string

	// Clear removes all values from the tier.
	Clear()

	// Close closes the tier.
	Close()

	// Metrics returns tier metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local tier metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local tier implementations.
type LocalCacheFactory interface {
	// Create creates a new local tier instance.
	Create() (LocalCache, error)
}

// Synchronizer relays invalidations between nodes.
type Synchronizer interface {
	// Subscribe starts listening for invalidation events.
	Subscribe(ctx context.Context) error

	// Publish publishes an invalidation event.
	Publish(ctx context.Context, event types.InvalidationEvent) error

	// OnInvalidate registers a callback for events sent by other nodes.
	OnInvalidate(callback func(ctx context.Context, event types.InvalidationEvent))

	// Close closes the synchronizer.
	Close() error
}

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// Tier identifies one of the three cache levels.
type Tier int

// Tiers, fastest first.
const (
	TierL1 Tier = iota + 1
	TierL2
	TierL3
)

func (t Tier) String() string {
	switch t {
	case TierL1:
		return "L1"
	case TierL2:
		return "L2"
	case TierL3:
		return "L3"
	default:
		return "unknown"
	}
}

// Entry is a cached payload with its lifetime bookkeeping.
type Entry struct {
	Key          string        `json:"key"`
	Payload      []byte        `json:"payload"`
	CreatedAt    time.Time     `json:"created_at"`
	TTL          time.Duration `json:"ttl"`
	Tier         Tier          `json:"tier"`
	AccessCount  int64         `json:"access_count"`
	LastAccessed time.Time     `json:"last_accessed"`
}

// Live reports whether the entry may still be served at now. An entry
// with ttl T is live strictly before T has elapsed.
func (e *Entry) Live(now time.Time) bool {
	return now.Sub(e.CreatedAt) < e.TTL
}

// Remaining returns the time left before the entry expires.
func (e *Entry) Remaining(now time.Time) time.Duration {
	return e.TTL - now.Sub(e.CreatedAt)
}

// SetOptions controls how a raw payload is stored.
type SetOptions struct {
	// TTL overrides the computed TTL when positive.
	TTL time.Duration
	// Priority routes critical/high payloads to L1.
	Priority types.Priority
	// Failed marks the payload as a failed result.
	Failed bool
}

// Metrics is a snapshot of tiered cache counters.
type Metrics struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
	L3Hits   int64
	L3Misses int64

	TotalRequests      int64
	Evictions          int64
	L3Errors           int64
	TotalInvalidations int64
	TotalClears        int64
	LastClear          time.Time

	UncompressedBytes int64
	CompressedBytes   int64

	// AverageInvalidation is the mean duration of the most recent invalidations.
	AverageInvalidation time.Duration
}

// Hits returns hits across all tiers.
func (m Metrics) Hits() int64 {
	return m.L1Hits + m.L2Hits + m.L3Hits
}

// HitRate returns the share of requests served by any tier.
func (m Metrics) HitRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.Hits()) / float64(m.TotalRequests)
}

// CompressionRatio returns compressed/uncompressed bytes written to L2.
func (m Metrics) CompressionRatio() float64 {
	if m.UncompressedBytes == 0 {
		return 1
	}
	return float64(m.CompressedBytes) / float64(m.UncompressedBytes)
}
