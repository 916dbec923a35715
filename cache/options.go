package cache

import (
	"time"

	"github.com/huykn/actioncache/codec"
	"github.com/huykn/actioncache/stats"
	"github.com/huykn/actioncache/storage"
)

// LargePayloadThreshold is the payload size above which entries go straight to L3.
const LargePayloadThreshold = 100 * 1024

// LocalCacheConfig configures the in-process tiers.
type LocalCacheConfig struct {
	// NumCounters is the number of frequency counters (Ristretto only).
	// Recommended: 10 * MaxCost when every entry costs 1.
	NumCounters int64

	// MaxCost is the maximum total cost (Ristretto only). Entries cost 1,
	// so this is the L2 entry capacity.
	MaxCost int64

	// BufferItems is the number of keys per Get buffer (Ristretto only).
	// Recommended: 64
	BufferItems int64

	// IgnoreInternalCost stops Ristretto adding its own bookkeeping to each
	// entry's cost (Ristretto only).
	IgnoreInternalCost bool

	// MaxSize is the maximum number of entries (LRU only).
	MaxSize int
}

// Options configures a TieredCache instance.
type Options struct {
	// L1MaxSize is the entry capacity of the LRU tier.
	L1MaxSize int

	// L2MaxSize is the entry capacity of the compressed tier.
	L2MaxSize int

	// DefaultTTL is the base lifetime before action/object multipliers.
	DefaultTTL time.Duration

	// L1Factory creates the L1 tier. If nil, an LRU of L1MaxSize is used.
	L1Factory LocalCacheFactory

	// L2Factory creates the L2 tier. If nil, Ristretto sized by L2MaxSize is used.
	L2Factory LocalCacheFactory

	// Persistent is the L3 backend. If nil, an in-memory store is used.
	Persistent storage.PersistentStore

	// Codec compresses L2 values. If nil, zstd is used.
	Codec codec.Codec

	// Marshaller serializes entries and results.
	// If nil, defaults to JSON marshaller.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout bounds L3 calls made without a caller context.
	ContextTimeout time.Duration

	// Stats receives counters. If nil, metrics are only kept in Metrics().
	Stats stats.Collector

	// OnError is called when an error is absorbed (e.g., an L3 failure).
	OnError func(error)

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// DefaultOptions returns default cache options.
func DefaultOptions() Options {
	return Options{
		L1MaxSize:      100,
		L2MaxSize:      1000,
		DefaultTTL:     time.Hour,
		ContextTimeout: 5 * time.Second,
		DebugMode:      false,
	}
}

// DefaultLocalCacheConfig returns the L2 configuration for the default capacity.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return L2Config(1000)
}

// L2Config returns a Ristretto configuration holding up to maxEntries entries.
func L2Config(maxEntries int) LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        int64(maxEntries) * 10,
		MaxCost:            int64(maxEntries),
		BufferItems:        64,
		IgnoreInternalCost: true,
		MaxSize:            maxEntries,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.L1MaxSize <= 0 && o.L1Factory == nil {
		return ErrInvalidConfig
	}
	if o.L2MaxSize <= 0 && o.L2Factory == nil {
		return ErrInvalidConfig
	}
	if o.DefaultTTL <= 0 {
		return ErrInvalidConfig
	}
	if o.ContextTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = NewError("invalid cache configuration")

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = NewError("cache is closed")

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return &cacheError{msg: msg}
}

type cacheError struct {
	msg string
}

func (e *cacheError) Error() string {
	return e.msg
}
