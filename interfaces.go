package actioncache

import (
	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/cluster"
	"github.com/huykn/actioncache/invalidation"
	"github.com/huykn/actioncache/types"
	"github.com/huykn/actioncache/warming"
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// ObjectAction is an alias for types.ObjectAction.
type ObjectAction = types.ObjectAction

// ActionResult is an alias for types.ActionResult.
type ActionResult = types.ActionResult

// CacheKey is an alias for types.CacheKey.
type CacheKey = types.CacheKey

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// Scope is an alias for invalidation.Scope.
type Scope = invalidation.Scope

// ClusterEvent is an alias for cluster.Event.
type ClusterEvent = cluster.Event

// Strategy is an alias for warming.Strategy.
type Strategy = warming.Strategy

// Executor is an alias for warming.Executor.
type Executor = warming.Executor

// DefaultLocalCacheConfig returns the default L2 configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}
