package actioncache

import (
	"errors"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/cluster"
	"github.com/huykn/actioncache/storage"
	"github.com/huykn/actioncache/transport"
	"github.com/huykn/actioncache/warming"
)

// ErrInvalidConfig is returned when the node configuration is invalid.
var ErrInvalidConfig = errors.New("invalid node configuration")

// ErrNodeClosed is returned when operations are performed on a closed node.
var ErrNodeClosed = errors.New("node is closed")

// ErrNoExecutor is returned by Warm when no warming executor was configured.
var ErrNoExecutor = errors.New("no warming executor configured")

// ErrSerializationFailed is returned when an action result cannot be encoded.
var ErrSerializationFailed = errors.New("serialization failed")

// ErrDeserializationFailed is returned when a cached result cannot be decoded.
var ErrDeserializationFailed = errors.New("deserialization failed")

// Errors of the underlying components, re-exported for errors.Is checks.
var (
	ErrInvalidKey        = transport.ErrInvalidKey
	ErrInvalidEndpoint   = transport.ErrInvalidEndpoint
	ErrTimeout           = transport.ErrTimeout
	ErrConnection        = transport.ErrConnection
	ErrConnectionClosed  = transport.ErrConnectionClosed
	ErrQuorumNotMet      = cluster.ErrQuorumNotMet
	ErrReplicationFailed = cluster.ErrReplicationFailed
	ErrNotFound          = storage.ErrNotFound
	ErrPersistentStore   = storage.ErrPersistentStore
	ErrWarmingTimeout    = warming.ErrTimeout
	ErrCacheClosed       = cache.ErrCacheClosed
)

// RemoteError is an error reported by a peer.
type RemoteError = transport.RemoteError
