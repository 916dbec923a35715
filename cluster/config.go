package cluster

import (
	"fmt"
	"time"

	"github.com/huykn/actioncache/transport"
)

// ConsistencyLevel controls how many replicas must acknowledge a write.
type ConsistencyLevel string

const (
	// Eventual writes the primary synchronously and replicates in the background.
	Eventual ConsistencyLevel = "eventual"
	// Strong waits for the primary and every replica.
	Strong ConsistencyLevel = "strong"
	// Quorum waits for a majority of the replica set, primary included.
	Quorum ConsistencyLevel = "quorum"
)

// PartitionStrategy selects how keys are assigned to nodes.
type PartitionStrategy string

// ConsistentHashing is the only supported partition strategy.
const ConsistentHashing PartitionStrategy = "consistent-hashing"

// Config holds coordinator settings.
type Config struct {
	// NodeID identifies this node in the ring. Required.
	NodeID string

	// AdvertiseAddr is the host:port peers dial to reach this node.
	AdvertiseAddr string

	// ClusterEndpoints are seed addresses contacted on Start.
	ClusterEndpoints []string

	// ReplicationFactor is the number of nodes, primary included, holding a key.
	ReplicationFactor int

	ConsistencyLevel  ConsistencyLevel
	PartitionStrategy PartitionStrategy

	// QuorumSize overrides the number of acknowledgements required under
	// Quorum. Zero means ceil(ReplicationFactor/2).
	QuorumSize int

	// SyncInterval is the period of the rebalancing task.
	SyncInterval time.Duration

	HeartbeatInterval time.Duration

	// FailoverTimeout is how long a peer may stay silent before it is
	// removed from the ring.
	FailoverTimeout time.Duration

	VirtualNodesPerNode int

	// RPCTimeout bounds each remote call.
	RPCTimeout time.Duration

	// ReadThroughTTL is the lifetime of remote values cached locally under Eventual.
	ReadThroughTTL time.Duration
}

// DefaultConfig returns a single-node configuration.
func DefaultConfig() Config {
	return Config{
		ReplicationFactor:   3,
		ConsistencyLevel:    Eventual,
		PartitionStrategy:   ConsistentHashing,
		SyncInterval:        30 * time.Second,
		HeartbeatInterval:   5 * time.Second,
		FailoverTimeout:     15 * time.Second,
		VirtualNodesPerNode: 150,
		RPCTimeout:          transport.DefaultTimeout,
		ReadThroughTTL:      5 * time.Minute,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("%w: node id is required", ErrInvalidConfig)
	}
	if c.ReplicationFactor < 1 {
		return fmt.Errorf("%w: replication factor must be at least 1", ErrInvalidConfig)
	}
	switch c.ConsistencyLevel {
	case Eventual, Strong, Quorum:
	default:
		return fmt.Errorf("%w: unknown consistency level %q", ErrInvalidConfig, c.ConsistencyLevel)
	}
	if c.PartitionStrategy != "" && c.PartitionStrategy != ConsistentHashing {
		return fmt.Errorf("%w: unsupported partition strategy %q", ErrInvalidConfig, c.PartitionStrategy)
	}
	if c.QuorumSize < 0 || c.QuorumSize > c.ReplicationFactor {
		return fmt.Errorf("%w: quorum size must be between 0 and the replication factor", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 || c.SyncInterval <= 0 || c.RPCTimeout <= 0 {
		return fmt.Errorf("%w: intervals and timeouts must be positive", ErrInvalidConfig)
	}
	if c.FailoverTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: failover timeout must exceed the heartbeat interval", ErrInvalidConfig)
	}
	if c.AdvertiseAddr != "" {
		if err := transport.ValidateEndpoint(c.AdvertiseAddr); err != nil {
			return err
		}
	}
	for _, ep := range c.ClusterEndpoints {
		if err := transport.ValidateEndpoint(ep); err != nil {
			return err
		}
	}
	return nil
}

// quorum returns the acknowledgements required out of a replica set of size n.
func (c *Config) quorum(n int) int {
	q := c.QuorumSize
	if q == 0 {
		q = (c.ReplicationFactor + 1) / 2
	}
	if q > n {
		q = n
	}
	return q
}
