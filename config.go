package actioncache

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/cluster"
	"github.com/huykn/actioncache/invalidation"
	"github.com/huykn/actioncache/warming"
)

// Persistent backends.
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendRedis  = "redis"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
)

// PersistentConfig selects and configures the L3 backend.
type PersistentConfig struct {
	// Backend is one of memory, disk, redis, s3 or gcs.
	Backend string `yaml:"backend"`

	// Dir is the root directory of the disk backend.
	Dir string `yaml:"dir"`

	// RedisAddr, RedisPassword and RedisDB configure the redis backend.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Bucket, Region and Endpoint configure the s3 and gcs backends.
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	// Prefix namespaces keys in shared backends.
	Prefix string `yaml:"prefix"`
}

// InvalidationConfig configures the invalidation engine.
type InvalidationConfig struct {
	// DefaultRules installs the stock rule set.
	DefaultRules bool `yaml:"default_rules"`

	// HistorySize bounds the event history.
	HistorySize int `yaml:"history_size"`

	// TimerResolution is how often time rules are checked.
	TimerResolution time.Duration `yaml:"timer_resolution"`

	// MonitorInterval is how often memory and error-rate thresholds are
	// measured and reported. Zero disables the monitor.
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

// SyncConfig configures the Redis Pub/Sub invalidation relay.
type SyncConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Channel       string `yaml:"channel"`
}

// Config configures a cache node.
type Config struct {
	// NodeID is the unique identifier of this node in the cluster.
	NodeID string `yaml:"node_id"`

	// ListenAddr is the TCP address peers connect to.
	ListenAddr string `yaml:"listen_addr"`

	// AdvertiseAddr is the address announced to peers. Defaults to the
	// bound listen address.
	AdvertiseAddr string `yaml:"advertise_addr"`

	// ClusterEndpoints are the seed nodes contacted on start.
	ClusterEndpoints []string `yaml:"cluster_endpoints"`

	ReplicationFactor   int                       `yaml:"replication_factor"`
	ConsistencyLevel    cluster.ConsistencyLevel  `yaml:"consistency_level"`
	QuorumSize          int                       `yaml:"quorum_size"`
	PartitionStrategy   cluster.PartitionStrategy `yaml:"partition_strategy"`
	SyncInterval        time.Duration             `yaml:"sync_interval"`
	HeartbeatInterval   time.Duration             `yaml:"heartbeat_interval"`
	FailoverTimeout     time.Duration             `yaml:"failover_timeout"`
	VirtualNodesPerNode int                       `yaml:"virtual_nodes_per_node"`
	RPCTimeout          time.Duration             `yaml:"rpc_timeout"`
	ReadThroughTTL      time.Duration             `yaml:"read_through_ttl"`

	// L1MaxSize and L2MaxSize are the entry capacities of the local tiers.
	L1MaxSize int `yaml:"l1_max_size"`
	L2MaxSize int `yaml:"l2_max_size"`

	// DefaultTTL is the base lifetime before action and object multipliers.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	Persistent   PersistentConfig   `yaml:"persistent"`
	Warming      warming.Config     `yaml:"warming"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Sync         SyncConfig         `yaml:"sync"`

	// LogLevel is used when Logger is nil: debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// MetricsAddr, if set, is where the CLI serves Prometheus metrics.
	MetricsAddr string `yaml:"metrics_addr"`

	// DebugMode enables debug logging.
	DebugMode bool `yaml:"debug_mode"`

	// ContextTimeout bounds L3 calls made without a caller deadline.
	ContextTimeout time.Duration `yaml:"context_timeout"`

	// Marshaller serializes action results.
	// If nil, defaults to JSON marshaller.
	Marshaller Marshaller `yaml:"-"`

	// Logger is the logger for all components.
	// If nil, a zap logger at LogLevel is used.
	Logger Logger `yaml:"-"`

	// OnError is called when an error occurs in background operations.
	OnError func(error) `yaml:"-"`
}

// DefaultConfig returns a single-node configuration listening on :7946.
func DefaultConfig() Config {
	cc := cluster.DefaultConfig()
	co := cache.DefaultOptions()
	return Config{
		NodeID:              "node-1",
		ListenAddr:          ":7946",
		ReplicationFactor:   cc.ReplicationFactor,
		ConsistencyLevel:    cc.ConsistencyLevel,
		PartitionStrategy:   cc.PartitionStrategy,
		SyncInterval:        cc.SyncInterval,
		HeartbeatInterval:   cc.HeartbeatInterval,
		FailoverTimeout:     cc.FailoverTimeout,
		VirtualNodesPerNode: cc.VirtualNodesPerNode,
		RPCTimeout:          cc.RPCTimeout,
		ReadThroughTTL:      cc.ReadThroughTTL,
		L1MaxSize:           co.L1MaxSize,
		L2MaxSize:           co.L2MaxSize,
		DefaultTTL:          co.DefaultTTL,
		Persistent:          PersistentConfig{Backend: BackendMemory},
		Warming:             warming.DefaultConfig(),
		Invalidation: InvalidationConfig{
			HistorySize:     invalidation.DefaultHistorySize,
			TimerResolution: time.Minute,
			MonitorInterval: 30 * time.Second,
		},
		Sync: SyncConfig{
			RedisAddr: "localhost:6379",
			Channel:   "actioncache:invalidate",
		},
		LogLevel:       "info",
		ContextTimeout: co.ContextTimeout,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ClusterConfig returns the coordinator settings.
func (c Config) ClusterConfig() cluster.Config {
	return cluster.Config{
		NodeID:              c.NodeID,
		AdvertiseAddr:       c.AdvertiseAddr,
		ClusterEndpoints:    c.ClusterEndpoints,
		ReplicationFactor:   c.ReplicationFactor,
		ConsistencyLevel:    c.ConsistencyLevel,
		QuorumSize:          c.QuorumSize,
		PartitionStrategy:   c.PartitionStrategy,
		SyncInterval:        c.SyncInterval,
		HeartbeatInterval:   c.HeartbeatInterval,
		FailoverTimeout:     c.FailoverTimeout,
		VirtualNodesPerNode: c.VirtualNodesPerNode,
		RPCTimeout:          c.RPCTimeout,
		ReadThroughTTL:      c.ReadThroughTTL,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}
	if c.L1MaxSize <= 0 || c.L2MaxSize <= 0 || c.DefaultTTL <= 0 {
		return fmt.Errorf("%w: tier sizes and default ttl must be positive", ErrInvalidConfig)
	}
	cc := c.ClusterConfig()
	if err := cc.Validate(); err != nil {
		return err
	}
	if err := c.Warming.Validate(); err != nil {
		return err
	}
	if c.Invalidation.TimerResolution <= 0 {
		return fmt.Errorf("%w: invalidation timer resolution must be positive", ErrInvalidConfig)
	}
	if c.Invalidation.MonitorInterval < 0 {
		return fmt.Errorf("%w: monitor interval must not be negative", ErrInvalidConfig)
	}

	switch c.Persistent.Backend {
	case "", BackendMemory:
	case BackendDisk:
		if c.Persistent.Dir == "" {
			return fmt.Errorf("%w: disk backend needs a dir", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.Persistent.RedisAddr == "" {
			return fmt.Errorf("%w: redis backend needs redis_addr", ErrInvalidConfig)
		}
	case BackendS3, BackendGCS:
		if c.Persistent.Bucket == "" {
			return fmt.Errorf("%w: %s backend needs a bucket", ErrInvalidConfig, c.Persistent.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown persistent backend %q", ErrInvalidConfig, c.Persistent.Backend)
	}

	if c.Sync.Enabled && (c.Sync.RedisAddr == "" || c.Sync.Channel == "") {
		return fmt.Errorf("%w: sync needs redis_addr and channel", ErrInvalidConfig)
	}
	return nil
}
