package actioncache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huykn/actioncache/cluster"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"missing node id", func(c *Config) { c.NodeID = "" }},
		{"zero l1", func(c *Config) { c.L1MaxSize = 0 }},
		{"zero ttl", func(c *Config) { c.DefaultTTL = 0 }},
		{"bad consistency", func(c *Config) { c.ConsistencyLevel = "linearizable" }},
		{"disk without dir", func(c *Config) { c.Persistent.Backend = BackendDisk }},
		{"redis without addr", func(c *Config) { c.Persistent.Backend = BackendRedis }},
		{"s3 without bucket", func(c *Config) { c.Persistent.Backend = BackendS3 }},
		{"unknown backend", func(c *Config) { c.Persistent.Backend = "tape" }},
		{"zero timer resolution", func(c *Config) { c.Invalidation.TimerResolution = 0 }},
		{"sync without channel", func(c *Config) {
			c.Sync.Enabled = true
			c.Sync.Channel = ""
		}},
		{"bad warming", func(c *Config) { c.Warming.MaxConcurrentWarming = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Expected validation error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	data := `
node_id: node-7
listen_addr: 127.0.0.1:0
cluster_endpoints:
  - 10.0.0.1:7946
replication_factor: 2
consistency_level: quorum
default_ttl: 10m
persistent:
  backend: disk
  dir: /var/lib/actioncache
warming:
  max_concurrent_warming: 3
invalidation:
  default_rules: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.NodeID != "node-7" || cfg.ReplicationFactor != 2 || cfg.ConsistencyLevel != cluster.Quorum {
		t.Fatalf("Unexpected cluster settings: %+v", cfg)
	}
	if cfg.DefaultTTL != 10*time.Minute {
		t.Errorf("Expected default ttl 10m, got %v", cfg.DefaultTTL)
	}
	if cfg.Persistent.Backend != BackendDisk || cfg.Persistent.Dir != "/var/lib/actioncache" {
		t.Errorf("Unexpected persistent config: %+v", cfg.Persistent)
	}
	if cfg.Warming.MaxConcurrentWarming != 3 {
		t.Errorf("Expected 3 concurrent warmers, got %d", cfg.Warming.MaxConcurrentWarming)
	}
	// unset keys keep their defaults
	if cfg.L1MaxSize != DefaultConfig().L1MaxSize || cfg.Warming.WarmingBatchSize != DefaultConfig().Warming.WarmingBatchSize {
		t.Errorf("Expected defaults for unset keys, got %+v", cfg)
	}
	if !cfg.Invalidation.DefaultRules {
		t.Error("Expected default rules enabled")
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte("node_id: a\nreplication: 3\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("Expected unknown key to be rejected")
	}
}

func TestLoadConfigValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte("replication_factor: 0\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, cluster.ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
}
