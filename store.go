package actioncache

import (
	"context"
	"fmt"

	"github.com/huykn/actioncache/storage"
)

// openStore creates the configured L3 backend.
func openStore(ctx context.Context, cfg PersistentConfig) (storage.PersistentStore, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return storage.NewMemoryStore(), nil
	case BackendDisk:
		return storage.NewDiskStore(cfg.Dir)
	case BackendRedis:
		return storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Prefix)
	case BackendS3:
		opts := []storage.S3Option{storage.WithS3Prefix(cfg.Prefix)}
		if cfg.Region != "" {
			opts = append(opts, storage.WithS3Region(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, storage.WithS3Endpoint(cfg.Endpoint))
		}
		return storage.NewS3Store(ctx, cfg.Bucket, opts...)
	case BackendGCS:
		return storage.NewGCSStore(ctx, cfg.Bucket, storage.WithGCSPrefix(cfg.Prefix))
	default:
		return nil, fmt.Errorf("%w: unknown persistent backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
