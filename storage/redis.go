package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time checks that RedisStore implements the store interfaces.
var (
	_ PersistentStore = (*RedisStore)(nil)
	_ Lister          = (*RedisStore)(nil)
)

// DefaultRedisPrefix namespaces L3 keys in a shared Redis database.
const DefaultRedisPrefix = "actioncache:l3:"

// RedisStore implements PersistentStore using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
// An empty prefix selects DefaultRedisPrefix.
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrPersistentStore, addr, err)
	}

	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Store writes data under the prefixed key.
func (rs *RedisStore) Store(ctx context.Context, key string, data []byte) error {
	return rs.client.Set(ctx, rs.prefix+key, data, 0).Err()
}

// Retrieve reads the prefixed key.
func (rs *RedisStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	val, err := rs.client.Get(ctx, rs.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Remove deletes the prefixed key.
func (rs *RedisStore) Remove(ctx context.Context, key string) error {
	return rs.client.Del(ctx, rs.prefix+key).Err()
}

// Clear deletes every key under the prefix. Other data in the database is kept.
func (rs *RedisStore) Clear(ctx context.Context) error {
	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := rs.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return rs.client.Del(ctx, batch...).Err()
	}
	return nil
}

// Keys lists stored keys with the prefix stripped.
func (rs *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(rs.prefix):])
	}
	return keys, iter.Err()
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// Client returns the underlying Redis client so the invalidation relay can share it.
func (rs *RedisStore) Client() *redis.Client {
	return rs.client
}
