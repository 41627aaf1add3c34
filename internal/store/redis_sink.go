package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink is the reference "real" Sink (D7), backing the abstract
// put/get/scan contract with redis — grounded on
// pkg/cache/redis_cache.go's NewRedisCache/Get/Set/Close shape, upgraded
// from that package's go-redis/v8 to redis/go-redis/v9.
type RedisSink struct {
	client *redis.Client
}

// RedisConfig mirrors the connection fields the teacher's RedisConfig
// exposes (pkg/cache's RedisConfig), trimmed to what this sink needs.
type RedisConfig struct {
	Address  string
	Password string
	Database int
}

// NewRedisSink dials redis and verifies connectivity, following
// NewRedisCache's ping-on-construct pattern.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: failed to connect to redis: %w", err)
	}
	return &RedisSink{client: client}, nil
}

func (s *RedisSink) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("store: redis put %q: %w", key, err)
	}
	return nil
}

func (s *RedisSink) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: redis get %q: %w", key, err)
	}
	return v, true, nil
}

// Scan lists every key matching prefix+"*" via SCAN (not KEYS, to avoid
// blocking redis on a large keyspace) and fetches each value with MGET.
func (s *RedisSink) Scan(ctx context.Context, prefix string) ([]KV, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: redis scan %q: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis mget for scan %q: %w", prefix, err)
	}
	out := make([]KV, 0, len(keys))
	for i, key := range keys {
		if values[i] == nil {
			continue
		}
		str, ok := values[i].(string)
		if !ok {
			continue
		}
		out = append(out, KV{Key: key, Value: []byte(str)})
	}
	return out, nil
}

// Close releases the underlying redis connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
