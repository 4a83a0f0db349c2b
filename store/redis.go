package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is a Store backed by a Redis server. Useful when several processes
// on one machine share a single license activation.
type Redis struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis creates a Redis-backed store. All keys are stored under prefix
// to keep license state separated from other users of the same server.
func NewRedis(client *redis.Client, prefix string, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys %q: %w", prefix, err)
	}
	return keys, nil
}
