package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a BytesCache on a shared redis client.
type RedisCache struct {
	cli    redis.UniversalClient
	prefix string
}

var _ BytesCache = (*RedisCache)(nil)

func NewRedisCache(cli redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{cli: cli, prefix: prefix}
}

func (r *RedisCache) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.cli.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.cli.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	return r.cli.Del(ctx, r.key(key)).Err()
}
