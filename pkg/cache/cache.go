package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	ErrNotHeld   = errors.New("cache: lock not held")
)

// Service is the key-value surface the pipeline needs: JSON values with a
// TTL plus an expiring mutual-exclusion lock.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	// TryLock acquires key for ttl and returns false when someone else holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock releases a lock acquired through this instance.
	Unlock(ctx context.Context, key string) error
}
