package cache

import (
	"context"
	"time"

	pkgcache "GridVol/pkg/cache"
)

// BytesCache stores pre-rendered response bodies with a TTL.
type BytesCache interface {
	GetBytes(ctx context.Context, key string) (b []byte, ok bool, err error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// LatestForecastKey is the response-cache key for a zone's latest forecast.
func LatestForecastKey(zone string) string {
	return pkgcache.GenerateKey("forecast", "latest", zone)
}
