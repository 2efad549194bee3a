package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.SetBytes(ctx, LatestForecastKey("NO1"), []byte(`{"zone":"NO1"}`), time.Minute))

	b, ok, err := c.GetBytes(ctx, LatestForecastKey("NO1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"zone":"NO1"}`, string(b))

	now = now.Add(2 * time.Minute)
	_, ok, err = c.GetBytes(ctx, LatestForecastKey("NO1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache()
	require.NoError(t, c.SetBytes(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Invalidate(ctx, "k"))
	_, ok, _ := c.GetBytes(ctx, "k")
	assert.False(t, ok)
}
