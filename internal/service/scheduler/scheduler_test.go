package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddAndRunNow(t *testing.T) {
	s := New(Config{}, nil)

	var calls int
	var gotDeadline bool
	require.NoError(t, s.Add("daily-forecast", "5 0 * * *", func(ctx context.Context, at time.Time) error {
		calls++
		_, gotDeadline = ctx.Deadline()
		return nil
	}))

	at, err := s.RunNow(context.Background(), "daily-forecast")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, gotDeadline)
	assert.Equal(t, time.UTC, at.Location())

	next, ok := s.Next("daily-forecast")
	require.True(t, ok)
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 5, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestScheduler_Errors(t *testing.T) {
	s := New(Config{Timeout: time.Second}, nil)

	assert.Error(t, s.Add("bad", "not a spec", func(context.Context, time.Time) error { return nil }))

	boom := errors.New("boom")
	require.NoError(t, s.Add("weekly-backtest", "@weekly", func(context.Context, time.Time) error { return boom }))
	assert.Error(t, s.Add("weekly-backtest", "@daily", func(context.Context, time.Time) error { return nil }))

	_, err := s.RunNow(context.Background(), "weekly-backtest")
	assert.ErrorIs(t, err, boom)
	_, err = s.RunNow(context.Background(), "missing")
	assert.Error(t, err)

	_, ok := s.Next("missing")
	assert.False(t, ok)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(Config{}, nil)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
