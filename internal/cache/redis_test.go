package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client), mr
}

func TestCache_Ping(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Ping(context.Background()))
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-url://")
	assert.Error(t, err)
}

func TestCheckIPBurst_ExhaustsBucket(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := c.CheckIPBurst(ctx, "10.0.0.1", 1, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should pass", i+1)
	}

	res, err := c.CheckIPBurst(ctx, "10.0.0.1", 1, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	other, err := c.CheckIPBurst(ctx, "10.0.0.2", 1, 3)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per IP")
}

func TestCheckIPBurst_FailsOpen(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	res, err := c.CheckIPBurst(context.Background(), "10.0.0.1", 1, 3)
	assert.Error(t, err)
	assert.True(t, res.Allowed)
}

func TestAttemptLimiter_LocksAfterMax(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	l := c.NewAttemptLimiter("activate", 3, time.Minute)

	require.NoError(t, l.Check(ctx, "john"))
	require.NoError(t, l.RecordFailure(ctx, "john"))
	require.NoError(t, l.RecordFailure(ctx, "john"))
	assert.ErrorIs(t, l.RecordFailure(ctx, "john"), ErrTooManyAttempts)
	assert.ErrorIs(t, l.Check(ctx, "john"), ErrTooManyAttempts)
	assert.NoError(t, l.Check(ctx, "jane"))

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, l.Check(ctx, "john"), "window expiry unlocks")
}

func TestAttemptLimiter_WindowStartsOnFirstFailure(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	l := c.NewAttemptLimiter("login", 5, time.Minute)

	require.NoError(t, l.RecordFailure(ctx, "john"))
	mr.FastForward(30 * time.Second)
	require.NoError(t, l.RecordFailure(ctx, "john"))

	ttl := mr.TTL(l.key("john"))
	assert.LessOrEqual(t, ttl, 30*time.Second, "later failures must not extend the window")
}

func TestAttemptLimiter_Reset(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	l := c.NewAttemptLimiter("login", 1, time.Minute)

	assert.ErrorIs(t, l.RecordFailure(ctx, "john"), ErrTooManyAttempts)
	require.NoError(t, l.Reset(ctx, "john"))
	assert.NoError(t, l.Check(ctx, "john"))
}

func TestAttemptLimiter_Unavailable(t *testing.T) {
	c, mr := newTestCache(t)
	l := c.NewAttemptLimiter("login", 3, time.Minute)
	mr.Close()

	assert.ErrorIs(t, l.Check(context.Background(), "john"), ErrLimiterUnavailable)
	assert.ErrorIs(t, l.RecordFailure(context.Background(), "john"), ErrLimiterUnavailable)
}
