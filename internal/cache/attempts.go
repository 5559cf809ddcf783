package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTooManyAttempts means the window's failure budget is spent.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrLimiterUnavailable wraps Redis failures. Callers fail open on it.
	ErrLimiterUnavailable = errors.New("attempt limiter unavailable")
)

// AttemptLimiter counts failures per key in a fixed window. The first
// failure starts the window; once MaxAttempts failures are recorded the key
// is locked until the window expires.
type AttemptLimiter struct {
	client      *redis.Client
	scope       string
	maxAttempts int64
	window      time.Duration
}

// NewAttemptLimiter creates a limiter whose keys live under scope.
func (c *Cache) NewAttemptLimiter(scope string, maxAttempts int, window time.Duration) *AttemptLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &AttemptLimiter{
		client:      c.client,
		scope:       scope,
		maxAttempts: int64(maxAttempts),
		window:      window,
	}
}

func (l *AttemptLimiter) key(id string) string {
	return keyPrefix + "attempts:" + l.scope + ":" + hashKey(id)
}

// Check returns ErrTooManyAttempts when id is locked.
func (l *AttemptLimiter) Check(ctx context.Context, id string) error {
	count, err := l.client.Get(ctx, l.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrTooManyAttempts
	}
	return nil
}

// RecordFailure counts one failed attempt for id.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, id string) error {
	key := l.key(id)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrTooManyAttempts
	}
	return nil
}

// Reset clears the failures recorded for id.
func (l *AttemptLimiter) Reset(ctx context.Context, id string) error {
	if err := l.client.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}
	return nil
}
