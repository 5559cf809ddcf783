package notify

import (
	"math/rand"
	"time"
)

// Backoff before resending a throttled or failed message.
var retryDelays = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	10 * time.Second,
}

// JitterFactor is the ±fraction of jitter applied to delays.
const JitterFactor = 0.2

// maxRetryAfter caps a server-provided retry_after hint.
const maxRetryAfter = 30 * time.Second

// NextRetryDelay returns the backoff after the given failed attempt
// (0-indexed), with ±20% jitter.
func NextRetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(retryDelays) {
		attempt = len(retryDelays) - 1
	}

	base := retryDelays[attempt]
	jitter := (rand.Float64()*2 - 1) * float64(base) * JitterFactor
	return time.Duration(float64(base) + jitter)
}

// retryAfterDelay honors a retry_after hint in seconds, bounded by maxRetryAfter.
func retryAfterDelay(seconds int) time.Duration {
	d := time.Duration(seconds) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

// IsExhausted reports whether attempts have reached maxAttempts.
func IsExhausted(attempts, maxAttempts int) bool {
	return attempts >= maxAttempts
}
