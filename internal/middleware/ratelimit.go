package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/phonechecker/phonechecker/internal/cache"
	"github.com/phonechecker/phonechecker/internal/metrics"
)

// BurstChecker is the per-IP token bucket. *cache.Cache implements it.
type BurstChecker interface {
	CheckIPBurst(ctx context.Context, ip string, ratePerSecond, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter BurstChecker
	Metrics metrics.Recorder
	Enabled bool
	RPS     int
	Burst   int
}

// RateLimitIP throttles request bursts per client address. It sits in
// front of the daily ledger and answers 429 with the API envelope. Redis
// errors fail open.
func RateLimitIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled || cfg.Limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ip := remoteIP(r)
			result, err := cfg.Limiter.CheckIPBurst(r.Context(), ip, cfg.RPS, cfg.Burst)
			if err != nil {
				cfg.Logger.Error("burst limit check failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}

				cfg.Metrics.IncRateLimited(metrics.LimitBurst)
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "burst"),
					slog.String("ip", ip),
					slog.String("endpoint", r.URL.Query().Get("endpoint")),
					slog.Int("retry_after_seconds", retryAfter),
					slog.String("request_id", GetRequestID(r.Context())),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// remoteIP returns the host part of RemoteAddr. RealIP runs first and may
// leave a bare address without a port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
