package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonechecker/phonechecker/internal/auth"
	"github.com/phonechecker/phonechecker/internal/cache"
	"github.com/phonechecker/phonechecker/internal/metrics"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	assert.False(t, env.Success)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return env.Error
}

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{"absent", "", false},
		{"well formed", "abc-123", true},
		{"too long", strings.Repeat("a", 65), false},
		{"control characters", "abc\ndef", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
			if tt.reused {
				assert.Equal(t, tt.header, seen)
			} else {
				assert.NotEqual(t, tt.header, seen)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map write")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api?endpoint=check", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Server error", decodeError(t, rec))
	assert.NotContains(t, rec.Body.String(), "nil map")
}

func TestAuthenticate(t *testing.T) {
	tokens, err := auth.NewTokenIssuer("middleware-secret", time.Hour)
	require.NoError(t, err)
	good, err := tokens.Issue("user-1", "alice")
	require.NoError(t, err)

	other, err := auth.NewTokenIssuer("someone-else", time.Hour)
	require.NoError(t, err)
	forged, err := other.Issue("user-1", "alice")
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		enforce  bool
		wantCode int
		wantUser string
	}{
		{"anonymous", "", true, http.StatusOK, ""},
		{"valid token", "Bearer " + good, true, http.StatusOK, "user-1"},
		{"lowercase scheme", "bearer " + good, true, http.StatusOK, "user-1"},
		{"forged token enforced", "Bearer " + forged, true, http.StatusUnauthorized, ""},
		{"garbage enforced", "Bearer not-a-jwt", true, http.StatusUnauthorized, ""},
		{"forged token ignored", "Bearer " + forged, false, http.StatusOK, ""},
		{"other scheme ignored", "Basic dXNlcjpwYXNz", true, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := Authenticate(tokens, tt.enforce, discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = auth.UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api?endpoint=stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantUser, seen)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Equal(t, "Invalid token", decodeError(t, rec))
			}
		})
	}
}

func newBurstLimiter(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewWithClient(client), mr
}

func TestRateLimitIP(t *testing.T) {
	c, _ := newBurstLimiter(t)
	recorder := metrics.NewInMemory()

	h := RateLimitIP(RateLimitConfig{
		Logger:  discard(),
		Limiter: c,
		Metrics: recorder,
		Enabled: true,
		RPS:     1,
		Burst:   2,
	})(ok())

	call := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api?endpoint=check", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("198.51.100.1:1000").Code)

	// Ports and bare addresses share one bucket. A refill tick can let one
	// more through, so keep calling until the bucket is dry.
	var rec *httptest.ResponseRecorder
	for i := range 5 {
		remote := "198.51.100.1"
		if i%2 == 0 {
			remote += ":1001"
		}
		rec = call(remote)
		if rec.Code == http.StatusTooManyRequests {
			break
		}
	}
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", decodeError(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, uint64(1), recorder.Snapshot().RateLimited[metrics.LimitBurst])

	assert.Equal(t, http.StatusOK, call("198.51.100.2:1000").Code, "buckets are per address")
}

func TestRateLimitIP_PreflightBypasses(t *testing.T) {
	c, _ := newBurstLimiter(t)
	h := RateLimitIP(RateLimitConfig{Limiter: c, Enabled: true, RPS: 1, Burst: 1})(ok())

	for range 5 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) CheckIPBurst(ctx context.Context, ip string, rps, burst int) (*cache.RateLimitResult, error) {
	return &cache.RateLimitResult{Allowed: true}, errors.New("redis: connection refused")
}

func TestRateLimitIP_FailsOpen(t *testing.T) {
	h := RateLimitIP(RateLimitConfig{Logger: discard(), Limiter: failingLimiter{}, Enabled: true, RPS: 1, Burst: 1})(ok())

	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitIP_Disabled(t *testing.T) {
	next := ok()
	h := RateLimitIP(RateLimitConfig{Enabled: false, Limiter: failingLimiter{}})(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
