// Package testutil holds shared helpers for integration tests and an
// in-memory store for unit tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/phonechecker/phonechecker/internal/auth"
	"github.com/phonechecker/phonechecker/internal/model"
	"github.com/phonechecker/phonechecker/internal/repository"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 660066

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// SetupDB connects to DATABASE_URL, takes the advisory lock and rebuilds the
// schema from the embedded migrations. Skips when DATABASE_URL is unset.
func SetupDB(t *testing.T) *repository.Repository {
	t.Helper()

	databaseURL := RequireEnv(t, "DATABASE_URL")
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	unlock, err := AcquireDBLock(ctx, pool)
	if err != nil {
		pool.Close()
		t.Fatalf("lock: %v", err)
	}
	t.Cleanup(func() {
		if err := unlock(); err != nil {
			t.Errorf("unlock: %v", err)
		}
		pool.Close()
	})

	if err := repository.ResetSchema(ctx, databaseURL); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return repository.NewWithPool(pool)
}

// ============================================================================
// Test Data Factories
// ============================================================================

// TestPassword is the plaintext password of users built by NewTestUser.
const TestPassword = "correct horse battery"

var hashTestPassword = sync.OnceValues(func() (string, error) {
	return auth.HashPassword(TestPassword)
})

func passwordHash(t testing.TB) string {
	t.Helper()
	h, err := hashTestPassword()
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return h
}

// NewTestUser creates an active user with credits and a telegram handle.
func NewTestUser(t testing.TB, username string, credits int64) *model.User {
	t.Helper()
	now := time.Now().UTC()
	handle := username + "_tg"
	return &model.User{
		ID:               ulid.Make().String(),
		Username:         username,
		PasswordHash:     passwordHash(t),
		TelegramUsername: &handle,
		IsActive:         true,
		Credits:          credits,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewPendingUser creates an inactive user holding an activation code that
// expires at expires.
func NewPendingUser(t testing.TB, username, code string, expires time.Time) *model.User {
	t.Helper()
	u := NewTestUser(t, username, 50000)
	u.IsActive = false
	u.ActivationCode = &code
	u.ActivationExpires = &expires
	return u
}
