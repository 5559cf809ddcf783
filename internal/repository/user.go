package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/phonechecker/phonechecker/internal/model"
)

const userColumns = `id, username, password_hash, telegram_username, is_active,
	activation_code, activation_expires, credits, created_at, updated_at`

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, username, password_hash, telegram_username, is_active,
			activation_code, activation_expires, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.TelegramUsername,
		user.IsActive,
		user.ActivationCode,
		user.ActivationExpires,
		user.Credits,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get user by ID: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return user, nil
}

// GetPendingActivation finds an inactive user whose stored code matches.
func (r *Repository) GetPendingActivation(ctx context.Context, username, code string) (*model.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE username = $1 AND activation_code = $2 AND is_active = FALSE`

	user, err := scanUser(r.pool.QueryRow(ctx, query, username, code))
	if err != nil {
		return nil, fmt.Errorf("get pending activation: %w", err)
	}
	return user, nil
}

// ActivateUser flips a pending user to active and clears the one-time code.
// The guard re-checks code, state and expiry so a code can be used at most once.
func (r *Repository) ActivateUser(ctx context.Context, id, code string, now time.Time) error {
	query := `
		UPDATE users
		SET is_active = TRUE, activation_code = NULL, activation_expires = NULL, updated_at = $4
		WHERE id = $1 AND activation_code = $2 AND is_active = FALSE AND activation_expires >= $3
	`

	tag, err := r.pool.Exec(ctx, query, id, code, now, now)
	if err != nil {
		return fmt.Errorf("activate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetCredits returns a user's current credit balance.
func (r *Repository) GetCredits(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := r.pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get credits: %w", err)
	}
	return credits, nil
}

// ConsumeCredits debits n credits only if the balance covers them.
// Returns false when the guard rejects or the user does not exist.
func (r *Repository) ConsumeCredits(ctx context.Context, userID string, n int) (bool, error) {
	query := `
		UPDATE users
		SET credits = credits - $2, updated_at = NOW()
		WHERE id = $1 AND credits >= $2
		RETURNING credits
	`

	var remaining int64
	err := r.pool.QueryRow(ctx, query, userID, n).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume credits: %w", err)
	}
	return true, nil
}

// DebitCredits subtracts n credits, flooring the balance at zero.
func (r *Repository) DebitCredits(ctx context.Context, userID string, n int) error {
	query := `
		UPDATE users
		SET credits = GREATEST(credits - $2, 0), updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, userID, n); err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	return nil
}

// AddCredits increases a user's balance by n and returns the new balance.
func (r *Repository) AddCredits(ctx context.Context, userID string, n int64) (int64, error) {
	query := `
		UPDATE users
		SET credits = credits + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credits
	`

	var credits int64
	err := r.pool.QueryRow(ctx, query, userID, n).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return credits, nil
}

// GetUserStats returns the balance and check counts for a user.
// Checks created in [dayStart, dayEnd) count towards today.
func (r *Repository) GetUserStats(ctx context.Context, userID string, dayStart, dayEnd time.Time) (*model.UserStats, error) {
	credits, err := r.GetCredits(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE created_at >= $2 AND created_at < $3)
		FROM phone_checks
		WHERE user_id = $1
	`

	stats := &model.UserStats{Credits: credits}
	if err := r.pool.QueryRow(ctx, query, userID, dayStart, dayEnd).Scan(&stats.TotalChecks, &stats.TodayChecks); err != nil {
		return nil, fmt.Errorf("count phone checks: %w", err)
	}
	return stats, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.TelegramUsername,
		&user.IsActive,
		&user.ActivationCode,
		&user.ActivationExpires,
		&user.Credits,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
