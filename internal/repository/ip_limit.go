package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/phonechecker/phonechecker/internal/model"
)

// resetCount evaluates to the row's count for today, or 0 when the stored
// day is stale. Used inside ON CONFLICT clauses where EXCLUDED carries today.
const resetCount = `CASE WHEN ip_limits.last_reset <> EXCLUDED.last_reset THEN 0 ELSE ip_limits.checks_today END`

// TouchIPLimit returns the guest record for ip, creating it with a zero count
// on first sighting and resetting it when its day is not today.
func (r *Repository) TouchIPLimit(ctx context.Context, ip string, today time.Time) (*model.IPLimit, error) {
	query := `
		INSERT INTO ip_limits (ip_address, checks_today, last_reset)
		VALUES ($1, 0, $2::date)
		ON CONFLICT (ip_address) DO UPDATE
		SET checks_today = ` + resetCount + `,
		    last_reset = EXCLUDED.last_reset
		RETURNING ip_address, checks_today, last_reset
	`

	var limit model.IPLimit
	err := r.pool.QueryRow(ctx, query, ip, today.Format(model.DateLayout)).Scan(
		&limit.IPAddress,
		&limit.ChecksToday,
		&limit.LastReset,
	)
	if err != nil {
		return nil, fmt.Errorf("touch ip limit: %w", err)
	}
	return &limit, nil
}

// ConsumeIPChecks adds n to today's count only if the result stays within
// ceiling. The reset, guard and increment run as one statement.
func (r *Repository) ConsumeIPChecks(ctx context.Context, ip string, today time.Time, n, ceiling int) (bool, error) {
	query := `
		INSERT INTO ip_limits (ip_address, checks_today, last_reset)
		SELECT $1, $3::int, $2::date
		WHERE $3::int <= $4::int
		ON CONFLICT (ip_address) DO UPDATE
		SET checks_today = ` + resetCount + ` + EXCLUDED.checks_today,
		    last_reset = EXCLUDED.last_reset
		WHERE ` + resetCount + ` + EXCLUDED.checks_today <= $4::int
		RETURNING checks_today
	`

	var count int
	err := r.pool.QueryRow(ctx, query, ip, today.Format(model.DateLayout), n, ceiling).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume ip checks: %w", err)
	}
	return true, nil
}

// AddIPChecks adds n to today's count without a ceiling.
func (r *Repository) AddIPChecks(ctx context.Context, ip string, today time.Time, n int) error {
	query := `
		INSERT INTO ip_limits (ip_address, checks_today, last_reset)
		VALUES ($1, $3::int, $2::date)
		ON CONFLICT (ip_address) DO UPDATE
		SET checks_today = ` + resetCount + ` + EXCLUDED.checks_today,
		    last_reset = EXCLUDED.last_reset
	`

	if _, err := r.pool.Exec(ctx, query, ip, today.Format(model.DateLayout), n); err != nil {
		return fmt.Errorf("add ip checks: %w", err)
	}
	return nil
}

// RefundIPChecks gives back n checks counted today. Stale rows are left alone.
func (r *Repository) RefundIPChecks(ctx context.Context, ip string, today time.Time, n int) error {
	query := `
		UPDATE ip_limits
		SET checks_today = GREATEST(checks_today - $3, 0)
		WHERE ip_address = $1 AND last_reset = $2::date
	`

	if _, err := r.pool.Exec(ctx, query, ip, today.Format(model.DateLayout), n); err != nil {
		return fmt.Errorf("refund ip checks: %w", err)
	}
	return nil
}
