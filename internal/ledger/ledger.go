// Package ledger gates and accounts for phone validation usage.
//
// Users spend credits; guests are counted per source address per calendar
// day. Single checks reserve capacity atomically before validating and
// refund it when the validator produces nothing. Bulk checks pass the same
// gate as a single check and settle the number of successes afterwards.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phonechecker/phonechecker/internal/model"
	"github.com/phonechecker/phonechecker/internal/repository"
)

// Default limits.
const (
	DefaultGuestDailyLimit = 50
	DefaultBulkLimitUser   = 1000
	DefaultBulkLimitGuest  = 100
)

// BulkLimitError is returned when a batch is larger than the caller may submit.
type BulkLimitError struct {
	Max int
}

func (e *BulkLimitError) Error() string {
	return fmt.Sprintf("bulk limit exceeded: maximum %d numbers", e.Max)
}

// Store is the persistence the ledger needs. Every mutating method must be a
// single atomic statement.
type Store interface {
	GetCredits(ctx context.Context, userID string) (int64, error)
	ConsumeCredits(ctx context.Context, userID string, n int) (bool, error)
	DebitCredits(ctx context.Context, userID string, n int) error
	AddCredits(ctx context.Context, userID string, n int64) (int64, error)

	TouchIPLimit(ctx context.Context, ip string, today time.Time) (*model.IPLimit, error)
	ConsumeIPChecks(ctx context.Context, ip string, today time.Time, n, ceiling int) (bool, error)
	AddIPChecks(ctx context.Context, ip string, today time.Time, n int) error
	RefundIPChecks(ctx context.Context, ip string, today time.Time, n int) error
}

// Identity is the unit limits are tracked against.
type Identity struct {
	UserID string
	IP     string
}

// IsUser reports whether the identity is attributed to a user account.
func (i Identity) IsUser() bool {
	return i.UserID != ""
}

// Kind returns "user" or "guest".
func (i Identity) Kind() string {
	if i.IsUser() {
		return "user"
	}
	return "guest"
}

// Limits configures the ledger ceilings.
type Limits struct {
	GuestDaily int
	BulkUser   int
	BulkGuest  int
}

// DefaultLimits returns the standard ceilings.
func DefaultLimits() Limits {
	return Limits{
		GuestDaily: DefaultGuestDailyLimit,
		BulkUser:   DefaultBulkLimitUser,
		BulkGuest:  DefaultBulkLimitGuest,
	}
}

// Ledger applies Limits to identities using a Store.
type Ledger struct {
	store  Store
	limits Limits
	loc    *time.Location
	now    func() time.Time
}

// New creates a Ledger. Calendar days are evaluated in loc (UTC when nil).
func New(store Store, limits Limits, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		store:  store,
		limits: limits,
		loc:    loc,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Tests use it to cross midnight.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Now returns the current time in the ledger's location.
func (l *Ledger) Now() time.Time {
	return l.now().In(l.loc)
}

// DayBounds returns the start and end of the current calendar day.
func (l *Ledger) DayBounds() (time.Time, time.Time) {
	now := l.Now()
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, l.loc)
	return start, start.AddDate(0, 0, 1)
}

// Allow is the read-only gate. Users pass while their balance is positive;
// unknown users never pass. Guests pass while today's count is below the
// daily ceiling, and their record is created or reset on the way.
func (l *Ledger) Allow(ctx context.Context, id Identity) (bool, error) {
	if id.IsUser() {
		credits, err := l.store.GetCredits(ctx, id.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("read credits: %w", err)
		}
		return credits > 0, nil
	}

	limit, err := l.store.TouchIPLimit(ctx, id.IP, l.Now())
	if err != nil {
		return false, fmt.Errorf("read ip limit: %w", err)
	}
	return limit.ChecksToday < l.limits.GuestDaily, nil
}

// MaxBulk returns the largest batch the identity may submit.
func (l *Ledger) MaxBulk(id Identity) int {
	if id.IsUser() {
		return l.limits.BulkUser
	}
	return l.limits.BulkGuest
}

// CheckBulkSize rejects batches larger than MaxBulk without touching the store.
func (l *Ledger) CheckBulkSize(id Identity, n int) error {
	if limit := l.MaxBulk(id); n > limit {
		return &BulkLimitError{Max: limit}
	}
	return nil
}

// Reserve consumes n units if the identity has room for all of them.
func (l *Ledger) Reserve(ctx context.Context, id Identity, n int) (bool, error) {
	if n <= 0 {
		return true, nil
	}

	var (
		ok  bool
		err error
	)
	if id.IsUser() {
		ok, err = l.store.ConsumeCredits(ctx, id.UserID, n)
	} else {
		ok, err = l.store.ConsumeIPChecks(ctx, id.IP, l.Now(), n, l.limits.GuestDaily)
	}
	if err != nil {
		return false, fmt.Errorf("reserve %d for %s: %w", n, id.Kind(), err)
	}
	return ok, nil
}

// Refund returns n previously reserved units.
func (l *Ledger) Refund(ctx context.Context, id Identity, n int) error {
	if n <= 0 {
		return nil
	}

	var err error
	if id.IsUser() {
		_, err = l.store.AddCredits(ctx, id.UserID, int64(n))
	} else {
		err = l.store.RefundIPChecks(ctx, id.IP, l.Now(), n)
	}
	if err != nil {
		return fmt.Errorf("refund %d for %s: %w", n, id.Kind(), err)
	}
	return nil
}

// Settle debits n units after the work is done. User balances floor at zero;
// guest counters may pass the daily ceiling.
func (l *Ledger) Settle(ctx context.Context, id Identity, n int) error {
	if n <= 0 {
		return nil
	}

	var err error
	if id.IsUser() {
		err = l.store.DebitCredits(ctx, id.UserID, n)
	} else {
		err = l.store.AddIPChecks(ctx, id.IP, l.Now(), n)
	}
	if err != nil {
		return fmt.Errorf("settle %d for %s: %w", n, id.Kind(), err)
	}
	return nil
}
