package testutil

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phonechecker/phonechecker/internal/model"
	"github.com/phonechecker/phonechecker/internal/repository"
)

// MemStore is an in-memory stand-in for repository.Repository. Each method
// holds the lock for its whole body, matching the atomicity of the SQL it
// replaces.
type MemStore struct {
	mu            sync.Mutex
	users         map[string]*model.User
	ipLimits      map[string]*model.IPLimit
	checks        []*model.PhoneCheck
	notifications []*model.Notification

	// Err, when set, is returned by every method.
	Err error
	// CheckErr, when set, is returned by CreatePhoneCheck only.
	CheckErr error
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:    make(map[string]*model.User),
		ipLimits: make(map[string]*model.IPLimit),
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}

// AddUser inserts u directly, bypassing uniqueness checks.
func (s *MemStore) AddUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(u)
}

// User returns a copy of the stored user, or nil.
func (s *MemStore) User(id string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return cloneUser(u)
	}
	return nil
}

// UserCount returns the number of stored users.
func (s *MemStore) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// IPLimit returns a copy of the guest record for ip, or nil.
func (s *MemStore) IPLimit(ip string) *model.IPLimit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.ipLimits[ip]; ok {
		c := *l
		return &c
	}
	return nil
}

// SetIPLimit overwrites the guest record for ip.
func (s *MemStore) SetIPLimit(ip string, count int, day time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ipLimits[ip] = &model.IPLimit{IPAddress: ip, ChecksToday: count, LastReset: calendarDay(day)}
}

// Checks returns the stored phone checks in insertion order.
func (s *MemStore) Checks() []*model.PhoneCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.PhoneCheck(nil), s.checks...)
}

// Notifications returns every stored notification in insertion order.
func (s *MemStore) Notifications() []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Notification(nil), s.notifications...)
}

// --- users ---

func (s *MemStore) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, u := range s.users {
		if u.Username == user.Username {
			return repository.ErrUsernameExists
		}
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *MemStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *MemStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if u := s.byUsername(username); u != nil {
		return cloneUser(u), nil
	}
	return nil, repository.ErrUserNotFound
}

func (s *MemStore) byUsername(username string) *model.User {
	for _, u := range s.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (s *MemStore) GetPendingActivation(ctx context.Context, username, code string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u := s.byUsername(username)
	if u == nil || u.IsActive || u.ActivationCode == nil || *u.ActivationCode != code {
		return nil, repository.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *MemStore) ActivateUser(ctx context.Context, id, code string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.users[id]
	if !ok || u.IsActive || u.ActivationCode == nil || *u.ActivationCode != code ||
		u.ActivationExpires == nil || u.ActivationExpires.Before(now) {
		return repository.ErrUserNotFound
	}
	u.IsActive = true
	u.ActivationCode = nil
	u.ActivationExpires = nil
	u.UpdatedAt = now
	return nil
}

func (s *MemStore) GetCredits(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	u, ok := s.users[userID]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	return u.Credits, nil
}

func (s *MemStore) ConsumeCredits(ctx context.Context, userID string, n int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	u, ok := s.users[userID]
	if !ok || u.Credits < int64(n) {
		return false, nil
	}
	u.Credits -= int64(n)
	return true, nil
}

func (s *MemStore) DebitCredits(ctx context.Context, userID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if u, ok := s.users[userID]; ok {
		u.Credits = max(u.Credits-int64(n), 0)
	}
	return nil
}

func (s *MemStore) AddCredits(ctx context.Context, userID string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	u, ok := s.users[userID]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	u.Credits += n
	return u.Credits, nil
}

func (s *MemStore) GetUserStats(ctx context.Context, userID string, dayStart, dayEnd time.Time) (*model.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	stats := &model.UserStats{Credits: u.Credits}
	for _, c := range s.checks {
		if c.UserID == nil || *c.UserID != userID {
			continue
		}
		stats.TotalChecks++
		if !c.CreatedAt.Before(dayStart) && c.CreatedAt.Before(dayEnd) {
			stats.TodayChecks++
		}
	}
	return stats, nil
}

// --- ip limits ---

// calendarDay returns t's calendar day as a UTC midnight, which is how DATE
// columns come back from pgx.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func stale(l *model.IPLimit, today time.Time) bool {
	return !calendarDay(l.LastReset).Equal(calendarDay(today))
}

// current returns today's count for ip, treating stale or missing rows as 0.
func (s *MemStore) current(ip string, today time.Time) int {
	l, ok := s.ipLimits[ip]
	if !ok || stale(l, today) {
		return 0
	}
	return l.ChecksToday
}

func (s *MemStore) TouchIPLimit(ctx context.Context, ip string, today time.Time) (*model.IPLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	l := &model.IPLimit{IPAddress: ip, ChecksToday: s.current(ip, today), LastReset: calendarDay(today)}
	s.ipLimits[ip] = l
	c := *l
	return &c, nil
}

func (s *MemStore) ConsumeIPChecks(ctx context.Context, ip string, today time.Time, n, ceiling int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	next := s.current(ip, today) + n
	if next > ceiling {
		return false, nil
	}
	s.ipLimits[ip] = &model.IPLimit{IPAddress: ip, ChecksToday: next, LastReset: calendarDay(today)}
	return true, nil
}

func (s *MemStore) AddIPChecks(ctx context.Context, ip string, today time.Time, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.ipLimits[ip] = &model.IPLimit{IPAddress: ip, ChecksToday: s.current(ip, today) + n, LastReset: calendarDay(today)}
	return nil
}

func (s *MemStore) RefundIPChecks(ctx context.Context, ip string, today time.Time, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if l, ok := s.ipLimits[ip]; ok && !stale(l, today) {
		l.ChecksToday = max(l.ChecksToday-n, 0)
	}
	return nil
}

// --- checks and notifications ---

func (s *MemStore) CreatePhoneCheck(ctx context.Context, check *model.PhoneCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.CheckErr != nil {
		return s.CheckErr
	}
	c := *check
	s.checks = append(s.checks, &c)
	return nil
}

func (s *MemStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c := *n
	s.notifications = append(s.notifications, &c)
	return nil
}

func (s *MemStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]*model.Notification, 0, limit)
	for _, n := range s.notifications {
		if n.UserID == userID {
			c := *n
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return strings.Compare(out[i].ID, out[j].ID) > 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var updated int64
	for _, n := range s.notifications {
		if n.UserID != userID || n.IsRead {
			continue
		}
		if len(ids) > 0 && !want[n.ID] {
			continue
		}
		n.IsRead = true
		updated++
	}
	return updated, nil
}

// ErrInjected is a convenient value for MemStore.Err.
var ErrInjected = errors.New("injected store failure")
