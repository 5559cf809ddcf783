package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phonechecker/phonechecker/internal/ledger"
	"github.com/phonechecker/phonechecker/internal/model"
	"github.com/phonechecker/phonechecker/internal/repository"
)

// NotificationLimit is how many notifications the dashboard lists.
const NotificationLimit = 20

// DashboardStore reads per-user summaries.
type DashboardStore interface {
	GetUserStats(ctx context.Context, userID string, dayStart, dayEnd time.Time) (*model.UserStats, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]*model.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int64, error)
}

// DashboardService serves the account dashboard.
type DashboardService struct {
	store  DashboardStore
	ledger *ledger.Ledger
}

// NewDashboardService creates a DashboardService. The ledger supplies the
// calendar day that "today" counts refer to.
func NewDashboardService(store DashboardStore, l *ledger.Ledger) *DashboardService {
	return &DashboardService{store: store, ledger: l}
}

// Stats returns the user's balance and check counts.
func (s *DashboardService) Stats(ctx context.Context, userID string) (*model.UserStats, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	start, end := s.ledger.DayBounds()
	stats, err := s.store.GetUserStats(ctx, userID, start, end)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	return stats, nil
}

// Notifications returns the newest notifications, newest first.
func (s *DashboardService) Notifications(ctx context.Context, userID string) ([]*model.Notification, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	list, err := s.store.ListNotifications(ctx, userID, NotificationLimit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// MarkRead marks one notification read, or all of them when notificationID
// is empty, and returns how many changed.
func (s *DashboardService) MarkRead(ctx context.Context, userID, notificationID string) (int64, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}

	var ids []string
	if id := strings.TrimSpace(notificationID); id != "" {
		ids = []string{id}
	}

	updated, err := s.store.MarkNotificationsRead(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return updated, nil
}
