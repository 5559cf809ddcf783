package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/phonechecker/phonechecker/internal/model"
)

// CreateNotification inserts a notification for a user.
func (r *Repository) CreateNotification(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, title, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query, n.ID, n.UserID, n.Title, n.Message, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns the newest notifications for a user.
func (r *Repository) ListNotifications(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	query := `
		SELECT id, user_id, title, message, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// MarkNotificationsRead marks the given notifications read, or every unread
// notification of the user when ids is empty. Returns the number of rows changed.
func (r *Repository) MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		tag, err := r.pool.Exec(ctx,
			`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`,
			userID,
		)
		if err != nil {
			return 0, fmt.Errorf("mark all notifications read: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND id = ANY($2::text[]) AND is_read = FALSE`,
		userID, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}
