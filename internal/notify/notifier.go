// Package notify delivers activation codes and notifications to users'
// Telegram handles.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoHandle is returned when a send has no Telegram handle to target.
var ErrNoHandle = errors.New("no telegram handle")

// Notifier sends messages to a Telegram handle.
type Notifier interface {
	SendActivationCode(ctx context.Context, handle, code string, ttl time.Duration) (*Receipt, error)
	SendNotification(ctx context.Context, handle, title, message string) (*Receipt, error)
}

// Receipt acknowledges a delivered message.
type Receipt struct {
	Success   bool      `json:"success"`
	MessageID int64     `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	SentAt    time.Time `json:"sent_at"`
}

const timestampLayout = "2006-01-02 15:04:05"

// ChatID turns a handle with or without a leading @ into a chat id.
func ChatID(handle string) (string, error) {
	h := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if h == "" {
		return "", ErrNoHandle
	}
	return "@" + h, nil
}

// ActivationText renders the activation code message.
func ActivationText(code string, ttl time.Duration) string {
	return fmt.Sprintf("🔐 Phone Checker activation code\n\n"+
		"Code: %s\n\n"+
		"⏰ Valid for %s only\n"+
		"🔒 Do not share this code with anyone.\n\n"+
		"If you did not request this code, ignore this message.", code, FormatTTL(ttl))
}

// NotificationText renders a titled notification stamped with at.
func NotificationText(title, message string, at time.Time) string {
	return fmt.Sprintf("📢 %s\n\n%s\n\n🌐 Phone Checker\n⏰ %s", title, message, at.Format(timestampLayout))
}

// FormatTTL renders a duration the way users read it: "30 seconds", "10 minutes".
func FormatTTL(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return plural(int64(d/time.Second), "second")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
