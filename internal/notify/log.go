package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Log simulates delivery by appending one JSON line per message to a
// writer. Development and tests use it in place of the Bot API.
type Log struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

type logEntry struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Type      string `json:"type,omitempty"`
}

// NewLog writes to path, or to stdout when path is empty.
func NewLog(path string) (*Log, error) {
	if path == "" {
		return NewLogWriter(os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open notify log: %w", err)
	}
	l := NewLogWriter(f)
	l.closer = f
	return l, nil
}

// NewLogWriter writes to w.
func NewLogWriter(w io.Writer) *Log {
	return &Log{w: w, now: time.Now}
}

// SendActivationCode records an activation code message.
func (l *Log) SendActivationCode(ctx context.Context, handle, code string, ttl time.Duration) (*Receipt, error) {
	now := l.now()
	return l.write(ctx, handle, logEntry{
		Text:      ActivationText(code, ttl),
		ExpiresAt: now.Add(ttl).Format(time.RFC3339),
	}, now)
}

// SendNotification records a notification message.
func (l *Log) SendNotification(ctx context.Context, handle, title, message string) (*Receipt, error) {
	now := l.now()
	return l.write(ctx, handle, logEntry{
		Text: NotificationText(title, message, now),
		Type: "notification",
	}, now)
}

func (l *Log) write(ctx context.Context, handle string, entry logEntry, now time.Time) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chatID, err := ChatID(handle)
	if err != nil {
		return nil, err
	}
	entry.ChatID = chatID
	entry.Timestamp = now.Format(time.RFC3339)

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(line); err != nil {
		return nil, fmt.Errorf("write notify log: %w", err)
	}

	return &Receipt{
		Success:   true,
		MessageID: now.Unix(),
		ChatID:    chatID,
		SentAt:    now,
	}, nil
}

// Close closes the underlying file, if NewLog opened one.
func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
