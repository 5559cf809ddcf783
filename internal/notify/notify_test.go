package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestChatID(t *testing.T) {
	tests := []struct {
		handle  string
		want    string
		wantErr bool
	}{
		{"john_doe", "@john_doe", false},
		{"@john_doe", "@john_doe", false},
		{"  @john ", "@john", false},
		{"", "", true},
		{"@", "", true},
	}
	for _, tt := range tests {
		got, err := ChatID(tt.handle)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrNoHandle)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "30 seconds", FormatTTL(30*time.Second))
	assert.Equal(t, "1 second", FormatTTL(time.Second))
	assert.Equal(t, "10 minutes", FormatTTL(10*time.Minute))
	assert.Equal(t, "90 seconds", FormatTTL(90*time.Second))
	assert.Equal(t, "2 hours", FormatTTL(2*time.Hour))
}

func TestMessageText(t *testing.T) {
	act := ActivationText("123456", 30*time.Second)
	assert.True(t, strings.HasPrefix(act, "🔐 Phone Checker activation code\n\nCode: 123456\n"))
	assert.Contains(t, act, "⏰ Valid for 30 seconds only")

	n := NotificationText("Bulk Check Completed", "done", fixedNow)
	assert.Equal(t, "📢 Bulk Check Completed\n\ndone\n\n🌐 Phone Checker\n⏰ 2025-03-14 09:26:53", n)
}

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		minDelay time.Duration
		maxDelay time.Duration
	}{
		{-1, 800 * time.Millisecond, 1200 * time.Millisecond},
		{0, 800 * time.Millisecond, 1200 * time.Millisecond},
		{1, 2400 * time.Millisecond, 3600 * time.Millisecond},
		{2, 8 * time.Second, 12 * time.Second},
		{9, 8 * time.Second, 12 * time.Second},
	}
	for _, tt := range tests {
		for i := 0; i < 10; i++ {
			d := NextRetryDelay(tt.attempt)
			if d < tt.minDelay || d > tt.maxDelay {
				t.Errorf("NextRetryDelay(%d) = %v, want between %v and %v", tt.attempt, d, tt.minDelay, tt.maxDelay)
			}
		}
	}
	assert.Equal(t, maxRetryAfter, retryAfterDelay(3600))
	assert.Equal(t, 2*time.Second, retryAfterDelay(2))
}

func TestLog_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogWriter(&buf)
	l.now = func() time.Time { return fixedNow }

	r, err := l.SendActivationCode(context.Background(), "john", "654321", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, "@john", r.ChatID)
	assert.Equal(t, fixedNow.Unix(), r.MessageID)

	_, err = l.SendNotification(context.Background(), "@john", "Hi", "there")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second logEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "@john", first.ChatID)
	assert.Contains(t, first.Text, "654321")
	assert.Equal(t, fixedNow.Add(30*time.Second).Format(time.RFC3339), first.ExpiresAt)
	assert.Empty(t, first.Type)
	assert.Equal(t, "notification", second.Type)
	assert.Empty(t, second.ExpiresAt)
}

func TestLog_NoHandle(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewLogWriter(&buf).SendNotification(context.Background(), "", "t", "m")
	assert.ErrorIs(t, err, ErrNoHandle)
	assert.Zero(t, buf.Len())
}

func TestLog_File(t *testing.T) {
	path := t.TempDir() + "/telegram_messages.json"
	l, err := NewLog(path)
	require.NoError(t, err)
	_, err = l.SendNotification(context.Background(), "john", "t", "m")
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func newTestTelegram(t *testing.T, h http.HandlerFunc, attempts int) *Telegram {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tg := NewTelegram(TelegramConfig{
		APIURL:      srv.URL,
		Token:       "123:abc",
		RPS:         100,
		MaxAttempts: attempts,
		Timeout:     time.Second,
	})
	tg.backoff = func(int) time.Duration { return time.Millisecond }
	tg.now = func() time.Time { return fixedNow }
	return tg
}

func TestTelegram_SendNotification(t *testing.T) {
	var got sendMessageRequest
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"chat":{"id":1}}}`))
	}, 3)

	r, err := tg.SendNotification(context.Background(), "john", "Title", "Body")
	require.NoError(t, err)

	assert.Equal(t, "@john", got.ChatID)
	assert.Equal(t, NotificationText("Title", "Body", fixedNow), got.Text)
	assert.Equal(t, int64(42), r.MessageID)
	assert.Equal(t, "@john", r.ChatID)
	assert.Equal(t, fixedNow, r.SentAt)
}

func TestTelegram_NotOK(t *testing.T) {
	var calls atomic.Int32
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}, 3)

	_, err := tg.SendActivationCode(context.Background(), "nobody", "123456", 30*time.Second)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Request: chat not found", apiErr.Description)
	assert.EqualValues(t, 1, calls.Load(), "client errors are not retried")
}

func TestTelegram_RetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"description":"Too Many Requests"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	}, 3)

	r, err := tg.SendNotification(context.Background(), "john", "t", "m")
	require.NoError(t, err)
	assert.Equal(t, int64(7), r.MessageID)
	assert.EqualValues(t, 3, calls.Load())
}

func TestTelegram_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 2)

	_, err := tg.SendNotification(context.Background(), "john", "t", "m")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Temporary())
	assert.EqualValues(t, 2, calls.Load())
}

func TestTelegram_NoHandle(t *testing.T) {
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, 1)

	_, err := tg.SendNotification(context.Background(), "", "t", "m")
	assert.ErrorIs(t, err, ErrNoHandle)
}

func TestTelegram_TransportErrorHidesToken(t *testing.T) {
	tg := NewTelegram(TelegramConfig{APIURL: "http://127.0.0.1:1", Token: "secret-token", Timeout: 200 * time.Millisecond})

	_, err := tg.SendNotification(context.Background(), "john", "t", "m")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}
