package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/phonechecker/phonechecker/internal/httpx"
)

// DefaultTelegramAPIURL is the public Bot API endpoint.
const DefaultTelegramAPIURL = "https://api.telegram.org"

const maxTelegramResponse = 64 << 10

// APIError is a sendMessage call the Bot API rejected.
type APIError struct {
	StatusCode  int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram: status %d", e.StatusCode)
	}
	return fmt.Sprintf("telegram: status %d: %s", e.StatusCode, e.Description)
}

// Temporary reports whether resending may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TelegramConfig configures the Bot API notifier.
type TelegramConfig struct {
	APIURL      string
	Token       string
	RPS         int
	MaxAttempts int
	Timeout     time.Duration
}

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	endpoint    string
	client      *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	backoff     func(attempt int) time.Duration
	now         func() time.Time
}

// NewTelegram creates a Bot API notifier.
func NewTelegram(cfg TelegramConfig) *Telegram {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultTelegramAPIURL
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 25
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	return &Telegram{
		endpoint:    fmt.Sprintf("%s/bot%s/sendMessage", apiURL, cfg.Token),
		client:      httpx.NewClient(cfg.Timeout),
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		maxAttempts: attempts,
		backoff:     NextRetryDelay,
		now:         time.Now,
	}
}

// SendActivationCode delivers an activation code.
func (t *Telegram) SendActivationCode(ctx context.Context, handle, code string, ttl time.Duration) (*Receipt, error) {
	return t.send(ctx, handle, ActivationText(code, ttl))
}

// SendNotification delivers a titled notification.
func (t *Telegram) SendNotification(ctx context.Context, handle, title, message string) (*Receipt, error) {
	return t.send(ctx, handle, NotificationText(title, message, t.now()))
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *Telegram) send(ctx context.Context, handle, text string) (*Receipt, error) {
	chatID, err := ChatID(handle)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	for attempt := 0; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		receipt, err := t.post(ctx, chatID, body)
		if err == nil {
			return receipt, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Temporary() || IsExhausted(attempt+1, t.maxAttempts) {
			return nil, err
		}

		delay := t.backoff(attempt)
		if apiErr.RetryAfter > 0 {
			delay = retryAfterDelay(apiErr.RetryAfter)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Telegram) post(ctx context.Context, chatID string, body []byte) (*Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpx.SetJSONHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; report the transport failure without it.
		return nil, fmt.Errorf("telegram request failed: %w", unwrapURLError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTelegramResponse))
	if err != nil {
		return nil, fmt.Errorf("read telegram response: %w", err)
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || !parsed.OK || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode:  resp.StatusCode,
			Description: parsed.Description,
			RetryAfter:  parsed.Parameters.RetryAfter,
		}
	}

	return &Receipt{
		Success:   true,
		MessageID: parsed.Result.MessageID,
		ChatID:    chatID,
		SentAt:    t.now(),
	}, nil
}
