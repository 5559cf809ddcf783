package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/phonechecker/phonechecker/internal/notify"
	"github.com/phonechecker/phonechecker/internal/phone"
)

// FakeValidator answers without metadata lookups. Numbers starting with "+"
// validate as Saudi mobiles, numbers listed in NoResult yield
// phone.ErrNoResult, and anything else is a parse failure.
type FakeValidator struct {
	mu       sync.Mutex
	calls    []string
	NoResult map[string]bool
}

// NewFakeValidator returns a validator that treats noResult numbers as
// delegate failures.
func NewFakeValidator(noResult ...string) *FakeValidator {
	v := &FakeValidator{NoResult: make(map[string]bool)}
	for _, n := range noResult {
		v.NoResult[n] = true
	}
	return v
}

// Validate implements phone.Validator.
func (v *FakeValidator) Validate(ctx context.Context, number string) (*phone.Result, error) {
	v.mu.Lock()
	v.calls = append(v.calls, number)
	v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v.NoResult[number] {
		return nil, phone.ErrNoResult
	}
	if !strings.HasPrefix(number, "+") {
		errType := phone.ErrorTypeInvalidCountryCode
		return &phone.Result{
			Success:     false,
			Error:       "invalid country code",
			ErrorType:   &errType,
			PhoneNumber: phone.NumberInfo{Original: number},
		}, nil
	}
	return &phone.Result{
		Success:  true,
		Valid:    true,
		Possible: true,
		PhoneNumber: phone.NumberInfo{
			Original:    number,
			E164:        number,
			CountryCode: 966,
		},
		Location: &phone.Location{
			CountryName:   "Saudi Arabia",
			CountryNameAr: "السعودية",
			RegionCode:    "SA",
			FlagEmoji:     phone.FlagEmoji("SA"),
		},
		Carrier:   &phone.Carrier{Name: "STC", NameAr: "STC"},
		Type:      &phone.NumberType{Code: 1, Name: "Mobile"},
		Timezones: []string{"Asia/Riyadh"},
	}, nil
}

// Calls returns the numbers validated so far.
func (v *FakeValidator) Calls() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

// SentMessage is one message captured by FakeNotifier.
type SentMessage struct {
	Handle  string
	Code    string
	TTL     time.Duration
	Title   string
	Message string
}

// FakeNotifier records messages instead of sending them.
type FakeNotifier struct {
	mu   sync.Mutex
	sent []SentMessage

	// Err, when set, fails every send.
	Err error
}

// SendActivationCode implements notify.Notifier.
func (n *FakeNotifier) SendActivationCode(ctx context.Context, handle, code string, ttl time.Duration) (*notify.Receipt, error) {
	return n.record(handle, SentMessage{Handle: handle, Code: code, TTL: ttl})
}

// SendNotification implements notify.Notifier.
func (n *FakeNotifier) SendNotification(ctx context.Context, handle, title, message string) (*notify.Receipt, error) {
	return n.record(handle, SentMessage{Handle: handle, Title: title, Message: message})
}

func (n *FakeNotifier) record(handle string, msg SentMessage) (*notify.Receipt, error) {
	if n.Err != nil {
		return nil, n.Err
	}
	chatID, err := notify.ChatID(handle)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.sent = append(n.sent, msg)
	id := int64(len(n.sent))
	n.mu.Unlock()

	return &notify.Receipt{Success: true, MessageID: id, ChatID: chatID, SentAt: time.Now()}, nil
}

// Sent returns the captured messages.
func (n *FakeNotifier) Sent() []SentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentMessage(nil), n.sent...)
}
