package model

import (
	"testing"
	"time"
)

func TestUser_ActivationExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(30 * time.Second)

	tests := []struct {
		name    string
		expires *time.Time
		at      time.Time
		want    bool
	}{
		{"no expiry", nil, now, true},
		{"before expiry", &expires, now, false},
		{"exactly at expiry", &expires, expires, false},
		{"after expiry", &expires, expires.Add(time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u := &User{ActivationExpires: tt.expires}
			if got := u.ActivationExpired(tt.at); got != tt.want {
				t.Errorf("ActivationExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUser_TelegramHandle(t *testing.T) {
	t.Parallel()

	u := &User{}
	if u.TelegramHandle() != "" {
		t.Errorf("expected empty handle, got %q", u.TelegramHandle())
	}

	handle := "alice"
	u.TelegramUsername = &handle
	if u.TelegramHandle() != "alice" {
		t.Errorf("TelegramHandle() = %q, want alice", u.TelegramHandle())
	}
}
