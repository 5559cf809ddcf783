// Package model defines domain entities for the application.
package model

import "time"

// User is a registered account with a credit balance.
type User struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	PasswordHash      string     `json:"-"`
	TelegramUsername  *string    `json:"telegram_username,omitempty"`
	IsActive          bool       `json:"is_active"`
	ActivationCode    *string    `json:"-"`
	ActivationExpires *time.Time `json:"-"`
	Credits           int64      `json:"credits"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ActivationExpired reports whether the pending code is past its expiry at now.
// A user without an expiry is treated as expired.
func (u *User) ActivationExpired(now time.Time) bool {
	if u.ActivationExpires == nil {
		return true
	}
	return u.ActivationExpires.Before(now)
}

// TelegramHandle returns the messaging handle, or "" when none was given.
func (u *User) TelegramHandle() string {
	if u.TelegramUsername == nil {
		return ""
	}
	return *u.TelegramUsername
}

// UserStats is the dashboard summary for one user.
type UserStats struct {
	Credits     int64 `json:"credits"`
	TotalChecks int64 `json:"total_checks"`
	TodayChecks int64 `json:"today_checks"`
}
