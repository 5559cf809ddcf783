package service

import (
	"regexp"
	"strings"
	"unicode"
)

// Field limits.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
	MaxPasswordLength = 1024
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	// Telegram handles: 5-32 chars, letters, digits and underscores.
	telegramPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{5,32}$`)
)

// ValidateUsername checks an account name.
func ValidateUsername(username string) error {
	if n := len([]rune(username)); n < MinUsernameLength || n > MaxUsernameLength {
		return ErrUsernameLength
	}

	// Lookalike letters from other scripts would let two accounts render the same.
	for _, r := range username {
		if r > unicode.MaxASCII {
			return ErrUsernameConfusable
		}
	}

	if !usernamePattern.MatchString(username) {
		return ErrUsernameCharset
	}
	return nil
}

// ValidatePassword bounds password length. Argon2 cost grows with input size.
func ValidatePassword(password string) error {
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// NormalizeTelegramUsername strips a leading @ and validates the handle.
// An empty handle is allowed and returns "".
func NormalizeTelegramUsername(handle string) (string, error) {
	h := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if h == "" {
		return "", nil
	}
	if !telegramPattern.MatchString(h) {
		return "", ErrTelegramUsernameFormat
	}
	return h, nil
}
