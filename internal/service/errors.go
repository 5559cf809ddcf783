// Package service implements the phone checker operations on top of the
// ledger, the validation delegate and the notification delegate.
package service

// InputError rejects a request. Its message is shown to the caller verbatim.
type InputError struct {
	msg string
}

func (e *InputError) Error() string {
	return e.msg
}

func inputError(msg string) *InputError {
	return &InputError{msg: msg}
}

// Check errors.
var (
	ErrPhoneRequired     = inputError("Phone number is required")
	ErrRateLimited       = inputError("Rate limit exceeded")
	ErrValidationFailed  = inputError("Failed to validate phone number")
	ErrPhoneListRequired = inputError("Phone numbers array is required")
	ErrBulkRateLimited   = inputError("Rate limit exceeded for bulk operation")
)

// Account errors.
var (
	ErrCredentialsRequired    = inputError("Username and password are required")
	ErrUsernameExists         = inputError("Username already exists")
	ErrInvalidCredentials     = inputError("Invalid credentials")
	ErrAccountNotActivated    = inputError("Account not activated")
	ErrTooManyLogins          = inputError("Too many login attempts")
	ErrActivationRequired     = inputError("Username and activation code are required")
	ErrInvalidActivationCode  = inputError("Invalid activation code")
	ErrActivationCodeExpired  = inputError("Activation code expired")
	ErrTooManyActivations     = inputError("Too many activation attempts")
	ErrUsernameLength         = inputError("Username must be between 3 and 50 characters")
	ErrUsernameCharset        = inputError("Username may contain only letters, digits, '.', '_' and '-'")
	ErrUsernameConfusable     = inputError("Username contains confusable characters")
	ErrPasswordTooLong        = inputError("Password is too long")
	ErrTelegramUsernameFormat = inputError("Invalid Telegram username")
)

// Dashboard errors.
var (
	ErrUserIDRequired = inputError("User ID required")
	ErrUserNotFound   = inputError("User not found")
)
