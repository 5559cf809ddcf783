// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"bytes"
	"encoding/json"
	"io"
	"time"
)

// ExpiresLayout formats activation expiry timestamps.
const ExpiresLayout = "2006-01-02 15:04:05"

// SuccessEnvelope wraps a successful response.
type SuccessEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ErrorEnvelope wraps a failed response.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// FlexString accepts a JSON string or number. Anything else decodes to "".
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	*s = FlexString(flexValue(data))
	return nil
}

// FlexStrings accepts a JSON array of strings or numbers. A value that is
// not an array decodes to nil.
type FlexStrings []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexStrings) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		*s = nil
		return nil
	}

	out := make([]string, len(raw))
	for i, item := range raw {
		out[i] = flexValue(item)
	}
	*s = out
	return nil
}

func flexValue(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}

	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return ""
		}
		return v
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return ""
		}
		return n.String()
	default:
		return ""
	}
}

// Request is the union of every endpoint's body fields.
type Request struct {
	PhoneNumber      FlexString  `json:"phone_number"`
	PhoneNumbers     FlexStrings `json:"phone_numbers"`
	UserID           FlexString  `json:"user_id"`
	Username         string      `json:"username"`
	Password         string      `json:"password"`
	TelegramUsername string      `json:"telegram_username"`
	Code             FlexString  `json:"code"`
	NotificationID   FlexString  `json:"notification_id"`
}

// DecodeRequest reads a JSON body. A malformed or absent body yields an
// empty Request.
func DecodeRequest(body io.Reader) Request {
	var req Request
	if body == nil {
		return req
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return Request{}
	}
	return req
}

// RegisterResponse is returned by register.
type RegisterResponse struct {
	UserID            string `json:"user_id"`
	Message           string `json:"message"`
	ActivationExpires string `json:"activation_expires"`
}

// NewRegisterResponse formats expires in loc.
func NewRegisterResponse(userID, message string, expires time.Time, loc *time.Location) RegisterResponse {
	if loc == nil {
		loc = time.UTC
	}
	return RegisterResponse{
		UserID:            userID,
		Message:           message,
		ActivationExpires: expires.In(loc).Format(ExpiresLayout),
	}
}

// LoginResponse is returned by login.
type LoginResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Credits  int64  `json:"credits"`
	Token    string `json:"token"`
}

// MessageResponse carries a single message.
type MessageResponse struct {
	Message string `json:"message"`
}

// MarkReadResponse is returned by mark_read.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}
