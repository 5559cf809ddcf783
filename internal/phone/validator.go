// Package phone validates phone numbers and describes their origin.
package phone

import (
	"context"
	"errors"
	"strings"
)

// ErrNoResult means the delegate produced nothing usable for a number.
var ErrNoResult = errors.New("validator returned no result")

// Validator produces a Result for one phone number.
type Validator interface {
	Validate(ctx context.Context, number string) (*Result, error)
}

// Result is the structured outcome of validating one number. A number that
// cannot be parsed still yields a Result with Success false and Error set.
type Result struct {
	Success     bool        `json:"success"`
	Valid       bool        `json:"valid"`
	Possible    bool        `json:"possible"`
	PhoneNumber NumberInfo  `json:"phone_number"`
	Location    *Location   `json:"location,omitempty"`
	Carrier     *Carrier    `json:"carrier,omitempty"`
	Type        *NumberType `json:"type,omitempty"`
	Timezones   []string    `json:"timezones,omitempty"`
	Error       string      `json:"error,omitempty"`
	ErrorType   *int        `json:"error_type,omitempty"`
}

// NumberInfo holds the input and its standard formats.
type NumberInfo struct {
	Original       string `json:"original"`
	International  string `json:"international,omitempty"`
	National       string `json:"national,omitempty"`
	E164           string `json:"e164,omitempty"`
	CountryCode    int32  `json:"country_code,omitempty"`
	NationalNumber string `json:"national_number,omitempty"`
}

// Location describes the country a number belongs to.
type Location struct {
	CountryName   string `json:"country_name"`
	CountryNameAr string `json:"country_name_ar"`
	RegionCode    string `json:"region_code"`
	FlagEmoji     string `json:"flag_emoji"`
}

// Carrier is the network operator that originally allocated the number.
type Carrier struct {
	Name   string `json:"name"`
	NameAr string `json:"name_ar"`
}

// NumberType is the line type of a number.
type NumberType struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

// Parse error categories reported in Result.ErrorType.
const (
	ErrorTypeInvalidCountryCode = 0
	ErrorTypeNotANumber         = 1
	ErrorTypeTooShortAfterIDD   = 2
	ErrorTypeTooShortNSN        = 3
	ErrorTypeTooLong            = 4
)

// CountryName returns the English country name, or "" when unknown.
func (r *Result) CountryName() string {
	if r.Location == nil {
		return ""
	}
	return r.Location.CountryName
}

// RegionCode returns the ISO region code, or "" when unknown.
func (r *Result) RegionCode() string {
	if r.Location == nil {
		return ""
	}
	return r.Location.RegionCode
}

// CarrierName returns the carrier name, or "" when unknown.
func (r *Result) CarrierName() string {
	if r.Carrier == nil {
		return ""
	}
	return r.Carrier.Name
}

// TypeName returns the line type name, or "" when unknown.
func (r *Result) TypeName() string {
	if r.Type == nil {
		return ""
	}
	return r.Type.Name
}

const whiteFlag = "🏳️"

// FlagEmoji converts a two-letter region code to its regional indicator pair.
func FlagEmoji(regionCode string) string {
	if len(regionCode) != 2 {
		return whiteFlag
	}
	code := strings.ToUpper(regionCode)
	if code == "ZZ" {
		return whiteFlag
	}

	var b strings.Builder
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return whiteFlag
		}
		b.WriteRune(c - 'A' + 0x1F1E6)
	}
	return b.String()
}
