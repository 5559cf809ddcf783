package model

import "time"

// PhoneCheck is an immutable audit row for one validation.
type PhoneCheck struct {
	ID              string    `json:"id"`
	UserID          *string   `json:"user_id,omitempty"`
	IPAddress       string    `json:"ip_address"`
	PhoneNumber     string    `json:"phone_number"`
	Country         *string   `json:"country,omitempty"`
	RegionCode      *string   `json:"region_code,omitempty"`
	NetworkOperator *string   `json:"network_operator,omitempty"`
	NumberType      *string   `json:"number_type,omitempty"`
	IsValid         bool      `json:"is_valid"`
	WhatsAppStatus  *string   `json:"whatsapp_status,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
