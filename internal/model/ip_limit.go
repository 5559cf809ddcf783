package model

import "time"

// IPLimit tracks guest checks for one source address on one calendar day.
type IPLimit struct {
	IPAddress   string    `json:"ip_address"`
	ChecksToday int       `json:"checks_today"`
	LastReset   time.Time `json:"last_reset"`
}

// DateLayout is the layout of calendar days stored in ip_limits.last_reset.
const DateLayout = "2006-01-02"
