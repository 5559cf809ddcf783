// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Check modes.
const (
	ModeSingle = "single"
	ModeBulk   = "bulk"
)

// Check outcomes.
const (
	OutcomeValid    = "valid"
	OutcomeInvalid  = "invalid"
	OutcomeNoResult = "no_result"
)

// Rate limit kinds.
const (
	LimitUser  = "user"
	LimitGuest = "guest"
	LimitBurst = "burst"
)

// Notification statuses.
const (
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationSkipped = "skipped"
)

// Login outcomes.
const (
	LoginSuccess  = "success"
	LoginInvalid  = "invalid"
	LoginInactive = "inactive"
	LoginLocked   = "locked"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Validation
	IncCheck(mode, outcome string)
	ObserveValidationDuration(duration time.Duration)
	IncRateLimited(kind string)

	// Accounts
	IncRegistration()
	IncLogin(outcome string)

	// Delivery
	IncNotification(status string)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
