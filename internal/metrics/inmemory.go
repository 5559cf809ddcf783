package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// CheckKey labels a check counter.
type CheckKey struct {
	Mode    string
	Outcome string
}

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Checks                    map[CheckKey]uint64
	RateLimited               map[string]uint64
	Notifications             map[string]uint64
	Logins                    map[string]uint64
	Registrations             uint64
	ValidationDurationCount   uint64
	ValidationDurationTotalNs int64
}

// InMemoryRecorder keeps counters in memory. /metrics renders its snapshot.
type InMemoryRecorder struct {
	mu            sync.Mutex
	checks        map[CheckKey]uint64
	rateLimited   map[string]uint64
	notifications map[string]uint64
	logins        map[string]uint64

	registrations             uint64
	validationDurationCount   uint64
	validationDurationTotalNs int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		checks:        make(map[CheckKey]uint64),
		rateLimited:   make(map[string]uint64),
		notifications: make(map[string]uint64),
		logins:        make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Checks:                    copyMap(m.checks),
		RateLimited:               copyMap(m.rateLimited),
		Notifications:             copyMap(m.notifications),
		Logins:                    copyMap(m.logins),
		Registrations:             atomic.LoadUint64(&m.registrations),
		ValidationDurationCount:   atomic.LoadUint64(&m.validationDurationCount),
		ValidationDurationTotalNs: atomic.LoadInt64(&m.validationDurationTotalNs),
	}
}

// IncCheck counts one validated number.
func (m *InMemoryRecorder) IncCheck(mode, outcome string) {
	m.mu.Lock()
	m.checks[CheckKey{Mode: mode, Outcome: outcome}]++
	m.mu.Unlock()
}

// ObserveValidationDuration records one validator call.
func (m *InMemoryRecorder) ObserveValidationDuration(duration time.Duration) {
	atomic.AddUint64(&m.validationDurationCount, 1)
	atomic.AddInt64(&m.validationDurationTotalNs, duration.Nanoseconds())
}

// IncRateLimited counts a rejected request.
func (m *InMemoryRecorder) IncRateLimited(kind string) {
	m.mu.Lock()
	m.rateLimited[kind]++
	m.mu.Unlock()
}

// IncRegistration counts a new account.
func (m *InMemoryRecorder) IncRegistration() {
	atomic.AddUint64(&m.registrations, 1)
}

// IncLogin counts a login attempt by outcome.
func (m *InMemoryRecorder) IncLogin(outcome string) {
	m.mu.Lock()
	m.logins[outcome]++
	m.mu.Unlock()
}

// IncNotification counts a delivery attempt by status.
func (m *InMemoryRecorder) IncNotification(status string) {
	m.mu.Lock()
	m.notifications[status]++
	m.mu.Unlock()
}

func copyMap[K comparable](src map[K]uint64) map[K]uint64 {
	dst := make(map[K]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
