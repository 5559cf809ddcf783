package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncCheck is a no-op.
func (n *NoopRecorder) IncCheck(mode, outcome string) {}

// ObserveValidationDuration is a no-op.
func (n *NoopRecorder) ObserveValidationDuration(duration time.Duration) {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited(kind string) {}

// IncRegistration is a no-op.
func (n *NoopRecorder) IncRegistration() {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(outcome string) {}

// IncNotification is a no-op.
func (n *NoopRecorder) IncNotification(status string) {}
