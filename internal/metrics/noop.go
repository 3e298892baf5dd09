package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncUserRegistered is a no-op.
func (n *NoopRecorder) IncUserRegistered() {}

// IncRegistrationRejected is a no-op.
func (n *NoopRecorder) IncRegistrationRejected(reason string) {}

// IncUserDeleted is a no-op.
func (n *NoopRecorder) IncUserDeleted() {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(status string) {}

// IncPasswordChanged is a no-op.
func (n *NoopRecorder) IncPasswordChanged() {}

// IncPasswordRehashed is a no-op.
func (n *NoopRecorder) IncPasswordRehashed() {}

// ObserveHashDuration is a no-op.
func (n *NoopRecorder) ObserveHashDuration(duration time.Duration) {}

// IncStorageError is a no-op.
func (n *NoopRecorder) IncStorageError() {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited() {}
