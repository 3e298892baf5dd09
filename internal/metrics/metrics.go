// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Registration rejection reasons.
const (
	ReasonDuplicate    = "duplicate"
	ReasonInvalidEmail = "invalid_email"
)

// Login outcomes.
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
	LoginError   = "error"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Registration metrics
	IncUserRegistered()
	IncRegistrationRejected(reason string) // reason: "duplicate" or "invalid_email"
	IncUserDeleted()

	// Credential metrics
	IncLogin(status string) // status: "success", "failure", "error"
	IncPasswordChanged()
	IncPasswordRehashed()
	ObserveHashDuration(duration time.Duration)

	// Infrastructure
	IncStorageError()
	IncRateLimited()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
