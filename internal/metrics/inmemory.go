package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	UsersRegistered           uint64
	RegistrationsDuplicate    uint64
	RegistrationsInvalidEmail uint64
	UsersDeleted              uint64
	LoginsSucceeded           uint64
	LoginsFailed              uint64
	LoginsErrored             uint64
	PasswordsChanged          uint64
	PasswordsRehashed         uint64
	HashDurationCount         uint64
	HashDurationTotalNs       int64
	StorageErrors             uint64
	RateLimited               uint64
}

// InMemoryRecorder stores metrics in memory. It backs /metrics and tests.
type InMemoryRecorder struct {
	usersRegistered           atomic.Uint64
	registrationsDuplicate    atomic.Uint64
	registrationsInvalidEmail atomic.Uint64
	usersDeleted              atomic.Uint64
	loginsSucceeded           atomic.Uint64
	loginsFailed              atomic.Uint64
	loginsErrored             atomic.Uint64
	passwordsChanged          atomic.Uint64
	passwordsRehashed         atomic.Uint64
	hashDurationCount         atomic.Uint64
	hashDurationTotalNs       atomic.Int64
	storageErrors             atomic.Uint64
	rateLimited               atomic.Uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		UsersRegistered:           m.usersRegistered.Load(),
		RegistrationsDuplicate:    m.registrationsDuplicate.Load(),
		RegistrationsInvalidEmail: m.registrationsInvalidEmail.Load(),
		UsersDeleted:              m.usersDeleted.Load(),
		LoginsSucceeded:           m.loginsSucceeded.Load(),
		LoginsFailed:              m.loginsFailed.Load(),
		LoginsErrored:             m.loginsErrored.Load(),
		PasswordsChanged:          m.passwordsChanged.Load(),
		PasswordsRehashed:         m.passwordsRehashed.Load(),
		HashDurationCount:         m.hashDurationCount.Load(),
		HashDurationTotalNs:       m.hashDurationTotalNs.Load(),
		StorageErrors:             m.storageErrors.Load(),
		RateLimited:               m.rateLimited.Load(),
	}
}

// IncUserRegistered increments the registration counter.
func (m *InMemoryRecorder) IncUserRegistered() {
	m.usersRegistered.Add(1)
}

// IncRegistrationRejected increments the rejection counter for reason.
func (m *InMemoryRecorder) IncRegistrationRejected(reason string) {
	switch reason {
	case ReasonDuplicate:
		m.registrationsDuplicate.Add(1)
	case ReasonInvalidEmail:
		m.registrationsInvalidEmail.Add(1)
	}
}

// IncUserDeleted increments the deletion counter.
func (m *InMemoryRecorder) IncUserDeleted() {
	m.usersDeleted.Add(1)
}

// IncLogin increments the login counter for status.
func (m *InMemoryRecorder) IncLogin(status string) {
	switch status {
	case LoginSuccess:
		m.loginsSucceeded.Add(1)
	case LoginFailure:
		m.loginsFailed.Add(1)
	case LoginError:
		m.loginsErrored.Add(1)
	}
}

// IncPasswordChanged increments the password change counter.
func (m *InMemoryRecorder) IncPasswordChanged() {
	m.passwordsChanged.Add(1)
}

// IncPasswordRehashed increments the rehash-on-login counter.
func (m *InMemoryRecorder) IncPasswordRehashed() {
	m.passwordsRehashed.Add(1)
}

// ObserveHashDuration records how long one password hash took.
func (m *InMemoryRecorder) ObserveHashDuration(duration time.Duration) {
	m.hashDurationCount.Add(1)
	m.hashDurationTotalNs.Add(duration.Nanoseconds())
}

// IncStorageError increments the storage failure counter.
func (m *InMemoryRecorder) IncStorageError() {
	m.storageErrors.Add(1)
}

// IncRateLimited increments the rejected-by-rate-limit counter.
func (m *InMemoryRecorder) IncRateLimited() {
	m.rateLimited.Add(1)
}
