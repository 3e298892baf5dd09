// Package idgen generates time-ordered 128-bit user identifiers.
//
// All schemes embed a timestamp so ids minted concurrently on different
// nodes do not collide and sort roughly by creation time.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Supported schemes.
const (
	SchemeUUIDv1 = "uuidv1" // RFC 4122 time-based (Cassandra timeuuid)
	SchemeUUIDv7 = "uuidv7" // RFC 9562 Unix-epoch time-ordered
	SchemeULID   = "ulid"   // 48-bit ms timestamp + 80-bit entropy
)

// Generator produces new identifiers.
type Generator interface {
	NewID() (uuid.UUID, error)
}

// Func adapts a function to the Generator interface.
type Func func() (uuid.UUID, error)

// NewID calls f.
func (f Func) NewID() (uuid.UUID, error) {
	return f()
}

// New returns the Generator for a scheme name.
func New(scheme string) (Generator, error) {
	switch scheme {
	case SchemeUUIDv1, "":
		return Func(uuid.NewUUID), nil
	case SchemeUUIDv7:
		return Func(uuid.NewV7), nil
	case SchemeULID:
		return Func(newULID), nil
	default:
		return nil, fmt.Errorf("unknown id scheme %q", scheme)
	}
}

// newULID returns a monotonic ULID reinterpreted as a UUID.
// Both are 16 raw bytes, so the value round-trips through uuid columns unchanged.
func newULID() (uuid.UUID, error) {
	return uuid.UUID(ulid.Make()), nil
}
