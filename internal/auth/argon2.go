// Package auth provides password hashing and session token utilities.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2 variants accepted in stored hashes.
const (
	variantID = "argon2id"
	variantI  = "argon2i"
)

var (
	// ErrInvalidHash indicates the hash format is invalid.
	ErrInvalidHash = errors.New("invalid hash format")
	// ErrIncompatibleVersion indicates the hash version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// Upper bounds accepted when decoding a stored hash. argon2 allocates the
// full memory cost up front, so an unbounded value read from storage could
// exhaust the process.
const (
	MaxMemoryKiB = 1 << 20 // 1 GiB
	MaxTime      = 64
	maxSaltLen   = 64
	maxKeyLen    = 128
)

// Params are the argon2 cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultParams are the OWASP 2024 recommended minimum for argon2id.
var DefaultParams = Params{
	Time:    3,
	Memory:  64 * 1024, // 64 MB
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

// Hasher produces and verifies argon2id hashes in PHC string format.
// It is safe for concurrent use.
type Hasher struct {
	params Params
}

// NewHasher creates a Hasher. Zero KeyLen or SaltLen fall back to the defaults.
func NewHasher(p Params) *Hasher {
	if p.KeyLen == 0 {
		p.KeyLen = DefaultParams.KeyLen
	}
	if p.SaltLen == 0 {
		p.SaltLen = DefaultParams.SaltLen
	}
	return &Hasher{params: p}
}

// Params returns the parameters used for new hashes.
func (h *Hasher) Params() Params {
	return h.params
}

// Hash creates an Argon2id hash of the given password.
// Every call uses a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		h.params.Time,
		h.params.Memory,
		h.params.Threads,
		h.params.KeyLen,
	)

	// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		variantID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify checks if the password matches the hash.
// A wrong password returns false with a nil error; only a malformed
// hash yields ErrInvalidHash or ErrIncompatibleVersion.
func (h *Hasher) Verify(encodedHash, password string) (bool, error) {
	d, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	var computed []byte
	switch d.variant {
	case variantID:
		computed = argon2.IDKey([]byte(password), d.salt, d.params.Time, d.params.Memory, d.params.Threads, d.params.KeyLen)
	case variantI:
		computed = argon2.Key([]byte(password), d.salt, d.params.Time, d.params.Memory, d.params.Threads, d.params.KeyLen)
	}

	// Constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(computed, d.key) == 1, nil
}

// NeedsRehash reports whether a stored hash was produced with different
// parameters (or variant) than the hasher currently uses.
// Malformed hashes report false; Verify surfaces those.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	d, err := decodeHash(encodedHash)
	if err != nil {
		return false
	}
	return d.variant != variantID ||
		d.params.Time != h.params.Time ||
		d.params.Memory != h.params.Memory ||
		d.params.Threads != h.params.Threads ||
		d.params.KeyLen != h.params.KeyLen ||
		d.params.SaltLen != h.params.SaltLen
}

type decodedHash struct {
	variant string
	params  Params
	salt    []byte
	key     []byte
}

func decodeHash(encodedHash string) (*decodedHash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrInvalidHash
	}

	if parts[1] != variantID && parts[1] != variantI {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, ErrIncompatibleVersion
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return nil, ErrInvalidHash
	}
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return nil, ErrInvalidHash
	}
	if p.Memory > MaxMemoryKiB || p.Time > MaxTime {
		return nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 || len(salt) > maxSaltLen {
		return nil, ErrInvalidHash
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > maxKeyLen {
		return nil, ErrInvalidHash
	}

	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))

	return &decodedHash{variant: parts[1], params: p, salt: salt, key: key}, nil
}

var defaultHasher = NewHasher(DefaultParams)

// HashPassword creates an Argon2id hash with DefaultParams.
func HashPassword(password string) (string, error) {
	return defaultHasher.Hash(password)
}

// VerifyPassword checks a password against a PHC-encoded argon2 hash.
func VerifyPassword(password, encodedHash string) (bool, error) {
	return defaultHasher.Verify(encodedHash, password)
}

// QuickHash returns a SHA256 fingerprint of the input.
// Used to correlate log lines without writing emails in plaintext.
// This is NOT for password storage.
func QuickHash(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16]) // Use first 16 bytes (32 hex chars)
}
