package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// Generated password constraints.
const (
	MinGeneratedPasswordLen     = 12
	DefaultGeneratedPasswordLen = 20
)

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789-_.!"

// ErrPasswordTooShort indicates a generated password length below the minimum.
var ErrPasswordTooShort = errors.New("generated password too short")

// GeneratedPassword contains a newly generated credential.
type GeneratedPassword struct {
	Plaintext string // Show once only
	Hash      string // Argon2id hash for storage
}

// GeneratePassword creates a random password of the given length and hashes it.
// Look-alike characters (0/O, 1/l/I) are excluded.
func GeneratePassword(h *Hasher, length int) (*GeneratedPassword, error) {
	if length < MinGeneratedPasswordLen {
		return nil, ErrPasswordTooShort
	}

	buf := make([]byte, length)
	limit := big.NewInt(int64(len(passwordAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, fmt.Errorf("generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	plaintext := string(buf)

	hash, err := h.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return &GeneratedPassword{Plaintext: plaintext, Hash: hash}, nil
}
