// Package service provides business logic for the application.
package service

import (
	"errors"
	"fmt"
)

// Service errors.
var (
	ErrDuplicateUser      = errors.New("a user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmptyPassword      = errors.New("password must not be empty")
)

// InvalidEmailError reports an address the validator rejected.
type InvalidEmailError struct {
	Email   string
	Message string
}

func (e *InvalidEmailError) Error() string {
	return fmt.Sprintf("invalid email %q: %s", e.Email, e.Message)
}

// MalformedCredentialError reports a stored password hash that cannot be parsed.
// It is distinct from a password mismatch.
type MalformedCredentialError struct {
	Email string
	Err   error
}

func (e *MalformedCredentialError) Error() string {
	return fmt.Sprintf("malformed credential for %s: %v", e.Email, e.Err)
}

func (e *MalformedCredentialError) Unwrap() error {
	return e.Err
}

// StorageUnavailableError wraps a failure of the backing store.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}
