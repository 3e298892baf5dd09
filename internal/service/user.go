package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/userhub/userhub/internal/email"
	"github.com/userhub/userhub/internal/idgen"
	"github.com/userhub/userhub/internal/metrics"
	"github.com/userhub/userhub/internal/model"
	"github.com/userhub/userhub/internal/repository"
)

// Listing bounds.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// EmailValidator checks and normalizes addresses.
type EmailValidator interface {
	Validate(ctx context.Context, address string) email.Result
}

// PasswordHasher produces and checks encoded password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
	NeedsRehash(encodedHash string) bool
}

// UserService handles registration and credential business logic.
type UserService struct {
	store     repository.UserStore
	validator EmailValidator
	hasher    PasswordHasher
	ids       idgen.Generator
	metrics   metrics.Recorder
}

// NewUserService creates a new UserService.
func NewUserService(store repository.UserStore, validator EmailValidator, hasher PasswordHasher, ids idgen.Generator, recorder metrics.Recorder) *UserService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &UserService{
		store:     store,
		validator: validator,
		hasher:    hasher,
		ids:       ids,
		metrics:   recorder,
	}
}

// CreateUser registers a new user. An empty password leaves the hash unset.
//
// Nothing is written until the address has been validated. The store's
// conditional insert decides races between concurrent registrations of the
// same address, so at most one of them succeeds.
func (s *UserService) CreateUser(ctx context.Context, address, password string) (*model.User, error) {
	trimmed := strings.TrimSpace(address)
	if !email.Plausible(trimmed) {
		return nil, s.rejectEmail(address, s.validator.Validate(ctx, address))
	}

	if _, err := s.store.GetUser(ctx, trimmed); err == nil {
		s.metrics.IncRegistrationRejected(metrics.ReasonDuplicate)
		return nil, ErrDuplicateUser
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, s.storageError("lookup", err)
	}

	result := s.validator.Validate(ctx, address)
	if !result.Valid {
		return nil, s.rejectEmail(address, result)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user id: %w", err)
	}

	user := &model.User{Email: result.Normalized, UserID: id}
	if password != "" {
		if user.PasswordHash, err = s.hash(password); err != nil {
			return nil, err
		}
	}

	if err := s.store.InsertUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			s.metrics.IncRegistrationRejected(metrics.ReasonDuplicate)
			return nil, ErrDuplicateUser
		}
		return nil, s.storageError("insert", err)
	}

	s.metrics.IncUserRegistered()
	return user, nil
}

// VerifyPassword checks password against the user's stored hash.
// A user without a password never verifies. A corrupt stored hash returns
// *MalformedCredentialError rather than false.
func (s *UserService) VerifyPassword(user *model.User, password string) (bool, error) {
	if !user.HasPassword() {
		return false, nil
	}

	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		return false, &MalformedCredentialError{Email: user.Email, Err: err}
	}
	return ok, nil
}

// SetPassword replaces the user's hash. The change is written to the store
// only when persist is true; otherwise call SaveUser later.
func (s *UserService) SetPassword(ctx context.Context, user *model.User, password string, persist bool) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash

	if persist {
		return s.SaveUser(ctx, user)
	}
	return nil
}

// SaveUser writes in-memory changes of an existing user to the store.
func (s *UserService) SaveUser(ctx context.Context, user *model.User) error {
	if err := s.store.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return s.storageError("update", err)
	}
	return nil
}

// Authenticate looks up a user and checks the password. Unknown addresses and
// wrong passwords both return ErrInvalidCredentials. Hashes made with outdated
// parameters are upgraded in place.
func (s *UserService) Authenticate(ctx context.Context, address, password string) (*model.User, error) {
	user, err := s.GetUser(ctx, address)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.metrics.IncLogin(metrics.LoginFailure)
			return nil, ErrInvalidCredentials
		}
		s.metrics.IncLogin(metrics.LoginError)
		return nil, err
	}

	ok, err := s.VerifyPassword(user, password)
	if err != nil {
		s.metrics.IncLogin(metrics.LoginError)
		return nil, err
	}
	if !ok {
		s.metrics.IncLogin(metrics.LoginFailure)
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		if err := s.SetPassword(ctx, user, password, true); err != nil {
			return nil, err
		}
		s.metrics.IncPasswordRehashed()
	}

	s.metrics.IncLogin(metrics.LoginSuccess)
	return user, nil
}

// ChangePassword verifies the current password and stores the new one.
func (s *UserService) ChangePassword(ctx context.Context, address, current, next string) error {
	if next == "" {
		return ErrEmptyPassword
	}

	user, err := s.Authenticate(ctx, address, current)
	if err != nil {
		return err
	}

	if err := s.SetPassword(ctx, user, next, true); err != nil {
		return err
	}

	s.metrics.IncPasswordChanged()
	return nil
}

// GetUser retrieves a user by email. Addresses that cannot be valid are
// reported as not found without a store round trip.
func (s *UserService) GetUser(ctx context.Context, address string) (*model.User, error) {
	if !email.Plausible(address) {
		return nil, ErrUserNotFound
	}

	user, err := s.store.GetUser(ctx, strings.TrimSpace(address))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, s.storageError("lookup", err)
	}
	return user, nil
}

// ListUsers returns up to limit users. Non-positive limits use DefaultListLimit
// and large ones are capped at MaxListLimit.
func (s *UserService) ListUsers(ctx context.Context, limit int) ([]*model.User, error) {
	users, err := s.store.ListUsers(ctx, ClampLimit(limit))
	if err != nil {
		return nil, s.storageError("list", err)
	}
	return users, nil
}

// DeleteUser removes a user. Administrative use only.
func (s *UserService) DeleteUser(ctx context.Context, address string) error {
	if !email.Plausible(address) {
		return ErrUserNotFound
	}
	if err := s.store.DeleteUser(ctx, strings.TrimSpace(address)); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return s.storageError("delete", err)
	}

	s.metrics.IncUserDeleted()
	return nil
}

// ClampLimit normalizes a requested page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

func (s *UserService) hash(password string) (string, error) {
	start := time.Now()
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	s.metrics.ObserveHashDuration(time.Since(start))
	return hash, nil
}

func (s *UserService) rejectEmail(address string, result email.Result) error {
	msg := result.Message
	if result.Valid || msg == "" {
		msg = "The email address is not valid."
	}
	s.metrics.IncRegistrationRejected(metrics.ReasonInvalidEmail)
	return &InvalidEmailError{Email: address, Message: msg}
}

func (s *UserService) storageError(op string, err error) error {
	s.metrics.IncStorageError()
	return &StorageUnavailableError{Op: op, Err: err}
}
