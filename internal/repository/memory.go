package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/userhub/userhub/internal/model"
)

// MemoryStore is an in-process UserStore for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]model.User
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]model.User)}
}

// GetUser returns a copy of the stored user.
func (s *MemoryStore) GetUser(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// InsertUser stores the user unless the email is taken.
func (s *MemoryStore) InsertUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Email]; exists {
		return ErrEmailExists
	}
	s.users[user.Email] = *user
	return nil
}

// UpdateUser replaces the password hash of an existing user.
func (s *MemoryStore) UpdateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.Email]
	if !ok || existing.UserID != user.UserID {
		return ErrUserNotFound
	}
	existing.PasswordHash = user.PasswordHash
	s.users[user.Email] = existing
	return nil
}

// DeleteUser removes a user.
func (s *MemoryStore) DeleteUser(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[email]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, email)
	return nil
}

// ListUsers returns up to limit users ordered by email, without password hashes.
func (s *MemoryStore) ListUsers(ctx context.Context, limit int) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, &model.User{Email: u.Email, UserID: u.UserID})
	}
	slices.SortFunc(users, func(a, b *model.User) int {
		return cmp.Compare(a.Email, b.Email)
	})

	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// Len returns the number of stored users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// SyncSchema is a no-op.
func (s *MemoryStore) SyncSchema(ctx context.Context) error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
