package testutil

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/userhub/userhub/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ============================================================================
// Test Data Factories
// ============================================================================

var emailSeq atomic.Int64

// UniqueEmail generates an address that is unique across test runs.
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d-%d@example.org", prefix, time.Now().UnixNano(), emailSeq.Add(1))
}

// NewTestUser creates a user with a fresh time-based id and no password.
func NewTestUser(t testing.TB, email string) *model.User {
	t.Helper()
	id, err := uuid.NewUUID()
	if err != nil {
		t.Fatalf("generate user id: %v", err)
	}
	return &model.User{Email: email, UserID: id}
}

// NewTestUserWithHash creates a user carrying the given password hash.
func NewTestUserWithHash(t testing.TB, email, hash string) *model.User {
	t.Helper()
	user := NewTestUser(t, email)
	user.PasswordHash = hash
	return user
}
