package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/userhub/userhub/internal/testutil"
)

// runStoreContract exercises behaviour every UserStore must share.
func runStoreContract(t *testing.T, store UserStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		user := testutil.NewTestUserWithHash(t, testutil.UniqueEmail("get"), "$argon2id$v=19$m=8,t=1,p=1$c2FsdA$aGFzaA")
		if err := store.InsertUser(ctx, user); err != nil {
			t.Fatalf("InsertUser failed: %v", err)
		}

		got, err := store.GetUser(ctx, user.Email)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.UserID != user.UserID {
			t.Errorf("UserID = %s, want %s", got.UserID, user.UserID)
		}
		if got.PasswordHash != user.PasswordHash {
			t.Errorf("PasswordHash = %q, want %q", got.PasswordHash, user.PasswordHash)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.GetUser(ctx, testutil.UniqueEmail("missing"))
		if !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("duplicate email keeps first record", func(t *testing.T) {
		email := testutil.UniqueEmail("dup")
		first := testutil.NewTestUser(t, email)
		second := testutil.NewTestUser(t, email)

		if err := store.InsertUser(ctx, first); err != nil {
			t.Fatalf("InsertUser (first) failed: %v", err)
		}
		if err := store.InsertUser(ctx, second); !errors.Is(err, ErrEmailExists) {
			t.Fatalf("expected ErrEmailExists, got %v", err)
		}

		got, err := store.GetUser(ctx, email)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.UserID != first.UserID {
			t.Errorf("record was overwritten: got %s, want %s", got.UserID, first.UserID)
		}
	})

	t.Run("concurrent inserts yield one winner", func(t *testing.T) {
		email := testutil.UniqueEmail("race")
		const workers = 16

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			conflicts atomic.Int32
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.InsertUser(ctx, testutil.NewTestUser(t, email))
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, ErrEmailExists):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if succeeded.Load() != 1 {
			t.Errorf("successes = %d, want 1", succeeded.Load())
		}
		if conflicts.Load() != workers-1 {
			t.Errorf("conflicts = %d, want %d", conflicts.Load(), workers-1)
		}
	})

	t.Run("update password hash", func(t *testing.T) {
		user := testutil.NewTestUser(t, testutil.UniqueEmail("update"))
		if err := store.InsertUser(ctx, user); err != nil {
			t.Fatalf("InsertUser failed: %v", err)
		}

		user.PasswordHash = "new-hash"
		if err := store.UpdateUser(ctx, user); err != nil {
			t.Fatalf("UpdateUser failed: %v", err)
		}

		got, err := store.GetUser(ctx, user.Email)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.PasswordHash != "new-hash" {
			t.Errorf("PasswordHash = %q, want %q", got.PasswordHash, "new-hash")
		}
	})

	t.Run("update missing", func(t *testing.T) {
		user := testutil.NewTestUser(t, testutil.UniqueEmail("ghost"))
		if err := store.UpdateUser(ctx, user); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("delete releases email", func(t *testing.T) {
		email := testutil.UniqueEmail("delete")
		if err := store.InsertUser(ctx, testutil.NewTestUser(t, email)); err != nil {
			t.Fatalf("InsertUser failed: %v", err)
		}
		if err := store.DeleteUser(ctx, email); err != nil {
			t.Fatalf("DeleteUser failed: %v", err)
		}
		if _, err := store.GetUser(ctx, email); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound after delete, got %v", err)
		}
		if err := store.DeleteUser(ctx, email); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound on second delete, got %v", err)
		}
		if err := store.InsertUser(ctx, testutil.NewTestUser(t, email)); err != nil {
			t.Fatalf("re-registering a deleted email failed: %v", err)
		}
	})

	t.Run("list respects limit and omits hashes", func(t *testing.T) {
		for range 3 {
			user := testutil.NewTestUserWithHash(t, testutil.UniqueEmail("list"), "secret-hash")
			if err := store.InsertUser(ctx, user); err != nil {
				t.Fatalf("InsertUser failed: %v", err)
			}
		}

		users, err := store.ListUsers(ctx, 2)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 2 {
			t.Fatalf("len(users) = %d, want 2", len(users))
		}
		for _, u := range users {
			if u.Email == "" {
				t.Error("listed user missing email")
			}
			if u.PasswordHash != "" {
				t.Errorf("listed user %s exposes a password hash", u.Email)
			}
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})
}
