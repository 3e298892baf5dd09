package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"

	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/email"
	"github.com/userhub/userhub/internal/idgen"
	"github.com/userhub/userhub/internal/metrics"
	"github.com/userhub/userhub/internal/model"
	"github.com/userhub/userhub/internal/repository"
)

var testParams = auth.Params{Time: 1, Memory: 8 * 1024, Threads: 1}

type testEnv struct {
	svc     *UserService
	store   *repository.MemoryStore
	metrics *metrics.InMemoryRecorder
	hasher  *auth.Hasher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	return newTestEnvWithStore(t, store, store)
}

func newTestEnvWithStore(t *testing.T, store repository.UserStore, mem *repository.MemoryStore) *testEnv {
	t.Helper()
	ids, err := idgen.New(idgen.SchemeUUIDv1)
	if err != nil {
		t.Fatalf("idgen.New failed: %v", err)
	}
	rec := metrics.NewInMemory()
	hasher := auth.NewHasher(testParams)
	return &testEnv{
		svc:     NewUserService(store, email.New(email.WithDeliverability(false)), hasher, ids, rec),
		store:   mem,
		metrics: rec,
		hasher:  hasher,
	}
}

// racyStore hides existing users from GetUser so that duplicates reach InsertUser.
type racyStore struct {
	*repository.MemoryStore
}

func (r racyStore) GetUser(ctx context.Context, address string) (*model.User, error) {
	return nil, repository.ErrUserNotFound
}

// failingStore fails every operation.
type failingStore struct {
	repository.UserStore
	err error
}

func (f failingStore) GetUser(ctx context.Context, address string) (*model.User, error) {
	return nil, f.err
}

func (f failingStore) InsertUser(ctx context.Context, user *model.User) error { return f.err }

func (f failingStore) UpdateUser(ctx context.Context, user *model.User) error { return f.err }

func (f failingStore) ListUsers(ctx context.Context, limit int) ([]*model.User, error) {
	return nil, f.err
}

func TestCreateUser_DistinctEmails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u1, err := env.svc.CreateUser(ctx, "alice@example.org", "pw1")
	if err != nil {
		t.Fatalf("CreateUser(alice) failed: %v", err)
	}
	u2, err := env.svc.CreateUser(ctx, "bob@example.org", "pw2")
	if err != nil {
		t.Fatalf("CreateUser(bob) failed: %v", err)
	}

	if u1.UserID == u2.UserID {
		t.Error("distinct users share a user_id")
	}
	if env.store.Len() != 2 {
		t.Errorf("store has %d users, want 2", env.store.Len())
	}
	if got := env.metrics.Snapshot().UsersRegistered; got != 2 {
		t.Errorf("UsersRegistered = %d, want 2", got)
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.CreateUser(ctx, "a@b.com", "pw1")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	_, err = env.svc.CreateUser(ctx, "a@b.com", "pw2")
	if !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
	if env.store.Len() != 1 {
		t.Fatalf("store has %d users, want 1", env.store.Len())
	}

	stored, err := env.svc.GetUser(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if diff := cmp.Diff(first, stored); diff != "" {
		t.Errorf("stored user changed (-first +stored):\n%s", diff)
	}

	ok, err := env.svc.VerifyPassword(stored, "pw1")
	if err != nil || !ok {
		t.Errorf("original password should still verify: ok=%v err=%v", ok, err)
	}
	ok, err = env.svc.VerifyPassword(stored, "wrong")
	if err != nil || ok {
		t.Errorf("wrong password should not verify: ok=%v err=%v", ok, err)
	}
	if got := env.metrics.Snapshot().RegistrationsDuplicate; got != 1 {
		t.Errorf("RegistrationsDuplicate = %d, want 1", got)
	}
}

func TestCreateUser_DuplicateAfterNormalization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.CreateUser(ctx, "a@example.org", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	// Lookup misses on the raw form; the conditional insert catches it.
	_, err := env.svc.CreateUser(ctx, "a@EXAMPLE.org", "")
	if !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}

func TestCreateUser_InvalidEmail(t *testing.T) {
	tests := []string{"not-an-email", "test@test", "", "a@@b.com"}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.svc.CreateUser(context.Background(), input, "pw")

			var invalid *InvalidEmailError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected *InvalidEmailError, got %v", err)
			}
			if invalid.Email != input {
				t.Errorf("Email = %q, want %q", invalid.Email, input)
			}
			if invalid.Message == "" {
				t.Error("Message should explain the problem")
			}
			if env.store.Len() != 0 {
				t.Errorf("store has %d users, want 0", env.store.Len())
			}
		})
	}
}

func TestCreateUser_NormalizesEmail(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.svc.CreateUser(context.Background(), "  Jane.Doe@Example.ORG ", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.Email != "Jane.Doe@example.org" {
		t.Errorf("Email = %q, want %q", user.Email, "Jane.Doe@example.org")
	}
}

func TestCreateUser_PasswordHandling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	withPassword, err := env.svc.CreateUser(ctx, "with@example.org", "s3cret")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if !strings.HasPrefix(withPassword.PasswordHash, "$argon2id$") {
		t.Errorf("hash not in PHC format: %q", withPassword.PasswordHash)
	}
	if strings.Contains(withPassword.PasswordHash, "s3cret") {
		t.Error("hash contains the plaintext password")
	}

	withoutPassword, err := env.svc.CreateUser(ctx, "without@example.org", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if withoutPassword.HasPassword() {
		t.Error("empty password should leave the hash unset")
	}

	ok, err := env.svc.VerifyPassword(withoutPassword, "")
	if err != nil || ok {
		t.Errorf("user without password must not verify: ok=%v err=%v", ok, err)
	}
}

func TestCreateUser_ConcurrentSameEmail(t *testing.T) {
	mem := repository.NewMemoryStore()
	env := newTestEnvWithStore(t, racyStore{mem}, mem)

	const workers = 20
	var (
		wg         sync.WaitGroup
		successes  atomic.Int32
		duplicates atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CreateUser(context.Background(), "race@example.org", "pw")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrDuplicateUser):
				duplicates.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successes = %d, want 1", successes.Load())
	}
	if duplicates.Load() != workers-1 {
		t.Errorf("duplicates = %d, want %d", duplicates.Load(), workers-1)
	}
	if mem.Len() != 1 {
		t.Errorf("store has %d users, want 1", mem.Len())
	}
}

func TestCreateUser_StorageUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	env := newTestEnvWithStore(t, failingStore{err: boom}, nil)

	_, err := env.svc.CreateUser(context.Background(), "a@b.com", "pw")

	var storageErr *StorageUnavailableError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *StorageUnavailableError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("storage error should wrap the driver error")
	}
	if got := env.metrics.Snapshot().StorageErrors; got != 1 {
		t.Errorf("StorageErrors = %d, want 1", got)
	}
}

// keyCheckingStore rejects keys Cassandra refuses as partition keys.
type keyCheckingStore struct {
	*repository.MemoryStore
}

var errBadKey = errors.New("key may not be empty")

func (k keyCheckingStore) GetUser(ctx context.Context, address string) (*model.User, error) {
	if address == "" || len(address) > 65535 {
		return nil, errBadKey
	}
	return k.MemoryStore.GetUser(ctx, address)
}

func (k keyCheckingStore) DeleteUser(ctx context.Context, address string) error {
	if address == "" || len(address) > 65535 {
		return errBadKey
	}
	return k.MemoryStore.DeleteUser(ctx, address)
}

func TestUnusableKeysNeverReachStore(t *testing.T) {
	mem := repository.NewMemoryStore()
	env := newTestEnvWithStore(t, keyCheckingStore{mem}, mem)
	ctx := context.Background()

	inputs := map[string]string{
		"empty":      "",
		"whitespace": "   ",
		"oversized":  strings.Repeat("a", 70*1024) + "@b.com",
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.CreateUser(ctx, input, "pw")
			var invalid *InvalidEmailError
			if !errors.As(err, &invalid) {
				t.Fatalf("CreateUser: expected *InvalidEmailError, got %v", err)
			}
			if invalid.Message == "" {
				t.Error("Message should explain the problem")
			}

			if _, err := env.svc.Authenticate(ctx, input, "pw"); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Authenticate: expected ErrInvalidCredentials, got %v", err)
			}
			if _, err := env.svc.GetUser(ctx, input); !errors.Is(err, ErrUserNotFound) {
				t.Errorf("GetUser: expected ErrUserNotFound, got %v", err)
			}
			if err := env.svc.DeleteUser(ctx, input); !errors.Is(err, ErrUserNotFound) {
				t.Errorf("DeleteUser: expected ErrUserNotFound, got %v", err)
			}
			if err := env.svc.ChangePassword(ctx, input, "pw", "new"); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("ChangePassword: expected ErrInvalidCredentials, got %v", err)
			}
		})
	}

	if got := env.metrics.Snapshot().StorageErrors; got != 0 {
		t.Errorf("StorageErrors = %d, want 0", got)
	}
}

func TestHashTwiceDiffersAndBothVerify(t *testing.T) {
	env := newTestEnv(t)

	h1, err := env.hasher.Hash("pw")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := env.hasher.Hash("pw")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if h1 == h2 {
		t.Fatal("hashes of the same password should differ")
	}

	for _, h := range []string{h1, h2} {
		ok, err := env.svc.VerifyPassword(&model.User{Email: "a@b.com", PasswordHash: h}, "pw")
		if err != nil || !ok {
			t.Errorf("hash %q should verify: ok=%v err=%v", h, ok, err)
		}
	}
}

func TestVerifyPassword_Malformed(t *testing.T) {
	tests := map[string]string{
		"not a phc string": "not-a-phc-string",
		"huge memory cost": "$argon2id$v=19$m=4294967295,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5",
		"huge time cost":   "$argon2id$v=19$m=8192,t=4294967295,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5",
	}

	env := newTestEnv(t)
	for name, hash := range tests {
		t.Run(name, func(t *testing.T) {
			user := &model.User{Email: "a@b.com", PasswordHash: hash}

			ok, err := env.svc.VerifyPassword(user, "pw")
			if ok {
				t.Fatal("malformed hash must not verify")
			}

			var malformed *MalformedCredentialError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected *MalformedCredentialError, got %v", err)
			}
			if !errors.Is(err, auth.ErrInvalidHash) {
				t.Errorf("expected wrapped auth.ErrInvalidHash, got %v", err)
			}
		})
	}
}

func TestSetPassword_PersistFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.svc.CreateUser(ctx, "a@b.com", "old")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := env.svc.SetPassword(ctx, user, "staged", false); err != nil {
		t.Fatalf("SetPassword(persist=false) failed: %v", err)
	}
	if ok, _ := env.svc.VerifyPassword(user, "staged"); !ok {
		t.Error("in-memory user should carry the new hash")
	}
	stored, _ := env.svc.GetUser(ctx, "a@b.com")
	if ok, _ := env.svc.VerifyPassword(stored, "old"); !ok {
		t.Error("stored hash should be unchanged without persist")
	}

	if err := env.svc.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	stored, _ = env.svc.GetUser(ctx, "a@b.com")
	if ok, _ := env.svc.VerifyPassword(stored, "staged"); !ok {
		t.Error("SaveUser should write the staged hash")
	}

	if err := env.svc.SetPassword(ctx, user, "final", true); err != nil {
		t.Fatalf("SetPassword(persist=true) failed: %v", err)
	}
	stored, _ = env.svc.GetUser(ctx, "a@b.com")
	if ok, _ := env.svc.VerifyPassword(stored, "final"); !ok {
		t.Error("persisted password should verify from the store")
	}
}

func TestSaveUser_Missing(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.SaveUser(context.Background(), &model.User{Email: "ghost@b.com"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.CreateUser(ctx, "a@b.com", "pw"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := env.svc.CreateUser(ctx, "nopw@b.com", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"correct", "a@b.com", "pw", nil},
		{"wrong password", "a@b.com", "nope", ErrInvalidCredentials},
		{"unknown email", "ghost@b.com", "pw", ErrInvalidCredentials},
		{"no password set", "nopw@b.com", "", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := env.svc.Authenticate(ctx, tt.email, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && user.Email != tt.email {
				t.Errorf("Email = %q, want %q", user.Email, tt.email)
			}
		})
	}

	snap := env.metrics.Snapshot()
	if snap.LoginsSucceeded != 1 || snap.LoginsFailed != 3 {
		t.Errorf("logins = %d ok / %d failed, want 1 / 3", snap.LoginsSucceeded, snap.LoginsFailed)
	}
}

func TestAuthenticate_RehashesOutdatedHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	weak := auth.NewHasher(auth.Params{Time: 1, Memory: 4 * 1024, Threads: 1})
	oldHash, err := weak.Hash("pw")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	user := &model.User{Email: "a@b.com", UserID: mustID(t), PasswordHash: oldHash}
	if err := env.store.InsertUser(ctx, user); err != nil {
		t.Fatalf("InsertUser failed: %v", err)
	}

	if _, err := env.svc.Authenticate(ctx, "a@b.com", "pw"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	stored, _ := env.svc.GetUser(ctx, "a@b.com")
	if stored.PasswordHash == oldHash {
		t.Fatal("outdated hash should have been replaced")
	}
	if env.hasher.NeedsRehash(stored.PasswordHash) {
		t.Error("new hash should use current parameters")
	}
	if got := env.metrics.Snapshot().PasswordsRehashed; got != 1 {
		t.Errorf("PasswordsRehashed = %d, want 1", got)
	}
}

func TestAuthenticate_MalformedHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := &model.User{Email: "a@b.com", UserID: mustID(t), PasswordHash: "$argon2id$v=19$garbage"}
	if err := env.store.InsertUser(ctx, user); err != nil {
		t.Fatalf("InsertUser failed: %v", err)
	}

	_, err := env.svc.Authenticate(ctx, "a@b.com", "pw")
	var malformed *MalformedCredentialError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedCredentialError, got %v", err)
	}
	if got := env.metrics.Snapshot().LoginsErrored; got != 1 {
		t.Errorf("LoginsErrored = %d, want 1", got)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.CreateUser(ctx, "a@b.com", "old"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := env.svc.ChangePassword(ctx, "a@b.com", "wrong", "new"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.svc.ChangePassword(ctx, "a@b.com", "old", ""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if err := env.svc.ChangePassword(ctx, "a@b.com", "old", "new"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := env.svc.Authenticate(ctx, "a@b.com", "new"); err != nil {
		t.Errorf("new password should authenticate: %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, "a@b.com", "old"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password should be rejected, got %v", err)
	}
	if got := env.metrics.Snapshot().PasswordsChanged; got != 1 {
		t.Errorf("PasswordsChanged = %d, want 1", got)
	}
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, addr := range []string{"c@b.com", "a@b.com", "b@b.com"} {
		if _, err := env.svc.CreateUser(ctx, addr, "pw"); err != nil {
			t.Fatalf("CreateUser(%s) failed: %v", addr, err)
		}
	}

	users, err := env.svc.ListUsers(ctx, 2)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}

	got := make([]string, 0, len(users))
	for _, u := range users {
		got = append(got, u.Email)
		if u.HasPassword() {
			t.Errorf("listing exposes hash for %s", u.Email)
		}
	}
	if diff := cmp.Diff([]string{"a@b.com", "b@b.com"}, got); diff != "" {
		t.Errorf("ListUsers emails mismatch (-want +got):\n%s", diff)
	}
}

func TestListUsers_StorageError(t *testing.T) {
	env := newTestEnvWithStore(t, failingStore{err: errors.New("timeout")}, nil)

	_, err := env.svc.ListUsers(context.Background(), 10)
	var storageErr *StorageUnavailableError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *StorageUnavailableError, got %v", err)
	}
	if storageErr.Op != "list" {
		t.Errorf("Op = %q, want list", storageErr.Op)
	}
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.CreateUser(ctx, "a@b.com", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := env.svc.DeleteUser(ctx, "a@b.com"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if err := env.svc.DeleteUser(ctx, "a@b.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := env.svc.CreateUser(ctx, "a@b.com", ""); err != nil {
		t.Fatalf("re-registering deleted email failed: %v", err)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, DefaultListLimit},
		{0, DefaultListLimit},
		{1, 1},
		{50, 50},
		{MaxListLimit, MaxListLimit},
		{MaxListLimit + 1, MaxListLimit},
	}

	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestScenario_RegisterDuplicateVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.svc.CreateUser(ctx, "a@b.com", "pw1")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := env.svc.CreateUser(ctx, "a@b.com", "pw2"); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}

	if ok, _ := env.svc.VerifyPassword(user, "pw1"); !ok {
		t.Error("pw1 should verify")
	}
	if ok, _ := env.svc.VerifyPassword(user, "wrong"); ok {
		t.Error("wrong should not verify")
	}

	users, err := env.svc.ListUsers(ctx, 0)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	want := []model.UserResponse{user.ToResponse()}
	got := make([]model.UserResponse, 0, len(users))
	for _, u := range users {
		got = append(got, u.ToResponse())
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
}

func mustID(t *testing.T) uuid.UUID {
	t.Helper()
	gen, _ := idgen.New(idgen.SchemeUUIDv7)
	id, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	return id
}
