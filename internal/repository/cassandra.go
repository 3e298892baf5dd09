package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/userhub/userhub/internal/model"
)

// Users table. The partition is the email, so every conditional write on a
// given address is serialized by a single Paxos round. registered_id is a
// static column that stays null until the first registration claims the
// partition.
const createUsersTable = `
	CREATE TABLE IF NOT EXISTS users (
		email         text,
		user_id       uuid,
		registered_id uuid static,
		password_hash text,
		PRIMARY KEY ((email), user_id)
	)`

const (
	claimEmailCQL = `UPDATE users SET registered_id = ? WHERE email = ? IF registered_id = null`
	insertUserCQL = `INSERT INTO users (email, user_id, password_hash) VALUES (?, ?, ?)`
	selectUserCQL = `SELECT email, user_id, password_hash FROM users WHERE email = ? LIMIT 1`
	updateUserCQL = `UPDATE users SET password_hash = ? WHERE email = ? AND user_id = ? IF EXISTS`
	deleteUserCQL = `DELETE FROM users WHERE email = ?`
	listUsersCQL  = `SELECT email, user_id FROM users LIMIT ?`
	pingCQL       = `SELECT release_version FROM system.local`
)

// CassandraOptions configures a CassandraStore.
type CassandraOptions struct {
	Hosts        []string
	Port         int
	Keyspace     string
	ClientID     string
	ClientSecret string
	Consistency  string
	Timeout      time.Duration

	// TLS material from the Astra secure connect bundle. Empty disables TLS.
	CAPath   string
	CertPath string
	KeyPath  string
}

// CassandraStore is a UserStore backed by Cassandra or DataStax Astra.
type CassandraStore struct {
	session *gocql.Session
}

// NewCassandraStore opens a session against the configured cluster.
func NewCassandraStore(opts CassandraOptions) (*CassandraStore, error) {
	cluster, err := newClusterConfig(opts)
	if err != nil {
		return nil, err
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraStore{session: session}, nil
}

func newClusterConfig(opts CassandraOptions) (*gocql.ClusterConfig, error) {
	if len(opts.Hosts) == 0 {
		return nil, errors.New("no cassandra hosts configured")
	}

	consistency, err := gocql.ParseConsistencyWrapper(opts.Consistency)
	if err != nil {
		return nil, fmt.Errorf("invalid consistency %q: %w", opts.Consistency, err)
	}

	cluster := gocql.NewCluster(opts.Hosts...)
	cluster.Keyspace = opts.Keyspace
	cluster.Consistency = consistency
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: opts.ClientID,
		Password: opts.ClientSecret,
	}
	if opts.Port > 0 {
		cluster.Port = opts.Port
	}
	if opts.Timeout > 0 {
		cluster.Timeout = opts.Timeout
		cluster.ConnectTimeout = opts.Timeout
	}
	if opts.CAPath != "" || opts.CertPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 opts.CAPath,
			CertPath:               opts.CertPath,
			KeyPath:                opts.KeyPath,
			EnableHostVerification: true,
		}
	}

	return cluster, nil
}

// GetUser retrieves a user by email.
func (s *CassandraStore) GetUser(ctx context.Context, email string) (*model.User, error) {
	var (
		user model.User
		id   gocql.UUID
	)
	err := s.session.Query(selectUserCQL, email).WithContext(ctx).Scan(&user.Email, &id, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.UserID = uuid.UUID(id)

	return &user, nil
}

// InsertUser claims the email partition and writes the row in one
// conditional batch. If the partition is already claimed nothing is written.
func (s *CassandraStore) InsertUser(ctx context.Context, user *model.User) error {
	id := gocql.UUID(user.UserID)

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(claimEmailCQL, id, user.Email)
	batch.Query(insertUserCQL, user.Email, id, user.PasswordHash)

	applied, iter, err := s.session.MapExecuteBatchCAS(batch, map[string]interface{}{})
	if iter != nil {
		iter.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	if !applied {
		return ErrEmailExists
	}

	return nil
}

// UpdateUser overwrites the password hash of an existing row.
func (s *CassandraStore) UpdateUser(ctx context.Context, user *model.User) error {
	applied, err := s.session.Query(updateUserCQL, user.PasswordHash, user.Email, gocql.UUID(user.UserID)).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if !applied {
		return ErrUserNotFound
	}

	return nil
}

// DeleteUser removes the whole email partition, releasing the address.
func (s *CassandraStore) DeleteUser(ctx context.Context, email string) error {
	if _, err := s.GetUser(ctx, email); err != nil {
		return err
	}

	if err := s.session.Query(deleteUserCQL, email).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return nil
}

// ListUsers returns up to limit users in token order. Password hashes are not selected.
func (s *CassandraStore) ListUsers(ctx context.Context, limit int) ([]*model.User, error) {
	iter := s.session.Query(listUsersCQL, limit).WithContext(ctx).Iter()
	scanner := iter.Scanner()

	var users []*model.User
	for scanner.Next() {
		var (
			email string
			id    gocql.UUID
		)
		if err := scanner.Scan(&email, &id); err != nil {
			iter.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		// A claimed partition without a row carries only the static column.
		if id == (gocql.UUID{}) {
			continue
		}
		users = append(users, &model.User{Email: email, UserID: uuid.UUID(id)})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, nil
}

// SyncSchema creates the users table in the session keyspace.
func (s *CassandraStore) SyncSchema(ctx context.Context) error {
	if err := s.session.Query(createUsersTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

// Ping checks cluster connectivity.
func (s *CassandraStore) Ping(ctx context.Context) error {
	if s.session.Closed() {
		return errors.New("cassandra session closed")
	}
	return s.session.Query(pingCQL).WithContext(ctx).Exec()
}

// Close releases the session.
func (s *CassandraStore) Close() error {
	s.session.Close()
	return nil
}
