// Package repository provides the user storage layer.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/userhub/userhub/internal/config"
	"github.com/userhub/userhub/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already exists")
)

// UserStore persists users keyed by email.
//
// InsertUser is a conditional insert: when a record with the same email
// already exists the store leaves it untouched and returns ErrEmailExists.
// Implementations must make that check atomic with the write.
type UserStore interface {
	GetUser(ctx context.Context, email string) (*model.User, error)
	InsertUser(ctx context.Context, user *model.User) error
	UpdateUser(ctx context.Context, user *model.User) error
	DeleteUser(ctx context.Context, email string) error
	ListUsers(ctx context.Context, limit int) ([]*model.User, error)

	// SyncSchema creates the users table if it does not exist.
	SyncSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the backend selected by cfg.StorageDriver.
func Open(ctx context.Context, cfg *config.Config) (UserStore, error) {
	switch cfg.StorageDriver {
	case config.DriverCassandra:
		store, err := NewCassandraStore(CassandraOptions{
			Hosts:        cfg.CassandraHosts,
			Port:         cfg.CassandraPort,
			Keyspace:     cfg.Keyspace,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Consistency:  cfg.CassandraConsistency,
			Timeout:      cfg.CassandraTimeout,
			CAPath:       cfg.CassandraCAPath,
			CertPath:     cfg.CassandraCertPath,
			KeyPath:      cfg.CassandraKeyPath,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		store, err := OpenPostgres(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
