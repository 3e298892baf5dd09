package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/userhub/userhub/internal/model"
	"github.com/userhub/userhub/internal/repository/migrations"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresStore is a UserStore backed by PostgreSQL through database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a connection pool with the named driver ("pgx" or "postgres").
func OpenPostgres(ctx context.Context, driverName, dsn string) (*PostgresStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStore(db), nil
}

// GetUser retrieves a user by email.
func (s *PostgresStore) GetUser(ctx context.Context, email string) (*model.User, error) {
	query := `
		SELECT email, user_id, password_hash
		FROM users
		WHERE email = $1
	`

	var (
		user model.User
		hash sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, email).Scan(&user.Email, &user.UserID, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.PasswordHash = hash.String

	return &user, nil
}

// InsertUser inserts a user. The primary key on email rejects duplicates.
func (s *PostgresStore) InsertUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (email, user_id, password_hash)
		VALUES ($1, $2, $3)
	`

	_, err := s.db.ExecContext(ctx, query, user.Email, user.UserID, nullString(user.PasswordHash))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// UpdateUser overwrites the password hash.
func (s *PostgresStore) UpdateUser(ctx context.Context, user *model.User) error {
	query := `
		UPDATE users
		SET password_hash = $1
		WHERE email = $2 AND user_id = $3
	`

	result, err := s.db.ExecContext(ctx, query, nullString(user.PasswordHash), user.Email, user.UserID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return requireAffected(result)
}

// DeleteUser removes a user by email.
func (s *PostgresStore) DeleteUser(ctx context.Context, email string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return requireAffected(result)
}

// ListUsers returns up to limit users. Password hashes are not selected.
func (s *PostgresStore) ListUsers(ctx context.Context, limit int) ([]*model.User, error) {
	query := `
		SELECT email, user_id
		FROM users
		ORDER BY email
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		var user model.User
		if err := rows.Scan(&user.Email, &user.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// SyncSchema applies the embedded goose migrations.
func (s *PostgresStore) SyncSchema(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation reports a unique_violation from either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}

	return false
}
