// Package model defines domain entities for the application.
package model

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// User is a registered account.
// Email is the partition key and UserID the clustering key of the users table.
type User struct {
	Email        string    `json:"email"`
	UserID       uuid.UUID `json:"user_id"`
	PasswordHash string    `json:"-"` // Never serialize
}

// HasPassword reports whether a credential has been set.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// String implements fmt.Stringer. The password hash is never included.
func (u *User) String() string {
	return fmt.Sprintf("User(email=%s, user_id=%s)", u.Email, u.UserID)
}

// LogValue implements slog.LogValuer so users can be logged directly.
func (u *User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("email", u.Email),
		slog.String("user_id", u.UserID.String()),
		slog.Bool("has_password", u.HasPassword()),
	)
}

// UserResponse is the public projection of a user.
type UserResponse struct {
	Email  string `json:"email"`
	UserID string `json:"user_id"`
}

// ToResponse converts a User to UserResponse.
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		Email:  u.Email,
		UserID: u.UserID.String(),
	}
}
