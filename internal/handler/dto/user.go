// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/userhub/userhub/internal/model"
)

// RegisterRequest represents the request body for creating a user.
// An empty password registers the user without a credential.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// LoginRequest represents the request body for authenticating.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned after a successful login.
// Token is omitted when token issuance is disabled.
type LoginResponse struct {
	User      model.UserResponse `json:"user"`
	Token     string             `json:"token,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

// ChangePasswordRequest represents the request body for replacing a password.
type ChangePasswordRequest struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToUserList projects users to their public form.
func ToUserList(users []*model.User) []model.UserResponse {
	out := make([]model.UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, u.ToResponse())
	}
	return out
}
