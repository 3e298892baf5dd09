package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/handler/dto"
	"github.com/userhub/userhub/internal/service"
)

// TokenIssuer mints session tokens after a successful login.
type TokenIssuer interface {
	Issue(userID, email string) (string, time.Time, error)
}

// UserHandler handles HTTP requests for user operations.
type UserHandler struct {
	svc    *service.UserService
	tokens TokenIssuer
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler. A nil tokens disables token
// issuance; logins then return only the user.
func NewUserHandler(svc *service.UserService, tokens TokenIssuer, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		svc:    svc,
		tokens: tokens,
		logger: logger,
	}
}

// List handles GET /users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	users, err := h.svc.ListUsers(r.Context(), limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserList(users))
}

// Register handles POST /users.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	user, err := h.svc.CreateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("user_registered",
		"user_id", user.UserID.String(),
		"has_password", user.HasPassword(),
	)

	writeJSON(w, http.StatusCreated, user.ToResponse())
}

// Login handles POST /auth/login.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	user, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.logger.Warn("login_failed", "email_fp", emailFingerprint(req.Email))
		}
		h.handleServiceError(w, err)
		return
	}

	resp := dto.LoginResponse{User: user.ToResponse()}
	if h.tokens != nil {
		token, expiresAt, err := h.tokens.Issue(user.UserID.String(), user.Email)
		if err != nil {
			h.logger.Error("token_issue_failed", "user_id", user.UserID.String(), "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
			return
		}
		resp.Token = token
		resp.ExpiresAt = &expiresAt
	}

	h.logger.Info("login_succeeded", "user_id", user.UserID.String())
	writeJSON(w, http.StatusOK, resp)
}

// ChangePassword handles PUT /auth/password.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := h.svc.ChangePassword(r.Context(), req.Email, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.logger.Warn("password_change_denied", "email_fp", emailFingerprint(req.Email))
		}
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("password_changed", "email_fp", emailFingerprint(req.Email))
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /users/me. It requires the Auth middleware.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	user, err := h.svc.GetUser(r.Context(), claims.Email)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	// The address may have been deleted and registered again since the token was issued.
	if user.UserID.String() != claims.Subject {
		writeError(w, http.StatusUnauthorized, "TOKEN_STALE", "Token no longer matches this user")
		return
	}

	writeJSON(w, http.StatusOK, user.ToResponse())
}

// handleServiceError maps service errors to HTTP responses.
func (h *UserHandler) handleServiceError(w http.ResponseWriter, err error) {
	var invalidEmail *service.InvalidEmailError
	var malformed *service.MalformedCredentialError
	var storage *service.StorageUnavailableError

	switch {
	case errors.Is(err, service.ErrDuplicateUser):
		writeError(w, http.StatusConflict, "DUPLICATE_USER", "A user with this email already exists")
	case errors.As(err, &invalidEmail):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_EMAIL", invalidEmail.Message)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	case errors.Is(err, service.ErrEmptyPassword):
		writeError(w, http.StatusBadRequest, "EMPTY_PASSWORD", "New password must not be empty")
	case errors.As(err, &malformed):
		h.logger.Error("credential_corrupt",
			"email_fp", emailFingerprint(malformed.Email),
			"error", malformed.Err,
		)
		writeError(w, http.StatusInternalServerError, "CREDENTIAL_CORRUPT", "Stored credential is corrupt")
	case errors.As(err, &storage):
		h.logger.Error("storage_unavailable", "op", storage.Op, "error", storage.Err)
		writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage is temporarily unavailable")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// emailFingerprint identifies an address in logs without writing it out.
func emailFingerprint(email string) string {
	return auth.QuickHash(email)[:12]
}
