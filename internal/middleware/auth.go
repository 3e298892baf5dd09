package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/userhub/userhub/internal/auth"
)

// TokenParser validates a bearer token and returns its claims.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Tokens TokenParser
}

// Auth returns a middleware that requires a valid bearer token.
// The parsed claims are injected into the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Tokens == nil {
				writeError(w, http.StatusNotImplemented, "TOKENS_DISABLED", "Token authentication is not configured")
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", "missing_token"),
					slog.String("ip", getClientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
				return
			}

			claims, err := cfg.Tokens.Parse(token)
			if err != nil {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", "invalid_token"),
					slog.String("ip", getClientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
				return
			}

			cfg.Logger.Debug("authentication successful",
				slog.String("user_id", claims.Subject),
				slog.String("email_hash", auth.QuickHash(claims.Email)),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="userhub"`)
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing token")
}
