package auth

import (
	"context"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// claimsContextKey is the context key for storing token Claims.
	claimsContextKey contextKey = "auth_claims"
)

// ContextWithClaims adds Claims to the context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext retrieves Claims from the context.
// Returns nil if not present.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// EmailFromContext is a convenience function to get the caller's email.
// Returns empty string if not authenticated.
func EmailFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Email
}
