package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer([]byte("secret"), time.Hour)

	token, expiresAt, err := issuer.Issue("user-1", "a@b.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiry should be in the future, got %s", expiresAt)
	}

	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if claims.Email != "a@b.com" {
		t.Errorf("Email = %q, want a@b.com", claims.Email)
	}
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	t.Parallel()

	token, _, err := NewTokenIssuer([]byte("secret"), time.Hour).Issue("user-1", "a@b.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = NewTokenIssuer([]byte("other"), time.Hour).Parse(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer([]byte("secret"), time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, _, err := issuer.Issue("user-1", "a@b.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = NewTokenIssuer([]byte("secret"), time.Minute).Parse(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenIssuer_Garbage(t *testing.T) {
	t.Parallel()

	_, err := NewTokenIssuer([]byte("secret"), time.Hour).Parse("not.a.token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestClaimsContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if ClaimsFromContext(ctx) != nil {
		t.Error("empty context should have no claims")
	}
	if EmailFromContext(ctx) != "" {
		t.Error("empty context should have no email")
	}

	ctx = ContextWithClaims(ctx, &Claims{Email: "a@b.com"})
	if EmailFromContext(ctx) != "a@b.com" {
		t.Errorf("EmailFromContext = %q, want a@b.com", EmailFromContext(ctx))
	}
}
