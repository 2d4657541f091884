// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens, and issuer checks

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mustVerifier(t *testing.T, secret string) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier([]byte(secret))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := mustVerifier(t, "test-secret-key-for-jwt-signing")

	token, err := verifier.Generate("lab-tablet", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != "lab-tablet" {
		t.Errorf("Verify() = %q, want %q", got, "lab-tablet")
	}
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	if _, err := NewJWTVerifier(nil); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("NewJWTVerifier(nil) error = %v, want ErrEmptySecret", err)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := mustVerifier(t, "test-secret-key-for-jwt-signing")

	signed := func(secret string, claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return token
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{
			name: "wrong secret",
			token: func() string {
				other := mustVerifier(t, "different-secret")
				token, _ := other.Generate("lab-tablet", time.Hour)
				return token
			}(),
		},
		{
			name:  "missing sub",
			token: signed("test-secret-key-for-jwt-signing", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
		},
		{
			name: "foreign issuer",
			token: signed("test-secret-key-for-jwt-signing", jwt.MapClaims{
				"iss": "someone-else",
				"sub": "x",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := mustVerifier(t, "test-secret-key-for-jwt-signing")

	token, err := verifier.Generate("lab-tablet", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want it to also match ErrInvalidToken", err)
	}
}

func TestJWTVerifier_ZeroTTLHasNoExpiry(t *testing.T) {
	verifier := mustVerifier(t, "test-secret-key-for-jwt-signing")

	token, err := verifier.Generate("bench-rig", 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("ParseUnverified() error = %v", err)
	}
	if _, ok := claims["exp"]; ok {
		t.Errorf("token carries exp claim %v, want none", claims["exp"])
	}

	sub, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if sub != "bench-rig" {
		t.Errorf("Verify() = %q, want %q", sub, "bench-rig")
	}
}
