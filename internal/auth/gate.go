// ABOUTME: Auth gate deciding whether a connection's token is accepted
// ABOUTME: Supports plain shared secret, bcrypt-hashed secret, and HS256 JWT modes

package auth

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/ble-gateway/internal/config"
)

// Verifier checks a presented token and returns the principal it identifies.
// Shared-secret modes return an empty principal.
type Verifier interface {
	Verify(token string) (string, error)
}

// SecretVerifier compares tokens against a shared secret in constant time.
type SecretVerifier struct {
	secret []byte
}

func (v *SecretVerifier) Verify(token string) (string, error) {
	if subtle.ConstantTimeCompare([]byte(token), v.secret) != 1 {
		return "", ErrInvalidToken
	}
	return "", nil
}

// BcryptVerifier accepts tokens matching a bcrypt hash of the secret.
type BcryptVerifier struct {
	hash []byte
}

// NewBcryptVerifier validates hash before use.
func NewBcryptVerifier(hash string) (*BcryptVerifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("auth.secret is not a bcrypt hash: %w", err)
	}
	return &BcryptVerifier{hash: []byte(hash)}, nil
}

func (v *BcryptVerifier) Verify(token string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return "", ErrInvalidToken
	}
	return "", nil
}

// Gate holds the configured verifier. A Gate without a verifier admits everyone.
type Gate struct {
	verifier Verifier
	mode     string
}

// NewGate builds the gate for the given mode and secret.
// An empty secret disables authentication regardless of mode.
func NewGate(mode, secret string) (*Gate, error) {
	if secret == "" {
		return &Gate{mode: mode}, nil
	}

	switch mode {
	case "", config.AuthModeSecret:
		return &Gate{verifier: &SecretVerifier{secret: []byte(secret)}, mode: config.AuthModeSecret}, nil
	case config.AuthModeBcrypt:
		v, err := NewBcryptVerifier(secret)
		if err != nil {
			return nil, err
		}
		return &Gate{verifier: v, mode: mode}, nil
	case config.AuthModeJWT:
		v, err := NewJWTVerifier([]byte(secret))
		if err != nil {
			return nil, err
		}
		return &Gate{verifier: v, mode: mode}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// Required reports whether connections must authenticate.
func (g *Gate) Required() bool {
	return g.verifier != nil
}

// Mode returns the configured auth mode.
func (g *Gate) Mode() string {
	return g.mode
}

// Verify checks token. It always succeeds when authentication is disabled.
func (g *Gate) Verify(token string) (string, error) {
	if g.verifier == nil {
		return "", nil
	}
	return g.verifier.Verify(token)
}
