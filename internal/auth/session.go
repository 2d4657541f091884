// ABOUTME: Per-connection authentication state
// ABOUTME: Once authenticated a session stays authenticated for its lifetime

package auth

import (
	"sync"
)

// Session tracks whether one connection has authenticated, and as whom.
type Session struct {
	gate *Gate

	mu            sync.RWMutex
	authenticated bool
	principal     string
}

// NewSession starts authenticated when the gate requires no token.
func NewSession(gate *Gate) *Session {
	return &Session{
		gate:          gate,
		authenticated: !gate.Required(),
	}
}

// Authenticated reports the current state.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Principal returns the identity recorded at authentication, if any.
func (s *Session) Principal() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal
}

// Authenticate verifies token. A failed attempt leaves the session unchanged,
// so the client may retry. A session that is already authenticated stays so.
func (s *Session) Authenticate(token string) (string, error) {
	principal, err := s.gate.Verify(token)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	if principal != "" {
		s.principal = principal
	}
	return s.principal, nil
}
