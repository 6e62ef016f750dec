// Package session carries the authenticated state every component of the
// client core is constructed with: the verified account identity, the auth
// token source and, once unlocked, the account-bound local secret.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

// TokenSource supplies the auth token produced by the external identity
// provider. Refresh is called at most once after an unauthorized response.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Session is the explicit auth context. It is safe for concurrent use.
type Session struct {
	scope  models.Scope
	tokens TokenSource

	mu     sync.RWMutex
	secret []byte
}

// New returns a session for the given account.
func New(scope models.Scope, tokens TokenSource) *Session {
	return &Session{scope: scope, tokens: tokens}
}

// Scope returns the account scope used to key cached rows.
func (s *Session) Scope() models.Scope {
	return s.scope
}

// Tokens returns the token source of the session.
func (s *Session) Tokens() TokenSource {
	if s == nil {
		return nil
	}
	return s.tokens
}

// Token returns the current auth token. A session without a token source or
// with an empty token fails with common.ErrPrecondition.
func (s *Session) Token(ctx context.Context) (string, error) {
	if s == nil || s.tokens == nil {
		return "", fmt.Errorf("%w: no auth token source", common.ErrPrecondition)
	}
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", fmt.Errorf("%w: empty auth token", common.ErrPrecondition)
	}
	return tok, nil
}

// Authenticated reports whether the session has an account.
func (s *Session) Authenticated() bool {
	return s != nil && !s.scope.IsZero()
}

// SetSecret stores the unlocked account secret. The slice is copied.
func (s *Session) SetSecret(secret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	common.WipeByteArray(s.secret)
	s.secret = append([]byte(nil), secret...)
}

// Secret returns a copy of the account secret, or common.ErrPrecondition if
// the session was never unlocked.
func (s *Session) Secret() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.secret) == 0 {
		return nil, fmt.Errorf("%w: account secret is locked", common.ErrPrecondition)
	}
	return append([]byte(nil), s.secret...), nil
}

// Lock wipes the account secret from memory.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	common.WipeByteArray(s.secret)
	s.secret = nil
}
