package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
)

var ErrInvalidToken = errors.New("invalid access token")

// Session holds the active access token and the identity it parsed into.
// Every consumer reads through it so a login or logout reaches all of them.
type Session struct {
	parser *Parser
	store  repositories.KeyValueStore

	mu       sync.RWMutex
	token    string
	identity entities.Identity
	onChange []func(entities.Identity)
}

// NewSession starts from a token that was already parsed into identity.
func NewSession(parser *Parser, store repositories.KeyValueStore, token string, identity entities.Identity) *Session {
	return &Session{
		parser:   parser,
		store:    store,
		token:    strings.TrimSpace(token),
		identity: identity,
	}
}

func (s *Session) Identity() entities.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Token only hands out tokens that parsed into an authenticated identity.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.identity.Authenticated {
		return ""
	}
	return s.token
}

// OnChange registers fn to run after every identity switch.
func (s *Session) OnChange(fn func(entities.Identity)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// SetToken switches to the identity token carries. An empty token logs out
// to the guest identity. A token that fails to parse leaves the session
// untouched.
func (s *Session) SetToken(ctx context.Context, token string) (entities.Identity, error) {
	token = strings.TrimSpace(token)
	identity, err := s.parser.ParseIdentity(token)
	if err != nil {
		return entities.Guest(), fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if s.store != nil {
		if token == "" {
			err = s.store.Delete(ctx, repositories.KeyAuthToken)
			if errors.Is(err, repositories.ErrNotFound) {
				err = nil
			}
		} else {
			err = s.store.Set(ctx, repositories.KeyAuthToken, token)
		}
		if err != nil {
			return entities.Guest(), fmt.Errorf("persist token: %w", err)
		}
	}

	s.mu.Lock()
	s.token = token
	s.identity = identity
	hooks := append(([]func(entities.Identity))(nil), s.onChange...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(identity)
	}
	return identity, nil
}
