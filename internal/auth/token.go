package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
)

var ErrMissingUserID = errors.New("token carries no user id")

// Claims are the claims the companion server puts in its access tokens.
type Claims struct {
	UserID         string   `json:"user_id,omitempty"`
	Username       string   `json:"username,omitempty"`
	Email          string   `json:"email,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	Plan           string   `json:"plan,omitempty"`
	CreditsBalance *float64 `json:"credits_balance,omitempty"`
	jwt.RegisteredClaims
}

// Parser turns access tokens into identities. With a secret it verifies the
// HMAC signature; without one the token is only decoded and the server stays
// the authority.
type Parser struct {
	secret []byte
	now    func() time.Time
}

func NewParser(secret string) *Parser {
	p := &Parser{now: time.Now}
	if secret != "" {
		p.secret = []byte(secret)
	}
	return p
}

// ParseIdentity returns the guest identity for an empty token.
func (p *Parser) ParseIdentity(tokenString string) (entities.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return entities.Guest(), nil
	}

	claims := &Claims{}
	if p.secret != nil {
		_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return p.secret, nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithTimeFunc(p.now))
		if err != nil {
			return entities.Guest(), fmt.Errorf("verify token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
			return entities.Guest(), fmt.Errorf("decode token: %w", err)
		}
		if claims.ExpiresAt != nil && !p.now().Before(claims.ExpiresAt.Time) {
			return entities.Guest(), jwt.ErrTokenExpired
		}
	}

	id := entities.Identity{
		UserID:         claims.UserID,
		Username:       claims.Username,
		Email:          claims.Email,
		Roles:          claims.Roles,
		Plan:           claims.Plan,
		CreditsBalance: claims.CreditsBalance,
		Authenticated:  true,
		Token:          tokenString,
	}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if id.UserID == "" {
		return entities.Guest(), ErrMissingUserID
	}
	if id.Roles == nil {
		id.Roles = []string{}
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// ResolveToken prefers the explicitly configured token and falls back to the
// one persisted in the store.
func ResolveToken(ctx context.Context, explicit string, store repositories.KeyValueStore) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	if store == nil {
		return "", nil
	}
	token, err := store.Get(ctx, repositories.KeyAuthToken)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read stored token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

// SignToken issues an HS256 token for claims. It backs local tooling and tests.
func SignToken(claims Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
