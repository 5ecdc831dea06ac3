package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
)

const testSecret = "companion-secret"

func sign(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	token, err := SignToken(claims, secret, time.Hour)
	require.NoError(t, err)
	return token
}

func TestParser_ParseIdentity(t *testing.T) {
	balance := 12.5
	full := Claims{
		UserID:         "u-1",
		Username:       "mika",
		Email:          "mika@example.com",
		Roles:          []string{"member"},
		Plan:           "pro",
		CreditsBalance: &balance,
	}
	expired := Claims{UserID: "u-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}}
	expiredToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name     string
		secret   string
		token    string
		wantErr  error
		wantUser string
		wantAuth bool
	}{
		{name: "empty token is guest", token: "", wantUser: entities.GuestUserID},
		{name: "verified", secret: testSecret, token: sign(t, full, testSecret), wantUser: "u-1", wantAuth: true},
		{name: "unverified decode", token: sign(t, full, "some-other-key"), wantUser: "u-1", wantAuth: true},
		{name: "wrong secret", secret: testSecret, token: sign(t, full, "some-other-key"), wantErr: jwt.ErrTokenSignatureInvalid, wantUser: entities.GuestUserID},
		{name: "subject fallback", token: sign(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u-9"}}, testSecret), wantUser: "u-9", wantAuth: true},
		{name: "no user id", token: sign(t, Claims{Username: "nobody"}, testSecret), wantErr: ErrMissingUserID, wantUser: entities.GuestUserID},
		{name: "expired verified", secret: testSecret, token: expiredToken, wantErr: jwt.ErrTokenExpired, wantUser: entities.GuestUserID},
		{name: "expired unverified", token: expiredToken, wantErr: jwt.ErrTokenExpired, wantUser: entities.GuestUserID},
		{name: "garbage", token: "not.a.jwt", wantErr: jwt.ErrTokenMalformed, wantUser: entities.GuestUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewParser(tt.secret).ParseIdentity(tt.token)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantUser, id.RequestUserID())
			assert.Equal(t, tt.wantAuth, id.Authenticated)
		})
	}
}

func TestParser_CopiesClaims(t *testing.T) {
	balance := 3.0
	token := sign(t, Claims{UserID: "u-1", Username: "mika", Email: "m@example.com", Plan: "free", CreditsBalance: &balance}, testSecret)

	id, err := NewParser(testSecret).ParseIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, "mika", id.Username)
	assert.Equal(t, "m@example.com", id.Email)
	assert.Equal(t, "free", id.Plan)
	assert.Equal(t, []string{}, id.Roles)
	require.NotNil(t, id.CreditsBalance)
	assert.Equal(t, 3.0, *id.CreditsBalance)
	assert.Equal(t, token, id.Token)
	assert.False(t, id.ExpiresAt.IsZero())
	assert.NoError(t, id.Validate())
}

type mapStore map[string]string

func (m mapStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", repositories.ErrNotFound
	}
	return v, nil
}

func (m mapStore) Set(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m mapStore) Delete(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

func TestResolveToken(t *testing.T) {
	ctx := context.Background()
	stored := mapStore{repositories.KeyAuthToken: " stored-token\n"}

	tok, err := ResolveToken(ctx, "flag-token", stored)
	require.NoError(t, err)
	assert.Equal(t, "flag-token", tok)

	tok, err = ResolveToken(ctx, "  ", stored)
	require.NoError(t, err)
	assert.Equal(t, "stored-token", tok)

	tok, err = ResolveToken(ctx, "", mapStore{})
	require.NoError(t, err)
	assert.Empty(t, tok)

	tok, err = ResolveToken(ctx, "", nil)
	require.NoError(t, err)
	assert.Empty(t, tok)
}
