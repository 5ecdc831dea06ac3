package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/domain/repositories"
)

func TestSession_SetToken(t *testing.T) {
	ctx := context.Background()
	store := mapStore{}
	s := NewSession(NewParser(testSecret), store, "", entities.Guest())
	assert.Empty(t, s.Token())

	var seen []entities.Identity
	s.OnChange(func(id entities.Identity) { seen = append(seen, id) })

	token := sign(t, Claims{UserID: "u-1", Username: "mika"}, testSecret)
	id, err := s.SetToken(ctx, " "+token+"\n")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.True(t, s.Identity().Authenticated)
	assert.Equal(t, token, s.Token())
	assert.Equal(t, token, store[repositories.KeyAuthToken])
	require.Len(t, seen, 1)
	assert.Equal(t, "u-1", seen[0].UserID)

	_, err = s.SetToken(ctx, sign(t, Claims{UserID: "u-2"}, "some-other-key"))
	assert.True(t, errors.Is(err, ErrInvalidToken))
	assert.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
	assert.Equal(t, "u-1", s.Identity().UserID, "a rejected token keeps the current identity")
	assert.Equal(t, token, store[repositories.KeyAuthToken])
	assert.Len(t, seen, 1)

	id, err = s.SetToken(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, entities.GuestUserID, id.UserID)
	assert.Empty(t, s.Token())
	assert.NotContains(t, store, repositories.KeyAuthToken)
	assert.Len(t, seen, 2)
}

func TestSession_TokenRequiresAuthentication(t *testing.T) {
	s := NewSession(NewParser(""), nil, "rejected-token", entities.Guest())
	assert.Empty(t, s.Token())
	assert.Equal(t, entities.GuestUserID, s.Identity().UserID)
}
