package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/moderation-engine/internal/model"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc := NewJWTService("0123456789abcdef0123456789abcdef", "moderation", time.Hour)
	actor := model.Actor{ID: uuid.New(), Name: "admin1", Role: model.UserRoleAdmin}

	token, err := svc.GenerateAccessToken(actor)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestJWT_RejectsForeignSecretAndIssuer(t *testing.T) {
	actor := model.Actor{ID: uuid.New(), Role: model.UserRoleMember}
	token, err := NewJWTService("other-secret-other-secret-other!", "moderation", time.Hour).GenerateAccessToken(actor)
	require.NoError(t, err)

	_, err = NewJWTService("0123456789abcdef0123456789abcdef", "moderation", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err = NewJWTService("0123456789abcdef0123456789abcdef", "elsewhere", time.Hour).GenerateAccessToken(actor)
	require.NoError(t, err)
	_, err = NewJWTService("0123456789abcdef0123456789abcdef", "moderation", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_Expired(t *testing.T) {
	svc := NewJWTService("0123456789abcdef0123456789abcdef", "moderation", time.Minute).(*jwtService)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := svc.GenerateAccessToken(model.Actor{ID: uuid.New()})
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_Empty(t *testing.T) {
	_, err := NewJWTService("s", "i", 0).ValidateToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
