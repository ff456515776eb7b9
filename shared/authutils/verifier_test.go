package authutils

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-workflow/shared/models"
)

const testSecret = "test-jwt-secret"

func sign(t *testing.T, secret string, claims models.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifyToken(t *testing.T) {
	v, err := NewJWTVerifier(testSecret, "", nil)
	require.NoError(t, err)
	ctx := context.Background()
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	t.Run("user_id claim", func(t *testing.T) {
		claims, err := v.VerifyToken(ctx, sign(t, testSecret, models.Claims{
			UserID:           "user-1",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future},
		}))
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.EffectiveUserID())
	})

	t.Run("subject fallback", func(t *testing.T) {
		claims, err := v.VerifyToken(ctx, sign(t, testSecret, models.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-2", ExpiresAt: future},
		}))
		require.NoError(t, err)
		assert.Equal(t, "user-2", claims.EffectiveUserID())
	})

	t.Run("expired", func(t *testing.T) {
		_, err := v.VerifyToken(ctx, sign(t, testSecret, models.Claims{
			UserID:           "user-1",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		}))
		assert.ErrorIs(t, err, models.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.VerifyToken(ctx, sign(t, "other", models.Claims{UserID: "user-1"}))
		assert.ErrorIs(t, err, models.ErrTokenInvalid)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := v.VerifyToken(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, models.ErrTokenMalformed)
	})

	t.Run("no identity", func(t *testing.T) {
		_, err := v.VerifyToken(ctx, sign(t, testSecret, models.Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future},
		}))
		assert.ErrorIs(t, err, models.ErrTokenInvalid)
	})
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := NewJWTVerifier("", "", nil)
	assert.Error(t, err)
}
