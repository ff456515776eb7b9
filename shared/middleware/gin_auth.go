package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/shared/models"
)

// TokenVerifier проверяет строку токена и возвращает claims.
// Ошибки: models.ErrTokenInvalid, models.ErrTokenExpired, models.ErrTokenMalformed.
type TokenVerifier func(ctx context.Context, tokenString string) (*models.Claims, error)

// GinAuthMiddleware проверяет Bearer JWT и кладет UserID в gin.Context
// (ключ models.GinUserIDKey) и в context.Context запроса.
func GinAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("GinAuth")
	return func(c *gin.Context) {
		abort := func(status int, code, message string) {
			c.AbortWithStatusJSON(status, models.NewErrorResponse(code, message, RequestID(c)))
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warn("Authorization header missing", zap.String("path", c.Request.URL.Path))
			abort(http.StatusUnauthorized, models.ErrCodeUnauthorized, "Missing token")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			log.Warn("Malformed Authorization header")
			abort(http.StatusUnauthorized, models.ErrCodeUnauthorized, "Malformed token header")
			return
		}

		claims, err := verifier(c.Request.Context(), parts[1])
		if err != nil {
			switch {
			case errors.Is(err, models.ErrTokenExpired):
				abort(http.StatusUnauthorized, models.ErrCodeTokenExpired, "Token expired")
			case errors.Is(err, models.ErrTokenMalformed), errors.Is(err, models.ErrTokenInvalid):
				abort(http.StatusUnauthorized, models.ErrCodeUnauthorized, "Invalid token")
			default:
				log.Error("Unexpected token verification error", zap.Error(err))
				abort(http.StatusInternalServerError, models.ErrCodeInternal, "Internal server error")
			}
			return
		}

		userID := claims.EffectiveUserID()
		c.Set(models.GinUserIDKey, userID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), models.UserContextKey, userID))
		c.Next()
	}
}

// GenerateTestJWT подписывает HS256 токен для userID. Только для тестов и локальной отладки (novelctl token).
func GenerateTestJWT(userID, secretKey string, validity time.Duration) (string, error) {
	now := time.Now()
	claims := &models.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign test JWT: %w", err)
	}
	return token, nil
}
