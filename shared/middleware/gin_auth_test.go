package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-workflow/shared/authutils"
	"novel-workflow/shared/models"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := authutils.NewJWTVerifier("secret", "", zap.NewNop())
	require.NoError(t, err)

	r := gin.New()
	r.Use(RequestIDMiddleware(), ZapLoggingMiddlewareForGin(zap.NewNop()))
	r.GET("/me", GinAuthMiddleware(verifier.VerifyToken, zap.NewNop()), func(c *gin.Context) {
		ctxUser, _ := models.GetUserIDFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"user":      c.GetString(models.GinUserIDKey),
			"ctxUser":   ctxUser,
			"requestId": models.GetCorrelationIDFromContext(c.Request.Context()),
		})
	})
	return r
}

func TestGinAuthMiddleware(t *testing.T) {
	r := newTestRouter(t)

	t.Run("valid token", func(t *testing.T) {
		token, err := GenerateTestJWT("user-42", "secret", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(RequestIDHeader, "req-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "user-42", body["user"])
		assert.Equal(t, "user-42", body["ctxUser"])
		assert.Equal(t, "req-1", body["requestId"])
	})

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", models.ErrCodeUnauthorized},
		{"not bearer", "Basic abc", models.ErrCodeUnauthorized},
		{"garbage token", "Bearer abc", models.ErrCodeUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusUnauthorized, w.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp.Code)
			assert.NotEmpty(t, resp.RequestID, "request id is generated when absent")
		})
	}

	t.Run("expired token", func(t *testing.T) {
		token, err := GenerateTestJWT("user-42", "secret", -time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, models.ErrCodeTokenExpired, resp.Code)
	})
}
