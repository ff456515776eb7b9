package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/shared/models"
)

const (
	// RequestIDHeader - заголовок корреляции запроса.
	RequestIDHeader = "X-Request-ID"
	// GinRequestIDKey - ключ request id в gin.Context.
	GinRequestIDKey = "request_id"
)

// RequestIDMiddleware берет X-Request-ID из запроса или генерирует новый,
// возвращает его в ответе и кладет в gin.Context и context.Context запроса.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set(GinRequestIDKey, requestID)
		c.Request = c.Request.WithContext(models.WithCorrelationID(c.Request.Context(), requestID))
		c.Next()
	}
}

// RequestID возвращает request id текущего запроса (пусто, если middleware не подключен).
func RequestID(c *gin.Context) string {
	return c.GetString(GinRequestIDKey)
}

// ZapLoggingMiddlewareForGin логирует запросы через zap. /health и /metrics не логируются.
func ZapLoggingMiddlewareForGin(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		if path == "/health" || path == "/metrics" {
			c.Next()
			return
		}

		c.Next()

		if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
			path = path + "?" + rawQuery
		}

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("request_id", RequestID(c)),
		}
		if userID := c.GetString(models.GinUserIDKey); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}

		if len(c.Errors) > 0 {
			for _, ginErr := range c.Errors.ByType(gin.ErrorTypeAny) {
				log.Error("Request error", append(fields, zap.Error(ginErr.Err))...)
			}
			return
		}

		status := c.Writer.Status()
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("Server error", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("Client error", fields...)
		default:
			log.Info("Request completed", fields...)
		}
	}
}
