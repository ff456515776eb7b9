package models

import "context"

// contextKey - приватный тип для ключей контекста, чтобы избежать коллизий.
type contextKey string

const (
	// UserContextKey используется как ключ для хранения UserID в контексте запроса.
	UserContextKey contextKey = "userID"
	// CorrelationIDContextKey хранит X-Request-ID текущего HTTP запроса.
	CorrelationIDContextKey contextKey = "correlationID"
)

// GinUserIDKey - ключ, под которым auth middleware кладет UserID в gin.Context.
const GinUserIDKey = "user_id"

// GetUserIDFromContext извлекает UserID из контекста.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserContextKey).(string)
	return userID, ok && userID != ""
}

// WithCorrelationID возвращает контекст с идентификатором корреляции.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDContextKey, id)
}

// GetCorrelationIDFromContext извлекает X-Request-ID, если он был установлен.
func GetCorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDContextKey).(string)
	return id
}
