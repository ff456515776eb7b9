package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
)

const rateLimitKeyPrefix = "workflow:start:"

var _ interfaces.RateLimiter = (*redisRateLimiter)(nil)

// redisRateLimiter - фиксированное окно на INCR+EXPIRE.
// Счетчик общий для всех экземпляров API, поэтому лимит соблюдается при горизонтальном масштабировании.
type redisRateLimiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
	logger *zap.Logger
}

// NewRedisRateLimiter создает лимитер: не более limit попыток на ключ за window.
func NewRedisRateLimiter(client redis.UniversalClient, limit int, window time.Duration, logger *zap.Logger) interfaces.RateLimiter {
	return &redisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		logger: logger.Named("RedisRateLimiter"),
	}
}

// Allow увеличивает счетчик окна и проверяет лимит.
// EXPIRE NX ставит TTL только первому инкременту окна, так что окно не продлевается.
func (l *redisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rateLimitKeyPrefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error("Failed to increment rate limit counter", zap.String("key", redisKey), zap.Error(err))
		return false, fmt.Errorf("rate limiter unavailable: %w", err)
	}

	count := incr.Val()
	if count > l.limit {
		l.logger.Info("Rate limit exceeded",
			zap.String("key", redisKey),
			zap.Int64("count", count),
			zap.Int64("limit", l.limit),
		)
		return false, nil
	}
	return true, nil
}
