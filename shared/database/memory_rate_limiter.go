package database

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
)

var _ interfaces.RateLimiter = (*MemoryRateLimiter)(nil)

// MemoryRateLimiter хранит token bucket на каждый ключ в go-cache.
// Работает только внутри одного процесса: для локального запуска, CLI и тестов.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters *cache.Cache
	limit    int
	window   time.Duration
	logger   *zap.Logger
}

// NewMemoryRateLimiter создает лимитер на limit попыток за window.
// Неиспользуемые корзины вычищаются через два окна.
func NewMemoryRateLimiter(limit int, window time.Duration, logger *zap.Logger) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limiters: cache.New(2*window, window),
		limit:    limit,
		window:   window,
		logger:   logger.Named("MemoryRateLimiter"),
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var limiter *rate.Limiter
	if v, ok := l.limiters.Get(key); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)
	}
	// Продлеваем жизнь корзины при каждом обращении.
	l.limiters.SetDefault(key, limiter)

	if !limiter.Allow() {
		l.logger.Info("Rate limit exceeded", zap.String("key", key), zap.Int("limit", l.limit))
		return false, nil
	}
	return true, nil
}
