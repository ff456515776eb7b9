package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RetryConfig - сколько раз и с какой паузой пытаться подключиться к хранилищу.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

func (r RetryConfig) normalized() RetryConfig {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 1
	}
	if r.Delay <= 0 {
		r.Delay = 3 * time.Second
	}
	return r
}

// PoolConfig - параметры пула соединений PostgreSQL.
type PoolConfig struct {
	DSN         string
	MaxConns    int32
	MaxConnIdle time.Duration
}

// ConnectPostgres создает пул pgx и проверяет его пингом, повторяя попытки.
func ConnectPostgres(ctx context.Context, cfg PoolConfig, retry RetryConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	retry = retry.normalized()
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdle
	}

	logger.Info("Attempting to connect to PostgreSQL",
		zap.Int("max_attempts", retry.MaxAttempts),
		zap.Duration("retry_delay", retry.Delay),
	)

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				logger.Info("Successfully connected and pinged PostgreSQL", zap.Int("attempt", attempt))
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		logger.Warn("Postgres connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", retry.MaxAttempts),
			zap.Error(err),
		)
		if attempt < retry.MaxAttempts {
			if err := sleepContext(ctx, retry.Delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", retry.MaxAttempts, lastErr)
}

// ConnectRedis создает клиента Redis и ждет успешного PING.
func ConnectRedis(ctx context.Context, opts *redis.Options, retry RetryConfig, logger *zap.Logger) (*redis.Client, error) {
	retry = retry.normalized()
	logger.Info("Attempting to connect and ping Redis",
		zap.String("address", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("max_attempts", retry.MaxAttempts),
	)

	client := redis.NewClient(opts)
	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := client.Ping(pingCtx).Result()
		cancel()
		if err == nil {
			logger.Info("Successfully connected and pinged Redis", zap.Int("attempt", attempt))
			return client, nil
		}
		lastErr = err
		logger.Warn("Redis ping failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", retry.MaxAttempts),
			zap.Error(err),
		)
		if attempt < retry.MaxAttempts {
			if err := sleepContext(ctx, retry.Delay); err != nil {
				_ = client.Close()
				return nil, err
			}
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", retry.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
