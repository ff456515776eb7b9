package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"novel-workflow/internal/config"
	"novel-workflow/shared/database"
	sharedLogger "novel-workflow/shared/logger"
	"novel-workflow/shared/messaging"
)

// commandContext лениво поднимает конфиг, логгер и подключения для подкоманд.
type commandContext struct {
	verbose bool

	configOnce sync.Once
	config     *config.Config
	logger     *zap.Logger
	configErr  error

	pool   *pgxpool.Pool
	mqConn *amqp.Connection
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.LoadConfig()
		if err != nil {
			c.configErr = err
			return
		}
		logCfg := cfg.LoggerConfig("novelctl")
		logCfg.Encoding = "console"
		logCfg.OutputPath = "stderr"
		if c.verbose {
			logCfg.Level = "debug"
		} else if logCfg.Level == "info" {
			logCfg.Level = "warn"
		}
		logger, err := sharedLogger.New(logCfg)
		if err != nil {
			c.configErr = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// postgres открывает пул с одной попыткой подключения.
func (c *commandContext) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	pool, err := database.ConnectPostgres(ctx, database.PoolConfig{
		DSN:      c.config.GetDSN(),
		MaxConns: 2,
	}, database.RetryConfig{MaxAttempts: 1}, c.logger)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

func (c *commandContext) rabbitMQ() (*amqp.Connection, error) {
	if c.mqConn != nil {
		return c.mqConn, nil
	}
	conn, err := messaging.Connect(c.config.RabbitMQURL, 1, 0, c.logger)
	if err != nil {
		return nil, err
	}
	c.mqConn = conn
	return conn, nil
}

func (c *commandContext) close() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.mqConn != nil {
		_ = c.mqConn.Close()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}
