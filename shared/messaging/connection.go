package messaging

import (
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connect подключается к RabbitMQ, повторяя попытки: брокер в docker-compose
// обычно поднимается позже сервисов.
func Connect(amqpURL string, maxAttempts int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	logger.Info("Attempting to connect to RabbitMQ",
		zap.String("url", MaskURL(amqpURL)),
		zap.Int("max_attempts", maxAttempts),
		zap.Duration("retry_delay", retryDelay),
	)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := amqp.Dial(amqpURL)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ", zap.Int("attempt", attempt))
			go func() {
				closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
				if closeErr != nil {
					logger.Error("RabbitMQ connection closed unexpectedly", zap.Error(closeErr))
				} else {
					logger.Info("RabbitMQ connection closed")
				}
			}()
			return conn, nil
		}
		lastErr = err
		logger.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		if attempt < maxAttempts {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxAttempts, lastErr)
}

// MaskURL скрывает пароль в amqp:// URL для логов.
func MaskURL(raw string) string {
	schemeEnd := strings.Index(raw, "://")
	at := strings.LastIndex(raw, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return raw
	}
	creds := raw[schemeEnd+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":********"
	}
	return raw[:schemeEnd+3] + creds + raw[at:]
}
