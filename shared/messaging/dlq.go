package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeadLetter - сообщение из DLQ маршрута в удобном для оператора виде.
type DeadLetter struct {
	MessageID  string
	DetailType DetailType
	Source     Source
	Timestamp  time.Time
	// Reason - причина из заголовка x-death: rejected, expired или delivery_limit.
	Reason     string
	DeathCount int64
	Body       []byte
}

// PeekDeadLetters читает до limit сообщений из DLQ маршрута и возвращает их
// обратно в очередь без изменений.
func PeekDeadLetters(ch *amqp.Channel, route string, limit int) ([]DeadLetter, error) {
	queue := DeadLetterQueueName(route)
	var (
		letters []DeadLetter
		last    uint64
	)
	for len(letters) < limit {
		msg, ok, err := ch.Get(queue, false)
		if err != nil {
			return nil, fmt.Errorf("failed to read '%s': %w", queue, err)
		}
		if !ok {
			break
		}
		last = msg.DeliveryTag
		letters = append(letters, toDeadLetter(msg))
	}
	if last > 0 {
		if err := ch.Nack(last, true, true); err != nil {
			return nil, fmt.Errorf("failed to return messages to '%s': %w", queue, err)
		}
	}
	return letters, nil
}

// ReplayDeadLetters переносит до limit сообщений из DLQ маршрута обратно в шину
// через publisher. Сообщение подтверждается в DLQ только после успешной
// публикации; первая ошибка останавливает перенос.
func ReplayDeadLetters(ctx context.Context, ch *amqp.Channel, route string, limit int, publisher EventPublisher, logger *zap.Logger) (int, error) {
	queue := DeadLetterQueueName(route)
	log := logger.Named("DLQReplay").With(zap.String("queue", queue))

	replayed := 0
	for replayed < limit {
		msg, ok, err := ch.Get(queue, false)
		if err != nil {
			return replayed, fmt.Errorf("failed to read '%s': %w", queue, err)
		}
		if !ok {
			break
		}

		var env Envelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			log.Warn("Dead letter is not a valid envelope, leaving it in DLQ", zap.String("message_id", msg.MessageId), zap.Error(err))
			_ = msg.Nack(false, true)
			return replayed, fmt.Errorf("message %s: %w", msg.MessageId, err)
		}
		if err := publisher.Publish(ctx, env); err != nil {
			_ = msg.Nack(false, true)
			return replayed, fmt.Errorf("failed to republish %s: %w", msg.MessageId, err)
		}
		if err := msg.Ack(false); err != nil {
			return replayed, fmt.Errorf("failed to ack %s in '%s': %w", msg.MessageId, queue, err)
		}
		replayed++
		log.Info("Dead letter replayed",
			zap.String("message_id", msg.MessageId),
			zap.String("detail_type", string(env.DetailType)),
		)
	}
	return replayed, nil
}

func toDeadLetter(msg amqp.Delivery) DeadLetter {
	letter := DeadLetter{
		MessageID:  msg.MessageId,
		DetailType: DetailType(msg.Type),
		Timestamp:  msg.Timestamp,
		Body:       msg.Body,
	}
	if src, ok := msg.Headers[headerEventSource].(string); ok {
		letter.Source = Source(src)
	}
	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if death, ok := deaths[0].(amqp.Table); ok {
			letter.Reason, _ = death["reason"].(string)
			letter.DeathCount, _ = death["count"].(int64)
		}
	}
	return letter
}
