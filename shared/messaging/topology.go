package messaging

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TopologyConfig управляет аргументами очередей маршрутов.
type TopologyConfig struct {
	// MaxEventAge - события старше этого возраста брокер уводит в DLQ (x-message-ttl).
	MaxEventAge time.Duration
	// DeliveryLimit - сколько раз брокер доставит сообщение, не получив ack, прежде чем уведет его в DLQ.
	DeliveryLimit int
}

func declareEventsExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", name, err)
	}
	return nil
}

// DeclareTopology объявляет exchange событий, DLX и по паре (очередь, DLQ) на каждый маршрут.
// Операция идемпотентна, ее вызывают и воркеры, и novelctl.
func DeclareTopology(ch *amqp.Channel, cfg TopologyConfig, logger *zap.Logger) error {
	if err := declareEventsExchange(ch, EventsExchangeName); err != nil {
		return err
	}
	err := ch.ExchangeDeclare(
		DeadLetterExchangeName, // name
		"direct",               // type
		true,                   // durable
		false,                  // auto-deleted
		false,                  // internal
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLX '%s': %w", DeadLetterExchangeName, err)
	}

	for _, dt := range AllDetailTypes() {
		route := dt.Route()
		queue := QueueName(route)
		dlq := DeadLetterQueueName(route)

		if _, err := ch.QueueDeclare(dlq, true, false, false, false, amqp.Table{"x-queue-type": "quorum"}); err != nil {
			return fmt.Errorf("failed to declare DLQ '%s': %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, route, DeadLetterExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind DLQ '%s' to '%s': %w", dlq, DeadLetterExchangeName, err)
		}

		if _, err := ch.QueueDeclare(queue, true, false, false, false, queueArgs(route, cfg)); err != nil {
			return fmt.Errorf("failed to declare queue '%s': %w", queue, err)
		}
		if err := ch.QueueBind(queue, route, EventsExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue '%s' to '%s': %w", queue, EventsExchangeName, err)
		}
		logger.Debug("Route topology declared", zap.String("queue", queue), zap.String("dlq", dlq), zap.String("route", route))
	}
	return nil
}

func queueArgs(route string, cfg TopologyConfig) amqp.Table {
	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    DeadLetterExchangeName,
		"x-dead-letter-routing-key": route,
	}
	if cfg.MaxEventAge > 0 {
		args["x-message-ttl"] = cfg.MaxEventAge.Milliseconds()
	}
	if cfg.DeliveryLimit > 0 {
		args["x-delivery-limit"] = cfg.DeliveryLimit
	}
	return args
}
