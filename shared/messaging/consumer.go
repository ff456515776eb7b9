package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	eventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_events_consumed_total",
			Help: "Total number of consumed pipeline events by detail type and outcome.",
		},
		[]string{"detail_type", "outcome"},
	)
	eventHandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_event_handle_duration_seconds",
			Help:    "Histogram of event handler durations.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"detail_type"},
	)
)

// HandlerFunc обрабатывает одно доставленное событие.
// Ошибка приводит к Nack без requeue: сообщение уходит в DLQ маршрута.
type HandlerFunc func(ctx context.Context, env Envelope) error

// ConsumerConfig - настройки потребителя очереди маршрута.
type ConsumerConfig struct {
	Queue          string
	Prefetch       int
	ReconnectDelay time.Duration
}

// Consumer читает очередь маршрута и передает события обработчику.
type Consumer struct {
	conn    *amqp.Connection
	cfg     ConsumerConfig
	handler HandlerFunc
	logger  *zap.Logger
}

// NewConsumer создает потребителя. Очередь должна быть объявлена через DeclareTopology.
func NewConsumer(conn *amqp.Connection, cfg ConsumerConfig, handler HandlerFunc, logger *zap.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Consumer{
		conn:    conn,
		cfg:     cfg,
		handler: handler,
		logger:  logger.Named("Consumer").With(zap.String("queue", cfg.Queue)),
	}
}

// Run потребляет сообщения до отмены ctx. При закрытии канала переоткрывает его
// с задержкой ReconnectDelay. Возвращает nil при штатной остановке.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Consumer stopped")
			return nil
		}
		if c.conn.IsClosed() {
			return fmt.Errorf("consumer %s: connection closed: %w", c.cfg.Queue, err)
		}
		c.logger.Warn("Consumer channel lost, reopening", zap.Error(err), zap.Duration("delay", c.cfg.ReconnectDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.Info("Waiting for events", zap.Int("prefetch", c.cfg.Prefetch))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("channel closed")
			}
			return amqpErr
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handleDelivery(ctx, msg)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		c.logger.Error("Failed to decode event, rejecting", zap.Error(err), zap.String("message_id", msg.MessageId))
		eventsConsumedTotal.WithLabelValues("unknown", "decode_error").Inc()
		_ = msg.Nack(false, false)
		return
	}
	dt := string(env.DetailType)
	log := c.logger.With(zap.String("detail_type", dt), zap.String("message_id", msg.MessageId))

	if err := ValidateEnvelope(env); err != nil {
		log.Error("Event failed schema validation, rejecting", zap.Error(err))
		eventsConsumedTotal.WithLabelValues(dt, "invalid").Inc()
		_ = msg.Nack(false, false)
		return
	}

	start := time.Now()
	err := c.handler(ctx, env)
	eventHandleDuration.WithLabelValues(dt).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("Event handler failed, sending to DLQ", zap.Error(err), zap.Bool("redelivered", msg.Redelivered))
		eventsConsumedTotal.WithLabelValues(dt, "failed").Inc()
		_ = msg.Nack(false, false)
		return
	}
	eventsConsumedTotal.WithLabelValues(dt, "acked").Inc()
	if err := msg.Ack(false); err != nil {
		log.Warn("Failed to ack event", zap.Error(err))
	}
}
