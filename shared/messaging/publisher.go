package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventPublisher - единственный способ продвинуть пайплайн дальше.
// Конверты проверяются по схеме до обращения к шине.
//
//go:generate mockery --name EventPublisher --output ../../internal/mocks --outpkg mocks --case=underscore
type EventPublisher interface {
	// Publish отправляет один конверт.
	Publish(ctx context.Context, env Envelope) error
	// PublishBatch отправляет от 1 до MaxBatchSize конвертов. Если хотя бы один
	// конверт невалиден, ничего не отправляется. Частичный отказ шины
	// возвращается как *PartialFailureError.
	PublishBatch(ctx context.Context, envs []Envelope) error
}

// PublisherConfig - настройки RabbitMQ паблишера.
type PublisherConfig struct {
	Exchange       string
	AppID          string
	PublishTimeout time.Duration
	MaxAttempts    int
}

func (c *PublisherConfig) withDefaults() {
	if c.Exchange == "" {
		c.Exchange = EventsExchangeName
	}
	if c.AppID == "" {
		c.AppID = defaultAppID
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
}

// rabbitMQEventPublisher публикует события в topic exchange с publisher confirms.
type rabbitMQEventPublisher struct {
	channel *amqp.Channel
	cfg     PublisherConfig
	logger  *zap.Logger
	mu      sync.Mutex // канал amqp не потокобезопасен для confirm-режима
}

var _ EventPublisher = (*rabbitMQEventPublisher)(nil)

// NewRabbitMQEventPublisher открывает отдельный канал, включает confirm-режим
// и объявляет exchange событий.
func NewRabbitMQEventPublisher(conn *amqp.Connection, cfg PublisherConfig, logger *zap.Logger) (EventPublisher, error) {
	cfg.withDefaults()
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("event publisher: failed to open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("event publisher: failed to enable confirm mode: %w", err)
	}
	if err := declareEventsExchange(ch, cfg.Exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &rabbitMQEventPublisher{
		channel: ch,
		cfg:     cfg,
		logger:  logger.Named("EventPublisher"),
	}, nil
}

func (p *rabbitMQEventPublisher) Publish(ctx context.Context, env Envelope) error {
	return p.PublishBatch(ctx, []Envelope{env})
}

func (p *rabbitMQEventPublisher) PublishBatch(ctx context.Context, envs []Envelope) error {
	bodies, err := encodeBatch(envs)
	if err != nil {
		p.logger.Warn("Rejecting event batch before send", zap.Error(err), zap.Int("size", len(envs)))
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	type pending struct {
		index   int
		confirm *amqp.DeferredConfirmation
	}
	var (
		inFlight []pending
		failures []EntryError
	)
	for i, env := range envs {
		confirm, err := p.publishWithRetry(ctx, env, bodies[i])
		if err != nil {
			failures = append(failures, EntryError{Index: i, DetailType: env.DetailType, Err: err})
			continue
		}
		inFlight = append(inFlight, pending{index: i, confirm: confirm})
	}

	for _, pf := range inFlight {
		ok, err := pf.confirm.WaitContext(ctx)
		if err == nil && !ok {
			err = ErrNotConfirmed
		}
		if err != nil {
			failures = append(failures, EntryError{Index: pf.index, DetailType: envs[pf.index].DetailType, Err: err})
		}
	}

	if len(failures) > 0 {
		p.logger.Error("Event batch partially failed",
			zap.Int("failed", len(failures)),
			zap.Int("total", len(envs)),
			zap.Error(failures[0].Err),
		)
		return &PartialFailureError{Failed: len(failures), Total: len(envs), Entries: failures}
	}

	for _, env := range envs {
		p.logger.Debug("Event published",
			zap.String("detail_type", string(env.DetailType)),
			zap.String("source", string(env.Source)),
			zap.String("route", env.DetailType.Route()),
		)
	}
	return nil
}

func (p *rabbitMQEventPublisher) publishWithRetry(ctx context.Context, env Envelope, body []byte) (*amqp.DeferredConfirmation, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
			p.cfg.Exchange,
			env.DetailType.Route(),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  contentTypeJSON,
				DeliveryMode: amqp.Persistent,
				MessageId:    uuid.NewString(),
				Type:         string(env.DetailType),
				Headers:      amqp.Table{headerEventSource: string(env.Source)},
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        p.cfg.AppID,
			},
		)
		if err == nil {
			return confirm, nil
		}
		lastErr = err
		p.logger.Warn("Publish attempt failed",
			zap.Int("attempt", attempt),
			zap.String("detail_type", string(env.DetailType)),
			zap.Error(err),
		)
		if errors.Is(err, amqp.ErrClosed) || ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to publish after retries: %w", lastErr)
}

// Close закрывает канал паблишера.
func (p *rabbitMQEventPublisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

// encodeBatch проверяет размер пакета и схемы всех конвертов, затем сериализует их.
// Ошибка любого конверта отклоняет весь пакет.
func encodeBatch(envs []Envelope) ([][]byte, error) {
	if len(envs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(envs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(envs), MaxBatchSize)
	}
	bodies := make([][]byte, len(envs))
	for i, env := range envs {
		if err := ValidateEnvelope(env); err != nil {
			return nil, err
		}
		body, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %q envelope: %w", env.DetailType, err)
		}
		bodies[i] = body
	}
	return bodies, nil
}
