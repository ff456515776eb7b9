package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// InMemoryBus - шина событий в памяти процесса: та же проверка схем и тот же
// JSON, что и у RabbitMQ паблишера, но доставка выполняется вызовом Drain.
// Используется в тестах пайплайна и в локальном режиме EVENT_BUS=memory.
type InMemoryBus struct {
	mu          sync.Mutex
	pending     []Envelope
	published   []Envelope
	deadLetters []Envelope
	handlers    map[DetailType]HandlerFunc
	failures    map[DetailType]error
}

var _ EventPublisher = (*InMemoryBus)(nil)

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[DetailType]HandlerFunc),
		failures: make(map[DetailType]error),
	}
}

// Subscribe регистрирует обработчик типа события.
func (b *InMemoryBus) Subscribe(dt DetailType, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[dt] = h
}

// FailOn заставляет шину отклонять все события данного типа с ошибкой err.
func (b *InMemoryBus) FailOn(dt DetailType, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[dt] = err
}

func (b *InMemoryBus) Publish(ctx context.Context, env Envelope) error {
	return b.PublishBatch(ctx, []Envelope{env})
}

func (b *InMemoryBus) PublishBatch(_ context.Context, envs []Envelope) error {
	bodies, err := encodeBatch(envs)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var failures []EntryError
	for i, body := range bodies {
		if ferr, ok := b.failures[envs[i].DetailType]; ok {
			failures = append(failures, EntryError{Index: i, DetailType: envs[i].DetailType, Err: ferr})
			continue
		}
		var decoded Envelope
		if err := json.Unmarshal(body, &decoded); err != nil {
			failures = append(failures, EntryError{Index: i, DetailType: envs[i].DetailType, Err: err})
			continue
		}
		b.pending = append(b.pending, decoded)
		b.published = append(b.published, decoded)
	}
	if len(failures) > 0 {
		return &PartialFailureError{Failed: len(failures), Total: len(envs), Entries: failures}
	}
	return nil
}

// Drain доставляет накопленные события по одному в порядке публикации, включая
// события, опубликованные обработчиками во время доставки. Ошибка обработчика
// переносит событие в dead letters, доставка продолжается.
func (b *InMemoryBus) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return nil
		}
		env := b.pending[0]
		b.pending = b.pending[1:]
		handler, ok := b.handlers[env.DetailType]
		b.mu.Unlock()

		if !ok {
			continue
		}
		if err := handler(ctx, env); err != nil {
			b.mu.Lock()
			b.deadLetters = append(b.deadLetters, env)
			b.mu.Unlock()
		}
	}
}

// Published возвращает копию всех принятых шиной конвертов.
func (b *InMemoryBus) Published() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.published...)
}

// PublishedOf возвращает принятые конверты указанного типа.
func (b *InMemoryBus) PublishedOf(dt DetailType) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Envelope
	for _, env := range b.published {
		if env.DetailType == dt {
			out = append(out, env)
		}
	}
	return out
}

// DeadLetters возвращает события, обработчик которых вернул ошибку.
func (b *InMemoryBus) DeadLetters() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.deadLetters...)
}

func (b *InMemoryBus) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("InMemoryBus{published=%d pending=%d dead=%d}", len(b.published), len(b.pending), len(b.deadLetters))
}
