// Package worker содержит обработчики стадий пайплайна: истории, эпизоды, иллюстрации.
// Каждый обработчик вызывается на одну доставку события, не держит состояния между
// доставками и продвигает пайплайн только публикацией следующих событий.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/messaging"
	"novel-workflow/shared/models"
)

// ErrUnexpectedEvent - обработчику доставлено событие чужого типа.
var ErrUnexpectedEvent = errors.New("unexpected event type")

// Dependencies - общие зависимости обработчиков стадий.
type Dependencies struct {
	Ledger    interfaces.GenerationRequestRepository
	Stories   interfaces.StoryRepository
	Episodes  interfaces.EpisodeRepository
	Blobs     interfaces.BlobStore
	Generator interfaces.ContentGenerator
	Publisher messaging.EventPublisher
}

func ptrString(s string) *string {
	return &s
}

func unexpected(env messaging.Envelope) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedEvent, env.DetailType)
}

// markRequestFailed переводит запись журнала в FAILED. Ошибка перехода только
// логируется: исходная ошибка стадии важнее.
func markRequestFailed(ctx context.Context, ledger interfaces.GenerationRequestRepository, requestID uuid.UUID, reason string, log *zap.Logger) {
	err := ledger.UpdateStatus(ctx, requestID, models.StatusUpdate{
		Status:       models.RequestStatusFailed,
		ErrorMessage: ptrString(reason),
	})
	if err != nil {
		log.Error("Failed to mark generation request FAILED", zap.String("request_id", requestID.String()), zap.Error(err))
	}
}

// markRequestProcessing переводит запись в PROCESSING. Возвращает skip=true, если
// запись уже в терминальном статусе: повторная доставка подтверждается без работы.
func markRequestProcessing(ctx context.Context, ledger interfaces.GenerationRequestRepository, requestID uuid.UUID, relatedEntityID *string) (skip bool, err error) {
	req, err := ledger.GetByID(ctx, requestID)
	if err != nil {
		return false, fmt.Errorf("failed to load generation request %s: %w", requestID, err)
	}
	if req.Status.IsTerminal() {
		return true, nil
	}
	err = ledger.UpdateStatus(ctx, requestID, models.StatusUpdate{
		Status:          models.RequestStatusProcessing,
		RelatedEntityID: relatedEntityID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark generation request %s PROCESSING: %w", requestID, err)
	}
	return false, nil
}

func markRequestCompleted(ctx context.Context, ledger interfaces.GenerationRequestRepository, requestID uuid.UUID, relatedEntityID string) error {
	err := ledger.UpdateStatus(ctx, requestID, models.StatusUpdate{
		Status:          models.RequestStatusCompleted,
		RelatedEntityID: ptrString(relatedEntityID),
	})
	if err != nil {
		return fmt.Errorf("failed to mark generation request %s COMPLETED: %w", requestID, err)
	}
	return nil
}

// loadBlob читает объект по ключу сущности.
func loadBlob(ctx context.Context, blobs interfaces.BlobStore, key *string, what string) (string, error) {
	if key == nil || *key == "" {
		return "", fmt.Errorf("%s has no content yet", what)
	}
	data, err := blobs.Get(ctx, *key)
	if err != nil {
		return "", fmt.Errorf("failed to read %s content: %w", what, err)
	}
	return string(data), nil
}
