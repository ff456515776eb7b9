package interfaces

import (
	"context"

	"novel-workflow/shared/models"

	"github.com/google/uuid"
)

// GenerationRequestRepository - журнал запросов генерации.
// Статус меняется только вперед (см. models.RequestStatus.CanTransitionTo).
//
//go:generate mockery --name GenerationRequestRepository --output ../../internal/mocks --outpkg mocks --case=underscore
type GenerationRequestRepository interface {
	// Create сохраняет новый запрос в статусе PENDING.
	Create(ctx context.Context, req *models.GenerationRequest) error

	// GetByID возвращает запрос по ID.
	// Возвращает models.ErrNotFound, если запись отсутствует.
	GetByID(ctx context.Context, requestID uuid.UUID) (*models.GenerationRequest, error)

	// UpdateStatus выполняет условный переход статуса.
	// Возвращает models.ErrInvalidTransition, если текущий статус не допускает перехода,
	// и models.ErrNotFound, если запись отсутствует.
	UpdateStatus(ctx context.Context, requestID uuid.UUID, update models.StatusUpdate) error
}
