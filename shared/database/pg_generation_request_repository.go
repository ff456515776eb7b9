package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/models"
)

const (
	createGenerationRequestQuery = `
		INSERT INTO generation_requests (
			request_id, user_id, type, status, workflow_id, expected_items,
			related_entity_id, error_message, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	getGenerationRequestByIDQuery = `
		SELECT
			request_id, user_id, type, status, workflow_id, expected_items,
			related_entity_id, error_message, created_at, updated_at
		FROM generation_requests
		WHERE request_id = $1
	`
	// Условный переход: строка меняется, только если текущий статус входит в $5.
	updateGenerationRequestStatusQuery = `
		UPDATE generation_requests
		SET status = $2,
			related_entity_id = COALESCE($3, related_entity_id),
			error_message = COALESCE($4, error_message),
			updated_at = now()
		WHERE request_id = $1 AND status = ANY($5)
	`
	getGenerationRequestStatusQuery = `SELECT status FROM generation_requests WHERE request_id = $1`
)

type pgGenerationRequestRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

var _ interfaces.GenerationRequestRepository = (*pgGenerationRequestRepository)(nil)

// NewPgGenerationRequestRepository создает репозиторий журнала запросов генерации.
func NewPgGenerationRequestRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.GenerationRequestRepository {
	return &pgGenerationRequestRepository{
		db:     db,
		logger: logger.Named("PgGenerationRequestRepo"),
	}
}

func (r *pgGenerationRequestRepository) Create(ctx context.Context, req *models.GenerationRequest) error {
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	if req.ExpectedItems <= 0 {
		req.ExpectedItems = 1
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.UpdatedAt = req.CreatedAt
	_, err := r.db.Exec(ctx, createGenerationRequestQuery,
		req.RequestID,
		req.UserID,
		req.Type,
		req.Status,
		req.WorkflowID,
		req.ExpectedItems,
		req.RelatedEntityID,
		req.ErrorMessage,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create generation request",
			zap.String("request_id", req.RequestID.String()),
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("error creating generation request: %w", err)
	}
	r.logger.Debug("Generation request created",
		zap.String("request_id", req.RequestID.String()),
		zap.String("type", string(req.Type)),
	)
	return nil
}

func (r *pgGenerationRequestRepository) GetByID(ctx context.Context, requestID uuid.UUID) (*models.GenerationRequest, error) {
	var req models.GenerationRequest
	if err := pgxscan.Get(ctx, r.db, &req, getGenerationRequestByIDQuery, requestID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get generation request", zap.String("request_id", requestID.String()), zap.Error(err))
		return nil, fmt.Errorf("error getting generation request %s: %w", requestID, err)
	}
	return &req, nil
}

func (r *pgGenerationRequestRepository) UpdateStatus(ctx context.Context, requestID uuid.UUID, update models.StatusUpdate) error {
	log := r.logger.With(zap.String("request_id", requestID.String()), zap.String("status", string(update.Status)))

	tag, err := r.db.Exec(ctx, updateGenerationRequestStatusQuery,
		requestID,
		update.Status,
		update.RelatedEntityID,
		update.ErrorMessage,
		models.AllowedPredecessors(update.Status),
	)
	if err != nil {
		log.Error("Failed to update generation request status", zap.Error(err))
		return fmt.Errorf("error updating generation request status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		log.Debug("Generation request status updated")
		return nil
	}

	// Ничего не обновлено: либо записи нет, либо переход запрещен.
	var current models.RequestStatus
	if err := r.db.QueryRow(ctx, getGenerationRequestStatusQuery, requestID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		return fmt.Errorf("error reading generation request status: %w", err)
	}
	log.Warn("Rejected generation request status transition", zap.String("current", string(current)))
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, update.Status)
}
