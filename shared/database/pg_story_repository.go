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
	storyColumns = `
		id, user_id, request_id, workflow_id, sequence, title, content_key,
		status, preferences, error_message, created_at, updated_at`

	createStoryQuery = `
		INSERT INTO stories (
			id, user_id, request_id, workflow_id, sequence, title, content_key,
			status, preferences, error_message, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (workflow_id, sequence) WHERE workflow_id IS NOT NULL DO NOTHING
	`
	getStoryByIDQuery               = `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`
	getStoryByWorkflowSequenceQuery = `SELECT ` + storyColumns + ` FROM stories WHERE workflow_id = $1 AND sequence = $2`
	listStoriesByWorkflowQuery      = `SELECT ` + storyColumns + ` FROM stories WHERE workflow_id = $1 ORDER BY sequence`
	markStoryCompletedQuery         = `
		UPDATE stories
		SET title = $2, content_key = $3, status = 'COMPLETED', error_message = NULL, updated_at = now()
		WHERE id = $1
	`
	markStoryFailedQuery = `
		UPDATE stories
		SET status = 'FAILED', error_message = $2, updated_at = now()
		WHERE id = $1 AND status <> 'COMPLETED'
	`
)

type pgStoryRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

var _ interfaces.StoryRepository = (*pgStoryRepository)(nil)

// NewPgStoryRepository создает репозиторий историй.
func NewPgStoryRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.StoryRepository {
	return &pgStoryRepository{
		db:     db,
		logger: logger.Named("PgStoryRepo"),
	}
}

func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	now := time.Now().UTC()
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.UpdatedAt = now
	if story.Sequence <= 0 {
		story.Sequence = 1
	}

	tag, err := r.db.Exec(ctx, createStoryQuery,
		story.ID,
		story.UserID,
		story.RequestID,
		story.WorkflowID,
		story.Sequence,
		story.Title,
		story.ContentKey,
		story.Status,
		story.Preferences,
		story.ErrorMessage,
		story.CreatedAt,
		story.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create story", zap.String("story_id", story.ID.String()), zap.Error(err))
		return fmt.Errorf("error creating story: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Info("Story for workflow item already exists",
			zap.Stringer("workflow_id", story.WorkflowID),
			zap.Int("sequence", story.Sequence),
		)
		return models.ErrAlreadyExists
	}
	return nil
}

func (r *pgStoryRepository) GetByID(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	return r.getOne(ctx, getStoryByIDQuery, storyID)
}

func (r *pgStoryRepository) GetByWorkflowSequence(ctx context.Context, workflowID uuid.UUID, sequence int) (*models.Story, error) {
	return r.getOne(ctx, getStoryByWorkflowSequenceQuery, workflowID, sequence)
}

func (r *pgStoryRepository) getOne(ctx context.Context, query string, args ...any) (*models.Story, error) {
	var story models.Story
	if err := pgxscan.Get(ctx, r.db, &story, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get story", zap.Any("args", args), zap.Error(err))
		return nil, fmt.Errorf("error getting story: %w", err)
	}
	return &story, nil
}

func (r *pgStoryRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Story, error) {
	var stories []*models.Story
	if err := pgxscan.Select(ctx, r.db, &stories, listStoriesByWorkflowQuery, workflowID); err != nil {
		r.logger.Error("Failed to list workflow stories", zap.String("workflow_id", workflowID.String()), zap.Error(err))
		return nil, fmt.Errorf("error listing stories for workflow %s: %w", workflowID, err)
	}
	return stories, nil
}

func (r *pgStoryRepository) MarkCompleted(ctx context.Context, storyID uuid.UUID, title, contentKey string) error {
	return r.exec(ctx, "mark completed", storyID, markStoryCompletedQuery, storyID, title, contentKey)
}

func (r *pgStoryRepository) MarkFailed(ctx context.Context, storyID uuid.UUID, reason string) error {
	tag, err := r.db.Exec(ctx, markStoryFailedQuery, storyID, reason)
	if err != nil {
		r.logger.Error("Failed to mark story failed", zap.String("story_id", storyID.String()), zap.Error(err))
		return fmt.Errorf("error marking story %s failed: %w", storyID, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Story not marked failed (missing or already completed)", zap.String("story_id", storyID.String()))
	}
	return nil
}

func (r *pgStoryRepository) exec(ctx context.Context, op string, storyID uuid.UUID, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Story update failed", zap.String("op", op), zap.String("story_id", storyID.String()), zap.Error(err))
		return fmt.Errorf("error on story %s (%s): %w", storyID, op, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
