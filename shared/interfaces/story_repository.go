package interfaces

import (
	"context"

	"novel-workflow/shared/models"

	"github.com/google/uuid"
)

// StoryRepository defines persistence operations for generated stories.
type StoryRepository interface {
	// Create inserts a story. For workflow stories (workflow_id, sequence) is unique;
	// a duplicate returns models.ErrAlreadyExists.
	Create(ctx context.Context, story *models.Story) error

	// GetByID returns models.ErrNotFound if the story does not exist.
	GetByID(ctx context.Context, storyID uuid.UUID) (*models.Story, error)

	// GetByWorkflowSequence returns models.ErrNotFound if the item was never started.
	GetByWorkflowSequence(ctx context.Context, workflowID uuid.UUID, sequence int) (*models.Story, error)

	// ListByWorkflow returns the workflow's stories ordered by sequence.
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Story, error)

	// MarkCompleted stores title and content reference and sets status COMPLETED.
	MarkCompleted(ctx context.Context, storyID uuid.UUID, title, contentKey string) error

	// MarkFailed sets status FAILED with the given reason.
	MarkFailed(ctx context.Context, storyID uuid.UUID, reason string) error
}
