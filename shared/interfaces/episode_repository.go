package interfaces

import (
	"context"

	"novel-workflow/shared/models"

	"github.com/google/uuid"
)

// EpisodeRepository defines persistence operations for story episodes.
type EpisodeRepository interface {
	// CreateIfAbsent inserts the episode only when (story_id, episode_number) is free.
	// Returns models.ErrAlreadyExists when the number is already taken.
	CreateIfAbsent(ctx context.Context, episode *models.Episode) error

	// GetByID returns models.ErrNotFound if the episode does not exist.
	GetByID(ctx context.Context, episodeID uuid.UUID) (*models.Episode, error)

	// GetByNumber returns models.ErrNotFound if the story has no such episode.
	GetByNumber(ctx context.Context, storyID uuid.UUID, episodeNumber int) (*models.Episode, error)

	// ListByStory returns the story's episodes ordered by episode number.
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]*models.Episode, error)

	// ListNumbers returns the episode numbers already used by the story.
	ListNumbers(ctx context.Context, storyID uuid.UUID) ([]int, error)

	// UpdateStatus sets status and, when non-nil, the error message.
	UpdateStatus(ctx context.Context, episodeID uuid.UUID, status models.EntityStatus, errorMessage *string) error

	// SetContent stores the text reference and marks the episode COMPLETED.
	SetContent(ctx context.Context, episodeID uuid.UUID, contentKey string) error

	// SetImage stores the illustration reference.
	SetImage(ctx context.Context, episodeID uuid.UUID, imageKey string) error
}
