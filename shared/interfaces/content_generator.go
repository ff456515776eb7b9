package interfaces

import (
	"context"

	"novel-workflow/shared/models"
)

// ContentGenerator - внешний генератор контента (модель), черный ящик для воркеров.
//
//go:generate mockery --name ContentGenerator --output ../../internal/mocks --outpkg mocks --case=underscore
type ContentGenerator interface {
	GenerateStory(ctx context.Context, prompt models.StoryPrompt) (*models.GeneratedStory, error)
	GenerateEpisode(ctx context.Context, prompt models.EpisodePrompt) (*models.GeneratedEpisode, error)
	GenerateImage(ctx context.Context, prompt models.ImagePrompt) (*models.GeneratedImage, error)
}
