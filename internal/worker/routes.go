package worker

import (
	"go.uber.org/zap"

	"novel-workflow/shared/messaging"
)

// Handlers собирает обработчики всех типов событий пайплайна.
// Один и тот же набор подписывается и на очереди RabbitMQ, и на InMemoryBus.
func Handlers(deps Dependencies, logger *zap.Logger) map[messaging.DetailType]messaging.HandlerFunc {
	story := NewStoryWorker(deps, logger)
	episode := NewEpisodeWorker(deps, logger)
	image := NewImageWorker(deps, logger)

	return map[messaging.DetailType]messaging.HandlerFunc{
		messaging.DetailStoryGenerationRequested:      story.Handle,
		messaging.DetailBatchStoryGenerationRequested: story.Handle,
		messaging.DetailBatchWorkflowCompleted:        story.HandleWorkflowCompleted,
		messaging.DetailEpisodeGenerationRequested:    episode.Handle,
		messaging.DetailContinueEpisodeRequested:      episode.Handle,
		messaging.DetailImageGenerationRequested:      image.Handle,
	}
}
