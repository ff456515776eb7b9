package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"novel-workflow/shared/messaging"
	"novel-workflow/shared/models"
)

// ImageWorker рисует иллюстрацию к готовому эпизоду. Последняя стадия пайплайна.
type ImageWorker struct {
	deps   Dependencies
	logger *zap.Logger
}

func NewImageWorker(deps Dependencies, logger *zap.Logger) *ImageWorker {
	return &ImageWorker{deps: deps, logger: logger.Named("ImageWorker")}
}

// Handle реализует messaging.HandlerFunc для маршрута image.requested.
// Ошибка переводит IMAGE-запрос в FAILED, текст эпизода остается COMPLETED.
func (w *ImageWorker) Handle(ctx context.Context, env messaging.Envelope) error {
	d, ok := env.Detail.(messaging.ImageGenerationRequested)
	if !ok {
		return unexpected(env)
	}
	log := w.logger.With(
		zap.String("request_id", d.RequestID.String()),
		zap.String("episode_id", d.EpisodeID.String()),
		zap.String("aspect_ratio", d.AspectRatio),
	)
	log.Info("Received image generation request")

	skip, err := markRequestProcessing(ctx, w.deps.Ledger, d.RequestID, ptrString(d.EpisodeID.String()))
	if err != nil {
		return err
	}
	if skip {
		log.Info("Image request already finished, skipping redelivered event")
		recordItem(stageImage, "skipped")
		return nil
	}

	if err := w.illustrate(ctx, d, log); err != nil {
		markRequestFailed(ctx, w.deps.Ledger, d.RequestID, fmt.Sprintf("image generation failed: %v", err), log)
		return err
	}
	return markRequestCompleted(ctx, w.deps.Ledger, d.RequestID, d.EpisodeID.String())
}

func (w *ImageWorker) illustrate(ctx context.Context, d messaging.ImageGenerationRequested, log *zap.Logger) error {
	episode, err := w.deps.Episodes.GetByID(ctx, d.EpisodeID)
	if err != nil {
		return fmt.Errorf("failed to load episode: %w", err)
	}
	if episode.ImageKey != nil {
		log.Info("Episode already has an illustration")
		recordItem(stageImage, "skipped")
		return nil
	}
	story, err := w.deps.Stories.GetByID(ctx, d.StoryID)
	if err != nil {
		return fmt.Errorf("failed to load story: %w", err)
	}
	content, err := loadBlob(ctx, w.deps.Blobs, episode.ContentKey, "episode")
	if err != nil {
		recordItem(stageImage, "error_storage")
		return err
	}

	start := time.Now()
	image, err := w.deps.Generator.GenerateImage(ctx, models.ImagePrompt{
		UserID:         d.UserID,
		EpisodeContent: content,
		Preferences:    story.Preferences,
		AspectRatio:    d.AspectRatio,
	})
	if err != nil {
		recordItem(stageImage, "error_generation")
		return fmt.Errorf("content generator: %w", err)
	}

	key := models.EpisodeImageKey(episode.ID)
	if err := w.deps.Blobs.Put(ctx, key, image.Data, image.ContentType); err != nil {
		recordItem(stageImage, "error_storage")
		return fmt.Errorf("failed to store illustration: %w", err)
	}
	if err := w.deps.Episodes.SetImage(ctx, episode.ID, key); err != nil {
		recordItem(stageImage, "error_storage")
		return fmt.Errorf("failed to attach illustration: %w", err)
	}

	observeItem(stageImage, start)
	recordItem(stageImage, "success")
	log.Info("Illustration stored", zap.Int("size_bytes", len(image.Data)), zap.Duration("duration", time.Since(start)))
	return nil
}
