package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/shared/messaging"
	"novel-workflow/shared/models"
)

// EpisodeWorker пишет эпизоды: первый эпизод готовой истории и продолжения,
// номер которых заранее выделил резолвер продолжений.
type EpisodeWorker struct {
	deps   Dependencies
	logger *zap.Logger
}

func NewEpisodeWorker(deps Dependencies, logger *zap.Logger) *EpisodeWorker {
	return &EpisodeWorker{deps: deps, logger: logger.Named("EpisodeWorker")}
}

// Handle реализует messaging.HandlerFunc для маршрутов episode.requested и episode.continue.requested.
func (w *EpisodeWorker) Handle(ctx context.Context, env messaging.Envelope) error {
	switch d := env.Detail.(type) {
	case messaging.EpisodeGenerationRequested:
		return w.handleFirst(ctx, d)
	case messaging.ContinueEpisodeRequested:
		return w.handleContinue(ctx, d)
	default:
		return unexpected(env)
	}
}

func (w *EpisodeWorker) handleFirst(ctx context.Context, d messaging.EpisodeGenerationRequested) error {
	log := w.logger.With(
		zap.String("story_id", d.StoryID.String()),
		zap.Int("episode_number", d.EpisodeNumber),
		zap.String("user_id", d.UserID),
	)
	log.Info("Received episode generation request")

	story, err := w.deps.Stories.GetByID(ctx, d.StoryID)
	if err != nil {
		return fmt.Errorf("failed to load story %s: %w", d.StoryID, err)
	}
	episode, err := w.claimEpisode(ctx, story, d.EpisodeNumber)
	if err != nil {
		return err
	}
	log = log.With(zap.String("episode_id", episode.ID.String()))

	if episode.Status == models.StatusCompleted {
		return w.ensureImage(ctx, episode, log)
	}
	if err := w.produce(ctx, story, episode, story.Preferences, log); err != nil {
		w.markEpisodeFailed(ctx, episode.ID, err, log)
		return err
	}
	return w.requestImage(ctx, episode, log)
}

func (w *EpisodeWorker) handleContinue(ctx context.Context, d messaging.ContinueEpisodeRequested) error {
	log := w.logger.With(
		zap.String("request_id", d.RequestID.String()),
		zap.String("story_id", d.StoryID.String()),
		zap.String("episode_id", d.EpisodeID.String()),
		zap.Int("episode_number", d.EpisodeNumber),
	)
	log.Info("Received continue episode request")

	req, err := w.deps.Ledger.GetByID(ctx, d.RequestID)
	if err != nil {
		return fmt.Errorf("failed to load generation request: %w", err)
	}
	if req.Status == models.RequestStatusFailed {
		log.Info("Continuation already failed, skipping redelivered event")
		recordItem(stageEpisode, "skipped")
		return nil
	}

	episode, err := w.deps.Episodes.GetByID(ctx, d.EpisodeID)
	if err != nil {
		reason := fmt.Sprintf("episode %d not found: %v", d.EpisodeNumber, err)
		markRequestFailed(ctx, w.deps.Ledger, d.RequestID, reason, log)
		return fmt.Errorf("failed to load episode %s: %w", d.EpisodeID, err)
	}
	story, err := w.deps.Stories.GetByID(ctx, d.StoryID)
	if err != nil {
		reason := fmt.Sprintf("story not found: %v", err)
		markRequestFailed(ctx, w.deps.Ledger, d.RequestID, reason, log)
		return fmt.Errorf("failed to load story %s: %w", d.StoryID, err)
	}

	if episode.Status == models.StatusCompleted {
		if !req.Status.IsTerminal() {
			if err := markRequestCompleted(ctx, w.deps.Ledger, d.RequestID, episode.ID.String()); err != nil {
				return err
			}
		}
		return w.ensureImage(ctx, episode, log)
	}

	if err := w.deps.Ledger.UpdateStatus(ctx, d.RequestID, models.StatusUpdate{
		Status:          models.RequestStatusProcessing,
		RelatedEntityID: ptrString(episode.ID.String()),
	}); err != nil {
		return fmt.Errorf("failed to mark generation request PROCESSING: %w", err)
	}
	if err := w.deps.Episodes.UpdateStatus(ctx, episode.ID, models.StatusProcessing, nil); err != nil {
		return fmt.Errorf("failed to mark episode PROCESSING: %w", err)
	}

	if err := w.produce(ctx, story, episode, d.Preferences, log); err != nil {
		w.markEpisodeFailed(ctx, episode.ID, err, log)
		markRequestFailed(ctx, w.deps.Ledger, d.RequestID, fmt.Sprintf("episode %d failed: %v", d.EpisodeNumber, err), log)
		return err
	}
	if err := markRequestCompleted(ctx, w.deps.Ledger, d.RequestID, episode.ID.String()); err != nil {
		return err
	}
	return w.requestImage(ctx, episode, log)
}

// claimEpisode возвращает эпизод (story, number), создавая строку условной вставкой.
func (w *EpisodeWorker) claimEpisode(ctx context.Context, story *models.Story, number int) (*models.Episode, error) {
	episode, err := w.deps.Episodes.GetByNumber(ctx, story.ID, number)
	if err == nil {
		if episode.Status != models.StatusCompleted && episode.Status != models.StatusProcessing {
			if err := w.deps.Episodes.UpdateStatus(ctx, episode.ID, models.StatusProcessing, nil); err != nil {
				return nil, fmt.Errorf("failed to mark episode PROCESSING: %w", err)
			}
			episode.Status = models.StatusProcessing
		}
		return episode, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up episode: %w", err)
	}

	episode = &models.Episode{
		ID:            uuid.New(),
		StoryID:       story.ID,
		UserID:        story.UserID,
		EpisodeNumber: number,
		Status:        models.StatusProcessing,
	}
	if err := w.deps.Episodes.CreateIfAbsent(ctx, episode); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			return w.deps.Episodes.GetByNumber(ctx, story.ID, number)
		}
		return nil, fmt.Errorf("failed to create episode: %w", err)
	}
	return episode, nil
}

// produce генерирует текст эпизода, сохраняет его и помечает эпизод COMPLETED.
func (w *EpisodeWorker) produce(ctx context.Context, story *models.Story, episode *models.Episode, prefs models.StoryPreferences, log *zap.Logger) error {
	if story.Status != models.StatusCompleted {
		return fmt.Errorf("%w: story %s is %s", models.ErrStoryNotReady, story.ID, story.Status)
	}
	storyText, err := loadBlob(ctx, w.deps.Blobs, story.ContentKey, "story")
	if err != nil {
		recordItem(stageEpisode, "error_storage")
		return err
	}

	start := time.Now()
	generated, err := w.deps.Generator.GenerateEpisode(ctx, models.EpisodePrompt{
		UserID:        episode.UserID,
		StoryTitle:    story.Title,
		StoryContent:  storyText,
		Preferences:   prefs,
		EpisodeNumber: episode.EpisodeNumber,
	})
	if err != nil {
		recordItem(stageEpisode, "error_generation")
		return fmt.Errorf("content generator: %w", err)
	}

	key := models.EpisodeContentKey(episode.ID)
	if err := w.deps.Blobs.Put(ctx, key, []byte(generated.Content), markdownContentType); err != nil {
		recordItem(stageEpisode, "error_storage")
		return fmt.Errorf("failed to store episode content: %w", err)
	}
	if err := w.deps.Episodes.SetContent(ctx, episode.ID, key); err != nil {
		recordItem(stageEpisode, "error_storage")
		return fmt.Errorf("failed to mark episode completed: %w", err)
	}

	episode.ContentKey = &key
	episode.Status = models.StatusCompleted
	observeItem(stageEpisode, start)
	recordItem(stageEpisode, "success")
	log.Info("Episode generated", zap.Duration("duration", time.Since(start)))
	return nil
}

func (w *EpisodeWorker) markEpisodeFailed(ctx context.Context, episodeID uuid.UUID, cause error, log *zap.Logger) {
	if err := w.deps.Episodes.UpdateStatus(ctx, episodeID, models.StatusFailed, ptrString(cause.Error())); err != nil {
		log.Error("Failed to mark episode FAILED", zap.Error(err))
	}
}

// ensureImage обрабатывает повторную доставку для готового эпизода: если иллюстрации
// еще нет, запрос на нее публикуется заново.
func (w *EpisodeWorker) ensureImage(ctx context.Context, episode *models.Episode, log *zap.Logger) error {
	if episode.ImageKey != nil {
		log.Info("Episode already completed with illustration, skipping")
		recordItem(stageEpisode, "skipped")
		return nil
	}
	log.Info("Episode already completed, re-requesting illustration")
	return w.requestImage(ctx, episode, log)
}

// requestImage создает запись IMAGE в журнале и публикует запрос иллюстрации.
func (w *EpisodeWorker) requestImage(ctx context.Context, episode *models.Episode, log *zap.Logger) error {
	req := &models.GenerationRequest{
		RequestID:       uuid.New(),
		UserID:          episode.UserID,
		Type:            models.RequestTypeImage,
		Status:          models.RequestStatusPending,
		ExpectedItems:   1,
		RelatedEntityID: ptrString(episode.ID.String()),
	}
	if err := w.deps.Ledger.Create(ctx, req); err != nil {
		return fmt.Errorf("failed to create image generation request: %w", err)
	}

	event := messaging.ImageGenerationRequested{
		EventMeta:     messaging.NewEventMeta(),
		UserID:        episode.UserID,
		StoryID:       episode.StoryID,
		EpisodeID:     episode.ID,
		EpisodeNumber: episode.EpisodeNumber,
		RequestID:     req.RequestID,
		AspectRatio:   messaging.AspectRatioPortrait,
	}
	if err := w.deps.Publisher.Publish(ctx, messaging.NewEnvelope(messaging.SourceEpisode, event)); err != nil {
		recordItem(stageEpisode, "error_publish")
		markRequestFailed(ctx, w.deps.Ledger, req.RequestID, fmt.Sprintf("failed to publish image request: %v", err), log)
		return fmt.Errorf("failed to request illustration for episode %s: %w", episode.ID, err)
	}
	log.Info("Illustration requested", zap.String("image_request_id", req.RequestID.String()))
	return nil
}
