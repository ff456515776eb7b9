// Package continuation выделяет номер следующего эпизода истории и запускает его генерацию.
package continuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/messaging"
	"novel-workflow/shared/models"
)

// StatusGenerating - статус в ответе на запрос продолжения.
const StatusGenerating = "GENERATING"

// maxAllocationAttempts - первая попытка и один пересчет номера после конфликта.
const maxAllocationAttempts = 2

// ContinueResult - ответ POST /stories/:storyId/episodes.
type ContinueResult struct {
	EpisodeID               uuid.UUID `json:"episodeId"`
	EpisodeNumber           int       `json:"episodeNumber"`
	RequestID               uuid.UUID `json:"requestId"`
	Status                  string    `json:"status"`
	EstimatedCompletionTime time.Time `json:"estimatedCompletionTime"`
}

type Config struct {
	PerEpisodeEstimate time.Duration
}

type Resolver struct {
	stories   interfaces.StoryRepository
	episodes  interfaces.EpisodeRepository
	ledger    interfaces.GenerationRequestRepository
	publisher messaging.EventPublisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewResolver(
	stories interfaces.StoryRepository,
	episodes interfaces.EpisodeRepository,
	ledger interfaces.GenerationRequestRepository,
	publisher messaging.EventPublisher,
	cfg Config,
	logger *zap.Logger,
) *Resolver {
	if cfg.PerEpisodeEstimate <= 0 {
		cfg.PerEpisodeEstimate = time.Minute
	}
	return &Resolver{
		stories:   stories,
		episodes:  episodes,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("ContinuationResolver"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ContinueEpisode резервирует номер max+1 (пропуски не заполняются) и публикует
// запрос на генерацию. При конфликте номера пересчитывает его один раз.
func (r *Resolver) ContinueEpisode(ctx context.Context, userID string, storyID uuid.UUID) (*ContinueResult, error) {
	log := r.logger.With(zap.String("story_id", storyID.String()), zap.String("user_id", userID))

	story, err := r.stories.GetByID(ctx, storyID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrStoryNotFound
		}
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	if story.UserID != userID {
		log.Warn("Continuation requested by non-owner")
		return nil, models.ErrForbidden
	}
	if story.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: story is %s", models.ErrStoryNotReady, story.Status)
	}

	episode, err := r.allocate(ctx, story, log)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("episode_id", episode.ID.String()), zap.Int("episode_number", episode.EpisodeNumber))

	related := episode.ID.String()
	req := &models.GenerationRequest{
		RequestID:       uuid.New(),
		UserID:          userID,
		Type:            models.RequestTypeEpisode,
		Status:          models.RequestStatusPending,
		ExpectedItems:   1,
		RelatedEntityID: &related,
	}
	if err := r.ledger.Create(ctx, req); err != nil {
		r.failEpisode(ctx, episode.ID, "failed to register generation request", log)
		return nil, fmt.Errorf("failed to create generation request: %w", err)
	}

	event := messaging.ContinueEpisodeRequested{
		EventMeta:     messaging.NewEventMeta(),
		UserID:        userID,
		StoryID:       story.ID,
		EpisodeID:     episode.ID,
		EpisodeNumber: episode.EpisodeNumber,
		RequestID:     req.RequestID,
		Preferences:   story.Preferences,
	}
	if err := r.publisher.Publish(ctx, messaging.NewEnvelope(messaging.SourceEpisode, event)); err != nil {
		msg := fmt.Sprintf("failed to request episode generation: %v", err)
		if updErr := r.ledger.UpdateStatus(ctx, req.RequestID, models.StatusUpdate{
			Status:       models.RequestStatusFailed,
			ErrorMessage: &msg,
		}); updErr != nil {
			log.Error("Failed to mark generation request FAILED", zap.Error(updErr))
		}
		r.failEpisode(ctx, episode.ID, msg, log)
		return nil, fmt.Errorf("failed to publish continuation: %w", err)
	}

	log.Info("Episode continuation requested", zap.String("request_id", req.RequestID.String()))
	return &ContinueResult{
		EpisodeID:               episode.ID,
		EpisodeNumber:           episode.EpisodeNumber,
		RequestID:               req.RequestID,
		Status:                  StatusGenerating,
		EstimatedCompletionTime: r.now().Add(r.cfg.PerEpisodeEstimate),
	}, nil
}

func (r *Resolver) allocate(ctx context.Context, story *models.Story, log *zap.Logger) (*models.Episode, error) {
	for attempt := 1; attempt <= maxAllocationAttempts; attempt++ {
		numbers, err := r.episodes.ListNumbers(ctx, story.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list episode numbers: %w", err)
		}
		episode := &models.Episode{
			ID:            uuid.New(),
			StoryID:       story.ID,
			UserID:        story.UserID,
			EpisodeNumber: models.NextEpisodeNumber(numbers),
			Status:        models.StatusPending,
		}
		err = r.episodes.CreateIfAbsent(ctx, episode)
		if err == nil {
			return episode, nil
		}
		if !errors.Is(err, models.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to create episode: %w", err)
		}
		log.Warn("Episode number taken concurrently",
			zap.Int("episode_number", episode.EpisodeNumber),
			zap.Int("attempt", attempt),
		)
	}
	return nil, models.ErrEpisodeConflict
}

func (r *Resolver) failEpisode(ctx context.Context, episodeID uuid.UUID, reason string, log *zap.Logger) {
	if err := r.episodes.UpdateStatus(ctx, episodeID, models.StatusFailed, &reason); err != nil {
		log.Error("Failed to mark episode FAILED", zap.Error(err))
	}
}
