// Package status собирает человекочитаемый прогресс запроса генерации из журнала
// и текущего состояния историй и эпизодов.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/models"
)

// RequestStatus - ответ GET /status/:requestId.
type RequestStatus struct {
	RequestID       uuid.UUID            `json:"requestId"`
	Type            models.RequestType   `json:"type"`
	Status          models.RequestStatus `json:"status"`
	WorkflowID      *uuid.UUID           `json:"workflowId,omitempty"`
	RelatedEntityID *string              `json:"relatedEntityId,omitempty"`
	ErrorMessage    *string              `json:"errorMessage,omitempty"`
	Progress        *Progress            `json:"progress,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// Settled сообщает, что статус больше не изменится: запрос FAILED, либо он
// завершен и прогресс дошел до последнего шага. STORY запрос становится
// COMPLETED раньше, чем готовы его эпизоды.
func (s *RequestStatus) Settled() bool {
	if s.Status == models.RequestStatusFailed {
		return true
	}
	if !s.Status.IsTerminal() {
		return false
	}
	return s.Progress == nil || s.Progress.StepNumber >= s.Progress.TotalSteps
}

// Aggregator только читает данные и ничего не меняет.
type Aggregator struct {
	ledger   interfaces.GenerationRequestRepository
	stories  interfaces.StoryRepository
	episodes interfaces.EpisodeRepository
	blobs    interfaces.BlobStore
	logger   *zap.Logger
}

func NewAggregator(
	ledger interfaces.GenerationRequestRepository,
	stories interfaces.StoryRepository,
	episodes interfaces.EpisodeRepository,
	blobs interfaces.BlobStore,
	logger *zap.Logger,
) *Aggregator {
	return &Aggregator{
		ledger:   ledger,
		stories:  stories,
		episodes: episodes,
		blobs:    blobs,
		logger:   logger.Named("StatusAggregator"),
	}
}

// GetStatus возвращает статус запроса владельцу.
// Ошибки чтения связанных сущностей не прерывают ответ: прогресс становится
// шагом "Error retrieving progress".
func (a *Aggregator) GetStatus(ctx context.Context, userID string, requestID uuid.UUID) (*RequestStatus, error) {
	req, err := a.ledger.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to load generation request: %w", err)
	}
	if req.UserID != userID {
		a.logger.Warn("Status requested by non-owner",
			zap.String("request_id", requestID.String()),
			zap.String("user_id", userID),
		)
		return nil, models.ErrForbidden
	}

	out := &RequestStatus{
		RequestID:       req.RequestID,
		Type:            req.Type,
		Status:          req.Status,
		WorkflowID:      req.WorkflowID,
		RelatedEntityID: req.RelatedEntityID,
		ErrorMessage:    req.ErrorMessage,
		CreatedAt:       req.CreatedAt,
		UpdatedAt:       req.UpdatedAt,
	}
	if req.Status == models.RequestStatusFailed {
		return out, nil
	}

	snap := a.snapshot(ctx, req)
	if snap.LookupErr != nil {
		a.logger.Warn("Failed to read progress entities",
			zap.String("request_id", requestID.String()),
			zap.Error(snap.LookupErr),
		)
	}
	progress := BuildProgress(req, snap)
	out.Progress = &progress
	return out, nil
}

func (a *Aggregator) snapshot(ctx context.Context, req *models.GenerationRequest) Snapshot {
	var snap Snapshot
	var err error
	switch req.Type {
	case models.RequestTypeStory:
		err = a.storySnapshot(ctx, req, &snap)
	case models.RequestTypeEpisode, models.RequestTypeImage:
		err = a.episodeSnapshot(ctx, req, &snap)
	default:
		err = fmt.Errorf("unknown request type %q", req.Type)
	}
	if err != nil {
		return Snapshot{LookupErr: err}
	}
	return snap
}

func (a *Aggregator) storySnapshot(ctx context.Context, req *models.GenerationRequest, snap *Snapshot) error {
	if req.WorkflowID != nil {
		stories, err := a.stories.ListByWorkflow(ctx, *req.WorkflowID)
		if err != nil {
			return fmt.Errorf("list workflow stories: %w", err)
		}
		snap.Stories = stories
		snap.DownloadURL = a.blobs.URL(models.WorkflowManifestKey(*req.WorkflowID))
	} else {
		storyID, ok, err := relatedID(req)
		if err != nil || !ok {
			return err
		}
		story, err := a.stories.GetByID(ctx, storyID)
		if err != nil {
			return fmt.Errorf("get story %s: %w", storyID, err)
		}
		snap.Stories = []*models.Story{story}
		if story.ContentKey != nil {
			snap.DownloadURL = a.blobs.URL(*story.ContentKey)
		}
	}

	for _, story := range snap.Stories {
		if story.Status != models.StatusCompleted {
			continue
		}
		episodes, err := a.episodes.ListByStory(ctx, story.ID)
		if err != nil {
			return fmt.Errorf("list episodes of story %s: %w", story.ID, err)
		}
		snap.Episodes = append(snap.Episodes, episodes...)
	}
	return nil
}

func (a *Aggregator) episodeSnapshot(ctx context.Context, req *models.GenerationRequest, snap *Snapshot) error {
	episodeID, ok, err := relatedID(req)
	if err != nil || !ok {
		return err
	}
	episode, err := a.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return fmt.Errorf("get episode %s: %w", episodeID, err)
	}
	snap.Episode = episode

	key := episode.ContentKey
	if req.Type == models.RequestTypeImage {
		key = episode.ImageKey
	}
	if key != nil {
		snap.DownloadURL = a.blobs.URL(*key)
	}
	return nil
}

// relatedID разбирает relatedEntityId. ok=false, если ссылки еще нет.
func relatedID(req *models.GenerationRequest) (uuid.UUID, bool, error) {
	if req.RelatedEntityID == nil || *req.RelatedEntityID == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(*req.RelatedEntityID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid related entity id %q: %w", *req.RelatedEntityID, err)
	}
	return id, true, nil
}
