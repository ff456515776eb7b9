package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/shared/messaging"
	"novel-workflow/shared/models"
)

const markdownContentType = "text/markdown; charset=utf-8"

// StoryWorker генерирует истории: одиночные и пакетные (по одному пакету на доставку).
type StoryWorker struct {
	deps   Dependencies
	logger *zap.Logger
}

func NewStoryWorker(deps Dependencies, logger *zap.Logger) *StoryWorker {
	return &StoryWorker{deps: deps, logger: logger.Named("StoryWorker")}
}

// Handle реализует messaging.HandlerFunc для маршрутов story.requested и story.batch.requested.
func (w *StoryWorker) Handle(ctx context.Context, env messaging.Envelope) error {
	switch d := env.Detail.(type) {
	case messaging.StoryGenerationRequested:
		return w.handleSingle(ctx, d)
	case messaging.BatchStoryGenerationRequested:
		return w.handleBatch(ctx, d)
	default:
		return unexpected(env)
	}
}

func (w *StoryWorker) handleSingle(ctx context.Context, d messaging.StoryGenerationRequested) error {
	log := w.logger.With(zap.String("request_id", d.RequestID.String()), zap.String("user_id", d.UserID))
	log.Info("Received story generation request")

	req, err := w.deps.Ledger.GetByID(ctx, d.RequestID)
	if err != nil {
		return fmt.Errorf("failed to load generation request: %w", err)
	}
	if req.Status.IsTerminal() {
		log.Info("Generation request already finished, skipping redelivered event", zap.String("status", string(req.Status)))
		recordItem(stageStory, "skipped")
		return nil
	}

	// Повторная доставка: история уже создана и записана в relatedEntityId.
	var story *models.Story
	if req.RelatedEntityID != nil {
		if storyID, parseErr := uuid.Parse(*req.RelatedEntityID); parseErr == nil {
			story, err = w.deps.Stories.GetByID(ctx, storyID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("failed to load story %s: %w", storyID, err)
			}
		}
	}
	if story == nil {
		story = newStory(d.UserID, d.RequestID, nil, 1, d.Preferences)
		if err := w.deps.Stories.Create(ctx, story); err != nil {
			reason := fmt.Sprintf("failed to create story: %v", err)
			markRequestFailed(ctx, w.deps.Ledger, d.RequestID, reason, log)
			return fmt.Errorf("%s: %w", reason, err)
		}
	}
	log = log.With(zap.String("story_id", story.ID.String()))

	if err := w.deps.Ledger.UpdateStatus(ctx, d.RequestID, models.StatusUpdate{
		Status:          models.RequestStatusProcessing,
		RelatedEntityID: ptrString(story.ID.String()),
	}); err != nil {
		return fmt.Errorf("failed to mark generation request PROCESSING: %w", err)
	}

	if story.Status != models.StatusCompleted {
		if err := w.generate(ctx, story, d.Insights, log); err != nil {
			reason := fmt.Sprintf("story generation failed: %v", err)
			w.markStoryFailed(ctx, story.ID, reason, log)
			markRequestFailed(ctx, w.deps.Ledger, d.RequestID, reason, log)
			return err
		}
	}

	// Ошибка публикации оставляет запрос в PROCESSING: повтор из DLQ продолжит с этого места.
	if err := w.requestFirstEpisode(ctx, story); err != nil {
		return err
	}
	if err := markRequestCompleted(ctx, w.deps.Ledger, d.RequestID, story.ID.String()); err != nil {
		return err
	}
	log.Info("Story generation request completed")
	return nil
}

func (w *StoryWorker) handleBatch(ctx context.Context, d messaging.BatchStoryGenerationRequested) error {
	log := w.logger.With(
		zap.String("workflow_id", d.WorkflowID.String()),
		zap.String("request_id", d.RequestID.String()),
		zap.Int("current_batch", d.CurrentBatch),
		zap.Int("total_batches", d.TotalBatches),
	)
	log.Info("Received batch story generation request")

	req, err := w.deps.Ledger.GetByID(ctx, d.RequestID)
	if err != nil {
		return fmt.Errorf("failed to load generation request: %w", err)
	}
	if req.Status.IsTerminal() {
		log.Info("Workflow already finished, skipping batch", zap.String("status", string(req.Status)))
		recordItem(stageStory, "skipped")
		return nil
	}
	if err := w.deps.Ledger.UpdateStatus(ctx, d.RequestID, models.StatusUpdate{Status: models.RequestStatusProcessing}); err != nil {
		return fmt.Errorf("failed to mark generation request PROCESSING: %w", err)
	}

	count := d.StoriesInBatch()
	if count <= 0 {
		return fmt.Errorf("batch %d of %d has no stories to generate", d.CurrentBatch, d.TotalBatches)
	}

	first := d.FirstSequence()
	for sequence := first; sequence < first+count; sequence++ {
		itemLog := log.With(zap.Int("sequence", sequence))

		story, err := w.workflowStory(ctx, d, sequence)
		if err != nil {
			reason := fmt.Sprintf("story %d of %d failed: %v", sequence, d.NumberOfStories, err)
			markRequestFailed(ctx, w.deps.Ledger, d.RequestID, reason, itemLog)
			return fmt.Errorf("workflow %s: %w", d.WorkflowID, err)
		}
		itemLog = itemLog.With(zap.String("story_id", story.ID.String()))

		if story.Status == models.StatusCompleted {
			itemLog.Info("Story already generated, skipping generation step")
			recordItem(stageStory, "skipped")
		} else if err := w.generate(ctx, story, d.Insights, itemLog); err != nil {
			reason := fmt.Sprintf("story %d of %d failed: %v", sequence, d.NumberOfStories, err)
			w.markStoryFailed(ctx, story.ID, reason, itemLog)
			markRequestFailed(ctx, w.deps.Ledger, d.RequestID, reason, itemLog)
			return fmt.Errorf("workflow %s: %w", d.WorkflowID, err)
		}

		if err := w.deps.Ledger.UpdateStatus(ctx, d.RequestID, models.StatusUpdate{
			Status:          models.RequestStatusProcessing,
			RelatedEntityID: ptrString(story.ID.String()),
		}); err != nil {
			return fmt.Errorf("failed to record workflow progress: %w", err)
		}
		if err := w.requestFirstEpisode(ctx, story); err != nil {
			return err
		}
	}

	if !d.IsLast() {
		next := d
		next.EventMeta = messaging.NewEventMeta()
		next.BatchPlan = d.BatchPlan.Next(count)
		if err := w.deps.Publisher.Publish(ctx, messaging.NewEnvelope(messaging.SourceStory, next)); err != nil {
			recordItem(stageStory, "error_publish")
			return fmt.Errorf("failed to publish batch %d of %d: %w", next.CurrentBatch, next.TotalBatches, err)
		}
		log.Info("Next batch requested", zap.Int("next_batch", next.CurrentBatch))
		return nil
	}
	return w.completeWorkflow(ctx, d, count, log)
}

// workflowStory возвращает историю пакета по (workflowId, sequence), создавая ее при первой доставке.
func (w *StoryWorker) workflowStory(ctx context.Context, d messaging.BatchStoryGenerationRequested, sequence int) (*models.Story, error) {
	story, err := w.deps.Stories.GetByWorkflowSequence(ctx, d.WorkflowID, sequence)
	if err == nil {
		return story, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up story: %w", err)
	}

	workflowID := d.WorkflowID
	story = newStory(d.UserID, d.RequestID, &workflowID, sequence, d.Preferences)
	if err := w.deps.Stories.Create(ctx, story); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			return w.deps.Stories.GetByWorkflowSequence(ctx, d.WorkflowID, sequence)
		}
		return nil, fmt.Errorf("failed to create story: %w", err)
	}
	return story, nil
}

// generate вызывает генератор, сохраняет текст и помечает историю COMPLETED.
func (w *StoryWorker) generate(ctx context.Context, story *models.Story, insights json.RawMessage, log *zap.Logger) error {
	start := time.Now()
	generated, err := w.deps.Generator.GenerateStory(ctx, models.StoryPrompt{
		UserID:      story.UserID,
		Preferences: story.Preferences,
		Insights:    insights,
		Sequence:    story.Sequence,
	})
	if err != nil {
		recordItem(stageStory, "error_generation")
		return fmt.Errorf("content generator: %w", err)
	}

	key := models.StoryContentKey(story.ID)
	body := "# " + generated.Title + "\n\n" + generated.Content
	if err := w.deps.Blobs.Put(ctx, key, []byte(body), markdownContentType); err != nil {
		recordItem(stageStory, "error_storage")
		return fmt.Errorf("failed to store story content: %w", err)
	}
	// Первый эпизод занимается до того, как история станет COMPLETED: иначе
	// продолжение, запрошенное в этот момент, получило бы номер 1.
	if err := w.reserveFirstEpisode(ctx, story); err != nil {
		recordItem(stageStory, "error_storage")
		return err
	}
	if err := w.deps.Stories.MarkCompleted(ctx, story.ID, generated.Title, key); err != nil {
		recordItem(stageStory, "error_storage")
		return fmt.Errorf("failed to mark story completed: %w", err)
	}

	story.Title = generated.Title
	story.ContentKey = &key
	story.Status = models.StatusCompleted
	observeItem(stageStory, start)
	recordItem(stageStory, "success")
	log.Info("Story generated", zap.String("title", generated.Title), zap.Duration("duration", time.Since(start)))
	return nil
}

func (w *StoryWorker) markStoryFailed(ctx context.Context, storyID uuid.UUID, reason string, log *zap.Logger) {
	if err := w.deps.Stories.MarkFailed(ctx, storyID, reason); err != nil {
		log.Error("Failed to mark story FAILED", zap.Error(err))
	}
}

// reserveFirstEpisode создает PENDING строку первого эпизода, если ее еще нет.
func (w *StoryWorker) reserveFirstEpisode(ctx context.Context, story *models.Story) error {
	_, err := w.deps.Episodes.GetByNumber(ctx, story.ID, models.FirstEpisodeNumber)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to look up first episode: %w", err)
	}
	episode := &models.Episode{
		ID:            uuid.New(),
		StoryID:       story.ID,
		UserID:        story.UserID,
		EpisodeNumber: models.FirstEpisodeNumber,
		Status:        models.StatusPending,
	}
	if err := w.deps.Episodes.CreateIfAbsent(ctx, episode); err != nil && !errors.Is(err, models.ErrAlreadyExists) {
		return fmt.Errorf("failed to reserve first episode: %w", err)
	}
	return nil
}

func (w *StoryWorker) requestFirstEpisode(ctx context.Context, story *models.Story) error {
	event := messaging.EpisodeGenerationRequested{
		EventMeta:     messaging.NewEventMeta(),
		UserID:        story.UserID,
		StoryID:       story.ID,
		EpisodeNumber: models.FirstEpisodeNumber,
		WorkflowID:    story.WorkflowID,
	}
	if err := w.deps.Publisher.Publish(ctx, messaging.NewEnvelope(messaging.SourceStory, event)); err != nil {
		recordItem(stageStory, "error_publish")
		return fmt.Errorf("failed to request first episode for story %s: %w", story.ID, err)
	}
	return nil
}

// workflowManifest - сводка завершенного workflow, сохраняется рядом с текстами историй.
type workflowManifest struct {
	WorkflowID  uuid.UUID          `json:"workflowId"`
	RequestID   uuid.UUID          `json:"requestId"`
	UserID      string             `json:"userId"`
	CompletedAt time.Time          `json:"completedAt"`
	Stories     []manifestStoryRef `json:"stories"`
}

type manifestStoryRef struct {
	StoryID    uuid.UUID `json:"storyId"`
	Sequence   int       `json:"sequence"`
	Title      string    `json:"title"`
	ContentURL string    `json:"contentUrl"`
}

// completeWorkflow завершает последний пакет: манифест, событие завершения, журнал COMPLETED.
func (w *StoryWorker) completeWorkflow(ctx context.Context, d messaging.BatchStoryGenerationRequested, completedInBatch int, log *zap.Logger) error {
	stories, err := w.deps.Stories.ListByWorkflow(ctx, d.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to list workflow stories: %w", err)
	}

	manifest := workflowManifest{
		WorkflowID:  d.WorkflowID,
		RequestID:   d.RequestID,
		UserID:      d.UserID,
		CompletedAt: time.Now().UTC(),
	}
	storyIDs := make([]uuid.UUID, 0, len(stories))
	for _, s := range stories {
		if s.Status != models.StatusCompleted {
			continue
		}
		storyIDs = append(storyIDs, s.ID)
		ref := manifestStoryRef{StoryID: s.ID, Sequence: s.Sequence, Title: s.Title}
		if s.ContentKey != nil {
			ref.ContentURL = w.deps.Blobs.URL(*s.ContentKey)
		}
		manifest.Stories = append(manifest.Stories, ref)
	}
	if len(storyIDs) == 0 {
		reason := "workflow finished without completed stories"
		markRequestFailed(ctx, w.deps.Ledger, d.RequestID, reason, log)
		return errors.New(reason)
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workflow manifest: %w", err)
	}
	if err := w.deps.Blobs.Put(ctx, models.WorkflowManifestKey(d.WorkflowID), body, "application/json"); err != nil {
		reason := fmt.Sprintf("failed to store workflow manifest: %v", err)
		markRequestFailed(ctx, w.deps.Ledger, d.RequestID, reason, log)
		return fmt.Errorf("%s: %w", reason, err)
	}

	completed := messaging.BatchWorkflowCompleted{
		EventMeta:        messaging.NewEventMeta(),
		UserID:           d.UserID,
		WorkflowID:       d.WorkflowID,
		RequestID:        d.RequestID,
		NumberOfStories:  d.NumberOfStories,
		CompletedStories: d.CompletedStories + completedInBatch,
		FailedStories:    d.FailedStories,
		StoryIDs:         storyIDs,
	}
	if err := w.deps.Publisher.Publish(ctx, messaging.NewEnvelope(messaging.SourceStory, completed)); err != nil {
		recordItem(stageStory, "error_publish")
		return fmt.Errorf("failed to publish workflow completion: %w", err)
	}
	if err := markRequestCompleted(ctx, w.deps.Ledger, d.RequestID, storyIDs[0].String()); err != nil {
		return err
	}

	workflowsCompleted.Inc()
	log.Info("Workflow completed", zap.Int("completed_stories", completed.CompletedStories))
	return nil
}

// HandleWorkflowCompleted обрабатывает маршрут workflow.completed. Пайплайн на этом
// событии заканчивается, обработчик только фиксирует его в логе.
func (w *StoryWorker) HandleWorkflowCompleted(_ context.Context, env messaging.Envelope) error {
	d, ok := env.Detail.(messaging.BatchWorkflowCompleted)
	if !ok {
		return unexpected(env)
	}
	w.logger.Info("Batch workflow completed",
		zap.String("workflow_id", d.WorkflowID.String()),
		zap.String("request_id", d.RequestID.String()),
		zap.String("user_id", d.UserID),
		zap.Int("completed_stories", d.CompletedStories),
		zap.Int("number_of_stories", d.NumberOfStories),
	)
	return nil
}

func newStory(userID string, requestID uuid.UUID, workflowID *uuid.UUID, sequence int, prefs models.StoryPreferences) *models.Story {
	return &models.Story{
		ID:          uuid.New(),
		UserID:      userID,
		RequestID:   requestID,
		WorkflowID:  workflowID,
		Sequence:    sequence,
		Status:      models.StatusProcessing,
		Preferences: prefs,
	}
}
