package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-workflow/internal/continuation"
	"novel-workflow/internal/status"
	"novel-workflow/internal/testutil"
	"novel-workflow/internal/worker"
	"novel-workflow/internal/workflow"
	"novel-workflow/shared/database"
	"novel-workflow/shared/messaging"
	"novel-workflow/shared/models"
)

const userID = "reader-1"

type pipeline struct {
	bus         *messaging.InMemoryBus
	ledger      *testutil.MemoryLedger
	stories     *testutil.MemoryStories
	episodes    *testutil.MemoryEpisodes
	blobs       *testutil.MemoryBlobStore
	gen         *testutil.FakeGenerator
	coordinator *workflow.Coordinator
	aggregator  *status.Aggregator

	storyWorker   *worker.StoryWorker
	episodeWorker *worker.EpisodeWorker
	imageWorker   *worker.ImageWorker
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{
		bus:      messaging.NewInMemoryBus(),
		ledger:   testutil.NewMemoryLedger(),
		stories:  testutil.NewMemoryStories(),
		episodes: testutil.NewMemoryEpisodes(),
		blobs:    testutil.NewMemoryBlobStore(),
		gen:      &testutil.FakeGenerator{},
	}
	log := zap.NewNop()
	deps := worker.Dependencies{
		Ledger:    p.ledger,
		Stories:   p.stories,
		Episodes:  p.episodes,
		Blobs:     p.blobs,
		Generator: p.gen,
		Publisher: p.bus,
	}
	p.storyWorker = worker.NewStoryWorker(deps, log)
	p.episodeWorker = worker.NewEpisodeWorker(deps, log)
	p.imageWorker = worker.NewImageWorker(deps, log)

	for dt, h := range worker.Handlers(deps, log) {
		p.bus.Subscribe(dt, h)
	}

	prefs := testutil.NewMemoryPreferences()
	prefs.Put(testutil.CompletePreferences(userID))
	limiter := database.NewMemoryRateLimiter(100, time.Minute, log)
	p.coordinator = workflow.NewCoordinator(p.ledger, prefs, limiter, p.bus, workflow.Config{}, log)
	p.aggregator = status.NewAggregator(p.ledger, p.stories, p.episodes, p.blobs, log)
	return p
}

func (p *pipeline) start(t *testing.T, n, batch int) *workflow.StartWorkflowResult {
	t.Helper()
	res, err := p.coordinator.StartWorkflow(context.Background(), userID, workflow.StartWorkflowInput{
		NumberOfStories: n,
		BatchSize:       &batch,
	})
	require.NoError(t, err)
	return res
}

func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.bus.Drain(ctx))
}

func batchNumbers(envs []messaging.Envelope) []int {
	var out []int
	for _, env := range envs {
		out = append(out, env.Detail.(messaging.BatchStoryGenerationRequested).CurrentBatch)
	}
	return out
}

func TestPipeline_EndToEnd_ThreeStories(t *testing.T) {
	p := newPipeline(t)
	res := p.start(t, 3, 1)
	p.drain(t)

	assert.Empty(t, p.bus.DeadLetters())

	// Пакеты шли строго по порядку, по одному событию на пакет.
	assert.Equal(t, []int{1, 2, 3}, batchNumbers(p.bus.PublishedOf(messaging.DetailBatchStoryGenerationRequested)))

	stories := p.stories.All()
	require.Len(t, stories, 3)
	for i, s := range stories {
		assert.Equal(t, i+1, s.Sequence)
		assert.Equal(t, models.StatusCompleted, s.Status)
		require.NotNil(t, s.ContentKey)
		assert.Equal(t, models.StoryContentKey(s.ID), *s.ContentKey)
	}

	completions := p.bus.PublishedOf(messaging.DetailBatchWorkflowCompleted)
	require.Len(t, completions, 1)
	done := completions[0].Detail.(messaging.BatchWorkflowCompleted)
	assert.Equal(t, res.WorkflowID, done.WorkflowID)
	assert.Equal(t, 3, done.CompletedStories)
	assert.Equal(t, []uuid.UUID{stories[0].ID, stories[1].ID, stories[2].ID}, done.StoryIDs)

	req, err := p.ledger.GetByID(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, req.Status)
	require.NotNil(t, req.RelatedEntityID)
	assert.Equal(t, stories[0].ID.String(), *req.RelatedEntityID)

	history := p.ledger.History(res.RequestID)
	assert.Equal(t, models.RequestStatusPending, history[0])
	assert.Equal(t, models.RequestStatusCompleted, history[len(history)-1])
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i-1].CanTransitionTo(history[i]), "%s -> %s", history[i-1], history[i])
	}

	episodes := p.episodes.All()
	require.Len(t, episodes, 3)
	for _, e := range episodes {
		assert.Equal(t, 1, e.EpisodeNumber)
		assert.Equal(t, models.StatusCompleted, e.Status)
		require.NotNil(t, e.ImageKey)
		assert.Equal(t, "image/png", p.blobs.ContentType(*e.ImageKey))
	}
	for _, img := range p.ledger.OfType(models.RequestTypeImage) {
		assert.Equal(t, models.RequestStatusCompleted, img.Status)
	}
	assert.Len(t, p.ledger.OfType(models.RequestTypeImage), 3)

	var manifest struct {
		WorkflowID uuid.UUID `json:"workflowId"`
		Stories    []struct {
			StoryID  uuid.UUID `json:"storyId"`
			Sequence int       `json:"sequence"`
		} `json:"stories"`
	}
	raw, err := p.blobs.Get(context.Background(), models.WorkflowManifestKey(res.WorkflowID))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, res.WorkflowID, manifest.WorkflowID)
	assert.Len(t, manifest.Stories, 3)

	st, err := p.aggregator.GetStatus(context.Background(), userID, res.RequestID)
	require.NoError(t, err)
	require.NotNil(t, st.Progress)
	assert.Equal(t, 3, st.Progress.StepNumber)
	assert.Equal(t, 3, st.Progress.TotalSteps)
	assert.Equal(t, p.blobs.URL(models.WorkflowManifestKey(res.WorkflowID)), st.Progress.DownloadURL)
}

func TestPipeline_BatchesOfTwo(t *testing.T) {
	p := newPipeline(t)
	res := p.start(t, 5, 2)
	p.drain(t)

	assert.Equal(t, 3, res.TotalBatches)
	assert.Equal(t, []int{1, 2, 3}, batchNumbers(p.bus.PublishedOf(messaging.DetailBatchStoryGenerationRequested)))
	assert.Len(t, p.stories.All(), 5)

	completions := p.bus.PublishedOf(messaging.DetailBatchWorkflowCompleted)
	require.Len(t, completions, 1)
	assert.Equal(t, 5, completions[0].Detail.(messaging.BatchWorkflowCompleted).CompletedStories)
}

func TestPipeline_FailureOnSecondOfThree(t *testing.T) {
	p := newPipeline(t)
	p.gen.FailStorySequence = map[int]error{2: errors.New("model overloaded")}
	res := p.start(t, 3, 1)
	p.drain(t)

	stories := p.stories.All()
	require.Len(t, stories, 2, "the workflow halts after the failed item")
	assert.Equal(t, models.StatusCompleted, stories[0].Status)
	assert.Equal(t, models.StatusFailed, stories[1].Status)

	req, err := p.ledger.GetByID(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusFailed, req.Status)
	require.NotNil(t, req.ErrorMessage)
	assert.Contains(t, *req.ErrorMessage, "story 2 of 3")
	assert.Contains(t, *req.ErrorMessage, "model overloaded")

	assert.Empty(t, p.bus.PublishedOf(messaging.DetailBatchWorkflowCompleted))
	assert.Equal(t, []int{1, 2}, batchNumbers(p.bus.PublishedOf(messaging.DetailBatchStoryGenerationRequested)))

	dead := p.bus.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Detail.(messaging.BatchStoryGenerationRequested).CurrentBatch)

	// Уже готовая первая история сохраняет свой эпизод.
	episodes := p.episodes.All()
	require.Len(t, episodes, 1)
	assert.Equal(t, stories[0].ID, episodes[0].StoryID)

	st, err := p.aggregator.GetStatus(context.Background(), userID, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusFailed, st.Status)
	assert.Nil(t, st.Progress)

	// Повторная доставка упавшего пакета не запускает генерацию снова.
	require.NoError(t, p.storyWorker.Handle(context.Background(), dead[0]))
	stories2, _, _ := p.gen.Calls()
	assert.Equal(t, 2, stories2)
}

func TestPipeline_RedeliveredBatchSkipsCompletedStory(t *testing.T) {
	p := newPipeline(t)
	p.start(t, 2, 1)
	first := p.bus.PublishedOf(messaging.DetailBatchStoryGenerationRequested)[0]

	ctx := context.Background()
	require.NoError(t, p.storyWorker.Handle(ctx, first))
	require.NoError(t, p.storyWorker.Handle(ctx, first))

	storyCalls, _, _ := p.gen.Calls()
	assert.Equal(t, 1, storyCalls)
	assert.Len(t, p.stories.All(), 1)

	// Дубль следующего пакета безопасен: история 2 создается один раз.
	p.drain(t)
	assert.Len(t, p.stories.All(), 2)
	assert.Len(t, p.bus.PublishedOf(messaging.DetailBatchWorkflowCompleted), 1)
	storyCalls, _, _ = p.gen.Calls()
	assert.Equal(t, 2, storyCalls)
}

func TestPipeline_ImageFailureKeepsEpisode(t *testing.T) {
	p := newPipeline(t)
	p.gen.FailImages = errors.New("image backend down")
	res := p.start(t, 1, 1)
	p.drain(t)

	episodes := p.episodes.All()
	require.Len(t, episodes, 1)
	assert.Equal(t, models.StatusCompleted, episodes[0].Status)
	assert.Nil(t, episodes[0].ImageKey)

	images := p.ledger.OfType(models.RequestTypeImage)
	require.Len(t, images, 1)
	assert.Equal(t, models.RequestStatusFailed, images[0].Status)
	require.NotNil(t, images[0].ErrorMessage)
	assert.Contains(t, *images[0].ErrorMessage, "image backend down")

	req, err := p.ledger.GetByID(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, req.Status)

	// Повторная доставка события эпизода только заново запрашивает иллюстрацию.
	p.gen.FailImages = nil
	firstEpisode := p.bus.PublishedOf(messaging.DetailEpisodeGenerationRequested)[0]
	require.NoError(t, p.episodeWorker.Handle(context.Background(), firstEpisode))
	p.drain(t)

	_, episodeCalls, imageCalls := p.gen.Calls()
	assert.Equal(t, 1, episodeCalls)
	assert.Equal(t, 2, imageCalls)
	ep, err := p.episodes.GetByID(context.Background(), episodes[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, ep.ImageKey)

	// Эпизод с иллюстрацией при повторной доставке просто подтверждается.
	require.NoError(t, p.episodeWorker.Handle(context.Background(), firstEpisode))
	assert.Len(t, p.ledger.OfType(models.RequestTypeImage), 2)
}

func TestEpisodeWorker_Continuation(t *testing.T) {
	p := newPipeline(t)
	p.start(t, 1, 1)
	p.drain(t)
	ctx := context.Background()

	story := p.stories.All()[0]
	episode := &models.Episode{ID: uuid.New(), StoryID: story.ID, UserID: userID, EpisodeNumber: 2, Status: models.StatusPending}
	require.NoError(t, p.episodes.CreateIfAbsent(ctx, episode))
	related := episode.ID.String()
	req := &models.GenerationRequest{RequestID: uuid.New(), UserID: userID, Type: models.RequestTypeEpisode, RelatedEntityID: &related}
	require.NoError(t, p.ledger.Create(ctx, req))

	require.NoError(t, p.bus.Publish(ctx, messaging.NewEnvelope(messaging.SourceEpisode, messaging.ContinueEpisodeRequested{
		EventMeta:     messaging.NewEventMeta(),
		UserID:        userID,
		StoryID:       story.ID,
		EpisodeID:     episode.ID,
		EpisodeNumber: 2,
		RequestID:     req.RequestID,
		Preferences:   story.Preferences,
	})))
	p.drain(t)

	got, err := p.episodes.GetByID(ctx, episode.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.NotNil(t, got.ImageKey)

	ledgerRow, err := p.ledger.GetByID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, ledgerRow.Status)
	assert.Equal(t, related, *ledgerRow.RelatedEntityID)
	assert.Equal(t, []models.RequestStatus{
		models.RequestStatusPending,
		models.RequestStatusProcessing,
		models.RequestStatusCompleted,
	}, p.ledger.History(req.RequestID))

	st, err := p.aggregator.GetStatus(ctx, userID, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Progress.StepNumber)
	assert.Equal(t, p.blobs.URL(models.EpisodeContentKey(episode.ID)), st.Progress.DownloadURL)
}

func TestPipeline_ContinuationBeforeFirstEpisodeGetsNextNumber(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Событие первого эпизода задерживается, пока пользователь просит продолжение.
	var held []messaging.Envelope
	p.bus.Subscribe(messaging.DetailEpisodeGenerationRequested, func(_ context.Context, env messaging.Envelope) error {
		held = append(held, env)
		return nil
	})
	p.start(t, 1, 1)
	p.drain(t)
	require.Len(t, held, 1)

	story := p.stories.All()[0]
	require.Equal(t, models.StatusCompleted, story.Status)
	reserved, err := p.episodes.GetByNumber(ctx, story.ID, models.FirstEpisodeNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reserved.Status)

	resolver := continuation.NewResolver(p.stories, p.episodes, p.ledger, p.bus, continuation.Config{}, zap.NewNop())
	res, err := resolver.ContinueEpisode(ctx, userID, story.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.EpisodeNumber)

	require.NoError(t, p.episodeWorker.Handle(ctx, held[0]))
	p.drain(t)

	numbers, err := p.episodes.ListNumbers(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, numbers)
	for _, ep := range p.episodes.All() {
		assert.Equal(t, models.StatusCompleted, ep.Status, "episode %d", ep.EpisodeNumber)
	}
	assert.Len(t, p.ledger.OfType(models.RequestTypeImage), 2)
	assert.Empty(t, p.bus.DeadLetters())
}

func TestEpisodeWorker_ContinuationFailureMarksLedger(t *testing.T) {
	p := newPipeline(t)
	p.start(t, 1, 1)
	p.drain(t)
	ctx := context.Background()
	p.gen.FailEpisodes = errors.New("context window exceeded")

	story := p.stories.All()[0]
	episode := &models.Episode{ID: uuid.New(), StoryID: story.ID, UserID: userID, EpisodeNumber: 2, Status: models.StatusPending}
	require.NoError(t, p.episodes.CreateIfAbsent(ctx, episode))
	related := episode.ID.String()
	req := &models.GenerationRequest{RequestID: uuid.New(), UserID: userID, Type: models.RequestTypeEpisode, RelatedEntityID: &related}
	require.NoError(t, p.ledger.Create(ctx, req))

	err := p.episodeWorker.Handle(ctx, messaging.NewEnvelope(messaging.SourceEpisode, messaging.ContinueEpisodeRequested{
		EventMeta:     messaging.NewEventMeta(),
		UserID:        userID,
		StoryID:       story.ID,
		EpisodeID:     episode.ID,
		EpisodeNumber: 2,
		RequestID:     req.RequestID,
		Preferences:   story.Preferences,
	}))
	require.Error(t, err)

	got, err := p.episodes.GetByID(ctx, episode.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	row, err := p.ledger.GetByID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusFailed, row.Status)
	assert.Contains(t, *row.ErrorMessage, "context window exceeded")
}

func TestStoryWorker_SingleStory(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	req := &models.GenerationRequest{RequestID: uuid.New(), UserID: userID, Type: models.RequestTypeStory}
	require.NoError(t, p.ledger.Create(ctx, req))

	env := messaging.NewEnvelope(messaging.SourceWorkflow, messaging.StoryGenerationRequested{
		EventMeta:   messaging.NewEventMeta(),
		UserID:      userID,
		RequestID:   req.RequestID,
		Preferences: testutil.CompletePreferences(userID).Preferences,
	})
	require.NoError(t, p.bus.Publish(ctx, env))
	p.drain(t)

	stories := p.stories.All()
	require.Len(t, stories, 1)
	assert.Nil(t, stories[0].WorkflowID)

	row, err := p.ledger.GetByID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, row.Status)
	assert.Equal(t, stories[0].ID.String(), *row.RelatedEntityID)
	assert.Len(t, p.bus.PublishedOf(messaging.DetailEpisodeGenerationRequested), 1)

	// Терминальный запрос: повторная доставка подтверждается без работы.
	require.NoError(t, p.storyWorker.Handle(ctx, env))
	storyCalls, _, _ := p.gen.Calls()
	assert.Equal(t, 1, storyCalls)
}

func TestWorkers_RejectForeignEvents(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	env := messaging.NewEnvelope(messaging.SourceStory, messaging.EpisodeGenerationRequested{
		EventMeta: messaging.NewEventMeta(), UserID: userID, StoryID: uuid.New(), EpisodeNumber: 1,
	})
	assert.ErrorIs(t, p.storyWorker.Handle(ctx, env), worker.ErrUnexpectedEvent)
	assert.ErrorIs(t, p.imageWorker.Handle(ctx, env), worker.ErrUnexpectedEvent)
	assert.ErrorIs(t, p.storyWorker.HandleWorkflowCompleted(ctx, env), worker.ErrUnexpectedEvent)
}
