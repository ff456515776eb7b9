package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-workflow/internal/mocks"
	"novel-workflow/internal/testutil"
	"novel-workflow/internal/workflow"
	"novel-workflow/shared/messaging"
	"novel-workflow/shared/models"
)

const mockUserID = "user-7"

func batchSize(v int) *int { return &v }

func TestStartWorkflow_LimiterErrorIsInternal(t *testing.T) {
	limiter := mocks.NewRateLimiter(t)
	ledger := mocks.NewGenerationRequestRepository(t)
	prefs := mocks.NewPreferenceRepository(t)
	publisher := mocks.NewEventPublisher(t)

	limiter.On("Allow", mock.Anything, mockUserID).Return(false, errors.New("redis: connection refused")).Once()

	c := workflow.NewCoordinator(ledger, prefs, limiter, publisher, workflow.Config{}, zap.NewNop())
	_, err := c.StartWorkflow(context.Background(), mockUserID, workflow.StartWorkflowInput{NumberOfStories: 2})

	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrRateLimited)
	assert.Contains(t, err.Error(), "connection refused")
	prefs.AssertNotCalled(t, "GetByUserID", mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestStartWorkflow_LedgerFailureSkipsPublish(t *testing.T) {
	limiter := mocks.NewRateLimiter(t)
	ledger := mocks.NewGenerationRequestRepository(t)
	prefs := mocks.NewPreferenceRepository(t)
	publisher := mocks.NewEventPublisher(t)

	stored := testutil.CompletePreferences(mockUserID)
	limiter.On("Allow", mock.Anything, mockUserID).Return(true, nil).Once()
	prefs.On("GetByUserID", mock.Anything, mockUserID).Return(&stored, nil).Once()
	ledger.On("Create", mock.Anything, mock.MatchedBy(func(req *models.GenerationRequest) bool {
		return req.Type == models.RequestTypeStory && req.ExpectedItems == 4 && req.WorkflowID != nil
	})).Return(errors.New("pool exhausted")).Once()

	c := workflow.NewCoordinator(ledger, prefs, limiter, publisher, workflow.Config{}, zap.NewNop())
	_, err := c.StartWorkflow(context.Background(), mockUserID, workflow.StartWorkflowInput{NumberOfStories: 4, BatchSize: batchSize(2)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create generation request")
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestStartWorkflow_PublishesFirstBatchPlan(t *testing.T) {
	limiter := mocks.NewRateLimiter(t)
	ledger := mocks.NewGenerationRequestRepository(t)
	prefs := mocks.NewPreferenceRepository(t)
	publisher := mocks.NewEventPublisher(t)

	stored := testutil.CompletePreferences(mockUserID)
	limiter.On("Allow", mock.Anything, mockUserID).Return(true, nil).Once()
	prefs.On("GetByUserID", mock.Anything, mockUserID).Return(&stored, nil).Once()
	ledger.On("Create", mock.Anything, mock.AnythingOfType("*models.GenerationRequest")).Return(nil).Once()

	var published messaging.Envelope
	publisher.On("Publish", mock.Anything, mock.AnythingOfType("messaging.Envelope")).
		Run(func(args mock.Arguments) { published = args.Get(1).(messaging.Envelope) }).
		Return(nil).Once()

	c := workflow.NewCoordinator(ledger, prefs, limiter, publisher, workflow.Config{}, zap.NewNop())
	res, err := c.StartWorkflow(context.Background(), mockUserID, workflow.StartWorkflowInput{NumberOfStories: 5, BatchSize: batchSize(2)})
	require.NoError(t, err)

	assert.Equal(t, messaging.SourceWorkflow, published.Source)
	event, ok := published.Detail.(messaging.BatchStoryGenerationRequested)
	require.True(t, ok)
	assert.Equal(t, res.WorkflowID, event.WorkflowID)
	assert.Equal(t, res.RequestID, event.RequestID)
	assert.Equal(t, 1, event.CurrentBatch)
	assert.Equal(t, 3, event.TotalBatches)
	assert.Equal(t, 0, event.CompletedStories)
	assert.JSONEq(t, string(stored.Insights), string(event.Insights))
}
