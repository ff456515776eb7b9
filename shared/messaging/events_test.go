package messaging_test

import (
	"encoding/json"
	"testing"

	"novel-workflow/shared/messaging"
	"novel-workflow/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalBatchesFor(t *testing.T) {
	tests := []struct {
		n, b, want int
	}{
		{1, 1, 1},
		{3, 1, 3},
		{10, 1, 10},
		{10, 3, 4},
		{9, 3, 3},
		{7, 7, 1},
		{5, 0, 5}, // batchSize по умолчанию = 1
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, messaging.TotalBatchesFor(tt.n, tt.b), "n=%d b=%d", tt.n, tt.b)
	}
}

func TestBatchPlan_Walk(t *testing.T) {
	plan := messaging.BatchPlan{
		WorkflowID:      uuid.New(),
		NumberOfStories: 7,
		BatchSize:       3,
		CurrentBatch:    1,
		TotalBatches:    messaging.TotalBatchesFor(7, 3),
	}

	var sizes, firsts []int
	for {
		sizes = append(sizes, plan.StoriesInBatch())
		firsts = append(firsts, plan.FirstSequence())
		if plan.IsLast() {
			break
		}
		plan = plan.Next(plan.StoriesInBatch())
	}

	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, []int{1, 4, 7}, firsts)
	assert.Equal(t, 3, plan.CurrentBatch)
	assert.Equal(t, 6, plan.CompletedStories, "последний пакет еще не учтен")
}

func TestEnvelope_JSONRoundTripKeepsConcreteDetail(t *testing.T) {
	storyID := uuid.New()
	env := messaging.NewEnvelope(messaging.SourceEpisode, messaging.ImageGenerationRequested{
		EventMeta:     messaging.NewEventMeta(),
		UserID:        "user-1",
		StoryID:       storyID,
		EpisodeID:     uuid.New(),
		EpisodeNumber: 2,
		RequestID:     uuid.New(),
		AspectRatio:   messaging.AspectRatioPortrait,
	})

	body, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"detailType":"Image Generation Requested"`)

	var decoded messaging.Envelope
	require.NoError(t, json.Unmarshal(body, &decoded))

	detail, ok := decoded.Detail.(messaging.ImageGenerationRequested)
	require.True(t, ok, "detail should decode into ImageGenerationRequested, got %T", decoded.Detail)
	assert.Equal(t, storyID, detail.StoryID)
	assert.Equal(t, 2, detail.EpisodeNumber)
	assert.True(t, detail.Timestamp.Equal(env.Detail.EventTime()))
}

func TestEnvelope_UnmarshalUnknownDetailType(t *testing.T) {
	var env messaging.Envelope
	err := json.Unmarshal([]byte(`{"source":"story","detailType":"Something Else","detail":{}}`), &env)
	assert.Error(t, err)
}

func TestBatchStoryEvent_FlattensPlanIntoDetail(t *testing.T) {
	detail := messaging.BatchStoryGenerationRequested{
		EventMeta: messaging.NewEventMeta(),
		BatchPlan: messaging.BatchPlan{
			WorkflowID:      uuid.New(),
			NumberOfStories: 3,
			BatchSize:       1,
			CurrentBatch:    1,
			TotalBatches:    3,
		},
		UserID:      "user-1",
		RequestID:   uuid.New(),
		Preferences: models.StoryPreferences{Genres: []string{"fantasy"}, Language: "en"},
	}
	body, err := json.Marshal(detail)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	for _, key := range []string{"workflowId", "numberOfStories", "currentBatch", "totalBatches", "completedStories", "failedStories", "userId", "requestId", "preferences", "timestamp"} {
		assert.Contains(t, fields, key)
	}
}
