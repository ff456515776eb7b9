package generator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-workflow/shared/models"
)

type mockTextClient struct {
	mock.Mock
}

func (m *mockTextClient) GenerateText(ctx context.Context, userID, systemPrompt, userInput string) (string, UsageInfo, error) {
	args := m.Called(ctx, userID, systemPrompt, userInput)
	return args.String(0), args.Get(1).(UsageInfo), args.Error(2)
}

func (m *mockTextClient) Model() string { return "test-model" }

type mockImageClient struct {
	mock.Mock
}

func (m *mockImageClient) GenerateImage(ctx context.Context, userID, prompt, aspectRatio string) ([]byte, error) {
	args := m.Called(ctx, userID, prompt, aspectRatio)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

var testPreferences = models.StoryPreferences{
	Genres:   []string{"fantasy", "mystery"},
	Themes:   []string{"friendship"},
	Tone:     "dark",
	Language: "English",
}

// newTestGenerator возвращает генератор без реальных задержек и список запрошенных пауз.
func newTestGenerator(text TextClient, image ImageClient, attempts int) (*Generator, *[]time.Duration) {
	g := NewGenerator(text, image, RetryConfig{MaxAttempts: attempts, BaseDelay: 100 * time.Millisecond}, zap.NewNop())
	var waits []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return g, &waits
}

func TestGenerateStory_ParsesTitle(t *testing.T) {
	text := new(mockTextClient)
	text.On("GenerateText", mock.Anything, "user-1", mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "Genres: fantasy, mystery.")
	}), mock.Anything).Return("TITLE: The Silver Key\n\nThe door was locked.", UsageInfo{}, nil).Once()

	g, waits := newTestGenerator(text, nil, 3)
	story, err := g.GenerateStory(context.Background(), models.StoryPrompt{UserID: "user-1", Preferences: testPreferences, Sequence: 2})
	require.NoError(t, err)
	assert.Equal(t, "The Silver Key", story.Title)
	assert.Equal(t, "The door was locked.", story.Content)
	assert.Empty(t, *waits)
	text.AssertExpectations(t)
}

func TestGenerateStory_RetriesThenSucceeds(t *testing.T) {
	text := new(mockTextClient)
	text.On("GenerateText", mock.Anything, "user-1", mock.Anything, mock.Anything).
		Return("", UsageInfo{}, ErrAIGenerationFailed).Twice()
	text.On("GenerateText", mock.Anything, "user-1", mock.Anything, mock.Anything).
		Return("TITLE: Third Time\n\nLucky.", UsageInfo{}, nil).Once()

	g, waits := newTestGenerator(text, nil, 3)
	story, err := g.GenerateStory(context.Background(), models.StoryPrompt{UserID: "user-1", Preferences: testPreferences, Sequence: 1})
	require.NoError(t, err)
	assert.Equal(t, "Third Time", story.Title)

	require.Len(t, *waits, 2)
	// base*2^(attempt-1) с джиттером 10%, но не меньше base.
	assert.InDelta(t, float64(100*time.Millisecond), float64((*waits)[0]), float64(10*time.Millisecond))
	assert.InDelta(t, float64(200*time.Millisecond), float64((*waits)[1]), float64(20*time.Millisecond))
	text.AssertExpectations(t)
}

func TestGenerateStory_GivesUpAfterMaxAttempts(t *testing.T) {
	text := new(mockTextClient)
	text.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", UsageInfo{}, ErrAIGenerationFailed).Times(3)

	g, waits := newTestGenerator(text, nil, 3)
	_, err := g.GenerateStory(context.Background(), models.StoryPrompt{UserID: "user-1", Preferences: testPreferences})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAIGenerationFailed)
	assert.Len(t, *waits, 2)
	text.AssertExpectations(t)
}

func TestGenerateStory_CancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	text := new(mockTextClient)
	text.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", UsageInfo{}, ErrAIGenerationFailed).Once()

	g, _ := newTestGenerator(text, nil, 5)
	_, err := g.GenerateStory(ctx, models.StoryPrompt{UserID: "user-1", Preferences: testPreferences})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	text.AssertNumberOfCalls(t, "GenerateText", 1)
}

func TestGenerateEpisode(t *testing.T) {
	text := new(mockTextClient)
	text.On("GenerateText", mock.Anything, "user-1", mock.Anything, mock.MatchedBy(func(s string) bool {
		return containsAll(s, "Story title: The Silver Key", "Write episode 4.")
	})).Return("The key turned.", UsageInfo{}, nil).Once()

	g, _ := newTestGenerator(text, nil, 1)
	episode, err := g.GenerateEpisode(context.Background(), models.EpisodePrompt{
		UserID:        "user-1",
		StoryTitle:    "The Silver Key",
		StoryContent:  "The door was locked.",
		Preferences:   testPreferences,
		EpisodeNumber: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "The key turned.", episode.Content)
	text.AssertExpectations(t)
}

func TestGenerateImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	image := new(mockImageClient)
	image.On("GenerateImage", mock.Anything, "user-1", mock.Anything, "2:3").Return(png, nil).Once()

	g, _ := newTestGenerator(new(mockTextClient), image, 2)
	img, err := g.GenerateImage(context.Background(), models.ImagePrompt{
		UserID:         "user-1",
		EpisodeContent: "# Chapter\n\nA *dark* forest.",
		Preferences:    testPreferences,
		AspectRatio:    "2:3",
	})
	require.NoError(t, err)
	assert.Equal(t, png, img.Data)
	assert.Equal(t, "image/png", img.ContentType)
	image.AssertExpectations(t)
}

func TestGenerateImage_Disabled(t *testing.T) {
	g, _ := newTestGenerator(new(mockTextClient), nil, 1)
	_, err := g.GenerateImage(context.Background(), models.ImagePrompt{UserID: "user-1", Preferences: testPreferences})
	assert.ErrorIs(t, err, ErrImageGenerationDisabled)
}

func TestParseStory(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		sequence  int
		wantTitle string
		wantText  string
		wantErr   error
	}{
		{name: "title line", raw: "TITLE: Night Train\n\nIt left at midnight.", wantTitle: "Night Train", wantText: "It left at midnight."},
		{name: "lowercase title prefix", raw: "title: \"Quoted\"\nBody", wantTitle: "Quoted", wantText: "Body"},
		{name: "markdown heading", raw: "# Heading Title\n\nBody text", wantTitle: "Heading Title", wantText: "Body text"},
		{name: "no title", raw: "Just a story.", sequence: 3, wantTitle: "Story 3", wantText: "Just a story."},
		{name: "empty", raw: "   ", wantErr: ErrMalformedStory},
		{name: "title only", raw: "TITLE: Lonely", wantErr: ErrMalformedStory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			story, err := parseStory(tt.raw, tt.sequence)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, story.Title)
			assert.Equal(t, tt.wantText, story.Content)
		})
	}
}

func TestBuildStoryPrompt(t *testing.T) {
	prefs := testPreferences
	prefs.Extra = map[string]any{"setting": "Venice"}
	system, user, err := buildStoryPrompt(models.StoryPrompt{
		UserID:      "user-1",
		Preferences: prefs,
		Insights:    json.RawMessage(`{"liked":["heists"]}`),
		Sequence:    2,
	})
	require.NoError(t, err)
	assert.True(t, containsAll(system, "Write in English.", "Genres: fantasy, mystery.", "Themes: friendship.", "Tone: dark.", "TITLE: <story title>"))
	assert.True(t, containsAll(user, "Write story #2", `{"setting":"Venice"}`, `{"liked":["heists"]}`))

	_, user, err = buildStoryPrompt(models.StoryPrompt{Preferences: testPreferences, Insights: json.RawMessage("null")})
	require.NoError(t, err)
	assert.Equal(t, "Write story #1 for this reader.", user)
}

func TestSceneExcerpt(t *testing.T) {
	assert.Equal(t, "Chapter A dark forest.", sceneExcerpt("# Chapter\n\nA *dark* forest."))

	long := make([]rune, maxSceneRunes+50)
	for i := range long {
		long[i] = 'ж'
	}
	excerpt := sceneExcerpt(string(long))
	assert.Equal(t, maxSceneRunes+3, len([]rune(excerpt)))
}

func TestImageSize(t *testing.T) {
	assert.Equal(t, "1024x1792", imageSize("2:3"))
	assert.Equal(t, "1024x1024", imageSize("1:1"))
	assert.Equal(t, "1792x1024", imageSize("3:2"))
	assert.Equal(t, "1024x1792", imageSize(""))
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
