package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/models"
)

// MemoryBlobStore - хранилище объектов в памяти.
type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	BaseURL string
	// PutErr, если задан, возвращается из Put.
	PutErr error
}

var _ interfaces.BlobStore = (*MemoryBlobStore)(nil)

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		BaseURL: "http://blob.test",
	}
}

func (b *MemoryBlobStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PutErr != nil {
		return b.PutErr
	}
	b.objects[key] = append([]byte(nil), data...)
	b.types[key] = contentType
	return nil
}

func (b *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", models.ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBlobStore) URL(key string) string {
	return strings.TrimSuffix(b.BaseURL, "/") + "/" + key
}

// ContentType возвращает MIME тип, с которым объект был сохранен.
func (b *MemoryBlobStore) ContentType(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.types[key]
}

// Keys возвращает отсортированные ключи всех объектов.
func (b *MemoryBlobStore) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FakeGenerator - детерминированный генератор контента.
type FakeGenerator struct {
	mu sync.Mutex
	// FailStorySequence задает номера историй (Sequence), генерация которых падает.
	FailStorySequence map[int]error
	// FailEpisodes и FailImages, если заданы, возвращаются из соответствующих методов.
	FailEpisodes error
	FailImages   error

	StoryCalls   []models.StoryPrompt
	EpisodeCalls []models.EpisodePrompt
	ImageCalls   []models.ImagePrompt
}

var _ interfaces.ContentGenerator = (*FakeGenerator)(nil)

// PNGHeader - сигнатура PNG, которую FakeGenerator кладет в начало изображений.
var PNGHeader = []byte("\x89PNG\r\n\x1a\n")

func (g *FakeGenerator) GenerateStory(_ context.Context, prompt models.StoryPrompt) (*models.GeneratedStory, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.StoryCalls = append(g.StoryCalls, prompt)
	if err, ok := g.FailStorySequence[prompt.Sequence]; ok {
		return nil, err
	}
	return &models.GeneratedStory{
		Title:   fmt.Sprintf("Story %d", prompt.Sequence),
		Content: fmt.Sprintf("Content of story %d in %s", prompt.Sequence, prompt.Preferences.Language),
	}, nil
}

func (g *FakeGenerator) GenerateEpisode(_ context.Context, prompt models.EpisodePrompt) (*models.GeneratedEpisode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.EpisodeCalls = append(g.EpisodeCalls, prompt)
	if g.FailEpisodes != nil {
		return nil, g.FailEpisodes
	}
	return &models.GeneratedEpisode{
		Content: fmt.Sprintf("Episode %d of %q", prompt.EpisodeNumber, prompt.StoryTitle),
	}, nil
}

func (g *FakeGenerator) GenerateImage(_ context.Context, prompt models.ImagePrompt) (*models.GeneratedImage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ImageCalls = append(g.ImageCalls, prompt)
	if g.FailImages != nil {
		return nil, g.FailImages
	}
	return &models.GeneratedImage{
		Data:        append(append([]byte(nil), PNGHeader...), prompt.EpisodeContent...),
		ContentType: "image/png",
	}, nil
}

// Calls возвращает число вызовов генерации историй, эпизодов и изображений.
func (g *FakeGenerator) Calls() (stories, episodes, images int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.StoryCalls), len(g.EpisodeCalls), len(g.ImageCalls)
}

// CompletePreferences возвращает предпочтения, достаточные для запуска workflow.
func CompletePreferences(userID string) models.UserPreferences {
	return models.UserPreferences{
		UserID: userID,
		Preferences: models.StoryPreferences{
			Genres:   []string{"fantasy"},
			Themes:   []string{"courage"},
			Tone:     "hopeful",
			Language: "English",
		},
		Insights: []byte(`{"favoriteCharacters":["the fox"]}`),
	}
}
