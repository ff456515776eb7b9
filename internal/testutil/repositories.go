// Package testutil содержит in-memory реализации репозиториев, хранилища и генератора
// для тестов пайплайна. Поведение повторяет Postgres-репозитории из shared/database:
// те же ошибки, те же условные переходы статусов.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/models"
)

// --- Журнал запросов ---

type MemoryLedger struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.GenerationRequest
	// History хранит все примененные статусы по запросу, включая начальный.
	history map[uuid.UUID][]models.RequestStatus
	// Err, если задан, возвращается всеми методами.
	Err error
}

var _ interfaces.GenerationRequestRepository = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		rows:    make(map[uuid.UUID]models.GenerationRequest),
		history: make(map[uuid.UUID][]models.RequestStatus),
	}
}

func (l *MemoryLedger) Create(_ context.Context, req *models.GenerationRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	if _, ok := l.rows[req.RequestID]; ok {
		return models.ErrAlreadyExists
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	if req.ExpectedItems <= 0 {
		req.ExpectedItems = 1
	}
	now := time.Now().UTC()
	req.CreatedAt, req.UpdatedAt = now, now
	l.rows[req.RequestID] = *req
	l.history[req.RequestID] = []models.RequestStatus{req.Status}
	return nil
}

func (l *MemoryLedger) GetByID(_ context.Context, requestID uuid.UUID) (*models.GenerationRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	row, ok := l.rows[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &row, nil
}

func (l *MemoryLedger) UpdateStatus(_ context.Context, requestID uuid.UUID, update models.StatusUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	row, ok := l.rows[requestID]
	if !ok {
		return models.ErrNotFound
	}
	if !row.Status.CanTransitionTo(update.Status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, row.Status, update.Status)
	}
	row.Status = update.Status
	if update.RelatedEntityID != nil {
		row.RelatedEntityID = update.RelatedEntityID
	}
	if update.ErrorMessage != nil {
		row.ErrorMessage = update.ErrorMessage
	}
	row.UpdatedAt = time.Now().UTC()
	l.rows[requestID] = row
	l.history[requestID] = append(l.history[requestID], row.Status)
	return nil
}

// History возвращает последовательность статусов запроса.
func (l *MemoryLedger) History(requestID uuid.UUID) []models.RequestStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.RequestStatus(nil), l.history[requestID]...)
}

// All возвращает все записи журнала в порядке создания.
func (l *MemoryLedger) All() []models.GenerationRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.GenerationRequest, 0, len(l.rows))
	for _, row := range l.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OfType возвращает записи журнала указанного типа.
func (l *MemoryLedger) OfType(t models.RequestType) []models.GenerationRequest {
	var out []models.GenerationRequest
	for _, row := range l.All() {
		if row.Type == t {
			out = append(out, row)
		}
	}
	return out
}

// --- Истории ---

type MemoryStories struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.Story
	Err  error
}

var _ interfaces.StoryRepository = (*MemoryStories)(nil)

func NewMemoryStories() *MemoryStories {
	return &MemoryStories{rows: make(map[uuid.UUID]models.Story)}
}

func (s *MemoryStories) Create(_ context.Context, story *models.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.rows[story.ID]; ok {
		return models.ErrAlreadyExists
	}
	if story.WorkflowID != nil {
		for _, existing := range s.rows {
			if existing.WorkflowID != nil && *existing.WorkflowID == *story.WorkflowID && existing.Sequence == story.Sequence {
				return fmt.Errorf("%w: workflow %s sequence %d", models.ErrAlreadyExists, story.WorkflowID, story.Sequence)
			}
		}
	}
	now := time.Now().UTC()
	story.CreatedAt, story.UpdatedAt = now, now
	s.rows[story.ID] = *story
	return nil
}

// Put сохраняет историю как есть, без проверок. Для подготовки данных в тестах.
func (s *MemoryStories) Put(story models.Story) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[story.ID] = story
}

func (s *MemoryStories) GetByID(_ context.Context, storyID uuid.UUID) (*models.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	row, ok := s.rows[storyID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &row, nil
}

func (s *MemoryStories) GetByWorkflowSequence(_ context.Context, workflowID uuid.UUID, sequence int) (*models.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, row := range s.rows {
		if row.WorkflowID != nil && *row.WorkflowID == workflowID && row.Sequence == sequence {
			return &row, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStories) ListByWorkflow(_ context.Context, workflowID uuid.UUID) ([]*models.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.Story
	for _, row := range s.rows {
		if row.WorkflowID != nil && *row.WorkflowID == workflowID {
			row := row
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryStories) MarkCompleted(_ context.Context, storyID uuid.UUID, title, contentKey string) error {
	return s.update(storyID, func(row *models.Story) {
		row.Title = title
		row.ContentKey = &contentKey
		row.Status = models.StatusCompleted
		row.ErrorMessage = nil
	})
}

func (s *MemoryStories) MarkFailed(_ context.Context, storyID uuid.UUID, reason string) error {
	return s.update(storyID, func(row *models.Story) {
		if row.Status == models.StatusCompleted {
			return
		}
		row.Status = models.StatusFailed
		row.ErrorMessage = &reason
	})
}

func (s *MemoryStories) update(storyID uuid.UUID, apply func(row *models.Story)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	row, ok := s.rows[storyID]
	if !ok {
		return models.ErrNotFound
	}
	apply(&row)
	row.UpdatedAt = time.Now().UTC()
	s.rows[storyID] = row
	return nil
}

// All возвращает все истории, упорядоченные по Sequence.
func (s *MemoryStories) All() []models.Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Story, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// --- Эпизоды ---

type MemoryEpisodes struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.Episode
	Err  error
	// BeforeInsert вызывается перед проверкой уникальности номера. Позволяет
	// смоделировать конкурентную вставку того же номера.
	BeforeInsert func(episode *models.Episode)
}

var _ interfaces.EpisodeRepository = (*MemoryEpisodes)(nil)

func NewMemoryEpisodes() *MemoryEpisodes {
	return &MemoryEpisodes{rows: make(map[uuid.UUID]models.Episode)}
}

// Put сохраняет эпизод как есть. Для подготовки данных в тестах.
func (e *MemoryEpisodes) Put(episode models.Episode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows[episode.ID] = episode
}

func (e *MemoryEpisodes) CreateIfAbsent(_ context.Context, episode *models.Episode) error {
	if hook := e.BeforeInsert; hook != nil {
		hook(episode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	for _, row := range e.rows {
		if row.StoryID == episode.StoryID && row.EpisodeNumber == episode.EpisodeNumber {
			return fmt.Errorf("%w: story %s episode %d", models.ErrAlreadyExists, episode.StoryID, episode.EpisodeNumber)
		}
	}
	now := time.Now().UTC()
	episode.CreatedAt, episode.UpdatedAt = now, now
	e.rows[episode.ID] = *episode
	return nil
}

func (e *MemoryEpisodes) GetByID(_ context.Context, episodeID uuid.UUID) (*models.Episode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	row, ok := e.rows[episodeID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &row, nil
}

func (e *MemoryEpisodes) GetByNumber(_ context.Context, storyID uuid.UUID, episodeNumber int) (*models.Episode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	for _, row := range e.rows {
		if row.StoryID == storyID && row.EpisodeNumber == episodeNumber {
			return &row, nil
		}
	}
	return nil, models.ErrNotFound
}

func (e *MemoryEpisodes) ListByStory(_ context.Context, storyID uuid.UUID) ([]*models.Episode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	var out []*models.Episode
	for _, row := range e.rows {
		if row.StoryID == storyID {
			row := row
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EpisodeNumber < out[j].EpisodeNumber })
	return out, nil
}

func (e *MemoryEpisodes) ListNumbers(ctx context.Context, storyID uuid.UUID) ([]int, error) {
	episodes, err := e.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	numbers := make([]int, 0, len(episodes))
	for _, ep := range episodes {
		numbers = append(numbers, ep.EpisodeNumber)
	}
	return numbers, nil
}

func (e *MemoryEpisodes) UpdateStatus(_ context.Context, episodeID uuid.UUID, status models.EntityStatus, errorMessage *string) error {
	return e.update(episodeID, func(row *models.Episode) {
		row.Status = status
		if errorMessage != nil {
			row.ErrorMessage = errorMessage
		}
	})
}

func (e *MemoryEpisodes) SetContent(_ context.Context, episodeID uuid.UUID, contentKey string) error {
	return e.update(episodeID, func(row *models.Episode) {
		row.ContentKey = &contentKey
		row.Status = models.StatusCompleted
		row.ErrorMessage = nil
	})
}

func (e *MemoryEpisodes) SetImage(_ context.Context, episodeID uuid.UUID, imageKey string) error {
	return e.update(episodeID, func(row *models.Episode) {
		row.ImageKey = &imageKey
	})
}

func (e *MemoryEpisodes) update(episodeID uuid.UUID, apply func(row *models.Episode)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	row, ok := e.rows[episodeID]
	if !ok {
		return models.ErrNotFound
	}
	apply(&row)
	row.UpdatedAt = time.Now().UTC()
	e.rows[episodeID] = row
	return nil
}

// All возвращает все эпизоды, упорядоченные по истории и номеру.
func (e *MemoryEpisodes) All() []models.Episode {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Episode, 0, len(e.rows))
	for _, row := range e.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StoryID != out[j].StoryID {
			return out[i].StoryID.String() < out[j].StoryID.String()
		}
		return out[i].EpisodeNumber < out[j].EpisodeNumber
	})
	return out
}

// --- Предпочтения ---

type MemoryPreferences struct {
	mu   sync.Mutex
	rows map[string]models.UserPreferences
}

var _ interfaces.PreferenceRepository = (*MemoryPreferences)(nil)

func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{rows: make(map[string]models.UserPreferences)}
}

func (p *MemoryPreferences) Put(prefs models.UserPreferences) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[prefs.UserID] = prefs
}

func (p *MemoryPreferences) GetByUserID(_ context.Context, userID string) (*models.UserPreferences, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.rows[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &row, nil
}
