package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"novel-workflow/shared/models"

	"github.com/google/uuid"
)

// Source - домен, из которого пришло событие.
type Source string

const (
	SourceWorkflow Source = "workflow"
	SourceStory    Source = "story"
	SourceEpisode  Source = "episode"
	SourceImage    Source = "image"
)

// DetailType - человекочитаемое имя события, по которому выбирается схема detail.
type DetailType string

const (
	DetailStoryGenerationRequested      DetailType = "Story Generation Requested"
	DetailBatchStoryGenerationRequested DetailType = "Batch Story Generation Requested"
	DetailBatchWorkflowCompleted        DetailType = "Batch Workflow Completed"
	DetailEpisodeGenerationRequested    DetailType = "Episode Generation Requested"
	DetailContinueEpisodeRequested      DetailType = "Continue Episode Requested"
	DetailImageGenerationRequested      DetailType = "Image Generation Requested"
)

type detailSpec struct {
	route   string
	sources []Source
}

var detailSpecs = map[DetailType]detailSpec{
	DetailStoryGenerationRequested:      {route: "story.requested", sources: []Source{SourceWorkflow}},
	DetailBatchStoryGenerationRequested: {route: "story.batch.requested", sources: []Source{SourceWorkflow, SourceStory}},
	DetailBatchWorkflowCompleted:        {route: "workflow.completed", sources: []Source{SourceStory}},
	DetailEpisodeGenerationRequested:    {route: "episode.requested", sources: []Source{SourceStory}},
	DetailContinueEpisodeRequested:      {route: "episode.continue.requested", sources: []Source{SourceEpisode}},
	DetailImageGenerationRequested:      {route: "image.requested", sources: []Source{SourceEpisode}},
}

// AllDetailTypes возвращает все известные типы событий в стабильном порядке.
func AllDetailTypes() []DetailType {
	return []DetailType{
		DetailStoryGenerationRequested,
		DetailBatchStoryGenerationRequested,
		DetailBatchWorkflowCompleted,
		DetailEpisodeGenerationRequested,
		DetailContinueEpisodeRequested,
		DetailImageGenerationRequested,
	}
}

// IsKnown проверяет, что для типа события существует схема.
func (d DetailType) IsKnown() bool {
	_, ok := detailSpecs[d]
	return ok
}

// Route возвращает routing key события в topic exchange.
func (d DetailType) Route() string {
	return detailSpecs[d].route
}

// AllowsSource проверяет, может ли источник публиковать событие этого типа.
func (d DetailType) AllowsSource(s Source) bool {
	for _, allowed := range detailSpecs[d].sources {
		if allowed == s {
			return true
		}
	}
	return false
}

// Detail - полезная нагрузка конверта. Конкретный тип определяется DetailType.
type Detail interface {
	DetailType() DetailType
	EventTime() time.Time
}

// EventMeta встраивается во все detail-структуры.
type EventMeta struct {
	Timestamp time.Time `json:"timestamp"`
}

func (m EventMeta) EventTime() time.Time { return m.Timestamp }

// NewEventMeta возвращает метаданные с текущим временем в UTC.
func NewEventMeta() EventMeta {
	return EventMeta{Timestamp: time.Now().UTC()}
}

// BatchPlan - план пакетной генерации. Не хранится отдельно, путешествует внутри событий.
// TotalBatches = ceil(NumberOfStories / BatchSize), 1 <= CurrentBatch <= TotalBatches.
type BatchPlan struct {
	WorkflowID       uuid.UUID `json:"workflowId" validate:"required"`
	NumberOfStories  int       `json:"numberOfStories" validate:"min=1,max=10"`
	BatchSize        int       `json:"batchSize" validate:"min=1,ltefield=NumberOfStories"`
	CurrentBatch     int       `json:"currentBatch" validate:"min=1,ltefield=TotalBatches"`
	TotalBatches     int       `json:"totalBatches" validate:"min=1"`
	CompletedStories int       `json:"completedStories" validate:"min=0,ltefield=NumberOfStories"`
	FailedStories    int       `json:"failedStories" validate:"min=0"`
}

// TotalBatchesFor вычисляет ceil(numberOfStories / batchSize).
func TotalBatchesFor(numberOfStories, batchSize int) int {
	if batchSize <= 0 {
		batchSize = 1
	}
	return (numberOfStories + batchSize - 1) / batchSize
}

// StoriesInBatch возвращает число историй в текущем пакете (последний может быть неполным).
func (p BatchPlan) StoriesInBatch() int {
	remaining := p.NumberOfStories - (p.CurrentBatch-1)*p.BatchSize
	if remaining > p.BatchSize {
		return p.BatchSize
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FirstSequence возвращает порядковый номер первой истории текущего пакета (с 1).
func (p BatchPlan) FirstSequence() int {
	return (p.CurrentBatch-1)*p.BatchSize + 1
}

// IsLast сообщает, что текущий пакет последний.
func (p BatchPlan) IsLast() bool {
	return p.CurrentBatch >= p.TotalBatches
}

// Next возвращает план следующего пакета с учетом завершенных историй.
func (p BatchPlan) Next(completedInBatch int) BatchPlan {
	next := p
	next.CurrentBatch++
	next.CompletedStories += completedInBatch
	return next
}

// StoryGenerationRequested - запрос на генерацию одной истории.
type StoryGenerationRequested struct {
	EventMeta
	UserID      string                  `json:"userId" validate:"required"`
	RequestID   uuid.UUID               `json:"requestId" validate:"required"`
	Preferences models.StoryPreferences `json:"preferences"`
	Insights    json.RawMessage         `json:"insights,omitempty"`
}

func (StoryGenerationRequested) DetailType() DetailType { return DetailStoryGenerationRequested }

// BatchStoryGenerationRequested - запрос на генерацию очередного пакета историй workflow.
type BatchStoryGenerationRequested struct {
	EventMeta
	BatchPlan
	UserID      string                  `json:"userId" validate:"required"`
	RequestID   uuid.UUID               `json:"requestId" validate:"required"`
	Preferences models.StoryPreferences `json:"preferences"`
	Insights    json.RawMessage         `json:"insights,omitempty"`
}

func (BatchStoryGenerationRequested) DetailType() DetailType {
	return DetailBatchStoryGenerationRequested
}

// BatchWorkflowCompleted - сигнал о завершении последнего пакета workflow.
type BatchWorkflowCompleted struct {
	EventMeta
	UserID           string      `json:"userId" validate:"required"`
	WorkflowID       uuid.UUID   `json:"workflowId" validate:"required"`
	RequestID        uuid.UUID   `json:"requestId" validate:"required"`
	NumberOfStories  int         `json:"numberOfStories" validate:"min=1,max=10"`
	CompletedStories int         `json:"completedStories" validate:"min=0,ltefield=NumberOfStories"`
	FailedStories    int         `json:"failedStories" validate:"min=0"`
	StoryIDs         []uuid.UUID `json:"storyIds" validate:"required,min=1,dive,required"`
}

func (BatchWorkflowCompleted) DetailType() DetailType { return DetailBatchWorkflowCompleted }

// EpisodeGenerationRequested - первый эпизод для только что завершенной истории.
type EpisodeGenerationRequested struct {
	EventMeta
	UserID        string     `json:"userId" validate:"required"`
	StoryID       uuid.UUID  `json:"storyId" validate:"required"`
	EpisodeNumber int        `json:"episodeNumber" validate:"min=1"`
	WorkflowID    *uuid.UUID `json:"workflowId,omitempty"`
}

func (EpisodeGenerationRequested) DetailType() DetailType { return DetailEpisodeGenerationRequested }

// ContinueEpisodeRequested - продолжение истории эпизодом с заранее выделенным номером.
type ContinueEpisodeRequested struct {
	EventMeta
	UserID        string                  `json:"userId" validate:"required"`
	StoryID       uuid.UUID               `json:"storyId" validate:"required"`
	EpisodeID     uuid.UUID               `json:"episodeId" validate:"required"`
	EpisodeNumber int                     `json:"episodeNumber" validate:"min=1"`
	RequestID     uuid.UUID               `json:"requestId" validate:"required"`
	Preferences   models.StoryPreferences `json:"preferences"`
}

func (ContinueEpisodeRequested) DetailType() DetailType { return DetailContinueEpisodeRequested }

// Допустимые соотношения сторон иллюстраций.
const (
	AspectRatioPortrait  = "2:3"
	AspectRatioSquare    = "1:1"
	AspectRatioLandscape = "3:2"
)

// ImageGenerationRequested - запрос иллюстрации к готовому эпизоду.
type ImageGenerationRequested struct {
	EventMeta
	UserID        string    `json:"userId" validate:"required"`
	StoryID       uuid.UUID `json:"storyId" validate:"required"`
	EpisodeID     uuid.UUID `json:"episodeId" validate:"required"`
	EpisodeNumber int       `json:"episodeNumber" validate:"min=1"`
	RequestID     uuid.UUID `json:"requestId" validate:"required"`
	AspectRatio   string    `json:"aspectRatio" validate:"required,oneof=2:3 1:1 3:2"`
}

func (ImageGenerationRequested) DetailType() DetailType { return DetailImageGenerationRequested }

// Envelope - конверт события: источник, тип и типизированная полезная нагрузка.
type Envelope struct {
	Source     Source     `json:"source"`
	DetailType DetailType `json:"detailType"`
	Detail     Detail     `json:"detail"`
}

// NewEnvelope собирает конверт, беря DetailType из самой полезной нагрузки.
func NewEnvelope(source Source, detail Detail) Envelope {
	return Envelope{Source: source, DetailType: detail.DetailType(), Detail: detail}
}

type rawEnvelope struct {
	Source     Source          `json:"source"`
	DetailType DetailType      `json:"detailType"`
	Detail     json.RawMessage `json:"detail"`
}

// UnmarshalJSON декодирует detail в конкретную структуру по detailType.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Source = raw.Source
	e.DetailType = raw.DetailType

	var err error
	switch raw.DetailType {
	case DetailStoryGenerationRequested:
		var d StoryGenerationRequested
		err = json.Unmarshal(raw.Detail, &d)
		e.Detail = d
	case DetailBatchStoryGenerationRequested:
		var d BatchStoryGenerationRequested
		err = json.Unmarshal(raw.Detail, &d)
		e.Detail = d
	case DetailBatchWorkflowCompleted:
		var d BatchWorkflowCompleted
		err = json.Unmarshal(raw.Detail, &d)
		e.Detail = d
	case DetailEpisodeGenerationRequested:
		var d EpisodeGenerationRequested
		err = json.Unmarshal(raw.Detail, &d)
		e.Detail = d
	case DetailContinueEpisodeRequested:
		var d ContinueEpisodeRequested
		err = json.Unmarshal(raw.Detail, &d)
		e.Detail = d
	case DetailImageGenerationRequested:
		var d ImageGenerationRequested
		err = json.Unmarshal(raw.Detail, &d)
		e.Detail = d
	default:
		return fmt.Errorf("unknown detail type %q", raw.DetailType)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %q detail: %w", raw.DetailType, err)
	}
	return nil
}
