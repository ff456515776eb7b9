package status

import (
	"fmt"

	"novel-workflow/shared/models"
)

// Шкалы прогресса по типам запросов.
const (
	storyTotalSteps   = 3
	episodeTotalSteps = 2
	imageTotalSteps   = 1
)

const (
	StepInitializingStory   = "Initializing story generation"
	StepGeneratingStory     = "Generating story content"
	StepAllEpisodesDone     = "All episodes completed"
	StepEpisodesFailedFmt   = "Episodes finished, %d of %d failed"
	StepInitializingEpisode = "Initializing episode generation"
	StepGeneratingEpisode   = "Generating episode content"
	StepEpisodeDone         = "Episode completed"
	StepGeneratingImage     = "Generating illustration"
	StepImageDone           = "Illustration completed"
	StepLookupError         = "Error retrieving progress"
)

// Progress - описание текущего шага пайплайна для клиента.
type Progress struct {
	CurrentStep string `json:"currentStep"`
	StepNumber  int    `json:"stepNumber"`
	TotalSteps  int    `json:"totalSteps"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Snapshot - состояние сущностей, связанных с запросом, на момент чтения.
type Snapshot struct {
	// Stories - истории запроса: одна для одиночного запроса, все истории для workflow.
	Stories []*models.Story
	// Episodes - эпизоды этих историй.
	Episodes []*models.Episode
	// Episode - эпизод, на который ссылается EPISODE или IMAGE запрос.
	Episode *models.Episode
	// DownloadURL - ссылка на результат, если он уже сохранен.
	DownloadURL string
	// LookupErr - ошибка чтения связанных сущностей.
	LookupErr error
}

// BuildProgress вычисляет прогресс по записи журнала и снимку связанных сущностей.
// Функция чистая: одинаковые входы дают одинаковый результат.
func BuildProgress(req *models.GenerationRequest, snap Snapshot) Progress {
	total := totalSteps(req.Type)
	if snap.LookupErr != nil {
		return Progress{CurrentStep: StepLookupError, StepNumber: 0, TotalSteps: total}
	}

	switch req.Type {
	case models.RequestTypeEpisode:
		return episodeProgress(snap)
	case models.RequestTypeImage:
		return imageProgress(snap)
	default:
		return storyProgress(req, snap)
	}
}

func totalSteps(t models.RequestType) int {
	switch t {
	case models.RequestTypeEpisode:
		return episodeTotalSteps
	case models.RequestTypeImage:
		return imageTotalSteps
	default:
		return storyTotalSteps
	}
}

func storyProgress(req *models.GenerationRequest, snap Snapshot) Progress {
	if len(snap.Stories) == 0 {
		return Progress{CurrentStep: StepInitializingStory, StepNumber: 0, TotalSteps: storyTotalSteps}
	}

	completedStories := 0
	for _, s := range snap.Stories {
		if s.Status == models.StatusCompleted {
			completedStories++
		}
	}
	expected := req.ExpectedItems
	if expected < 1 {
		expected = 1
	}

	if completedStories < expected {
		step := StepGeneratingStory
		if req.WorkflowID != nil {
			step = fmt.Sprintf("Generating stories (%d/%d)", completedStories, expected)
		}
		return Progress{CurrentStep: step, StepNumber: 1, TotalSteps: storyTotalSteps}
	}

	// Каждая готовая история получает минимум первый эпизод, даже если строка еще не создана.
	totalEpisodes := len(snap.Episodes)
	if totalEpisodes < completedStories {
		totalEpisodes = completedStories
	}
	completedEpisodes, failedEpisodes := 0, 0
	for _, e := range snap.Episodes {
		switch e.Status {
		case models.StatusCompleted:
			completedEpisodes++
		case models.StatusFailed:
			failedEpisodes++
		}
	}
	// FAILED эпизод больше не изменится и считается завершенным.
	if completedEpisodes+failedEpisodes < totalEpisodes {
		return Progress{
			CurrentStep: fmt.Sprintf("Generating episodes (%d/%d)", completedEpisodes, totalEpisodes),
			StepNumber:  2,
			TotalSteps:  storyTotalSteps,
		}
	}
	step := StepAllEpisodesDone
	if failedEpisodes > 0 {
		step = fmt.Sprintf(StepEpisodesFailedFmt, failedEpisodes, totalEpisodes)
	}
	return Progress{
		CurrentStep: step,
		StepNumber:  3,
		TotalSteps:  storyTotalSteps,
		DownloadURL: snap.DownloadURL,
	}
}

func episodeProgress(snap Snapshot) Progress {
	ep := snap.Episode
	switch {
	case ep == nil || ep.Status == models.StatusPending:
		return Progress{CurrentStep: StepInitializingEpisode, StepNumber: 0, TotalSteps: episodeTotalSteps}
	case ep.Status == models.StatusCompleted:
		return Progress{CurrentStep: StepEpisodeDone, StepNumber: 2, TotalSteps: episodeTotalSteps, DownloadURL: snap.DownloadURL}
	default:
		return Progress{CurrentStep: StepGeneratingEpisode, StepNumber: 1, TotalSteps: episodeTotalSteps}
	}
}

func imageProgress(snap Snapshot) Progress {
	if snap.Episode != nil && snap.Episode.ImageKey != nil {
		return Progress{CurrentStep: StepImageDone, StepNumber: 1, TotalSteps: imageTotalSteps, DownloadURL: snap.DownloadURL}
	}
	return Progress{CurrentStep: StepGeneratingImage, StepNumber: 0, TotalSteps: imageTotalSteps}
}
