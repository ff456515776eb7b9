package models

import (
	"time"

	"github.com/google/uuid"
)

// Episode - эпизод истории. Номера начинаются с 1, пропуски допустимы
// (остаются после неудачных генераций). Пара (StoryID, EpisodeNumber) уникальна.
type Episode struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	StoryID       uuid.UUID    `db:"story_id" json:"storyId"`
	UserID        string       `db:"user_id" json:"userId"`
	EpisodeNumber int          `db:"episode_number" json:"episodeNumber"`
	ContentKey    *string      `db:"content_key" json:"contentKey,omitempty"`
	ImageKey      *string      `db:"image_key" json:"imageKey,omitempty"`
	Status        EntityStatus `db:"status" json:"status"`
	ErrorMessage  *string      `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updatedAt"`
}

// EpisodeContentKey возвращает ключ blob-объекта с текстом эпизода.
func EpisodeContentKey(episodeID uuid.UUID) string {
	return "episodes/" + episodeID.String() + ".md"
}

// EpisodeImageKey возвращает ключ blob-объекта с иллюстрацией эпизода.
func EpisodeImageKey(episodeID uuid.UUID) string {
	return "images/" + episodeID.String() + ".png"
}

// FirstEpisodeNumber - номер эпизода, который пайплайн пишет для каждой готовой истории.
const FirstEpisodeNumber = 1

// NextEpisodeNumber возвращает max(numbers)+1, или 1 для пустого списка.
// Пропуски не заполняются: для {1,3,4} результат 5.
func NextEpisodeNumber(numbers []int) int {
	highest := 0
	for _, n := range numbers {
		if n > highest {
			highest = n
		}
	}
	return highest + 1
}
