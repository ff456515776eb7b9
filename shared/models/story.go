package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityStatus - статус генерируемой сущности (истории или эпизода).
type EntityStatus string

const (
	StatusPending    EntityStatus = "PENDING"
	StatusProcessing EntityStatus = "PROCESSING"
	StatusCompleted  EntityStatus = "COMPLETED"
	StatusFailed     EntityStatus = "FAILED"
)

// Story - сгенерированная история. Текст лежит в blob-хранилище по ContentKey.
type Story struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	UserID       string           `db:"user_id" json:"userId"`
	RequestID    uuid.UUID        `db:"request_id" json:"requestId"`
	WorkflowID   *uuid.UUID       `db:"workflow_id" json:"workflowId,omitempty"`
	Sequence     int              `db:"sequence" json:"sequence"` // порядковый номер истории внутри workflow, с 1
	Title        string           `db:"title" json:"title"`
	ContentKey   *string          `db:"content_key" json:"contentKey,omitempty"`
	Status       EntityStatus     `db:"status" json:"status"`
	Preferences  StoryPreferences `db:"preferences" json:"preferences"`
	ErrorMessage *string          `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updatedAt"`
}

// StoryContentKey возвращает ключ blob-объекта с текстом истории.
func StoryContentKey(storyID uuid.UUID) string {
	return "stories/" + storyID.String() + ".md"
}

// WorkflowManifestKey возвращает ключ манифеста завершенного пакетного workflow.
func WorkflowManifestKey(workflowID uuid.UUID) string {
	return "workflows/" + workflowID.String() + ".json"
}
