package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestType определяет, какой артефакт производит запрос генерации.
type RequestType string

const (
	RequestTypeStory   RequestType = "STORY"
	RequestTypeEpisode RequestType = "EPISODE"
	RequestTypeImage   RequestType = "IMAGE"
)

// IsValid проверяет, что тип запроса известен.
func (t RequestType) IsValid() bool {
	switch t {
	case RequestTypeStory, RequestTypeEpisode, RequestTypeImage:
		return true
	}
	return false
}

// RequestStatus - статус записи в журнале запросов генерации.
// Переходы только вперед: PENDING -> PROCESSING -> {COMPLETED | FAILED}.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "PENDING"
	RequestStatusProcessing RequestStatus = "PROCESSING"
	RequestStatusCompleted  RequestStatus = "COMPLETED"
	RequestStatusFailed     RequestStatus = "FAILED"
)

// IsTerminal возвращает true для COMPLETED и FAILED.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// CanTransitionTo сообщает, допустим ли переход из s в next.
// PROCESSING -> PROCESSING разрешен: повторная доставка события и
// обновление relatedEntityId внутри пакетного workflow.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestStatusPending:
		return next == RequestStatusProcessing || next == RequestStatusCompleted || next == RequestStatusFailed
	case RequestStatusProcessing:
		return next == RequestStatusProcessing || next == RequestStatusCompleted || next == RequestStatusFailed
	default:
		return false
	}
}

// AllowedPredecessors возвращает статусы, из которых можно перейти в next.
// Используется в условном UPDATE в Postgres.
func AllowedPredecessors(next RequestStatus) []string {
	var from []string
	for _, s := range []RequestStatus{RequestStatusPending, RequestStatusProcessing, RequestStatusCompleted, RequestStatusFailed} {
		if s.CanTransitionTo(next) {
			from = append(from, string(s))
		}
	}
	return from
}

// GenerationRequest - запись журнала: одна пользовательская операция генерации.
// Никогда не удаляется.
type GenerationRequest struct {
	RequestID       uuid.UUID     `db:"request_id" json:"requestId"`
	UserID          string        `db:"user_id" json:"userId"`
	Type            RequestType   `db:"type" json:"type"`
	Status          RequestStatus `db:"status" json:"status"`
	WorkflowID      *uuid.UUID    `db:"workflow_id" json:"workflowId,omitempty"`
	ExpectedItems   int           `db:"expected_items" json:"expectedItems"`
	RelatedEntityID *string       `db:"related_entity_id" json:"relatedEntityId,omitempty"`
	ErrorMessage    *string       `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// StatusUpdate описывает переход статуса запроса. Nil-поля не меняются.
type StatusUpdate struct {
	Status          RequestStatus
	RelatedEntityID *string
	ErrorMessage    *string
}
