package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchTooLarge - в PublishBatch передано больше MaxBatchSize конвертов.
	ErrBatchTooLarge = errors.New("event batch exceeds maximum size")
	// ErrEmptyBatch - в PublishBatch не передано ни одного конверта.
	ErrEmptyBatch = errors.New("event batch is empty")
	// ErrNotConfirmed - брокер отклонил сообщение (basic.nack).
	ErrNotConfirmed = errors.New("broker did not confirm message")
)

// EntryError - ошибка отправки одного конверта из пакета.
type EntryError struct {
	Index      int
	DetailType DetailType
	Err        error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %d (%s): %v", e.Index, e.DetailType, e.Err)
}

func (e EntryError) Unwrap() error { return e.Err }

// PartialFailureError сообщает, что часть конвертов пакета не была принята шиной.
// Вызывающий решает, повторять ли отправку или переводить запрос в FAILED.
type PartialFailureError struct {
	Failed  int
	Total   int
	Entries []EntryError
}

func (e *PartialFailureError) Error() string {
	msg := fmt.Sprintf("%d of %d entries failed", e.Failed, e.Total)
	if len(e.Entries) > 0 {
		msg += ": " + e.Entries[0].Error()
	}
	return msg
}

func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Entries))
	for _, entry := range e.Entries {
		errs = append(errs, entry)
	}
	return errs
}
