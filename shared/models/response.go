package models

import "time"

// ErrorResponse - стандартная структура для ответа об ошибке в формате JSON.
type ErrorResponse struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorResponse собирает ответ об ошибке с текущим временем в UTC.
func NewErrorResponse(code, message, requestID string) ErrorResponse {
	return ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}
