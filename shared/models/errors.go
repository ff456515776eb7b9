package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound      = errors.New("resource not found") // General not found
	ErrAlreadyExists = errors.New("resource already exists")

	// Auth Errors
	ErrUnauthorized   = errors.New("unauthorized") // Authentication required or failed
	ErrForbidden      = errors.New("forbidden")    // Authenticated, but lacks permission
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")

	// Workflow Errors
	ErrValidation          = errors.New("validation error")
	ErrPreferencesNotFound = errors.New("user preferences not found")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrRequestNotFound     = errors.New("generation request not found")

	// Story & Episode Errors
	ErrStoryNotFound     = errors.New("story not found")
	ErrStoryNotReady     = errors.New("story content is not ready yet")
	ErrEpisodeNotFound   = errors.New("episode not found")
	ErrEpisodeConflict   = errors.New("episode number is already taken")
	ErrInvalidTransition = errors.New("invalid status transition")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
)

// Стабильные коды ошибок, которые получает клиент в поле code.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodePreferencesNotFound = "PREFERENCES_NOT_FOUND"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeTokenExpired        = "TOKEN_EXPIRED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeRequestNotFound     = "REQUEST_NOT_FOUND"
	ErrCodeStoryNotFound       = "STORY_NOT_FOUND"
	ErrCodeStoryNotReady       = "STORY_NOT_READY"
	ErrCodeEpisodeConflict     = "EPISODE_CONFLICT"
	ErrCodeInternal            = "INTERNAL_ERROR"
)
