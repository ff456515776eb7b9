package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	sharedMiddleware "novel-workflow/shared/middleware"
	"novel-workflow/shared/models"
)

// handleServiceError переводит ошибку сервиса в HTTP статус и код клиента.
func handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var code, message string

	switch {
	case errors.Is(err, models.ErrValidation):
		statusCode, code, message = http.StatusBadRequest, models.ErrCodeValidation, strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
	case errors.Is(err, models.ErrPreferencesNotFound):
		statusCode, code, message = http.StatusBadRequest, models.ErrCodePreferencesNotFound, "User preferences not found or incomplete"
	case errors.Is(err, models.ErrRateLimited):
		statusCode, code, message = http.StatusTooManyRequests, models.ErrCodeRateLimited, "Too many workflow starts, try again later"
	case errors.Is(err, models.ErrBadRequest):
		statusCode, code, message = http.StatusBadRequest, models.ErrCodeInvalidRequest, err.Error()
	case errors.Is(err, models.ErrForbidden):
		statusCode, code, message = http.StatusForbidden, models.ErrCodeForbidden, "Access denied"
	case errors.Is(err, models.ErrRequestNotFound):
		statusCode, code, message = http.StatusNotFound, models.ErrCodeRequestNotFound, "Generation request not found"
	case errors.Is(err, models.ErrStoryNotFound):
		statusCode, code, message = http.StatusNotFound, models.ErrCodeStoryNotFound, "Story not found"
	case errors.Is(err, models.ErrStoryNotReady):
		statusCode, code, message = http.StatusConflict, models.ErrCodeStoryNotReady, "Story content is not ready yet"
	case errors.Is(err, models.ErrEpisodeConflict):
		statusCode, code, message = http.StatusConflict, models.ErrCodeEpisodeConflict, "Episode number was taken concurrently, retry the request"
	default:
		zap.L().Error("Unhandled internal error in handleServiceError",
			zap.Error(err),
			zap.String("request_id", sharedMiddleware.RequestID(c)),
		)
		statusCode, code, message = http.StatusInternalServerError, models.ErrCodeInternal, "An unexpected internal error occurred"
	}

	c.AbortWithStatusJSON(statusCode, models.NewErrorResponse(code, message, sharedMiddleware.RequestID(c)))
}

func invalidRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, models.NewErrorResponse(models.ErrCodeInvalidRequest, message, sharedMiddleware.RequestID(c)))
}
