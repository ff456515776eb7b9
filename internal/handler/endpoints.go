package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/internal/workflow"
	"novel-workflow/shared/models"
)

func (h *Handler) startWorkflow(c *gin.Context) {
	userID := c.GetString(models.GinUserIDKey)

	var input workflow.StartWorkflowInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.logger.Debug("Invalid workflow start body", zap.Error(err))
		// Число не того типа (2.5, "3") - ошибка значения поля, а не формата тела.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && isStartWorkflowField(typeErr.Field) {
			handleServiceError(c, fmt.Errorf("%w: %s must be an integer", models.ErrValidation, typeErr.Field))
			return
		}
		invalidRequest(c, "Request body must be JSON with numberOfStories and optional batchSize")
		return
	}

	result, err := h.workflows.StartWorkflow(c.Request.Context(), userID, input)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func isStartWorkflowField(field string) bool {
	return field == "numberOfStories" || field == "batchSize"
}

func (h *Handler) getStatus(c *gin.Context) {
	requestID, ok := parseUUIDParam(c, "requestId")
	if !ok {
		return
	}

	st, err := h.statuses.GetStatus(c.Request.Context(), c.GetString(models.GinUserIDKey), requestID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) continueEpisode(c *gin.Context) {
	storyID, ok := parseUUIDParam(c, "storyId")
	if !ok {
		return
	}

	result, err := h.continuation.ContinueEpisode(c.Request.Context(), c.GetString(models.GinUserIDKey), storyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// parseUUIDParam читает path-параметр как UUID; при ошибке отвечает 400 INVALID_REQUEST.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		invalidRequest(c, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
