// Package handler - HTTP API пайплайна: запуск workflow, статус запросов и продолжение историй.
package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/internal/continuation"
	"novel-workflow/internal/status"
	"novel-workflow/internal/workflow"
)

// WorkflowStarter запускает пакетную генерацию историй.
//
//go:generate mockery --name WorkflowStarter --output ../mocks --outpkg mocks --case=underscore
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, userID string, input workflow.StartWorkflowInput) (*workflow.StartWorkflowResult, error)
}

// StatusReader возвращает статус запроса генерации его владельцу.
//
//go:generate mockery --name StatusReader --output ../mocks --outpkg mocks --case=underscore
type StatusReader interface {
	GetStatus(ctx context.Context, userID string, requestID uuid.UUID) (*status.RequestStatus, error)
}

// EpisodeContinuer запрашивает следующий эпизод готовой истории.
//
//go:generate mockery --name EpisodeContinuer --output ../mocks --outpkg mocks --case=underscore
type EpisodeContinuer interface {
	ContinueEpisode(ctx context.Context, userID string, storyID uuid.UUID) (*continuation.ContinueResult, error)
}

var (
	_ WorkflowStarter  = (*workflow.Coordinator)(nil)
	_ StatusReader     = (*status.Aggregator)(nil)
	_ EpisodeContinuer = (*continuation.Resolver)(nil)
)

// Handler обрабатывает HTTP запросы API.
type Handler struct {
	workflows    WorkflowStarter
	statuses     StatusReader
	continuation EpisodeContinuer
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewHandler(
	workflows WorkflowStarter,
	statuses StatusReader,
	continuation EpisodeContinuer,
	pollInterval time.Duration,
	logger *zap.Logger,
) *Handler {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Handler{
		workflows:    workflows,
		statuses:     statuses,
		continuation: continuation,
		pollInterval: pollInterval,
		logger:       logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API. authMiddleware обязателен для всех
// маршрутов, rateLimit (если задан) применяется к запросам, запускающим генерацию.
func (h *Handler) RegisterRoutes(router gin.IRouter, authMiddleware gin.HandlerFunc, rateLimit gin.HandlerFunc) {
	limited := func(final gin.HandlerFunc) []gin.HandlerFunc {
		chain := []gin.HandlerFunc{authMiddleware}
		if rateLimit != nil {
			chain = append(chain, rateLimit)
		}
		return append(chain, final)
	}

	router.POST("/workflow/start", limited(h.startWorkflow)...)
	router.POST("/stories/:storyId/episodes", limited(h.continueEpisode)...)

	router.GET("/status/:requestId", authMiddleware, h.getStatus)
	router.GET("/status/:requestId/ws", tokenFromQuery(), authMiddleware, h.streamStatus)
}
