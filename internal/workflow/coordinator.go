package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/messaging"
	"novel-workflow/shared/models"
)

const (
	// StatusStarted - статус в ответе на успешный запуск.
	StatusStarted = "STARTED"

	defaultBatchSize = 1
)

// StartWorkflowInput - тело запроса POST /workflow/start.
type StartWorkflowInput struct {
	NumberOfStories int  `json:"numberOfStories" validate:"required,min=1,max=10"`
	BatchSize       *int `json:"batchSize,omitempty" validate:"omitempty,min=1,max=10"`
}

// StartWorkflowResult - ответ на запуск workflow.
type StartWorkflowResult struct {
	WorkflowID              uuid.UUID `json:"workflowId"`
	RequestID               uuid.UUID `json:"requestId"`
	NumberOfStories         int       `json:"numberOfStories"`
	BatchSize               int       `json:"batchSize"`
	TotalBatches            int       `json:"totalBatches"`
	Status                  string    `json:"status"`
	EstimatedCompletionTime time.Time `json:"estimatedCompletionTime"`
}

// Config - параметры координатора.
type Config struct {
	// PerStoryEstimate - эвристика времени генерации одной истории с эпизодом.
	PerStoryEstimate time.Duration
}

// Coordinator принимает запрос пользователя на пакетную генерацию историй:
// проверяет ввод, лимит и предпочтения, создает запись в журнале и публикует
// первое событие пакета. Дальше пайплайн двигают воркеры.
type Coordinator struct {
	ledger      interfaces.GenerationRequestRepository
	preferences interfaces.PreferenceRepository
	limiter     interfaces.RateLimiter
	publisher   messaging.EventPublisher
	validate    *validator.Validate
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
}

func NewCoordinator(
	ledger interfaces.GenerationRequestRepository,
	preferences interfaces.PreferenceRepository,
	limiter interfaces.RateLimiter,
	publisher messaging.EventPublisher,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.PerStoryEstimate <= 0 {
		cfg.PerStoryEstimate = 2 * time.Minute
	}
	return &Coordinator{
		ledger:      ledger,
		preferences: preferences,
		limiter:     limiter,
		publisher:   publisher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		cfg:         cfg,
		logger:      logger.Named("WorkflowCoordinator"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// StartWorkflow запускает пакетный workflow.
// Порядок проверок: ввод, лимит запусков, предпочтения. Отказ на любом шаге
// не оставляет следов в журнале и не публикует событий.
func (c *Coordinator) StartWorkflow(ctx context.Context, userID string, input StartWorkflowInput) (*StartWorkflowResult, error) {
	log := c.logger.With(zap.String("user_id", userID))

	batchSize, err := c.validateInput(input)
	if err != nil {
		log.Info("Workflow start rejected: invalid input", zap.Error(err))
		return nil, err
	}

	allowed, err := c.limiter.Allow(ctx, userID)
	if err != nil {
		log.Error("Rate limiter failed", zap.Error(err))
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		log.Warn("Workflow start rejected: rate limit exceeded")
		return nil, models.ErrRateLimited
	}

	prefs, err := c.preferences.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Info("Workflow start rejected: preferences not found")
			return nil, models.ErrPreferencesNotFound
		}
		log.Error("Failed to load user preferences", zap.Error(err))
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	if err := c.validate.Struct(prefs.Preferences); err != nil {
		log.Info("Workflow start rejected: preferences incomplete", zap.Error(err))
		return nil, fmt.Errorf("%w: preferences are incomplete", models.ErrPreferencesNotFound)
	}

	plan := messaging.BatchPlan{
		WorkflowID:      uuid.New(),
		NumberOfStories: input.NumberOfStories,
		BatchSize:       batchSize,
		CurrentBatch:    1,
		TotalBatches:    messaging.TotalBatchesFor(input.NumberOfStories, batchSize),
	}
	request := &models.GenerationRequest{
		RequestID:     uuid.New(),
		UserID:        userID,
		Type:          models.RequestTypeStory,
		Status:        models.RequestStatusPending,
		WorkflowID:    &plan.WorkflowID,
		ExpectedItems: plan.NumberOfStories,
	}
	log = log.With(zap.String("workflow_id", plan.WorkflowID.String()), zap.String("request_id", request.RequestID.String()))

	if err := c.ledger.Create(ctx, request); err != nil {
		log.Error("Failed to create generation request", zap.Error(err))
		return nil, fmt.Errorf("failed to create generation request: %w", err)
	}

	event := messaging.BatchStoryGenerationRequested{
		EventMeta:   messaging.NewEventMeta(),
		BatchPlan:   plan,
		UserID:      userID,
		RequestID:   request.RequestID,
		Preferences: prefs.Preferences,
		Insights:    prefs.Insights,
	}
	if err := c.publisher.Publish(ctx, messaging.NewEnvelope(messaging.SourceWorkflow, event)); err != nil {
		log.Error("Failed to publish first batch event", zap.Error(err))
		msg := fmt.Sprintf("failed to start workflow: %v", err)
		if updErr := c.ledger.UpdateStatus(ctx, request.RequestID, models.StatusUpdate{
			Status:       models.RequestStatusFailed,
			ErrorMessage: &msg,
		}); updErr != nil {
			log.Error("Failed to mark generation request FAILED after publish error", zap.Error(updErr))
		}
		return nil, fmt.Errorf("failed to publish workflow start: %w", err)
	}

	result := &StartWorkflowResult{
		WorkflowID:              plan.WorkflowID,
		RequestID:               request.RequestID,
		NumberOfStories:         plan.NumberOfStories,
		BatchSize:               plan.BatchSize,
		TotalBatches:            plan.TotalBatches,
		Status:                  StatusStarted,
		EstimatedCompletionTime: c.now().Add(time.Duration(plan.NumberOfStories) * c.cfg.PerStoryEstimate),
	}
	log.Info("Workflow started",
		zap.Int("number_of_stories", plan.NumberOfStories),
		zap.Int("batch_size", plan.BatchSize),
		zap.Int("total_batches", plan.TotalBatches),
	)
	return result, nil
}

// validateInput проверяет ввод и возвращает итоговый размер пакета.
func (c *Coordinator) validateInput(input StartWorkflowInput) (int, error) {
	if err := c.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return 0, fmt.Errorf("%w: %s must satisfy %s=%s", models.ErrValidation, lowerFirst(fe.Field()), fe.Tag(), fe.Param())
		}
		return 0, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	batchSize := defaultBatchSize
	if input.BatchSize != nil {
		batchSize = *input.BatchSize
	}
	if batchSize > input.NumberOfStories {
		return 0, fmt.Errorf("%w: batchSize must be between 1 and numberOfStories", models.ErrValidation)
	}
	return batchSize, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
