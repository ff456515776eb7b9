package messaging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEnvelope - базовая ошибка для конвертов, не прошедших проверку схемы.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// ValidationError описывает, почему конверт отклонен до отправки в шину.
type ValidationError struct {
	DetailType DetailType
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %q: %s", ErrInvalidEnvelope, e.DetailType, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEnvelope }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(batchPlanStructLevel, BatchPlan{})
	return v
}

// batchPlanStructLevel проверяет инвариант TotalBatches = ceil(NumberOfStories / BatchSize).
func batchPlanStructLevel(sl validator.StructLevel) {
	plan := sl.Current().Interface().(BatchPlan)
	if plan.BatchSize <= 0 || plan.NumberOfStories <= 0 {
		return // покрывается тегами min
	}
	if plan.TotalBatches != TotalBatchesFor(plan.NumberOfStories, plan.BatchSize) {
		sl.ReportError(plan.TotalBatches, "TotalBatches", "totalBatches", "ceil", "")
	}
}

// ValidateEnvelope проверяет конверт по схеме его detailType.
// Возвращает *ValidationError со списком всех найденных нарушений.
func ValidateEnvelope(env Envelope) error {
	verr := &ValidationError{DetailType: env.DetailType}

	if env.Source == "" {
		verr.Problems = append(verr.Problems, "source is required")
	}
	if !env.DetailType.IsKnown() {
		verr.Problems = append(verr.Problems, "detailType is unknown")
		return verr
	}
	if env.Source != "" && !env.DetailType.AllowsSource(env.Source) {
		verr.Problems = append(verr.Problems, fmt.Sprintf("source %q may not publish this event", env.Source))
	}
	if env.Detail == nil {
		verr.Problems = append(verr.Problems, "detail is required")
		return verr
	}
	if env.Detail.DetailType() != env.DetailType {
		verr.Problems = append(verr.Problems, fmt.Sprintf("detail has type %q", env.Detail.DetailType()))
		return verr
	}
	if env.Detail.EventTime().IsZero() {
		verr.Problems = append(verr.Problems, "detail.timestamp is required")
	}

	if err := validate.Struct(env.Detail); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate detail: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Problems = append(verr.Problems, describeFieldError(fe))
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "ceil":
		return field + " must equal ceil(numberOfStories / batchSize)"
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
