package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"novel-workflow/shared/interfaces"
	"novel-workflow/shared/models"
)

// ErrImageGenerationDisabled - генератор создан без клиента изображений.
var ErrImageGenerationDisabled = errors.New("image generation is not configured")

// RetryConfig - параметры повторов вызова модели.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Generator реализует interfaces.ContentGenerator поверх текстового клиента и клиента изображений.
type Generator struct {
	text   TextClient
	image  ImageClient
	retry  RetryConfig
	logger *zap.Logger

	// sleep подменяется в тестах.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ interfaces.ContentGenerator = (*Generator)(nil)

// NewGenerator создает генератор. image может быть nil, тогда GenerateImage
// возвращает ErrImageGenerationDisabled.
func NewGenerator(text TextClient, image ImageClient, retry RetryConfig, logger *zap.Logger) *Generator {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Generator{
		text:   text,
		image:  image,
		retry:  retry,
		logger: logger.Named("Generator"),
		sleep:  sleepContext,
	}
}

func (g *Generator) GenerateStory(ctx context.Context, prompt models.StoryPrompt) (*models.GeneratedStory, error) {
	systemPrompt, userInput, err := buildStoryPrompt(prompt)
	if err != nil {
		return nil, err
	}

	var story *models.GeneratedStory
	err = g.withRetry(ctx, "story", prompt.UserID, func(ctx context.Context) error {
		text, _, err := g.text.GenerateText(ctx, prompt.UserID, systemPrompt, userInput)
		if err != nil {
			return err
		}
		story, err = parseStory(text, prompt.Sequence)
		return err
	})
	if err != nil {
		return nil, err
	}
	return story, nil
}

func (g *Generator) GenerateEpisode(ctx context.Context, prompt models.EpisodePrompt) (*models.GeneratedEpisode, error) {
	systemPrompt, userInput, err := buildEpisodePrompt(prompt)
	if err != nil {
		return nil, err
	}

	var content string
	err = g.withRetry(ctx, "episode", prompt.UserID, func(ctx context.Context) error {
		text, _, err := g.text.GenerateText(ctx, prompt.UserID, systemPrompt, userInput)
		if err != nil {
			return err
		}
		if text == "" {
			return fmt.Errorf("%w: empty episode text", ErrAIGenerationFailed)
		}
		content = text
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &models.GeneratedEpisode{Content: content}, nil
}

func (g *Generator) GenerateImage(ctx context.Context, prompt models.ImagePrompt) (*models.GeneratedImage, error) {
	if g.image == nil {
		return nil, ErrImageGenerationDisabled
	}
	imagePrompt, err := buildImagePrompt(prompt)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = g.withRetry(ctx, "image", prompt.UserID, func(ctx context.Context) error {
		data, err = g.image.GenerateImage(ctx, prompt.UserID, imagePrompt, prompt.AspectRatio)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.GeneratedImage{Data: data, ContentType: detectContentType(data)}, nil
}

// withRetry повторяет call с экспоненциальной задержкой base*2^(attempt-1) и джиттером 10%.
// Отмена контекста прерывает ожидание и возвращает ошибку контекста.
func (g *Generator) withRetry(ctx context.Context, kind, userID string, call func(ctx context.Context) error) error {
	log := g.logger.With(zap.String("kind", kind), zap.String("user_id", userID))

	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		lastErr = call(ctx)
		if lastErr == nil {
			if attempt > 1 {
				log.Info("Generation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s generation cancelled: %w", kind, ctx.Err())
		}

		log.Warn("Generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.retry.MaxAttempts),
			zap.Error(lastErr),
		)
		if attempt == g.retry.MaxAttempts {
			break
		}

		wait := backoffDelay(g.retry.BaseDelay, attempt)
		generationRetries.WithLabelValues(kind).Inc()
		log.Debug("Waiting before next attempt", zap.Duration("delay", wait))
		if err := g.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s generation cancelled: %w", kind, err)
		}
	}
	return fmt.Errorf("%s generation failed after %d attempts: %w", kind, g.retry.MaxAttempts, lastErr)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)
	wait := time.Duration(delay)
	if wait < base {
		wait = base
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
