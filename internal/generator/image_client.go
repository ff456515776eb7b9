package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"novel-workflow/internal/config"
	"novel-workflow/shared/messaging"
)

// ErrImageGenerationFailed - ошибка генерации изображения.
var ErrImageGenerationFailed = errors.New("ai image generation failed")

// ImageClient рисует одно изображение по текстовому промпту.
type ImageClient interface {
	GenerateImage(ctx context.Context, userID, prompt, aspectRatio string) ([]byte, error)
}

type openAIImageClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

// NewImageClient создает клиент изображений OpenAI (images API, ответ в base64).
// Ollama изображения не генерирует, поэтому для него нужен ключ OpenAI.
func NewImageClient(cfg *config.Config, logger *zap.Logger) (ImageClient, error) {
	if cfg.AIAPIKey == "" {
		return nil, errors.New("AI API key is required for image generation")
	}
	return &openAIImageClient{
		client: newOpenAIClient(cfg),
		model:  cfg.AIImageModel,
		logger: logger.Named("AIImageClient"),
	}, nil
}

// imageSize подбирает поддерживаемый размер под соотношение сторон.
func imageSize(aspectRatio string) string {
	switch aspectRatio {
	case messaging.AspectRatioSquare:
		return openaigo.CreateImageSize1024x1024
	case messaging.AspectRatioLandscape:
		return openaigo.CreateImageSize1792x1024
	default:
		return openaigo.CreateImageSize1024x1792
	}
}

func (c *openAIImageClient) GenerateImage(ctx context.Context, userID, prompt, aspectRatio string) ([]byte, error) {
	log := c.logger.With(zap.String("user_id", userID), zap.String("model", c.model), zap.String("aspect_ratio", aspectRatio))

	start := time.Now()
	resp, err := c.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         prompt,
		Model:          c.model,
		N:              1,
		Size:           imageSize(aspectRatio),
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
		User:           userID,
	})
	duration := time.Since(start)
	if err != nil {
		recordAIRequest(c.model, "image", "error", duration)
		log.Warn("Image API request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		recordAIRequest(c.model, "image", "error_empty_response", duration)
		return nil, fmt.Errorf("%w: empty response", ErrImageGenerationFailed)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		recordAIRequest(c.model, "image", "error_decode", duration)
		return nil, fmt.Errorf("%w: decode image base64: %v", ErrImageGenerationFailed, err)
	}
	recordAIRequest(c.model, "image", "success", duration)
	log.Info("Image received", zap.Duration("duration", duration), zap.Int("size_bytes", len(data)))
	return data, nil
}

// detectContentType определяет MIME тип полученных байт.
func detectContentType(data []byte) string {
	return http.DetectContentType(data)
}
