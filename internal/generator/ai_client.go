package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"novel-workflow/internal/config"
)

// ErrAIGenerationFailed - ошибка при генерации текста AI.
var ErrAIGenerationFailed = errors.New("ai text generation failed")

// UsageInfo содержит информацию об использовании токенов.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool // true, если провайдер не вернул usage и токены посчитаны tiktoken
}

// TextClient - чат-модель, возвращающая один ответ на system+user промпт.
type TextClient interface {
	GenerateText(ctx context.Context, userID, systemPrompt, userInput string) (string, UsageInfo, error)
	Model() string
}

// --- OpenAI ---

type openAIClient struct {
	client    *openaigo.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

func (c *openAIClient) Model() string { return c.model }

func (c *openAIClient) GenerateText(ctx context.Context, userID, systemPrompt, userInput string) (string, UsageInfo, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return "", UsageInfo{}, fmt.Errorf("%w: system prompt is empty", ErrAIGenerationFailed)
	}
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userInput})
	}

	log := c.logger.With(zap.String("user_id", userID), zap.String("model", c.model))
	log.Debug("Sending chat completion request",
		zap.Int("system_prompt_bytes", len(systemPrompt)),
		zap.Int("user_input_bytes", len(userInput)),
	)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	})
	duration := time.Since(start)
	if err != nil {
		recordAIRequest(c.model, "text", "error", duration)
		log.Warn("AI API request failed", zap.Duration("duration", duration), zap.Error(err))
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		recordAIRequest(c.model, "text", "error_empty_response", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: empty response", ErrAIGenerationFailed)
	}
	recordAIRequest(c.model, "text", "success", duration)

	text := resp.Choices[0].Message.Content
	usage := UsageInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		// Некоторые OpenAI-совместимые прокси не возвращают usage.
		usage = estimateUsage(c.model, systemPrompt+userInput, text)
	}
	recordUsage(c.model, usage)

	log.Info("AI response received",
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(text)),
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Bool("estimated_tokens", usage.Estimated),
	)
	return text, usage, nil
}

// --- Ollama ---

type ollamaClient struct {
	client    *api.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
}

func newOllamaClient(cfg *config.Config, logger *zap.Logger) (TextClient, error) {
	baseURL := strings.TrimSuffix(strings.TrimSuffix(cfg.OllamaHost, "/v1"), "/")
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", cfg.OllamaHost, err)
	}
	client := api.NewClient(parsedURL, &http.Client{Timeout: cfg.AITimeout})
	logger.Info("Ollama client created", zap.String("base_url", baseURL), zap.String("model", cfg.AIModel))
	return &ollamaClient{
		client:    client,
		model:     cfg.AIModel,
		maxTokens: cfg.AIMaxTokens,
		timeout:   cfg.AITimeout,
		logger:    logger,
	}, nil
}

func (c *ollamaClient) Model() string { return c.model }

func (c *ollamaClient) GenerateText(ctx context.Context, userID, systemPrompt, userInput string) (string, UsageInfo, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return "", UsageInfo{}, fmt.Errorf("%w: system prompt is empty", ErrAIGenerationFailed)
	}
	messages := []api.Message{{Role: "system", Content: systemPrompt}}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{"num_predict": c.maxTokens},
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log := c.logger.With(zap.String("user_id", userID), zap.String("model", c.model))
	start := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)
	if err != nil {
		recordAIRequest(c.model, "text", "error", duration)
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("Ollama request timed out", zap.Duration("timeout", c.timeout))
		}
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if resp.Message.Content == "" {
		recordAIRequest(c.model, "text", "error_empty_response", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: empty response", ErrAIGenerationFailed)
	}
	recordAIRequest(c.model, "text", "success", duration)

	usage := UsageInfo{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
	if usage.TotalTokens == 0 {
		usage = estimateUsage(c.model, systemPrompt+userInput, resp.Message.Content)
	}
	recordUsage(c.model, usage)

	log.Info("Ollama response received", zap.Duration("duration", duration), zap.Int("response_chars", len(resp.Message.Content)))
	return resp.Message.Content, usage, nil
}

// --- Оценка токенов ---

// fallbackEncoding используется для моделей, которых tiktoken не знает (локальные модели Ollama).
const fallbackEncoding = "cl100k_base"

// estimateUsage считает токены локально через tiktoken.
// Если словарь недоступен, возвращает грубую оценку 4 символа на токен.
func estimateUsage(model, prompt, completion string) UsageInfo {
	count := func(s string) int { return (len(s) + 3) / 4 }
	if enc, err := encodingFor(model); err == nil {
		count = func(s string) int { return len(enc.Encode(s, nil, nil)) }
	}
	p, c := count(prompt), count(completion)
	return UsageInfo{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c, Estimated: true}
}

func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding(fallbackEncoding)
}

// NewTextClient создает клиент по AI_PROVIDER.
func NewTextClient(cfg *config.Config, logger *zap.Logger) (TextClient, error) {
	log := logger.Named("AIClient")
	switch strings.ToLower(cfg.AIProvider) {
	case config.AIProviderOpenAI:
		if cfg.AIAPIKey == "" {
			return nil, errors.New("AI API key is required for the openai provider")
		}
		return &openAIClient{
			client:    newOpenAIClient(cfg),
			model:     cfg.AIModel,
			maxTokens: cfg.AIMaxTokens,
			logger:    log,
		}, nil
	case config.AIProviderOllama:
		return newOllamaClient(cfg, log)
	default:
		return nil, fmt.Errorf("unknown AI provider: %q", cfg.AIProvider)
	}
}

func newOpenAIClient(cfg *config.Config) *openaigo.Client {
	openaiConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
	openaiConfig.BaseURL = cfg.AIBaseURL
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}
	return openaigo.NewClientWithConfig(openaiConfig)
}
