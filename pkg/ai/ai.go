package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyteller-server/internal/domain"
)

// ErrAIGenerationFailed - ошибка при генерации текста AI
var ErrAIGenerationFailed = errors.New("AI text generation failed")

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderEcho   = "echo"
)

// Continuation - продолжение истории, полученное от модели.
type Continuation struct {
	Text string
	// SceneDescription - описание сцены для генератора изображений.
	SceneDescription string
}

// Generator пишет продолжение по полному упорядоченному логу истории.
type Generator interface {
	Generate(ctx context.Context, story []domain.StoryEntry) (Continuation, error)
}

// Config содержит конфигурацию для клиента нейросети
type Config struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	MaxAttempts   int
	MaxTokens     int
	Temperature   float64
	ContextTokens int // 0 - отправлять лог целиком
	SystemPrompt  string
	Timeout       time.Duration // Таймаут HTTP клиента
}

// New создает клиент выбранного провайдера.
func New(cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	builder := promptBuilder{systemPrompt: cfg.SystemPrompt, budget: cfg.ContextTokens}
	if cfg.ContextTokens > 0 {
		builder.counter = NewTokenCounter(cfg.Model, logger)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		logger.Info("Using AI provider", zap.String("provider", ProviderOpenAI), zap.String("model", cfg.Model), zap.String("base_url", cfg.BaseURL))
		client, err := newOpenAIClient(cfg, builder, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderOllama:
		logger.Info("Using AI provider", zap.String("provider", ProviderOllama), zap.String("model", cfg.Model), zap.String("base_url", cfg.BaseURL))
		client, err := newOllamaClient(cfg, builder, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderEcho, "":
		logger.Warn("Using echo AI provider, continuations are not generated by a model")
		return EchoGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider '%s'", cfg.Provider)
	}
}

// continuationFromText нормализует ответ модели. Пустой ответ - ошибка.
func continuationFromText(text string) (Continuation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Continuation{}, fmt.Errorf("%w: empty response", ErrAIGenerationFailed)
	}
	return Continuation{Text: text, SceneDescription: text}, nil
}

// retry повторяет вызов до maxAttempts раз с линейной паузой, пока ctx жив.
func retry(ctx context.Context, maxAttempts int, logger *zap.Logger, call func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := call()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logger.Warn("AI request attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrAIGenerationFailed, ctx.Err())
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("%w: %v", ErrAIGenerationFailed, lastErr)
}
