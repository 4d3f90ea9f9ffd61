package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"storyteller-server/internal/domain"
)

const defaultOllamaURL = "http://localhost:11434"

// ollamaClient реализует Generator через нативный API Ollama.
type ollamaClient struct {
	client      *api.Client
	model       string
	maxAttempts int
	options     map[string]interface{}
	prompt      promptBuilder
	logger      *zap.Logger
}

func newOllamaClient(cfg Config, prompt promptBuilder, logger *zap.Logger) (*ollamaClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("AI_MODEL is required for the ollama provider")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	// api.NewClient ждет URL без суффикса /v1
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse Ollama base URL '%s': %w", baseURL, err)
	}

	options := map[string]interface{}{
		"temperature": cfg.Temperature,
	}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}

	return &ollamaClient{
		client:      api.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout}),
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		options:     options,
		prompt:      prompt,
		logger:      logger.With(zap.String("provider", ProviderOllama)),
	}, nil
}

// Generate отправляет лог истории как сообщение пользователя без стриминга.
func (c *ollamaClient) Generate(ctx context.Context, story []domain.StoryEntry) (Continuation, error) {
	stream := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: c.prompt.systemPrompt},
			{Role: "user", Content: c.prompt.userPrompt(story)},
		},
		Stream:  &stream,
		Options: c.options,
	}

	text, err := retry(ctx, c.maxAttempts, c.logger, func() (string, error) {
		return c.chat(ctx, req)
	})
	if err != nil {
		return Continuation{}, err
	}
	return continuationFromText(text)
}

func (c *ollamaClient) chat(ctx context.Context, req *api.ChatRequest) (string, error) {
	startTime := time.Now()

	var resp api.ChatResponse
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		aiRequestsTotal.WithLabelValues(ProviderOllama, c.model, "error").Inc()
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if resp.Message.Content == "" {
		aiRequestsTotal.WithLabelValues(ProviderOllama, c.model, "error_empty_response").Inc()
		return "", errors.New("empty response from Ollama API")
	}

	aiRequestsTotal.WithLabelValues(ProviderOllama, c.model, "success").Inc()
	aiRequestDuration.WithLabelValues(ProviderOllama, c.model).Observe(duration.Seconds())
	observeUsage(ProviderOllama, c.model, resp.PromptEvalCount, resp.EvalCount)

	c.logger.Debug("Ollama response received",
		zap.String("model", c.model),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", resp.PromptEvalCount),
		zap.Int("completion_tokens", resp.EvalCount),
	)
	return resp.Message.Content, nil
}
