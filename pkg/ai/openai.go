package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storyteller-server/internal/domain"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openAIClient реализует Generator поверх любого OpenAI-совместимого API (OpenAI, OpenRouter).
type openAIClient struct {
	client      *openaigo.Client
	model       string
	maxAttempts int
	maxTokens   int
	temperature float32
	prompt      promptBuilder
	logger      *zap.Logger
}

func newOpenAIClient(cfg Config, prompt promptBuilder, logger *zap.Logger) (*openAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("AI_API_KEY is required for the openai provider")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &openAIClient{
		client:      openaigo.NewClientWithConfig(openaiConfig),
		model:       model,
		maxAttempts: cfg.MaxAttempts,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		prompt:      prompt,
		logger:      logger.With(zap.String("provider", ProviderOpenAI)),
	}, nil
}

// Generate отправляет лог истории как сообщение пользователя.
func (c *openAIClient) Generate(ctx context.Context, story []domain.StoryEntry) (Continuation, error) {
	req := openaigo.ChatCompletionRequest{
		Model: c.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: c.prompt.systemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: c.prompt.userPrompt(story)},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	text, err := retry(ctx, c.maxAttempts, c.logger, func() (string, error) {
		return c.complete(ctx, req)
	})
	if err != nil {
		return Continuation{}, err
	}
	return continuationFromText(text)
}

func (c *openAIClient) complete(ctx context.Context, req openaigo.ChatCompletionRequest) (string, error) {
	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(startTime)

	if err != nil {
		aiRequestsTotal.WithLabelValues(ProviderOpenAI, c.model, "error").Inc()
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		aiRequestsTotal.WithLabelValues(ProviderOpenAI, c.model, "error_empty_response").Inc()
		return "", errors.New("empty response from AI API")
	}

	aiRequestsTotal.WithLabelValues(ProviderOpenAI, c.model, "success").Inc()
	aiRequestDuration.WithLabelValues(ProviderOpenAI, c.model).Observe(duration.Seconds())
	observeUsage(ProviderOpenAI, c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	c.logger.Debug("AI response received",
		zap.String("model", c.model),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}
