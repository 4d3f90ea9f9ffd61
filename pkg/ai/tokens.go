package ai

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter оценивает число токенов в тексте.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// ApproxCounter считает примерно четыре символа на токен.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// NewTokenCounter возвращает tiktoken-счетчик для модели. Для моделей, которых
// tiktoken не знает (Ollama, OpenRouter), берется cl100k_base, а если и она
// недоступна - ApproxCounter.
func NewTokenCounter(model string, logger *zap.Logger) TokenCounter {
	encoding, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return tiktokenCounter{encoding: encoding}
	}
	encoding, err = tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		logger.Debug("Model is unknown to tiktoken, using cl100k_base", zap.String("model", model))
		return tiktokenCounter{encoding: encoding}
	}
	logger.Warn("Could not load tiktoken encoding, using approximate token counts", zap.Error(err))
	return ApproxCounter{}
}
