package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyteller-server/internal/domain"
)

var caveStory = []domain.StoryEntry{
	{Author: "Alice", Text: "I enter the cave"},
}

func TestNew_Providers(t *testing.T) {
	gen, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, EchoGenerator{}, gen)

	_, err = New(Config{Provider: ProviderOpenAI}, nil)
	assert.Error(t, err, "openai requires an API key")

	_, err = New(Config{Provider: ProviderOllama}, nil)
	assert.Error(t, err, "ollama requires a model")

	_, err = New(Config{Provider: "gpt-in-a-box"}, nil)
	assert.Error(t, err)
}

func TestEchoGenerator(t *testing.T) {
	cont, err := EchoGenerator{}.Generate(context.Background(), caveStory)
	require.NoError(t, err)
	assert.Equal(t, `And so Alice said: "I enter the cave". The story goes on.`, cont.Text)
	assert.Equal(t, cont.Text, cont.SceneDescription)

	_, err = EchoGenerator{}.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAIGenerationFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EchoGenerator{}.Generate(ctx, caveStory)
	assert.ErrorIs(t, err, ErrAIGenerationFailed)
}

func TestLoadSystemPrompt(t *testing.T) {
	prompt, err := LoadSystemPrompt("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSystemPrompt, prompt)

	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  Tell a pirate tale.\n"), 0o600))
	prompt, err = LoadSystemPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "Tell a pirate tale.", prompt)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = LoadSystemPrompt(empty)
	assert.Error(t, err)

	_, err = LoadSystemPrompt(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestPromptBuilder_TrimToBudget(t *testing.T) {
	story := []domain.StoryEntry{
		{Author: "Alice", Text: strings.Repeat("a", 40)},
		{Author: domain.AuthorNarrator, Text: strings.Repeat("b", 40)},
		{Author: "Bob", Text: strings.Repeat("c", 40)},
	}

	unlimited := promptBuilder{systemPrompt: "sys"}
	assert.Equal(t, story, unlimited.trimToBudget(story))

	// "sys" = 1 токен, каждая запись примерно 12 токенов.
	tight := promptBuilder{systemPrompt: "sys", budget: 26, counter: ApproxCounter{}}
	assert.Equal(t, story[1:], tight.trimToBudget(story))

	tiny := promptBuilder{systemPrompt: "sys", budget: 2, counter: ApproxCounter{}}
	assert.Equal(t, story[2:], tiny.trimToBudget(story), "the newest entry is always kept")

	assert.Equal(t, "Alice: x\n\nBob: y", formatStory([]domain.StoryEntry{
		{Author: "Alice", Text: "x"},
		{Author: "Bob", Text: "y"},
	}))
}

func TestApproxCounter(t *testing.T) {
	assert.Equal(t, 0, ApproxCounter{}.Count(""))
	assert.Equal(t, 1, ApproxCounter{}.Count("абв"))
	assert.Equal(t, 2, ApproxCounter{}.Count("hello"))
}

func TestOpenAIClient_Generate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "Alice: I enter the cave", req.Messages[1].Content)
		}

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": " A dragon sleeps inside. "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
		}`))
	}))
	defer srv.Close()

	gen, err := New(Config{
		Provider:    ProviderOpenAI,
		APIKey:      "test-key",
		BaseURL:     srv.URL + "/v1",
		Model:       "test-model",
		MaxAttempts: 2,
		Timeout:     5 * time.Second,
	}, nil)
	require.NoError(t, err)

	cont, err := gen.Generate(context.Background(), caveStory)
	require.NoError(t, err)
	assert.Equal(t, "A dragon sleeps inside.", cont.Text)
	assert.Equal(t, int32(2), calls.Load(), "first failure is retried")
}

func TestOpenAIClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "choices": []}`))
	}))
	defer srv.Close()

	gen, err := New(Config{
		Provider:    ProviderOpenAI,
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		MaxAttempts: 1,
	}, nil)
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), caveStory)
	assert.ErrorIs(t, err, ErrAIGenerationFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req struct {
			Model    string                 `json:"model"`
			Stream   *bool                  `json:"stream"`
			Options  map[string]interface{} `json:"options"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		if assert.NotNil(t, req.Stream) {
			assert.False(t, *req.Stream)
		}
		assert.EqualValues(t, 120, req.Options["num_predict"])
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "Alice: I enter the cave", req.Messages[1].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"Bats scatter from the ceiling."},"done":true,"prompt_eval_count":30,"eval_count":8}` + "\n"))
	}))
	defer srv.Close()

	gen, err := New(Config{
		Provider:  ProviderOllama,
		BaseURL:   srv.URL + "/v1",
		Model:     "llama3",
		MaxTokens: 120,
	}, nil)
	require.NoError(t, err)

	cont, err := gen.Generate(context.Background(), caveStory)
	require.NoError(t, err)
	assert.Equal(t, "Bats scatter from the ceiling.", cont.Text)
}

func TestRetry_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retry(ctx, 5, zap.NewNop(), func() (string, error) {
		calls++
		cancel()
		return "", context.Canceled
	})
	assert.ErrorIs(t, err, ErrAIGenerationFailed)
	assert.Equal(t, 1, calls)
}
