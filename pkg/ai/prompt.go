package ai

import (
	"fmt"
	"os"
	"strings"

	"storyteller-server/internal/domain"
)

// DefaultSystemPrompt используется, если AI_SYSTEM_PROMPT_FILE не задан.
const DefaultSystemPrompt = "You must complete as a storyteller and describe the environment, enemies, like a story. " +
	"Players will interact with the story so you must create interesting setup that could enable creativity. " +
	"You must only respond with three sentences maximum, and only with the story, nothing else. " +
	"Never play another role, you must always answer with the story. " +
	"Write in the language the story is written in."

// LoadSystemPrompt читает системный промпт из файла. Пустой путь - промпт по умолчанию.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", path, err)
	}
	prompt := strings.TrimSpace(string(content))
	if prompt == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return prompt, nil
}

// formatStory склеивает записи в текст вида "Автор: текст", разделенный пустыми строками.
func formatStory(story []domain.StoryEntry) string {
	var b strings.Builder
	for i, entry := range story {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(entry.Author)
		b.WriteString(": ")
		b.WriteString(entry.Text)
	}
	return b.String()
}

type promptBuilder struct {
	systemPrompt string
	budget       int
	counter      TokenCounter
}

// userPrompt возвращает текст истории, укладывающийся в бюджет токенов.
// Отбрасываются самые старые записи; последняя запись остается всегда.
func (p promptBuilder) userPrompt(story []domain.StoryEntry) string {
	return formatStory(p.trimToBudget(story))
}

func (p promptBuilder) trimToBudget(story []domain.StoryEntry) []domain.StoryEntry {
	if p.budget <= 0 || p.counter == nil || len(story) == 0 {
		return story
	}

	remaining := p.budget - p.counter.Count(p.systemPrompt)
	start := len(story)
	for start > 0 {
		cost := p.counter.Count(story[start-1].Author + ": " + story[start-1].Text)
		if cost > remaining && start < len(story) {
			break
		}
		remaining -= cost
		start--
	}
	return story[start:]
}
