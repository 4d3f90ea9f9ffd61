package ai

import (
	"context"
	"fmt"

	"storyteller-server/internal/domain"
)

// EchoGenerator пересказывает последнюю запись лога. Нужен для локального
// запуска без ключей и для тестов.
type EchoGenerator struct{}

func (EchoGenerator) Generate(ctx context.Context, story []domain.StoryEntry) (Continuation, error) {
	if err := ctx.Err(); err != nil {
		return Continuation{}, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if len(story) == 0 {
		return Continuation{}, fmt.Errorf("%w: empty story", ErrAIGenerationFailed)
	}
	last := story[len(story)-1]
	return continuationFromText(fmt.Sprintf("And so %s said: \"%s\". The story goes on.", last.Author, last.Text))
}
