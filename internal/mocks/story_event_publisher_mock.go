package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyteller-server/internal/domain"
	"storyteller-server/internal/messaging"
)

// StoryEventPublisher - mock зеркала событий.
type StoryEventPublisher struct {
	mock.Mock
}

func (m *StoryEventPublisher) PublishStoryEvent(ctx context.Context, sessionID string, event domain.Event) error {
	args := m.Called(ctx, sessionID, event)
	return args.Error(0)
}

// EventTypes возвращает типы опубликованных событий в порядке вызовов.
func (m *StoryEventPublisher) EventTypes() []domain.EventType {
	var types []domain.EventType
	for _, call := range m.Calls {
		types = append(types, call.Arguments.Get(2).(domain.Event).Type)
	}
	return types
}

var _ messaging.StoryEventPublisher = (*StoryEventPublisher)(nil)
