package domain

// EventType - тип сообщения, отправляемого подписчикам по push-каналу.
type EventType string

const (
	EventPing               EventType = "ping"
	EventPlayerContribution EventType = "playerContribution"
	EventStoryUpdate        EventType = "storyUpdate"
)

// Event - кадр push-канала. Форма совпадает с тем, что ожидает клиент:
// playerContribution несет одну запись в Contribution, storyUpdate - одну или
// несколько записей в Story. Offset - позиция первой записи в логе сессии.
type Event struct {
	Type         EventType    `json:"type"`
	Contribution *StoryEntry  `json:"contribution,omitempty"`
	Story        []StoryEntry `json:"story,omitempty"`
	Offset       *int         `json:"offset,omitempty"`
}

// PingEvent возвращает keepalive-событие без влияния на лог.
func PingEvent() Event {
	return Event{Type: EventPing}
}

// NewContributionEvent создает событие о только что принятом вкладе участника.
func NewContributionEvent(entry StoryEntry, offset int) Event {
	return Event{Type: EventPlayerContribution, Contribution: &entry, Offset: &offset}
}

// NewStoryUpdateEvent создает событие с результатом генерации.
// Срез копируется, чтобы событие не зависело от вызывающего.
func NewStoryUpdateEvent(entries []StoryEntry, offset int) Event {
	story := make([]StoryEntry, len(entries))
	copy(story, entries)
	return Event{Type: EventStoryUpdate, Story: story, Offset: &offset}
}
