package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"storyteller-server/internal/domain"
)

// Session - общий контекст совместной истории: участники, лог, блокировка генерации.
type Session struct {
	ID        string
	CreatedAt time.Time

	log  Log
	lock GenerationLock

	mu      sync.RWMutex // Защищает members и ready
	members map[string]struct{}
	ready   bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		members:   make(map[string]struct{}),
	}
}

// Story возвращает снимок лога.
func (s *Session) Story() []domain.StoryEntry {
	return s.log.Snapshot()
}

// StoryLen возвращает длину лога.
func (s *Session) StoryLen() int {
	return s.log.Len()
}

// State возвращает состояние блокировки генерации.
func (s *Session) State() GenerationState {
	return s.lock.State()
}

// IsGenerating сообщает, идет ли сейчас генерация.
func (s *Session) IsGenerating() bool {
	return s.lock.State() == StateGenerating
}

// IsReady возвращает рекомендательный флаг готовности.
func (s *Session) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Members возвращает отсортированный список токенов участников.
func (s *Session) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]string, 0, len(s.members))
	for token := range s.members {
		members = append(members, token)
	}
	sort.Strings(members)
	return members
}

// addMember добавляет участника. Возвращает false, если он уже был в сессии.
func (s *Session) addMember(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[token]; ok {
		return false
	}
	s.members[token] = struct{}{}
	return true
}

func (s *Session) markReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// BeginTurn открывает ход: захватывает блокировку генерации и добавляет вклад
// участника в лог. Пока ход открыт, другие вызовы получают ErrGenerationInProgress.
// Возвращает позицию добавленной записи.
func (s *Session) BeginTurn(entry domain.StoryEntry) (int, error) {
	if !s.lock.TryAcquire() {
		return 0, domain.ErrGenerationInProgress
	}
	return s.log.Append(entry), nil
}

// AppendOutcome добавляет результат генерации открытого хода.
func (s *Session) AppendOutcome(entries ...domain.StoryEntry) (int, error) {
	if s.lock.State() != StateGenerating {
		return 0, fmt.Errorf("session %s: %w", s.ID, domain.ErrNoActiveTurn)
	}
	return s.log.Append(entries...), nil
}

// EndTurn закрывает ход: Generating -> Idle. Безопасен для повторного вызова.
func (s *Session) EndTurn() bool {
	return s.lock.Release()
}
