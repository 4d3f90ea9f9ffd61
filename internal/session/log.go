package session

import (
	"sync"

	"storyteller-server/internal/domain"
)

// Log - упорядоченный append-only лог записей одной сессии.
// Чтения не конкурируют с генерацией: у лога собственная блокировка.
type Log struct {
	mu      sync.RWMutex
	entries []domain.StoryEntry
}

// Append добавляет записи в конец лога и возвращает позицию первой из них.
func (l *Log) Append(entries ...domain.StoryEntry) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	offset := len(l.entries)
	l.entries = append(l.entries, entries...)
	return offset
}

// Snapshot возвращает копию лога на момент вызова.
func (l *Log) Snapshot() []domain.StoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot := make([]domain.StoryEntry, len(l.entries))
	copy(snapshot, l.entries)
	return snapshot
}

// Len возвращает количество записей.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
