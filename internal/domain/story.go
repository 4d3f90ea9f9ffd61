package domain

import "time"

// Зарезервированные авторы записей истории.
const (
	// AuthorNarrator - автор продолжений, которые пишет генератор.
	AuthorNarrator = "Narrateur"
	// AuthorSystem - автор служебных записей об ошибках генерации.
	AuthorSystem = "System"
	// AuthorAnonymous используется, если участник пишет до вызова /join.
	AuthorAnonymous = "Anonymous"
)

// StoryEntry - одна запись общего лога истории.
// После добавления в лог запись не изменяется.
type StoryEntry struct {
	Author   string `json:"author"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
}

// User - участник, привязанный к токену сессии.
type User struct {
	Token       string
	DisplayName string
	DiscordID   string
	SessionID   string // Пусто, пока участник не вызвал /join
	CreatedAt   time.Time
}

// Author возвращает имя, под которым вклад участника попадает в лог.
func (u User) Author() string {
	if u.DisplayName == "" {
		return AuthorAnonymous
	}
	return u.DisplayName
}

// SystemEntry создает служебную запись с описанием ошибки.
func SystemEntry(text string) StoryEntry {
	return StoryEntry{Author: AuthorSystem, Text: text}
}
