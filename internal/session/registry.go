package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyteller-server/internal/auth"
	"storyteller-server/internal/domain"
)

// Registry хранит пользователей по токену сессии и сессии по идентификатору.
// Каждая сессия владеет собственным логом и блокировкой генерации; все вызовы
// /join попадают в сессию по умолчанию, которая создается при первом входе.
type Registry struct {
	validator auth.Validator
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time

	mu        sync.RWMutex
	users     map[string]*domain.User
	sessions  map[string]*Session
	defaultID string
}

// NewRegistry создает реестр. nil validator означает auth.NoopValidator.
func NewRegistry(validator auth.Validator, logger *zap.Logger) *Registry {
	if validator == nil {
		validator = auth.NoopValidator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		validator: validator,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
		users:     make(map[string]*domain.User),
		sessions:  make(map[string]*Session),
	}
}

// Authenticate проверяет внешний токен и выдает новый токен сессии.
func (r *Registry) Authenticate(ctx context.Context, externalToken string) (string, error) {
	discordID, err := r.validator.Validate(ctx, externalToken)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	user := &domain.User{
		Token:     r.newID(),
		DiscordID: discordID,
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.users[user.Token] = user
	r.mu.Unlock()

	r.logger.Debug("User authenticated", zap.String("discord_id", discordID))
	return user.Token, nil
}

// Join задает имя участника и добавляет его в сессию по умолчанию.
// Повторный вход с тем же токеном не меняет состав участников.
func (r *Registry) Join(token, displayName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Неизвестный токен проверяется раньше, чем имя.
	user, ok := r.users[token]
	if !ok {
		return "", domain.ErrInvalidSession
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return "", fmt.Errorf("%w: player name is required", domain.ErrInvalidInput)
	}
	user.DisplayName = displayName

	sess, ok := r.sessions[r.defaultID]
	if !ok {
		sess = newSession(r.newID(), r.now())
		r.sessions[sess.ID] = sess
		r.defaultID = sess.ID
		r.logger.Info("Session created", zap.String("session_id", sess.ID))
	}
	user.SessionID = sess.ID

	if sess.addMember(token) {
		r.logger.Info("Player joined session",
			zap.String("session_id", sess.ID),
			zap.String("player", displayName),
		)
	}
	return sess.ID, nil
}

// MarkReady выставляет флаг готовности сессии пользователя.
func (r *Registry) MarkReady(token string) error {
	_, sess, err := r.SessionFor(token)
	if err != nil {
		return err
	}
	sess.markReady()
	return nil
}

// User возвращает копию пользователя по токену.
func (r *Registry) User(token string) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[token]
	if !ok {
		return domain.User{}, false
	}
	return *user, true
}

// SessionFor находит пользователя и его сессию. Пользователь, еще не вызвавший
// /join, работает с сессией по умолчанию.
func (r *Registry) SessionFor(token string) (domain.User, *Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[token]
	if !ok {
		return domain.User{}, nil, domain.ErrInvalidSession
	}

	sessionID := user.SessionID
	if sessionID == "" {
		sessionID = r.defaultID
	}
	sess, ok := r.sessions[sessionID]
	if !ok {
		return domain.User{}, nil, domain.ErrSessionNotFound
	}
	return *user, sess, nil
}

// Session возвращает сессию по идентификатору.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// DefaultSession возвращает сессию по умолчанию, если она уже создана.
func (r *Registry) DefaultSession() (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[r.defaultID]
	return sess, ok
}

// DisplayNames возвращает имена участников сессии в порядке их токенов.
func (r *Registry) DisplayNames(sess *Session) []string {
	tokens := sess.Members()

	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if user, ok := r.users[token]; ok {
			names = append(names, user.Author())
		}
	}
	return names
}

// UserCount возвращает количество выданных токенов.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
