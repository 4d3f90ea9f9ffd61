package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyteller-server/internal/domain"
	"storyteller-server/internal/messaging"
	"storyteller-server/internal/metrics"
	"storyteller-server/internal/session"
	"storyteller-server/pkg/ai"
	"storyteller-server/pkg/imagegen"
	"storyteller-server/pkg/taskmanager"
)

const (
	DefaultGenerationTimeout     = 60 * time.Second
	DefaultImageTimeout          = 60 * time.Second
	DefaultMaxContributionLength = 2000
)

// Тексты служебных записей, которые видят участники.
const (
	msgGenerationFailed  = "Error: the storyteller could not continue the story. Please contribute again."
	msgGenerationTimeout = "Error: the storyteller took too long to answer. Please contribute again."
	msgGenerationPanic   = "Error: the storyteller stopped unexpectedly. Please contribute again."
	msgGenerationBusy    = "Error: the storyteller is overloaded. Please contribute again later."
	msgImageFailed       = "Note: the illustration for this part of the story could not be generated."
)

// EventPublisher доставляет события подписчикам сессии.
type EventPublisher interface {
	Publish(sessionID string, event domain.Event) error
}

// TaskRunner запускает асинхронную задачу генерации.
type TaskRunner interface {
	Submit(ctx context.Context, ownerID string, taskFunc taskmanager.TaskFunc) (uuid.UUID, error)
}

// SubscriberCounter сообщает число живых подписчиков сессии.
type SubscriberCounter interface {
	Count(sessionID string) int
}

// Config - параметры координатора.
type Config struct {
	GenerationTimeout     time.Duration
	ImageTimeout          time.Duration
	MaxContributionLength int
	MirrorBuffer          int
}

// SessionInfo - сводка по сессии для GET /session.
type SessionInfo struct {
	SessionID    string   `json:"sessionId"`
	Players      []string `json:"players"`
	StoryLength  int      `json:"storyLength"`
	IsReady      bool     `json:"isReady"`
	IsGenerating bool     `json:"isGenerating"`
	Subscribers  int      `json:"subscribers"`
}

// Coordinator принимает вклады участников, запускает генерацию продолжения
// и рассылает результат. В каждой сессии одновременно идет не больше одной генерации;
// вклад, пришедший во время генерации, отклоняется, а не ставится в очередь.
type Coordinator struct {
	cfg       Config
	registry  *session.Registry
	events    EventPublisher
	counter   SubscriberCounter
	tasks     TaskRunner
	generator ai.Generator
	images    imagegen.Generator // nil - иллюстрации отключены
	mirror    *messaging.AsyncPublisher
	logger    *zap.Logger
}

// Deps - зависимости координатора.
type Deps struct {
	Registry  *session.Registry
	Events    EventPublisher
	Counter   SubscriberCounter
	Tasks     TaskRunner
	Generator ai.Generator
	Images    imagegen.Generator
	Mirror    messaging.StoryEventPublisher
	Logger    *zap.Logger
}

// NewCoordinator создает координатор.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = DefaultImageTimeout
	}
	if cfg.MaxContributionLength <= 0 {
		cfg.MaxContributionLength = DefaultMaxContributionLength
	}
	if deps.Mirror == nil {
		deps.Mirror = messaging.NoopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	// Зеркало не должно задерживать ответ на вклад и освобождение блокировки.
	mirror := messaging.NewAsyncPublisher(deps.Mirror, cfg.MirrorBuffer, deps.Logger.Named("StoryEventMirror"))
	return &Coordinator{
		cfg:       cfg,
		registry:  deps.Registry,
		events:    deps.Events,
		counter:   deps.Counter,
		tasks:     deps.Tasks,
		generator: deps.Generator,
		images:    deps.Images,
		mirror:    mirror,
		logger:    deps.Logger,
	}
}

// Authenticate выдает токен сессии по внешнему токену.
func (c *Coordinator) Authenticate(ctx context.Context, externalToken string) (string, error) {
	return c.registry.Authenticate(ctx, externalToken)
}

// Join добавляет участника в сессию по умолчанию.
func (c *Coordinator) Join(token, displayName string) (string, error) {
	return c.registry.Join(token, displayName)
}

// MarkReady выставляет флаг готовности сессии.
func (c *Coordinator) MarkReady(token string) error {
	return c.registry.MarkReady(token)
}

// Story возвращает снимок лога сессии участника.
func (c *Coordinator) Story(token string) ([]domain.StoryEntry, error) {
	_, sess, err := c.registry.SessionFor(token)
	if err != nil {
		return nil, err
	}
	return sess.Story(), nil
}

// SessionInfo возвращает сводку по сессии участника.
func (c *Coordinator) SessionInfo(token string) (SessionInfo, error) {
	_, sess, err := c.registry.SessionFor(token)
	if err != nil {
		return SessionInfo{}, err
	}
	info := SessionInfo{
		SessionID:    sess.ID,
		Players:      c.registry.DisplayNames(sess),
		StoryLength:  sess.StoryLen(),
		IsReady:      sess.IsReady(),
		IsGenerating: sess.IsGenerating(),
	}
	if c.counter != nil {
		info.Subscribers = c.counter.Count(sess.ID)
	}
	return info, nil
}

// ResolveSubscription определяет сессию для push-подписки. Без токена
// подписка идет на сессию по умолчанию.
func (c *Coordinator) ResolveSubscription(token string) (string, error) {
	if token == "" {
		sess, ok := c.registry.DefaultSession()
		if !ok {
			return "", domain.ErrSessionNotFound
		}
		return sess.ID, nil
	}
	_, sess, err := c.registry.SessionFor(token)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Contribute добавляет вклад участника в лог и запускает генерацию продолжения.
// Возвращается сразу после добавления; результат генерации приходит подписчикам
// событием storyUpdate.
func (c *Coordinator) Contribute(ctx context.Context, token, text string) error {
	user, sess, err := c.registry.SessionFor(token)
	if err != nil {
		metrics.ContributionsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		metrics.ContributionsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: contribution is empty", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > c.cfg.MaxContributionLength {
		metrics.ContributionsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: contribution is longer than %d characters", domain.ErrInvalidInput, c.cfg.MaxContributionLength)
	}

	entry := domain.StoryEntry{Author: user.Author(), Text: text}
	offset, err := sess.BeginTurn(entry)
	if err != nil {
		metrics.ContributionsTotal.WithLabelValues("rejected_busy").Inc()
		return err
	}
	started := time.Now()
	metrics.ContributionsTotal.WithLabelValues("accepted").Inc()

	log := c.logger.With(zap.String("session_id", sess.ID), zap.Int("offset", offset))
	log.Info("Contribution accepted", zap.String("author", entry.Author))

	c.publish(sess.ID, domain.NewContributionEvent(entry, offset))

	// Лог не меняется, пока ход открыт, поэтому снимок совпадает с тем, что увидит генерация.
	snapshot := sess.Story()
	taskID, err := c.tasks.Submit(ctx, sess.ID, func(taskCtx context.Context) error {
		return c.completeTurn(taskCtx, sess, snapshot, started)
	})
	if err != nil {
		log.Error("Failed to start generation task", zap.Error(err))
		metrics.GenerationsTotal.WithLabelValues("error").Inc()
		c.finishTurn(sess, []domain.StoryEntry{domain.SystemEntry(msgGenerationBusy)})
		return nil
	}

	log.Debug("Generation task submitted", zap.String("task_id", taskID.String()))
	return nil
}

// completeTurn выполняет генерацию и всегда закрывает ход, даже при панике.
func (c *Coordinator) completeTurn(ctx context.Context, sess *session.Session, snapshot []domain.StoryEntry, started time.Time) (err error) {
	var outcome []domain.StoryEntry
	status := "success"

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered panic during generation",
				zap.String("session_id", sess.ID),
				zap.Any("panic", r),
			)
			status = "panic"
			outcome = []domain.StoryEntry{domain.SystemEntry(msgGenerationPanic)}
			err = fmt.Errorf("%w: panic: %v", domain.ErrGenerationFailed, r)
		}
		c.finishTurn(sess, outcome)

		metrics.GenerationsTotal.WithLabelValues(status).Inc()
		metrics.GenerationDuration.Observe(time.Since(started).Seconds())
	}()

	outcome, status, err = c.generateOutcome(ctx, sess.ID, snapshot)
	return err
}

// generateOutcome вызывает генератор и, если он настроен, генератор изображений.
// Возвращает записи для лога: продолжение (возможно с картинкой) и служебные заметки.
func (c *Coordinator) generateOutcome(ctx context.Context, sessionID string, snapshot []domain.StoryEntry) ([]domain.StoryEntry, string, error) {
	log := c.logger.With(zap.String("session_id", sessionID))

	genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout)
	defer cancel()

	continuation, err := c.generator.Generate(genCtx, snapshot)
	if err == nil && strings.TrimSpace(continuation.Text) == "" {
		err = errors.New("empty continuation")
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			log.Warn("Generation timed out", zap.Duration("timeout", c.cfg.GenerationTimeout), zap.Error(err))
			return []domain.StoryEntry{domain.SystemEntry(msgGenerationTimeout)}, "timeout",
				fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
		}
		log.Error("Generation failed", zap.Error(err))
		return []domain.StoryEntry{domain.SystemEntry(msgGenerationFailed)}, "error",
			fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	narration := domain.StoryEntry{Author: domain.AuthorNarrator, Text: strings.TrimSpace(continuation.Text)}
	if c.images == nil {
		return []domain.StoryEntry{narration}, "success", nil
	}

	// Картинка получает собственный таймаут от базового ctx, а не остаток таймаута генерации.
	imgCtx, imgCancel := context.WithTimeout(ctx, c.cfg.ImageTimeout)
	defer imgCancel()

	description := continuation.SceneDescription
	if strings.TrimSpace(description) == "" {
		description = narration.Text
	}
	imageURL, err := c.images.Generate(imgCtx, description)
	if err != nil {
		metrics.ImageGenerationsTotal.WithLabelValues("error").Inc()
		log.Warn("Image generation failed", zap.Error(err))
		return []domain.StoryEntry{narration, domain.SystemEntry(msgImageFailed)}, "success", nil
	}
	metrics.ImageGenerationsTotal.WithLabelValues("success").Inc()
	narration.ImageURL = imageURL
	return []domain.StoryEntry{narration}, "success", nil
}

// finishTurn добавляет результат хода в лог, рассылает его одним storyUpdate и
// освобождает блокировку. Рассылка идет до освобождения, поэтому следующий
// playerContribution не обгонит этот storyUpdate.
func (c *Coordinator) finishTurn(sess *session.Session, outcome []domain.StoryEntry) {
	defer func() {
		if sess.EndTurn() {
			c.logger.Debug("Generation lock released", zap.String("session_id", sess.ID))
		}
	}()

	if len(outcome) == 0 {
		return
	}
	offset, err := sess.AppendOutcome(outcome...)
	if err != nil {
		c.logger.Error("Failed to append generation outcome", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	c.publish(sess.ID, domain.NewStoryUpdateEvent(outcome, offset))
}

func (c *Coordinator) publish(sessionID string, event domain.Event) {
	if err := c.events.Publish(sessionID, event); err != nil {
		c.logger.Error("Failed to publish event",
			zap.String("session_id", sessionID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}

	if err := c.mirror.PublishStoryEvent(context.Background(), sessionID, event); err != nil {
		c.logger.Warn("Failed to mirror story event",
			zap.String("session_id", sessionID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

// Close дожидается отправки событий, уже поставленных в очередь зеркала.
func (c *Coordinator) Close(ctx context.Context) error {
	return c.mirror.Close(ctx)
}
