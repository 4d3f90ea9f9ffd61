package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"storyteller-server/internal/domain"
	"storyteller-server/internal/metrics"
)

const (
	DefaultMirrorBuffer         = 256
	DefaultMirrorPublishTimeout = 5 * time.Second
)

var (
	ErrMirrorQueueFull = errors.New("story event mirror queue is full")
	ErrMirrorClosed    = errors.New("story event mirror is closed")
)

type mirroredEvent struct {
	sessionID string
	event     domain.Event
}

// AsyncPublisher ставит события в буферизованную очередь, которую разбирает
// одна горутина. PublishStoryEvent не блокируется: при переполненной очереди
// событие отбрасывается.
type AsyncPublisher struct {
	next           StoryEventPublisher
	publishTimeout time.Duration
	logger         *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan mirroredEvent
	done   chan struct{}
}

// NewAsyncPublisher запускает горутину доставки в next.
func NewAsyncPublisher(next StoryEventPublisher, bufferSize int, logger *zap.Logger) *AsyncPublisher {
	if bufferSize <= 0 {
		bufferSize = DefaultMirrorBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &AsyncPublisher{
		next:           next,
		publishTimeout: DefaultMirrorPublishTimeout,
		logger:         logger,
		queue:          make(chan mirroredEvent, bufferSize),
		done:           make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishStoryEvent ставит событие в очередь. ctx не используется: вызов не ждет брокера.
func (p *AsyncPublisher) PublishStoryEvent(_ context.Context, sessionID string, event domain.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrMirrorClosed
	}

	select {
	case p.queue <- mirroredEvent{sessionID: sessionID, event: event}:
		return nil
	default:
		metrics.MirrorDroppedEvents.Inc()
		return ErrMirrorQueueFull
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for item := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
		err := p.next.PublishStoryEvent(ctx, item.sessionID, item.event)
		cancel()
		if err != nil {
			p.logger.Warn("Failed to mirror story event",
				zap.String("session_id", item.sessionID),
				zap.String("type", string(item.event.Type)),
				zap.Error(err),
			)
		}
	}
}

// Close перестает принимать события и ждет, пока очередь будет разобрана,
// но не дольше ctx. Повторный вызов безопасен.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("Story event mirror did not drain in time", zap.Int("pending", len(p.queue)))
		return ctx.Err()
	}
}
