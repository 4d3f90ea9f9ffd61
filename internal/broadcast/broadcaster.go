package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyteller-server/internal/domain"
	"storyteller-server/internal/metrics"
)

const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultBufferSize        = 64
)

// ErrClosed возвращается Subscribe после Close.
var ErrClosed = errors.New("broadcaster closed")

// Sink - транспорт одного подписчика (SSE поток или WebSocket соединение).
// WriteMessage вызывается только из горутины Serve.
type Sink interface {
	WriteMessage(data []byte) error
}

// Config - параметры рассылки.
type Config struct {
	HeartbeatInterval time.Duration
	BufferSize        int
}

// Subscriber - одно push-подключение. Собственная очередь сохраняет порядок
// событий сессии и не дает медленному клиенту задерживать остальных.
type Subscriber struct {
	ID        string
	SessionID string

	sink      Sink
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	lastHeartbeat atomic.Int64
}

// LastHeartbeat возвращает время последнего успешно отправленного ping.
func (s *Subscriber) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

// Done закрывается, когда подписчик удален из рассылки.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) stop() bool {
	stopped := false
	s.closeOnce.Do(func() {
		close(s.done)
		stopped = true
	})
	return stopped
}

// hub - подписчики одной сессии. mu сериализует Publish внутри сессии.
type hub struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
}

// Broadcaster рассылает события сессии всем ее подписчикам в одном и том же порядке.
type Broadcaster struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	hubs   map[string]*hub
	closed bool
}

// New создает рассыльщик. Нулевые значения Config заменяются значениями по умолчанию.
func New(cfg Config, logger *zap.Logger) *Broadcaster {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		cfg:    cfg,
		logger: logger,
		hubs:   make(map[string]*hub),
	}
}

// Subscribe регистрирует sink в рассылке сессии. Событий, опубликованных до
// вызова, подписчик не получит; актуальный лог клиент берет из GET /story.
func (b *Broadcaster) Subscribe(sessionID string, sink Sink) (*Subscriber, error) {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		sink:      sink,
		send:      make(chan []byte, b.cfg.BufferSize),
		done:      make(chan struct{}),
	}
	sub.lastHeartbeat.Store(time.Now().UnixNano())

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	h, ok := b.hubs[sessionID]
	if !ok {
		h = &hub{subscribers: make(map[string]*Subscriber)}
		b.hubs[sessionID] = h
	}
	// Регистрация под b.mu, чтобы Close не пропустил нового подписчика.
	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()
	b.mu.Unlock()

	metrics.ActiveSubscribers.Inc()
	b.logger.Info("Subscriber registered",
		zap.String("session_id", sessionID),
		zap.String("subscriber_id", sub.ID),
	)
	return sub, nil
}

// Unsubscribe удаляет подписчика. Повторный вызов безопасен.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.remove(sub, "unsubscribed")
}

func (b *Broadcaster) remove(sub *Subscriber, reason string) {
	if sub == nil {
		return
	}

	b.mu.RLock()
	h, ok := b.hubs[sub.SessionID]
	b.mu.RUnlock()
	if ok {
		h.mu.Lock()
		delete(h.subscribers, sub.ID)
		h.mu.Unlock()
	}

	if sub.stop() {
		metrics.ActiveSubscribers.Dec()
		b.logger.Info("Subscriber removed",
			zap.String("session_id", sub.SessionID),
			zap.String("subscriber_id", sub.ID),
			zap.String("reason", reason),
			zap.Time("last_heartbeat", sub.LastHeartbeat()),
		)
	}
}

// Publish ставит событие в очередь каждого подписчика сессии.
// Подписчик с переполненной очередью удаляется, остальные не затрагиваются.
func (b *Broadcaster) Publish(sessionID string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	b.mu.RLock()
	h, ok := b.hubs[sessionID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	var overflowed []*Subscriber
	h.mu.Lock()
	for _, sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.Unlock()

	metrics.PublishedEvents.WithLabelValues(string(event.Type)).Inc()

	for _, sub := range overflowed {
		metrics.DroppedSubscribers.WithLabelValues("overflow").Inc()
		b.logger.Warn("Subscriber queue is full, dropping subscriber",
			zap.String("session_id", sessionID),
			zap.String("subscriber_id", sub.ID),
		)
		b.remove(sub, "overflow")
	}
	return nil
}

// Count возвращает число подписчиков сессии.
func (b *Broadcaster) Count(sessionID string) int {
	b.mu.RLock()
	h, ok := b.hubs[sessionID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close удаляет всех подписчиков; последующие Subscribe завершаются ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	var all []*Subscriber
	for _, h := range b.hubs {
		h.mu.Lock()
		for _, sub := range h.subscribers {
			all = append(all, sub)
		}
		h.mu.Unlock()
	}
	b.mu.Unlock()

	for _, sub := range all {
		b.remove(sub, "shutdown")
	}
}

// Serve пишет события из очереди подписчика в sink и каждые HeartbeatInterval
// отправляет ping. Возвращается, когда ctx отменен, подписчик удален или запись
// не удалась; в любом случае подписчик к этому моменту удален из рассылки.
func (b *Broadcaster) Serve(ctx context.Context, sub *Subscriber) error {
	defer b.remove(sub, "disconnected")

	ping, err := json.Marshal(domain.PingEvent())
	if err != nil {
		return fmt.Errorf("marshal ping: %w", err)
	}

	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.done:
			return b.flush(sub)
		case data := <-sub.send:
			if err := sub.sink.WriteMessage(data); err != nil {
				b.dropOnWriteError(sub, err)
				return err
			}
		case <-ticker.C:
			if err := sub.sink.WriteMessage(ping); err != nil {
				b.dropOnWriteError(sub, err)
				return err
			}
			sub.lastHeartbeat.Store(time.Now().UnixNano())
		}
	}
}

// flush дописывает события, принятые в очередь до удаления подписчика.
func (b *Broadcaster) flush(sub *Subscriber) error {
	for {
		select {
		case data := <-sub.send:
			if err := sub.sink.WriteMessage(data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (b *Broadcaster) dropOnWriteError(sub *Subscriber, err error) {
	metrics.DroppedSubscribers.WithLabelValues("write_error").Inc()
	b.logger.Debug("Subscriber write failed",
		zap.String("subscriber_id", sub.ID),
		zap.Error(err),
	)
	b.remove(sub, "write_error")
}
