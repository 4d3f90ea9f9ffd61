package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storyteller-server/internal/domain"
)

const (
	DefaultStoryEventsExchange = "story_events"
	storyEventsExchangeType    = "fanout"
)

// StoryEventPublisher дублирует события сессий во внешнюю шину.
type StoryEventPublisher interface {
	PublishStoryEvent(ctx context.Context, sessionID string, event domain.Event) error
}

// NoopPublisher используется, когда RABBITMQ_URL не задан.
type NoopPublisher struct{}

func (NoopPublisher) PublishStoryEvent(context.Context, string, domain.Event) error { return nil }

// StoryEventMessage - тело сообщения в exchange story_events.
type StoryEventMessage struct {
	SessionID   string       `json:"session_id"`
	Event       domain.Event `json:"event"`
	PublishedAt time.Time    `json:"published_at"`
}

// amqpChannel - подмножество *amqp.Channel, нужное издателю.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher публикует события в fanout exchange. Потребители (аналитика,
// архив историй) подключают свои очереди сами.
type RabbitMQPublisher struct {
	ch           amqpChannel
	exchangeName string
	logger       *zap.Logger
}

// NewRabbitMQPublisher открывает канал и объявляет exchange.
func NewRabbitMQPublisher(conn *amqp.Connection, exchangeName string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return newRabbitMQPublisher(ch, exchangeName, logger)
}

func newRabbitMQPublisher(ch amqpChannel, exchangeName string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if exchangeName == "" {
		exchangeName = DefaultStoryEventsExchange
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	err := ch.ExchangeDeclare(
		exchangeName,
		storyEventsExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchangeName, err)
	}
	logger.Info("Story events exchange declared", zap.String("exchange", exchangeName))

	return &RabbitMQPublisher{
		ch:           ch,
		exchangeName: exchangeName,
		logger:       logger,
	}, nil
}

// PublishStoryEvent публикует событие сессии. Ping не публикуется.
func (p *RabbitMQPublisher) PublishStoryEvent(ctx context.Context, sessionID string, event domain.Event) error {
	if event.Type == domain.EventPing {
		return nil
	}

	body, err := json.Marshal(StoryEventMessage{
		SessionID:   sessionID,
		Event:       event,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal story event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchangeName, // exchange
		"",             // routing key (не используется для fanout)
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Type:         string(event.Type),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish story event: %w", err)
	}

	p.logger.Debug("Story event published",
		zap.String("session_id", sessionID),
		zap.String("type", string(event.Type)),
	)
	return nil
}

// Close закрывает канал RabbitMQ.
func (p *RabbitMQPublisher) Close() error {
	return p.ch.Close()
}

// ConnectRabbitMQ подключается к RabbitMQ с несколькими попытками.
func ConnectRabbitMQ(ctx context.Context, url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	var lastErr error
	for i := 1; i <= maxRetries; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", i),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_in", retryDelay),
			zap.Error(err),
		)
		if i == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("connect to RabbitMQ after %d attempts: %w", maxRetries, lastErr)
}
