package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller-server/internal/domain"
)

type publishedMessage struct {
	exchange string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	declareErr error
	publishErr error
	published  []publishedMessage
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if c.declareErr != nil {
		return c.declareErr
	}
	c.declared = append(c.declared, name+"/"+kind)
	if !durable {
		return errors.New("exchange must be durable")
	}
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishedMessage{exchange: exchange, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestRabbitMQPublisher_PublishStoryEvent(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newRabbitMQPublisher(ch, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"story_events/fanout"}, ch.declared)

	event := domain.NewContributionEvent(domain.StoryEntry{Author: "Alice", Text: "I enter the cave"}, 0)
	require.NoError(t, p.PublishStoryEvent(context.Background(), "s1", event))
	require.NoError(t, p.PublishStoryEvent(context.Background(), "s1", domain.PingEvent()))

	require.Len(t, ch.published, 1, "ping events are not mirrored")
	published := ch.published[0]
	assert.Equal(t, DefaultStoryEventsExchange, published.exchange)
	assert.Equal(t, "application/json", published.msg.ContentType)
	assert.Equal(t, amqp.Persistent, published.msg.DeliveryMode)
	assert.Equal(t, string(domain.EventPlayerContribution), published.msg.Type)
	assert.NotEmpty(t, published.msg.MessageId)

	var body StoryEventMessage
	require.NoError(t, json.Unmarshal(published.msg.Body, &body))
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, "I enter the cave", body.Event.Contribution.Text)
	assert.False(t, body.PublishedAt.IsZero())

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestRabbitMQPublisher_Errors(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	_, err := newRabbitMQPublisher(ch, "custom", nil)
	assert.Error(t, err)
	assert.True(t, ch.closed, "channel is closed when the exchange cannot be declared")

	ch = &fakeChannel{publishErr: amqp.ErrClosed}
	p, err := newRabbitMQPublisher(ch, "custom", nil)
	require.NoError(t, err)
	err = p.PublishStoryEvent(context.Background(), "s1", domain.NewStoryUpdateEvent(nil, 1))
	assert.ErrorIs(t, err, amqp.ErrClosed)

	_, err = NewRabbitMQPublisher(nil, "custom", nil)
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.PublishStoryEvent(context.Background(), "s1", domain.PingEvent()))
}
