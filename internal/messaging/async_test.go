package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller-server/internal/domain"
)

// stalledBroker блокирует публикацию до закрытия release и игнорирует ctx,
// как PublishWithContext в amqp091-go.
type stalledBroker struct {
	release chan struct{}

	mu        sync.Mutex
	published []domain.EventType
	fail      bool
}

func (b *stalledBroker) PublishStoryEvent(_ context.Context, _ string, event domain.Event) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event.Type)
	if b.fail {
		return errors.New("connection blocked")
	}
	return nil
}

func (b *stalledBroker) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.EventType(nil), b.published...)
}

func contribution(offset int) domain.Event {
	return domain.NewContributionEvent(domain.StoryEntry{Author: "Alice", Text: "I enter the cave"}, offset)
}

func TestAsyncPublisher_DoesNotWaitForBroker(t *testing.T) {
	broker := &stalledBroker{release: make(chan struct{})}
	p := NewAsyncPublisher(broker, 4, nil)

	done := make(chan error, 1)
	go func() { done <- p.PublishStoryEvent(context.Background(), "s1", contribution(0)) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("PublishStoryEvent blocked on the broker")
	}

	close(broker.release)
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, []domain.EventType{domain.EventPlayerContribution}, broker.types())
}

func TestAsyncPublisher_DropsOnOverflow(t *testing.T) {
	broker := &stalledBroker{release: make(chan struct{})}
	p := NewAsyncPublisher(broker, 2, nil)

	// Первое событие может уже уйти в горутину доставки, поэтому переполнение
	// наступает не позже четвертого.
	var dropped int
	for i := 0; i < 4; i++ {
		if err := p.PublishStoryEvent(context.Background(), "s1", contribution(i)); err != nil {
			assert.ErrorIs(t, err, ErrMirrorQueueFull)
			dropped++
		}
	}
	assert.GreaterOrEqual(t, dropped, 1)

	close(broker.release)
	require.NoError(t, p.Close(context.Background()))
	assert.Len(t, broker.types(), 4-dropped, "accepted events are delivered on close")
}

func TestAsyncPublisher_BrokerErrorsDoNotStopDelivery(t *testing.T) {
	broker := &stalledBroker{release: make(chan struct{}), fail: true}
	close(broker.release)
	p := NewAsyncPublisher(broker, 4, nil)

	require.NoError(t, p.PublishStoryEvent(context.Background(), "s1", contribution(0)))
	require.NoError(t, p.PublishStoryEvent(context.Background(), "s1", domain.NewStoryUpdateEvent(nil, 1)))
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, []domain.EventType{domain.EventPlayerContribution, domain.EventStoryUpdate}, broker.types())
}

func TestAsyncPublisher_Close(t *testing.T) {
	broker := &stalledBroker{release: make(chan struct{})}
	p := NewAsyncPublisher(broker, 4, nil)
	require.NoError(t, p.PublishStoryEvent(context.Background(), "s1", contribution(0)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded, "stalled broker bounds Close by ctx")

	assert.ErrorIs(t, p.PublishStoryEvent(context.Background(), "s1", contribution(1)), ErrMirrorClosed)

	close(broker.release)
	assert.NoError(t, p.Close(context.Background()), "repeated Close waits for the drain")
}
