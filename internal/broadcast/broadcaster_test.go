package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller-server/internal/domain"
)

// recordingSink складывает полученные кадры в канал.
type recordingSink struct {
	frames chan []byte

	mu   sync.Mutex
	fail bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{frames: make(chan []byte, 128)}
}

func (s *recordingSink) WriteMessage(data []byte) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	s.frames <- data
	return nil
}

type discardSink struct{}

func (discardSink) WriteMessage([]byte) error { return nil }

func (s *recordingSink) breakConnection() {
	s.mu.Lock()
	s.fail = true
	s.mu.Unlock()
}

func (s *recordingSink) next(t *testing.T) domain.Event {
	t.Helper()
	select {
	case data := <-s.frames:
		var event domain.Event
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func serve(t *testing.T, b *Broadcaster, sessionID string, sink Sink) (*Subscriber, context.CancelFunc, <-chan error) {
	t.Helper()
	sub, err := b.Subscribe(sessionID, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, sub) }()
	t.Cleanup(cancel)
	return sub, cancel, done
}

func TestBroadcaster_FanOutPreservesOrder(t *testing.T) {
	b := New(Config{HeartbeatInterval: time.Hour}, nil)
	sinks := []*recordingSink{newRecordingSink(), newRecordingSink(), newRecordingSink()}
	for _, sink := range sinks {
		serve(t, b, "s1", sink)
	}
	require.Equal(t, 3, b.Count("s1"))

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish("s1", domain.NewContributionEvent(domain.StoryEntry{Author: "A", Text: "x"}, i)))
	}

	for _, sink := range sinks {
		for i := 0; i < 10; i++ {
			event := sink.next(t)
			assert.Equal(t, domain.EventPlayerContribution, event.Type)
			require.NotNil(t, event.Offset)
			assert.Equal(t, i, *event.Offset, "every subscriber sees the same order")
		}
	}
}

func TestBroadcaster_SessionsAreIsolated(t *testing.T) {
	b := New(Config{HeartbeatInterval: time.Hour}, nil)
	first, second := newRecordingSink(), newRecordingSink()
	serve(t, b, "s1", first)
	serve(t, b, "s2", second)

	require.NoError(t, b.Publish("s1", domain.NewStoryUpdateEvent([]domain.StoryEntry{{Author: "N", Text: "only s1"}}, 0)))

	event := first.next(t)
	assert.Equal(t, "only s1", event.Story[0].Text)
	select {
	case <-second.frames:
		t.Fatal("event leaked into another session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_Heartbeat(t *testing.T) {
	b := New(Config{HeartbeatInterval: 20 * time.Millisecond}, nil)
	sink := newRecordingSink()
	sub, _, _ := serve(t, b, "s1", sink)
	before := sub.LastHeartbeat()

	event := sink.next(t)
	assert.Equal(t, domain.EventPing, event.Type)
	assert.Eventually(t, func() bool { return sub.LastHeartbeat().After(before) }, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_WriteFailureDropsOnlyThatSubscriber(t *testing.T) {
	b := New(Config{HeartbeatInterval: time.Hour}, nil)
	healthy, broken := newRecordingSink(), newRecordingSink()
	serve(t, b, "s1", healthy)
	_, _, brokenDone := serve(t, b, "s1", broken)
	broken.breakConnection()

	require.NoError(t, b.Publish("s1", domain.PingEvent()))

	select {
	case err := <-brokenDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("broken subscriber was not dropped")
	}
	assert.Equal(t, domain.EventPing, healthy.next(t).Type)
	assert.Equal(t, 1, b.Count("s1"))

	require.NoError(t, b.Publish("s1", domain.PingEvent()))
	assert.Equal(t, domain.EventPing, healthy.next(t).Type)
}

func TestBroadcaster_OverflowDropsSlowSubscriber(t *testing.T) {
	b := New(Config{HeartbeatInterval: time.Hour, BufferSize: 2}, nil)
	// Serve не запущен: очередь не дренируется.
	slow, err := b.Subscribe("s1", newRecordingSink())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish("s1", domain.PingEvent()))
	}

	assert.Equal(t, 0, b.Count("s1"))
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber must be stopped")
	}
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := New(Config{HeartbeatInterval: time.Hour}, nil)
	sub, _, done := serve(t, b, "s1", newRecordingSink())

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Unsubscribe")
	}
	assert.Equal(t, 0, b.Count("s1"))
	assert.NoError(t, b.Publish("s1", domain.PingEvent()))
}

func TestBroadcaster_NothingDeliveredAfterUnsubscribe(t *testing.T) {
	b := New(Config{HeartbeatInterval: time.Hour}, nil)

	const subscribers = 50
	sinks := make([]*recordingSink, subscribers)
	subs := make([]*Subscriber, subscribers)
	dones := make([]<-chan error, subscribers)
	for i := range sinks {
		sinks[i] = newRecordingSink()
		subs[i], _, dones[i] = serve(t, b, "s1", sinks[i])
	}

	stop := make(chan struct{})
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		// Не больше емкости recordingSink, чтобы Serve не блокировался на записи.
		for offset := 0; offset < 100; offset++ {
			select {
			case <-stop:
				return
			default:
				_ = b.Publish("s1", domain.NewContributionEvent(domain.StoryEntry{Author: "A", Text: "x"}, offset))
			}
		}
	}()

	var wg sync.WaitGroup
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Unsubscribe(subs[i])
		}(i)
	}
	wg.Wait()
	close(stop)
	<-publisherDone
	for _, done := range dones {
		<-done
	}

	// Все, что было до Unsubscribe, уже записано; дальше sink не должен получить ничего.
	for _, sink := range sinks {
		for len(sink.frames) > 0 {
			<-sink.frames
		}
	}
	const marker = 1 << 20
	require.NoError(t, b.Publish("s1", domain.NewStoryUpdateEvent([]domain.StoryEntry{{Author: "N", Text: "late"}}, marker)))
	time.Sleep(20 * time.Millisecond)

	for i, sink := range sinks {
		assert.Empty(t, sink.frames, "subscriber %d received an event after Unsubscribe", i)
	}
	assert.Equal(t, 0, b.Count("s1"))
}

func TestBroadcaster_ConcurrentChurn(t *testing.T) {
	b := New(Config{HeartbeatInterval: time.Hour}, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = b.Publish("s1", domain.PingEvent())
			}
		}
	}()

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := b.Subscribe("s1", discardSink{})
			if err != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
			defer cancel()
			_ = b.Serve(ctx, sub)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
	assert.Equal(t, 0, b.Count("s1"))
}

func TestBroadcaster_Close(t *testing.T) {
	b := New(Config{HeartbeatInterval: time.Hour}, nil)
	_, _, done := serve(t, b, "s1", newRecordingSink())

	b.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	_, err := b.Subscribe("s1", newRecordingSink())
	assert.ErrorIs(t, err, ErrClosed)
}
