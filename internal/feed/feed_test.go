package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryPublishReachesAllSubscribers(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ch1, cancel1 := m.Subscribe()
	defer cancel1()
	ch2, cancel2 := m.Subscribe()
	defer cancel2()

	ev := Event{Type: EventMessageSent, ConversationID: "c1", MessageID: "m1", UserIDs: []string{"a", "b"}}
	require.NoError(t, m.Publish(context.Background(), ev))

	assert.Equal(t, ev, recvEvent(t, ch1))
	assert.Equal(t, ev, recvEvent(t, ch2))
}

func TestMemoryCancelStopsDelivery(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ch, cancel := m.Subscribe()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "cancelled subscription channel must be closed")

	// Publishing after cancel must not panic or block.
	require.NoError(t, m.Publish(context.Background(), Event{Type: EventTyping}))
}

func TestMemoryCancelIsIdempotent(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	_, cancel := m.Subscribe()
	cancel()
	cancel()
}

func TestMemoryCloseClosesSubscribers(t *testing.T) {
	m := NewMemory()
	ch, cancel := m.Subscribe()
	defer cancel()

	require.NoError(t, m.Close())
	_, ok := <-ch
	assert.False(t, ok)

	// Close twice is fine; publish after close is a no-op.
	require.NoError(t, m.Close())
	require.NoError(t, m.Publish(context.Background(), Event{Type: EventPresence}))
}

func TestMemorySubscribeAfterClose(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())

	ch, cancel := m.Subscribe()
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestMemorySlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ch, cancel := m.Subscribe()
	defer cancel()

	// Overfill the buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufSize+10; i++ {
			_ = m.Publish(context.Background(), Event{Type: EventMessageSent})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The buffered events are still deliverable.
	assert.Equal(t, EventMessageSent, recvEvent(t, ch).Type)
}
