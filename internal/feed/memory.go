package feed

import (
	"context"
	"sync"

	"github.com/chatsync/internal/logger"
)

const subscriberBufSize = 256

// Memory is the in-process feed used in single-instance and -dev runs.
type Memory struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[chan Event]struct{})}
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Backpressure: a subscriber that stopped draining loses
			// events rather than blocking every publisher.
			logger.Errorf("feed: subscriber buffer full, dropping %s event", ev.Type)
		}
	}
	return nil
}

func (m *Memory) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBufSize)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for ch := range m.subs {
		close(ch)
	}
	m.subs = make(map[chan Event]struct{})
	return nil
}
