package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
)

// presenceStore is the slice of the presence repository the hub needs.
type presenceStore interface {
	Heartbeat(ctx context.Context, userID string, t time.Time) (bool, error)
	SetOffline(ctx context.Context, userID string, t time.Time) error
}

// memberDirectory resolves who shares a conversation with a user.
type memberDirectory interface {
	CoMemberIDs(ctx context.Context, userID string) ([]string, error)
}

// Hub fans change-feed events out to connected clients. It owns the
// connection registry and flips presence on connect / last disconnect.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	feed         feed.Feed
	presenceRepo presenceStore
	convRepo     memberDirectory

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// presenceWg tracks in-flight presence flips so shutdown can wait.
	presenceWg sync.WaitGroup
}

func NewHub(
	f feed.Feed,
	presenceRepo presenceStore,
	convRepo memberDirectory,
	maxConns int,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		maxConns:     maxConns,
		feed:         f,
		presenceRepo: presenceRepo,
		convRepo:     convRepo,
		register:     make(chan *Client, 64),
		unregister:   make(chan *Client, 64),
		done:         make(chan struct{}),
	}
}

// Run consumes the change feed and the register/unregister channels
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	events, cancel := h.feed.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case ev, ok := <-events:
			if !ok {
				h.shutdown()
				return
			}
			h.dispatch(ev)
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// dispatch delivers an event to the recipients it names.
func (h *Hub) dispatch(ev feed.Event) {
	n := notificationFromEvent(ev)
	for _, uid := range ev.UserIDs {
		h.sendToUser(uid, n)
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
	h.presenceWg.Wait()
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	// The presence flip hits the database; keep it off the Run loop so a
	// slow store during a connect storm cannot stall event dispatch.
	h.presenceWg.Add(1)
	go func() {
		defer h.presenceWg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		wasOnline, err := h.presenceRepo.Heartbeat(ctx, c.userID, time.Now().UTC())
		if err != nil {
			logger.Errorf("ws set online user=%s: %v", c.userID, err)
			return
		}
		if !wasOnline {
			h.publishPresence(ctx, c.userID)
		}
	}()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		h.presenceWg.Add(1)
		go func() {
			defer h.presenceWg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.presenceRepo.SetOffline(ctx, c.userID, time.Now().UTC()); err != nil {
				logger.Errorf("ws set offline user=%s: %v", c.userID, err)
				return
			}
			h.publishPresence(ctx, c.userID)
		}()
	}
}

// publishPresence announces a presence flip to everyone who shares a
// conversation with the user. Goes through the feed so every instance
// sees it.
func (h *Hub) publishPresence(ctx context.Context, userID string) {
	coMembers, err := h.convRepo.CoMemberIDs(ctx, userID)
	if err != nil {
		logger.Errorf("ws co-members for presence user=%s: %v", userID, err)
		return
	}
	if len(coMembers) == 0 {
		return
	}
	ev := feed.Event{
		Type:    feed.EventPresence,
		ActorID: userID,
		UserIDs: coMembers,
	}
	if err := h.feed.Publish(ctx, ev); err != nil {
		logger.Errorf("ws publish presence user=%s: %v", userID, err)
	}
}

func (h *Hub) sendToUser(userID string, n Notification) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, n)
	}
}

func (h *Hub) sendToClient(c *Client, n Notification) {
	select {
	case c.send <- n:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
