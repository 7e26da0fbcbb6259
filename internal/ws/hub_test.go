package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/feed"
)

type fakePresence struct {
	mu       sync.Mutex
	online   map[string]bool
	offlines map[string]int
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]bool), offlines: make(map[string]int)}
}

func (f *fakePresence) Heartbeat(_ context.Context, userID string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prior := f.online[userID]
	f.online[userID] = true
	return prior, nil
}

func (f *fakePresence) SetOffline(_ context.Context, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = false
	f.offlines[userID]++
	return nil
}

func (f *fakePresence) setOnline(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = true
}

func (f *fakePresence) offlineCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offlines[userID]
}

type fakeMembers struct {
	co map[string][]string
}

func (f *fakeMembers) CoMemberIDs(_ context.Context, userID string) ([]string, error) {
	return f.co[userID], nil
}

// hubHarness runs a hub over a Memory feed behind an httptest server that
// upgrades, starts and registers one client per connection. The user ID
// comes from the ?user= query parameter.
type hubHarness struct {
	hub  *Hub
	feed *feed.Memory
	srv  *httptest.Server
}

func startHub(t *testing.T, pres *fakePresence, members *fakeMembers, maxConns int) *hubHarness {
	t.Helper()
	f := feed.NewMemory()
	hub := NewHub(f, pres, members, maxConns)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(hub, conn, r.URL.Query().Get("user"))
		cctx, ccancel := context.WithCancel(context.Background())
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
		wg.Wait()
		f.Close()
	})
	return &hubHarness{hub: hub, feed: f, srv: srv}
}

func (h *hubHarness) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// waitConnected polls the registry until the user has n connections.
// Register goes through a channel, so a dial is not immediately visible.
func (h *hubHarness) waitConnected(t *testing.T, user string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.hub.mu.RLock()
		got := len(h.hub.clients[user])
		h.hub.mu.RUnlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s: connection count never reached %d", user, n)
}

func readNotification(t *testing.T, conn *websocket.Conn, timeout time.Duration) (Notification, bool) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var n Notification
	if err := conn.ReadJSON(&n); err != nil {
		return Notification{}, false
	}
	return n, true
}

func waitEvent(t *testing.T, events <-chan feed.Event, timeout time.Duration) (feed.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(timeout):
		return feed.Event{}, false
	}
}

func TestDispatchReachesNamedUsersOnly(t *testing.T) {
	pres := newFakePresence()
	pres.setOnline("alice")
	pres.setOnline("bob")
	h := startHub(t, pres, &fakeMembers{}, 0)

	alice := h.dial(t, "alice")
	defer alice.Close()
	bob := h.dial(t, "bob")
	defer bob.Close()
	h.waitConnected(t, "alice", 1)
	h.waitConnected(t, "bob", 1)

	err := h.feed.Publish(context.Background(), feed.Event{
		Type:           feed.EventMessageSent,
		ConversationID: "c1",
		MessageID:      "m1",
		ActorID:        "bob",
		UserIDs:        []string{"alice"},
	})
	require.NoError(t, err)

	n, ok := readNotification(t, alice, time.Second)
	require.True(t, ok, "named user must receive the notification")
	assert.Equal(t, feed.EventMessageSent, n.Type)
	assert.Equal(t, "c1", n.ConversationID)
	assert.Equal(t, "m1", n.MessageID)
	assert.Equal(t, "bob", n.ActorID)

	_, ok = readNotification(t, bob, 300*time.Millisecond)
	assert.False(t, ok, "event names alice only")
}

func TestFirstConnectAnnouncesPresenceOnce(t *testing.T) {
	pres := newFakePresence()
	members := &fakeMembers{co: map[string][]string{"alice": {"bob"}}}
	h := startHub(t, pres, members, 0)

	events, cancelSub := h.feed.Subscribe()
	defer cancelSub()

	conn1 := h.dial(t, "alice")
	defer conn1.Close()
	h.waitConnected(t, "alice", 1)

	ev, ok := waitEvent(t, events, time.Second)
	require.True(t, ok, "offline-to-online flip must be announced")
	assert.Equal(t, feed.EventPresence, ev.Type)
	assert.Equal(t, "alice", ev.ActorID)
	assert.Equal(t, []string{"bob"}, ev.UserIDs)

	conn2 := h.dial(t, "alice")
	defer conn2.Close()
	h.waitConnected(t, "alice", 2)

	_, ok = waitEvent(t, events, 300*time.Millisecond)
	assert.False(t, ok, "second connection of an online user must not announce again")
}

func TestLastDisconnectPublishesOnePresence(t *testing.T) {
	pres := newFakePresence()
	pres.setOnline("alice")
	members := &fakeMembers{co: map[string][]string{"alice": {"bob"}}}
	h := startHub(t, pres, members, 0)

	conn1 := h.dial(t, "alice")
	conn2 := h.dial(t, "alice")
	h.waitConnected(t, "alice", 2)

	events, cancelSub := h.feed.Subscribe()
	defer cancelSub()

	conn1.Close()
	h.waitConnected(t, "alice", 1)
	_, ok := waitEvent(t, events, 300*time.Millisecond)
	assert.False(t, ok, "closing one of two connections must not flip offline")
	assert.Equal(t, 0, pres.offlineCount("alice"))

	conn2.Close()
	ev, ok := waitEvent(t, events, time.Second)
	require.True(t, ok, "last disconnect must announce offline")
	assert.Equal(t, feed.EventPresence, ev.Type)
	assert.Equal(t, "alice", ev.ActorID)
	assert.Equal(t, []string{"bob"}, ev.UserIDs)
	assert.Equal(t, 1, pres.offlineCount("alice"))
}

func TestConnectionLimitRejectsExcess(t *testing.T) {
	pres := newFakePresence()
	pres.setOnline("alice")
	pres.setOnline("bob")
	h := startHub(t, pres, &fakeMembers{}, 1)

	conn1 := h.dial(t, "alice")
	defer conn1.Close()
	h.waitConnected(t, "alice", 1)

	conn2 := h.dial(t, "bob")
	defer conn2.Close()
	require.NoError(t, conn2.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn2.ReadMessage()
	assert.Error(t, err, "connection over the limit must be closed by the hub")
}

func TestSlowClientClosedOnFullBuffer(t *testing.T) {
	hub := NewHub(feed.NewMemory(), newFakePresence(), &fakeMembers{}, 0)

	connCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))
	defer srv.Close()

	dialer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer dialer.Close()
	serverConn := <-connCh

	// Pumps are never started, so the send buffer fills and stays full.
	c := NewClient(hub, serverConn, "alice")
	for i := 0; i < sendBufSize; i++ {
		c.send <- Notification{Type: feed.EventTyping}
	}

	hub.sendToClient(c, Notification{Type: feed.EventMessageSent})

	select {
	case <-c.done:
	default:
		t.Fatal("client with a full send buffer was not closed")
	}
}
