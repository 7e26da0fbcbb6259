package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsOnlineWithinWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &Presence{UserID: "a", Online: true, LastSeen: now.Add(-30 * time.Second)}
	assert.True(t, p.IsOnline(now))
}

func TestIsOnlineWindowElapsed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Stored flag still true but the heartbeat is a minute old: a crashed
	// client that never reported offline.
	p := &Presence{UserID: "a", Online: true, LastSeen: now.Add(-OnlineWindow)}
	assert.False(t, p.IsOnline(now))
}

func TestIsOnlineJustInsideWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &Presence{UserID: "a", Online: true, LastSeen: now.Add(-OnlineWindow + time.Millisecond)}
	assert.True(t, p.IsOnline(now))
}

func TestIsOnlineStoredFlagFalse(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &Presence{UserID: "a", Online: false, LastSeen: now}
	assert.False(t, p.IsOnline(now))
}

func TestIsOnlineNilPresence(t *testing.T) {
	var p *Presence
	assert.False(t, p.IsOnline(time.Now()))
}

func TestTypingActiveFor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := &TypingState{ConversationID: "c1", UserID: "b", IsTyping: true, UpdatedAt: now.Add(-time.Second)}

	assert.True(t, ts.ActiveFor("a", now))
	// The caller never sees their own typing entry.
	assert.False(t, ts.ActiveFor("b", now))
}

func TestTypingStaleAtBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := &TypingState{UserID: "b", IsTyping: true, UpdatedAt: now.Add(-TypingStaleWindow)}
	assert.False(t, ts.ActiveFor("a", now))

	ts.UpdatedAt = now.Add(-TypingStaleWindow + time.Millisecond)
	assert.True(t, ts.ActiveFor("a", now))
}

func TestTypingFlagFalseNeverActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := &TypingState{UserID: "b", IsTyping: false, UpdatedAt: now}
	assert.False(t, ts.ActiveFor("a", now))
}

func TestConversationActivityTime(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lastMsg := created.Add(time.Hour)

	empty := &Conversation{CreatedAt: created}
	assert.Equal(t, created, empty.ActivityTime())

	active := &Conversation{CreatedAt: created, LastMessageTime: &lastMsg}
	assert.Equal(t, lastMsg, active.ActivityTime())
}
