package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var statusBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msgAt(t time.Time) *Message {
	return &Message{ID: "m1", ConversationID: "c1", SenderID: "sender", CreatedAt: t}
}

func TestComputeStatusNoRecipients(t *testing.T) {
	got := ComputeStatus(msgAt(statusBase), nil, nil)
	assert.Equal(t, MessageStatusSent, got)
}

func TestComputeStatusAllRead(t *testing.T) {
	others := []Membership{
		{UserID: "b", LastReadTime: statusBase},
		{UserID: "c", LastReadTime: statusBase.Add(time.Minute)},
	}
	got := ComputeStatus(msgAt(statusBase), others, nil)
	assert.Equal(t, MessageStatusRead, got)
}

func TestComputeStatusPartialReadWithPresence(t *testing.T) {
	others := []Membership{
		{UserID: "b", LastReadTime: statusBase.Add(time.Minute)},
		{UserID: "c"}, // never read
	}
	presence := map[string]*Presence{
		"c": {UserID: "c", Online: true, LastSeen: statusBase.Add(time.Second)},
	}
	got := ComputeStatus(msgAt(statusBase), others, presence)
	assert.Equal(t, MessageStatusDelivered, got)
}

func TestComputeStatusStalePresenceBeforeCreation(t *testing.T) {
	others := []Membership{{UserID: "b"}}
	presence := map[string]*Presence{
		"b": {UserID: "b", Online: true, LastSeen: statusBase.Add(-time.Second)},
	}
	got := ComputeStatus(msgAt(statusBase), others, presence)
	assert.Equal(t, MessageStatusSent, got)
}

func TestComputeStatusNoPresenceRows(t *testing.T) {
	others := []Membership{{UserID: "b"}, {UserID: "c"}}
	got := ComputeStatus(msgAt(statusBase), others, map[string]*Presence{})
	assert.Equal(t, MessageStatusSent, got)
}

// Status only moves forward as recipients read: sent -> delivered -> read
// for the same message as the surrounding state advances.
func TestComputeStatusMonotonicProgression(t *testing.T) {
	m := msgAt(statusBase)
	others := []Membership{{UserID: "b"}}

	assert.Equal(t, MessageStatusSent, ComputeStatus(m, others, nil))

	presence := map[string]*Presence{
		"b": {UserID: "b", Online: true, LastSeen: statusBase.Add(time.Second)},
	}
	assert.Equal(t, MessageStatusDelivered, ComputeStatus(m, others, presence))

	others[0].LastReadTime = statusBase.Add(2 * time.Second)
	assert.Equal(t, MessageStatusRead, ComputeStatus(m, others, presence))
}

func TestComputeStatusReadExactlyAtCreation(t *testing.T) {
	others := []Membership{{UserID: "b", LastReadTime: statusBase}}
	got := ComputeStatus(msgAt(statusBase), others, nil)
	assert.Equal(t, MessageStatusRead, got)
}

func TestGroupReactionsEmpty(t *testing.T) {
	assert.Nil(t, GroupReactions(nil))
	assert.Nil(t, GroupReactions([]Reaction{}))
}

func TestGroupReactionsTally(t *testing.T) {
	reactions := []Reaction{
		{UserID: "a", Emoji: "👍", CreatedAt: statusBase},
		{UserID: "b", Emoji: "❤️", CreatedAt: statusBase.Add(time.Second)},
		{UserID: "b", Emoji: "👍", CreatedAt: statusBase.Add(2 * time.Second)},
		{UserID: "c", Emoji: "👍", CreatedAt: statusBase.Add(3 * time.Second)},
	}
	groups := GroupReactions(reactions)

	assert.Len(t, groups, 2)
	// First-occurrence order, not alphabetical and not by count.
	assert.Equal(t, "👍", groups[0].Emoji)
	assert.Equal(t, 3, groups[0].Count)
	assert.Equal(t, []string{"a", "b", "c"}, groups[0].UserIDs)
	assert.Equal(t, "❤️", groups[1].Emoji)
	assert.Equal(t, 1, groups[1].Count)
	assert.Equal(t, []string{"b"}, groups[1].UserIDs)
}

func TestGroupReactionsOrderStableAsCountsGrow(t *testing.T) {
	first := []Reaction{
		{UserID: "a", Emoji: "🎉", CreatedAt: statusBase},
		{UserID: "b", Emoji: "👍", CreatedAt: statusBase.Add(time.Second)},
	}
	later := append(first, Reaction{UserID: "c", Emoji: "👍", CreatedAt: statusBase.Add(2 * time.Second)})

	g1 := GroupReactions(first)
	g2 := GroupReactions(later)
	assert.Equal(t, g1[0].Emoji, g2[0].Emoji)
	assert.Equal(t, "🎉", g2[0].Emoji)
	assert.Equal(t, 2, g2[1].Count)
}
