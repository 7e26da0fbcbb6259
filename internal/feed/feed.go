// Package feed is the change-feed behind live reads: every write publishes
// an event naming the users whose visible state changed, and the WebSocket
// hub re-delivers it so those clients re-run their queries. Events carry
// record identifiers only, never derived state.
package feed

import "context"

type EventType string

const (
	EventMessageSent         EventType = "message_sent"
	EventMessageDeleted      EventType = "message_deleted"
	EventReactionToggled     EventType = "reaction_toggled"
	EventConversationCreated EventType = "conversation_created"
	EventConversationRead    EventType = "conversation_read"
	EventTyping              EventType = "typing"
	EventPresence            EventType = "presence"
)

// Event names a change and the users it is visible to. UserIDs scopes
// delivery; everything else tells the client which records to re-read.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	UserIDs        []string  `json:"user_ids"`
}

// Feed publishes change events and fans them out to subscribers.
// Implementations: Memory (single process) and Redis (cross-instance).
type Feed interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns the event channel and a cancel function. After
	// cancel returns the channel is closed.
	Subscribe() (<-chan Event, func())
	Close() error
}
