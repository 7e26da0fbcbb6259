package ws

import "github.com/chatsync/internal/feed"

// Notification is what the server pushes to a connected client. It
// carries identifiers only; clients re-run their reads to pick up the
// new state.
type Notification struct {
	Type           feed.EventType `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
}

func notificationFromEvent(ev feed.Event) Notification {
	return Notification{
		Type:           ev.Type,
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		ActorID:        ev.ActorID,
	}
}
