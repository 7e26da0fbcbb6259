package model

import "time"

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Body           string      `json:"body"`
	Deleted        bool        `json:"deleted"`
	CreatedAt      time.Time   `json:"created_at"`
	Sender         *UserPublic `json:"sender,omitempty"`
}

// MessageView is a message enriched for the client: reaction tally plus
// the tri-state delivery status. Status is set only on the caller's own
// non-deleted messages; it is recomputed on every read and never stored.
type MessageView struct {
	Message
	Reactions []ReactionGroup `json:"reactions,omitempty"`
	Status    MessageStatus   `json:"status,omitempty"`
}

type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup is the aggregated tally for one emoji on one message.
type ReactionGroup struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// GroupReactions folds raw reaction rows into per-emoji tallies. Input must
// be ordered by creation time; groups keep the order in which each emoji
// first appeared so the rendered row stays stable as counts change.
func GroupReactions(reactions []Reaction) []ReactionGroup {
	if len(reactions) == 0 {
		return nil
	}
	index := make(map[string]int, 4)
	groups := make([]ReactionGroup, 0, 4)
	for _, rc := range reactions {
		i, ok := index[rc.Emoji]
		if !ok {
			index[rc.Emoji] = len(groups)
			groups = append(groups, ReactionGroup{Emoji: rc.Emoji})
			i = len(groups) - 1
		}
		groups[i].Count++
		groups[i].UserIDs = append(groups[i].UserIDs, rc.UserID)
	}
	return groups
}
