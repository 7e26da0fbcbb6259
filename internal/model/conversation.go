package model

import "time"

type Conversation struct {
	ID              string     `json:"id"`
	IsGroup         bool       `json:"is_group"`
	GroupName       string     `json:"group_name,omitempty"`
	GroupImageURL   string     `json:"group_image_url,omitempty"`
	LastMessageID   *string    `json:"last_message_id,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ActivityTime is the sort key for the conversation list: time of the last
// message, or the conversation's own creation time if it has none.
func (c *Conversation) ActivityTime() time.Time {
	if c.LastMessageTime != nil {
		return *c.LastMessageTime
	}
	return c.CreatedAt
}

// Membership grants a user visibility into a conversation and holds their
// read cursor. LastReadTime is the zero time until the first markRead and
// only ever moves forward.
type Membership struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	LastReadTime   time.Time `json:"last_read_time"`
}

// ConversationView is a conversation with the other members resolved,
// as returned by the single-conversation lookup.
type ConversationView struct {
	Conversation
	OtherMembers []UserPublic `json:"other_members"`
}

// ConversationSummary is one row of the per-user conversation list.
type ConversationSummary struct {
	Conversation
	OtherMembers []UserPublic `json:"other_members"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}
