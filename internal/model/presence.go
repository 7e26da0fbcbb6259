package model

import "time"

// OnlineWindow is how long after the last heartbeat a user still counts as
// online. A crashed client that never reported offline falls out of the
// window on its own.
const OnlineWindow = 60 * time.Second

// TypingStaleWindow is how long a typing flag stays valid without a refresh.
const TypingStaleWindow = 3 * time.Second

type Presence struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// IsOnline derives liveness at read time: the stored flag alone is not
// trusted, the last heartbeat must also be inside OnlineWindow.
func (p *Presence) IsOnline(now time.Time) bool {
	return p != nil && p.Online && now.Sub(p.LastSeen) < OnlineWindow
}

// PresenceView is presence with the derived online state attached.
type PresenceView struct {
	Presence
	IsOnline bool `json:"is_online"`
}

// TypingState is the last-write-wins typing flag per (conversation, user).
type TypingState struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ActiveFor reports whether this typing entry should be shown to callerID
// at the given instant. Staleness is enforced here, at read time; there is
// no background expiry.
func (t *TypingState) ActiveFor(callerID string, now time.Time) bool {
	return t.IsTyping && t.UserID != callerID && now.Sub(t.UpdatedAt) < TypingStaleWindow
}
