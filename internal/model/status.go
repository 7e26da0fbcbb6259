package model

// ComputeStatus classifies an outgoing message against the recipients'
// read cursors and presence. It is a pure function of current state: as
// readers advance their cursors the same message reports a later status
// without any write to the message itself.
//
//	no recipients                                  -> sent
//	every recipient read at or after creation      -> read
//	any recipient seen at or after creation        -> delivered
//	otherwise                                      -> sent
//
// others must exclude the sender's own membership; presence is keyed by
// user ID and may be missing entries for users without a presence row.
func ComputeStatus(msg *Message, others []Membership, presence map[string]*Presence) MessageStatus {
	if len(others) == 0 {
		return MessageStatusSent
	}

	allRead := true
	for _, m := range others {
		if m.LastReadTime.Before(msg.CreatedAt) {
			allRead = false
			break
		}
	}
	if allRead {
		return MessageStatusRead
	}

	for _, m := range others {
		if p, ok := presence[m.UserID]; ok && !p.LastSeen.Before(msg.CreatedAt) {
			return MessageStatusDelivered
		}
	}
	return MessageStatusSent
}
