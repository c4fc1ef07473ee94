package domain

// RosterEntry pairs a chat with its derived inbox stats. One roster
// survives the whole session; entries come and go with chats.
type RosterEntry struct {
	Chat        Chat     `json:"chat"`
	UnreadCount int      `json:"unread_count"`
	HasReply    bool     `json:"has_reply"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// StatUpdate is a partial counter update for one roster entry. Nil
// fields keep their prior value; present fields overwrite as-is, the
// server being authoritative even when a value goes down.
type StatUpdate struct {
	UnreadCount *int     `json:"unread_count,omitempty"`
	HasReply    *bool    `json:"has_reply,omitempty"`
	LastMessage *Message `json:"last_message,omitempty"`
}
