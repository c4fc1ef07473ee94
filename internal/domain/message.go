package domain

import "time"

// Message has an immutable identity and mutable content. Exactly one
// of Content / FileURL is meaningful depending on Type; a system
// message has a nil sender.
type Message struct {
	ID       string      `json:"id"`
	ChatID   string      `json:"chat_id"`
	SenderID *string     `json:"sender_id,omitempty"`
	Type     MessageType `json:"type"`
	Content  string      `json:"content,omitempty"`

	// ClientMessageID is the client-generated temporary id echoed back
	// by the server on the created event; it keys optimistic
	// reconciliation.
	ClientMessageID string `json:"client_message_id,omitempty"`

	FileURL  *string `json:"file_url,omitempty"`
	FileName *string `json:"file_name,omitempty"`
	FileSize *int64  `json:"file_size,omitempty"`
	FileType *string `json:"file_type,omitempty"`

	IsEdited  bool       `json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	ReplyToID *string    `json:"reply_to_id,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Tombstone returns a copy flagged as deleted with content cleared.
// The entry stays in the ordered list so indices remain stable for
// scroll anchoring.
func (m Message) Tombstone(at time.Time) Message {
	m.IsDeleted = true
	m.DeletedAt = &at
	m.Content = ""
	m.FileURL = nil
	m.FileName = nil
	m.FileSize = nil
	m.FileType = nil
	return m
}
