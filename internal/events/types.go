package events

import (
	"time"

	"campuschat/internal/domain"
)

// Event type constants, format: scope.action. Chat-scope events arrive
// on the stream opened for one chat; roster-scope events arrive on the
// session-wide stream.
const (
	EventTypeInitial        = "chat.initial"
	EventTypeMessageCreated = "message.created"
	EventTypeMessageUpdated = "message.updated"
	EventTypeMessageDeleted = "message.deleted"
	EventTypeSendRejected   = "message.rejected"

	EventTypeStatUpdated = "chat.stat_updated"
	EventTypeChatCreated = "chat.created"
	EventTypeChatUpdated = "chat.updated"
	EventTypeChatRemoved = "chat.removed"
)

// Outbound operation types.
const (
	CommandTypeSend   = "send"
	CommandTypeEdit   = "edit"
	CommandTypeDelete = "delete"
)

// Event is the closed set of inbound stream events. Adding a kind
// means adding a type here, a case in Decode and a case in every
// consumer switch, all compile-checked.
type Event interface {
	isEvent()
}

// InitialEvent carries the backlog delivered when a chat-scope stream
// opens. Messages are pre-sorted oldest to newest by the server.
type InitialEvent struct {
	ChatID   string           `json:"chat_id"`
	Messages []domain.Message `json:"messages"`
}

type MessageCreatedEvent struct {
	Message domain.Message `json:"message"`
}

type MessageUpdatedEvent struct {
	Message domain.Message `json:"message"`
}

// MessageDeletedEvent is the id-only delete shape. The full-record
// shape (is_deleted=true) arrives as MessageUpdatedEvent instead;
// the store converges both onto the same tombstone.
type MessageDeletedEvent struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// SendRejectedEvent reports the server declining a client operation;
// the optimistic entry keyed by ClientMessageID is rolled back.
type SendRejectedEvent struct {
	ChatID          string `json:"chat_id"`
	ClientMessageID string `json:"client_message_id"`
	Reason          string `json:"reason,omitempty"`
}

type StatUpdatedEvent struct {
	ChatID string            `json:"chat_id"`
	Stat   domain.StatUpdate `json:"stat"`
}

type ChatCreatedEvent struct {
	Chat domain.Chat `json:"chat"`
}

type ChatUpdatedEvent struct {
	Chat domain.Chat `json:"chat"`
}

type ChatRemovedEvent struct {
	ChatID string `json:"chat_id"`
}

// ConnectionChangedEvent is synthesized by the transport, never sent
// by the server. It surfaces connection loss as state rather than an
// error.
type ConnectionChangedEvent struct {
	Connected bool
}

func (InitialEvent) isEvent()           {}
func (MessageCreatedEvent) isEvent()    {}
func (MessageUpdatedEvent) isEvent()    {}
func (MessageDeletedEvent) isEvent()    {}
func (SendRejectedEvent) isEvent()      {}
func (StatUpdatedEvent) isEvent()       {}
func (ChatCreatedEvent) isEvent()       {}
func (ChatUpdatedEvent) isEvent()       {}
func (ChatRemovedEvent) isEvent()       {}
func (ConnectionChangedEvent) isEvent() {}
