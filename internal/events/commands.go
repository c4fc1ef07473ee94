package events

import "campuschat/internal/domain"

// Command is the closed set of client-to-server operations carried on
// a chat-scope stream.
type Command interface {
	commandType() string
}

// SendCommand creates a message. ClientMessageID is generated locally
// and echoed back on the created event for reconciliation.
type SendCommand struct {
	ChatID          string             `json:"chat_id"`
	ClientMessageID string             `json:"client_message_id"`
	Type            domain.MessageType `json:"type"`
	Content         string             `json:"content,omitempty"`
	FileURL         *string            `json:"file_url,omitempty"`
	FileName        *string            `json:"file_name,omitempty"`
	ReplyToID       *string            `json:"reply_to_id,omitempty"`
}

type EditCommand struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteCommand struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

func (SendCommand) commandType() string   { return CommandTypeSend }
func (EditCommand) commandType() string   { return CommandTypeEdit }
func (DeleteCommand) commandType() string { return CommandTypeDelete }

// EncodeCommand frames a command for the wire.
func EncodeCommand(cmd Command) ([]byte, error) {
	return Encode(cmd.commandType(), cmd)
}
