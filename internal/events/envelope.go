package events

import (
	"encoding/json"
	"fmt"

	chaterrors "campuschat/pkg/errors"
)

// Envelope is the wire frame for both directions: a type tag plus a
// raw payload decoded per tag.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode maps an envelope onto the closed Event set. Unknown types
// return ErrUnknownEvent so callers can log and drop without treating
// the stream as broken.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case EventTypeInitial:
		var e InitialEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTypeMessageCreated:
		var e MessageCreatedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTypeMessageUpdated:
		var e MessageUpdatedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTypeMessageDeleted:
		var e MessageDeletedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTypeSendRejected:
		var e SendRejectedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTypeStatUpdated:
		var e StatUpdatedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTypeChatCreated:
		var e ChatCreatedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTypeChatUpdated:
		var e ChatUpdatedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTypeChatRemoved:
		var e ChatRemovedEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	}

	return nil, fmt.Errorf("%w: %q", chaterrors.ErrUnknownEvent, env.Type)
}

// Encode wraps a payload into an envelope frame.
func Encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}
