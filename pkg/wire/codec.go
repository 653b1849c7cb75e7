package wire

import (
	"encoding/json"
	"fmt"
)

// ErrUnknownEvent marks frames whose event name is outside the
// protocol.
type ErrUnknownEvent struct {
	Event string
}

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("wire: unknown event %q", e.Event)
}

// DecodeServer parses a server-push frame into its concrete event.
// The switch covers every member of the ServerEvent union; an
// unlisted name is a protocol error, never silently dropped.
func DecodeServer(frame []byte) (ServerEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("wire: bad envelope: %w", err)
	}

	var ev ServerEvent
	switch env.Event {
	case EventConversationExists:
		ev = &ConversationExists{}
	case EventConversationCreated:
		ev = &ConversationCreated{}
	case EventReceiveMessage:
		ev = &ReceiveMessage{}
	case EventMessageSent:
		ev = &MessageSent{}
	case EventUserTyping:
		ev = &UserTyping{}
	case EventMessageRead:
		ev = &MessageRead{}
	case EventNewConversation:
		ev = &NewConversation{}
	case EventUserOnline:
		ev = &UserOnline{}
	case EventError:
		ev = &ErrorEvent{}
	default:
		return nil, &ErrUnknownEvent{Event: env.Event}
	}

	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("wire: bad %s payload: %w", env.Event, err)
	}
	return ev, nil
}

// DecodeClient parses a client-to-server frame on the gateway side.
func DecodeClient(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("wire: bad envelope: %w", err)
	}

	var ev Event
	switch env.Event {
	case EventRegister:
		ev = &Register{}
	case EventCheckConversation:
		ev = &CheckConversation{}
	case EventJoinConversation:
		ev = &JoinConversation{}
	case EventStartConversation:
		ev = &StartConversation{}
	case EventSendMessage:
		ev = &SendMessage{}
	case EventTyping:
		ev = &Typing{}
	case EventMarkAsRead:
		ev = &MarkAsRead{}
	default:
		return nil, &ErrUnknownEvent{Event: env.Event}
	}

	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("wire: bad %s payload: %w", env.Event, err)
	}
	return ev, nil
}
