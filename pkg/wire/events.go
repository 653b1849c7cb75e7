// Package wire defines the websocket event protocol shared by the
// gateway and the chat client. Every frame is an Envelope holding an
// event name and a JSON payload. Server-push events form a closed
// union so client dispatch is exhaustive over every kind the gateway
// can emit.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names, client to server.
const (
	EventRegister          = "register"
	EventCheckConversation = "checkConversation"
	EventJoinConversation  = "joinConversation"
	EventStartConversation = "startConversation"
	EventSendMessage       = "sendMessage"
	EventTyping            = "typing"
	EventMarkAsRead        = "markAsRead"
)

// Event names, server to client.
const (
	EventConversationExists  = "conversationExists"
	EventConversationCreated = "conversationCreated"
	EventReceiveMessage      = "receiveMessage"
	EventMessageSent         = "messageSent"
	EventUserTyping          = "userTyping"
	EventMessageRead         = "messageRead"
	EventNewConversation     = "newConversation"
	EventUserOnline          = "userOnline"
	EventError               = "error"
)

// Envelope is the frame format: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is any payload that knows its envelope event name.
type Event interface {
	EventName() string
}

// Encode wraps an event payload in its envelope and marshals it.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}

// Client-to-server events.

// Register announces presence on connect.
type Register struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
}

func (Register) EventName() string { return EventRegister }

// CheckConversation asks whether a conversation exists for the pair.
// The reply is ConversationExists or ConversationCreated; creation is
// a server-side test-and-set keyed by (customerId, ownerId).
type CheckConversation struct {
	CustomerID string `json:"customerId"`
	OwnerID    string `json:"ownerId"`
}

func (CheckConversation) EventName() string { return EventCheckConversation }

// JoinConversation subscribes the caller to the conversation's
// broadcast channel.
type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

func (JoinConversation) EventName() string { return EventJoinConversation }

// StartConversation creates-or-reuses a conversation and delivers the
// first message atomically. ClientTime is the sender's provisional
// timestamp, echoed back in the confirmation so the sender can match
// it against its pending set.
type StartConversation struct {
	CustomerID string `json:"customerId"`
	OwnerID    string `json:"ownerId"`
	ClientTime int64  `json:"clientTime"`
	Text       string `json:"firstMessage,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	FileType   string `json:"fileType,omitempty"`
	FileURL    string `json:"fileUrl,omitempty"`
}

func (StartConversation) EventName() string { return EventStartConversation }

// SendMessage delivers a message to an existing conversation.
type SendMessage struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	ClientTime     int64  `json:"clientTime"`
	Text           string `json:"text,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	FileType       string `json:"fileType,omitempty"`
	FileURL        string `json:"fileUrl,omitempty"`
}

func (SendMessage) EventName() string { return EventSendMessage }

// Typing signals a keystroke transition (non-empty <-> empty).
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

func (Typing) EventName() string { return EventTyping }

// MarkAsRead marks a peer's message read by the viewing client.
type MarkAsRead struct {
	ConversationID string `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
}

func (MarkAsRead) EventName() string { return EventMarkAsRead }

// Server-push events. The serverPush marker closes the union.

// ServerEvent is any event the gateway pushes to clients.
type ServerEvent interface {
	Event
	serverPush()
}

// ConversationExists answers CheckConversation when the pair already
// has a conversation. CustomerID lets clients sharing a transport
// filter replies addressed to other resolvers.
type ConversationExists struct {
	ConversationID string `json:"conversationId"`
	CustomerID     string `json:"customerId"`
}

func (ConversationExists) EventName() string { return EventConversationExists }
func (ConversationExists) serverPush()       {}

// ConversationCreated answers CheckConversation or StartConversation
// when no conversation existed and one was created atomically.
type ConversationCreated struct {
	ConversationID string `json:"conversationId"`
	CustomerID     string `json:"customerId"`
}

func (ConversationCreated) EventName() string { return EventConversationCreated }
func (ConversationCreated) serverPush()       {}

// ReceiveMessage is the broadcast of a confirmed message to all
// participants. On some transports the sender receives its own
// broadcast; ClientTime lets it recognize the echo.
type ReceiveMessage struct {
	ConversationID string    `json:"conversationId"`
	MessageID      int64     `json:"id"`
	SenderID       string    `json:"senderId"`
	ClientTime     int64     `json:"clientTime,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Text           string    `json:"text,omitempty"`
	FileName       string    `json:"fileName,omitempty"`
	FileType       string    `json:"fileType,omitempty"`
	FileURL        string    `json:"fileUrl,omitempty"`
}

func (ReceiveMessage) EventName() string { return EventReceiveMessage }
func (ReceiveMessage) serverPush()       {}

// MessageSent is the unicast confirmation to the sender only,
// carrying the server-assigned id and authoritative timestamp.
type MessageSent struct {
	ConversationID string    `json:"conversationId"`
	MessageID      int64     `json:"id"`
	ClientTime     int64     `json:"clientTime"`
	CreatedAt      time.Time `json:"createdAt"`
	Text           string    `json:"text,omitempty"`
	FileName       string    `json:"fileName,omitempty"`
	FileType       string    `json:"fileType,omitempty"`
	FileURL        string    `json:"fileUrl,omitempty"`
}

func (MessageSent) EventName() string { return EventMessageSent }
func (MessageSent) serverPush()       {}

// UserTyping relays a peer's typing state, last-write-wins.
type UserTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

func (UserTyping) EventName() string { return EventUserTyping }
func (UserTyping) serverPush()       {}

// MessageRead tells the sender its message was read by the peer.
type MessageRead struct {
	ConversationID string `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
}

func (MessageRead) EventName() string { return EventMessageRead }
func (MessageRead) serverPush()       {}

// NewConversation is pushed to the owner when a customer starts a
// fresh conversation.
type NewConversation struct {
	ConversationID string `json:"conversationId"`
	CustomerID     string `json:"customerId"`
	CustomerName   string `json:"customerName,omitempty"`
	LastMessage    string `json:"lastMessage,omitempty"`
}

func (NewConversation) EventName() string { return EventNewConversation }
func (NewConversation) serverPush()       {}

// UserOnline reports a presence transition for a peer.
type UserOnline struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

func (UserOnline) EventName() string { return EventUserOnline }
func (UserOnline) serverPush()       {}

// ErrorEvent is a server-reported failure, surfaced to the user
// without corrupting local state.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventName() string { return EventError }
func (ErrorEvent) serverPush()       {}
