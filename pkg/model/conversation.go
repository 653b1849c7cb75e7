package model

import "time"

// Conversation is the durable channel between exactly one customer
// and one owner. Exactly one conversation exists per (customer,
// owner) pair; creation is a server-side test-and-set keyed by the
// pair.
type Conversation struct {
	ID          string    `json:"conversationId"`
	CustomerID  string    `json:"customerId"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	LastMessage string    `json:"lastMessage,omitempty"`
	LastTime    time.Time `json:"lastTime,omitempty"`
}

// ConversationSummary is one row of an owner's conversation list.
type ConversationSummary struct {
	ConversationID string    `json:"conversationId"`
	CustomerID     string    `json:"customerId"`
	CustomerName   string    `json:"customerName,omitempty"`
	LastMessage    string    `json:"lastMessage,omitempty"`
	LastTime       time.Time `json:"lastTime"`
	UnreadCount    int64     `json:"unreadCount"`
}

// Profile is a user's display record served by the read-model API.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}
