package model

import "time"

// Role distinguishes the two participant kinds of a conversation.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOwner    Role = "owner"
)

// MaxAttachmentSize is the client-enforced upper bound for attachment
// payloads. Oversized files are rejected before any network call.
const MaxAttachmentSize = 10 << 20 // 10 MB

// Attachment describes a file payload. BinaryRef is an opaque handle
// into external file storage (a URL in practice).
type Attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	BinaryRef string `json:"binaryRef"`
	Size      int64  `json:"size,omitempty"`
}

// Payload is the tagged variant carried by a message: one of Text or
// Attachment is set, never both empty.
type Payload struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Empty reports whether the payload carries neither text nor a file.
func (p Payload) Empty() bool {
	return p.Text == "" && (p.Attachment == nil || p.Attachment.Name == "")
}

// Preview returns the short string shown in conversation lists.
func (p Payload) Preview() string {
	if p.Text != "" {
		return p.Text
	}
	if p.Attachment != nil {
		return p.Attachment.Name
	}
	return ""
}

// Message is a chat message. ID is server-assigned and zero on a
// client's provisional copy until confirmed; CreatedAt is
// server-authoritative once confirmed. Read is meaningful only for
// messages sent by the current viewer ("has the peer read it").
// A confirmed message is immutable except for Read.
type Message struct {
	ID             int64     `json:"id,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Payload        Payload   `json:"payload"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`
}

// Confirmed reports whether the server has assigned an id.
func (m *Message) Confirmed() bool { return m.ID != 0 }
