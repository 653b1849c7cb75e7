package wire

import "time"

// RecordKind tags the records flowing through the Kafka topic.
type RecordKind string

const (
	KindMessage  RecordKind = "message"
	KindTyping   RecordKind = "typing"
	KindRead     RecordKind = "read"
	KindPresence RecordKind = "presence"
)

// Record is the fanout format the gateway publishes to Kafka. The
// gateway consumer routes records back out to connected clients; the
// messaging service persists the durable kinds and skips the
// ephemeral ones (typing, presence).
type Record struct {
	Kind           RecordKind `json:"kind"`
	ConversationID string     `json:"conversationId,omitempty"`
	SenderID       string     `json:"senderId,omitempty"`
	SenderRole     string     `json:"senderRole,omitempty"`
	ReceiverID     string     `json:"receiverId,omitempty"`
	MessageID      int64      `json:"messageId,omitempty"`
	ClientTime     int64      `json:"clientTime,omitempty"`
	CreatedAt      time.Time  `json:"createdAt,omitempty"`
	Text           string     `json:"text,omitempty"`
	FileName       string     `json:"fileName,omitempty"`
	FileType       string     `json:"fileType,omitempty"`
	FileURL        string     `json:"fileUrl,omitempty"`
	UserID         string     `json:"userId,omitempty"`
	IsTyping       bool       `json:"isTyping,omitempty"`
	IsOnline       bool       `json:"isOnline,omitempty"`
}
