package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/storeline/storechat/pkg/db"
	"github.com/storeline/storechat/pkg/wire"
)

// Consumer persists the durable record kinds and maintains the
// conversation read model: message rows, per-user conversation lists
// with last-message previews, and unread counters. Typing and
// presence records are ephemeral and skipped.
type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
	log    zerolog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, session *db.Session, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, db: session, log: log}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Msg("read failed, retrying in 1s")
			time.Sleep(1 * time.Second)
			continue
		}

		var rec wire.Record
		if err := json.Unmarshal(m.Value, &rec); err != nil {
			c.log.Warn().Err(err).Msg("bad record, skipping")
			continue
		}

		switch rec.Kind {
		case wire.KindMessage:
			c.persistMessage(ctx, &rec)
		case wire.KindRead:
			c.persistRead(ctx, &rec)
		default:
			// typing and presence are not persisted
		}
	}
}

func (c *Consumer) persistMessage(ctx context.Context, rec *wire.Record) {
	err := c.db.Query(
		`INSERT INTO messages (conversation_id, id, sender_id, text_body, file_name, file_type, file_url, created_at, is_read)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, false)`,
		rec.ConversationID, rec.MessageID, rec.SenderID,
		rec.Text, rec.FileName, rec.FileType, rec.FileURL, rec.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		c.log.Error().Err(err).Int64("id", rec.MessageID).Msg("message insert failed")
		return
	}

	preview := rec.Text
	if preview == "" {
		preview = rec.FileName
	}

	// Both participants see the preview and time overwritten by every
	// confirmed message, regardless of read state.
	for user, other := range map[string]string{
		rec.SenderID:   rec.ReceiverID,
		rec.ReceiverID: rec.SenderID,
	} {
		err := c.db.Query(
			`INSERT INTO user_conversations (user_id, conversation_id, other_user_id, last_message, last_time) VALUES (?, ?, ?, ?, ?)`,
			user, rec.ConversationID, other, preview, rec.CreatedAt,
		).WithContext(ctx).Exec()
		if err != nil {
			c.log.Error().Err(err).Str("user", user).Msg("conversation list update failed")
		}
	}

	// The recipient accrues one unread per broadcast until they open
	// the conversation.
	err = c.db.Query(
		`UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND conversation_id = ?`,
		rec.ReceiverID, rec.ConversationID,
	).WithContext(ctx).Exec()
	if err != nil {
		c.log.Error().Err(err).Str("user", rec.ReceiverID).Msg("unread increment failed")
	}

	c.log.Debug().
		Int64("id", rec.MessageID).
		Str("conversation", rec.ConversationID).
		Str("sender_role", rec.SenderRole).
		Msg("message persisted")
}

// persistRead flips the read flag; the transition is one-directional.
func (c *Consumer) persistRead(ctx context.Context, rec *wire.Record) {
	err := c.db.Query(
		`UPDATE messages SET is_read = true WHERE conversation_id = ? AND id = ?`,
		rec.ConversationID, rec.MessageID,
	).WithContext(ctx).Exec()
	if err != nil {
		c.log.Error().Err(err).Int64("id", rec.MessageID).Msg("read update failed")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
