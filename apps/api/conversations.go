package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/storeline/storechat/pkg/db"
	"github.com/storeline/storechat/pkg/model"
)

// ConversationsHandler returns the caller's conversation list with
// previews and unread counts. Ordering is left to the client, which
// sorts by last-message time.
func ConversationsHandler(session *db.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		iter := session.Query(
			`SELECT conversation_id, other_user_id, last_message, last_time FROM user_conversations WHERE user_id = ?`,
			claims.UserID,
		).WithContext(c.Request.Context()).Iter()

		var rows []model.ConversationSummary
		var (
			conversationID, otherID, lastMessage string
			lastTime                             time.Time
		)
		for iter.Scan(&conversationID, &otherID, &lastMessage, &lastTime) {
			row := model.ConversationSummary{
				ConversationID: conversationID,
				CustomerID:     otherID,
				LastMessage:    lastMessage,
				LastTime:       lastTime,
			}

			var count int64
			if err := session.Query(
				`SELECT unread_count FROM conversation_counters WHERE user_id = ? AND conversation_id = ?`,
				claims.UserID, conversationID,
			).Scan(&count); err == nil {
				row.UnreadCount = count
			}

			var name string
			if err := session.Query(
				`SELECT display_name FROM users WHERE user_id = ?`, otherID,
			).Scan(&name); err == nil {
				row.CustomerName = name
			}

			rows = append(rows, row)
		}

		if err := iter.Close(); err != nil {
			log.Error().Err(err).Str("user", claims.UserID).Msg("conversations query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve conversations"})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

type ReadRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

// ReadHandler resets the caller's unread counter for a conversation;
// the owner calls it when opening one. In counter tables, deletion is
// the way to reset.
func ReadHandler(session *db.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		err := session.Query(
			`DELETE FROM conversation_counters WHERE user_id = ? AND conversation_id = ?`,
			claims.UserID, req.ConversationID,
		).WithContext(c.Request.Context()).Exec()
		if err != nil {
			log.Error().Err(err).Str("user", claims.UserID).Msg("unread reset failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset unread count"})
			return
		}
		c.Status(http.StatusOK)
	}
}
