package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/storeline/storechat/pkg/auth"
	"github.com/storeline/storechat/pkg/db"
	"github.com/storeline/storechat/pkg/model"
)

type LoginRequest struct {
	UserID      string     `json:"userId" binding:"required"`
	Role        model.Role `json:"role" binding:"required"`
	DisplayName string     `json:"displayName"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// LoginHandler issues a JWT and upserts the user's display profile.
func LoginHandler(session *db.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId and role are required"})
			return
		}
		if req.Role != model.RoleCustomer && req.Role != model.RoleOwner {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be customer or owner"})
			return
		}

		name := req.DisplayName
		if name == "" {
			name = req.UserID
		}
		err := session.Query(
			`INSERT INTO users (user_id, display_name, role) VALUES (?, ?, ?)`,
			req.UserID, name, string(req.Role),
		).WithContext(c.Request.Context()).Exec()
		if err != nil {
			log.Error().Err(err).Str("user", req.UserID).Msg("profile upsert failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store profile"})
			return
		}

		token, err := auth.GenerateToken(req.UserID, req.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
			return
		}
		c.JSON(http.StatusOK, LoginResponse{Token: token})
	}
}

// AuthMiddleware validates the bearer token and stashes the claims.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(string(auth.UserKey), claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(string(auth.UserKey))
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// HistoryHandler returns a conversation's messages in confirmation
// order (the clustering order of the table).
func HistoryHandler(session *db.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Query("conversation_id")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
			return
		}

		iter := session.Query(
			`SELECT id, sender_id, text_body, file_name, file_type, file_url, created_at, is_read
			 FROM messages WHERE conversation_id = ?`,
			conversationID,
		).WithContext(c.Request.Context()).Iter()

		var messages []model.Message
		var (
			id                          int64
			senderID, text              string
			fileName, fileType, fileURL string
			createdAt                   time.Time
			isRead                      bool
		)
		for iter.Scan(&id, &senderID, &text, &fileName, &fileType, &fileURL, &createdAt, &isRead) {
			payload := model.Payload{Text: text}
			if fileName != "" {
				payload = model.Payload{Attachment: &model.Attachment{
					Name:      fileName,
					MimeType:  fileType,
					BinaryRef: fileURL,
				}}
			}
			messages = append(messages, model.Message{
				ID:             id,
				ConversationID: conversationID,
				SenderID:       senderID,
				Payload:        payload,
				CreatedAt:      createdAt,
				Read:           isRead,
			})
		}

		if err := iter.Close(); err != nil {
			log.Error().Err(err).Str("conversation", conversationID).Msg("history query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve history"})
			return
		}
		c.JSON(http.StatusOK, messages)
	}
}

// ProfileHandler returns a user's display profile by id.
func ProfileHandler(session *db.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		var profile model.Profile
		var role string
		err := session.Query(
			`SELECT user_id, display_name, role FROM users WHERE user_id = ?`,
			userID,
		).WithContext(c.Request.Context()).Scan(&profile.UserID, &profile.DisplayName, &role)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		profile.Role = model.Role(role)
		c.JSON(http.StatusOK, profile)
	}
}
