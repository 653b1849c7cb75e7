package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const presenceKey = "chat:online"

// PresenceHandler returns the ids of currently connected users, read
// from the presence set the gateway maintains.
func PresenceHandler(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := rdb.SMembers(c.Request.Context(), presenceKey).Result()
		if err != nil {
			log.Error().Err(err).Msg("presence query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch presence"})
			return
		}
		if users == nil {
			users = []string{}
		}
		c.JSON(http.StatusOK, users)
	}
}
