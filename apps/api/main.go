package main

import (
	"github.com/caarlos0/env/v10"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storeline/storechat/pkg/db"
)

// Config holds all configuration for the read-model API service.
type Config struct {
	Addr        string   `env:"API_ADDR" envDefault:":8081"`
	ScyllaHosts []string `env:"SCYLLA_HOSTS" envDefault:"localhost:9042"`
	Keyspace    string   `env:"SCYLLA_KEYSPACE" envDefault:"chat"`
	RedisAddr   string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*") // Allow all for dev, or specific origin
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.With().Str("service", "api").Logger()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("scylla connect failed")
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())

	// Public endpoint
	r.POST("/login", LoginHandler(session))

	// Protected endpoints
	authed := r.Group("/", AuthMiddleware())
	authed.GET("/history", HistoryHandler(session))
	authed.GET("/conversations", ConversationsHandler(session))
	authed.POST("/conversations/read", ReadHandler(session))
	authed.GET("/users/:id", ProfileHandler(session))
	authed.GET("/presence/online", PresenceHandler(rdb))

	logger.Info().Str("addr", cfg.Addr).Msg("api service starting")
	if err := r.Run(cfg.Addr); err != nil {
		logger.Fatal().Err(err).Msg("listen failed")
	}
}
