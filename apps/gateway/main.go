package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/storeline/storechat/pkg/conversation"
	"github.com/storeline/storechat/pkg/db"
	"github.com/storeline/storechat/pkg/snowflake"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.With().Str("service", "gateway").Logger()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("scylla connect failed")
	}
	defer session.Close()
	store := conversation.NewScyllaStore(session)

	producer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.KafkaTopic,
		Balancer: &kafka.LeastBytes{},
	}
	defer producer.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	// Node ID should be unique per instance (e.g. from env var or
	// service discovery).
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		logger.Fatal().Err(err).Msg("snowflake init failed")
	}

	hub := NewHub(store, producer, rdb, node, logger)

	// Unique group per instance so every gateway sees every record.
	fanout := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     "gateway-group-" + time.Now().Format("20060102150405.000000000"),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})
	go hub.RunFanout(context.Background(), fanout)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	logger.Info().Str("addr", cfg.Addr).Msg("gateway service starting")
	if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
		logger.Fatal().Err(err).Msg("listen failed")
	}
}
