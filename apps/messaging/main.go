package main

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storeline/storechat/pkg/db"
)

// Config holds all configuration for the messaging service.
type Config struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:19092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"chat-events"`
	GroupID      string   `env:"KAFKA_GROUP_ID" envDefault:"messaging-service-group"`
	ScyllaHosts  []string `env:"SCYLLA_HOSTS" envDefault:"localhost:9042"`
	Keyspace     string   `env:"SCYLLA_KEYSPACE" envDefault:"chat"`
	LogLevel     string   `env:"LOG_LEVEL" envDefault:"info"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversation_pairs (
		customer_id text,
		owner_id text,
		conversation_id text,
		created_at timestamp,
		PRIMARY KEY ((customer_id, owner_id))
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_index (
		conversation_id text PRIMARY KEY,
		customer_id text,
		owner_id text,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		text_body text,
		file_name text,
		file_type text,
		file_url text,
		created_at timestamp,
		is_read boolean,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id ASC)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		conversation_id text,
		other_user_id text,
		last_message text,
		last_time timestamp,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		conversation_id text,
		unread_count counter,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		user_id text PRIMARY KEY,
		display_name text,
		role text
	)`,
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
	logger := log.With().Str("service", "messaging").Logger()

	// Schema bootstrap. In production this belongs to a migration
	// tool; for now the consumer owns its tables.
	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system")
	if err != nil {
		logger.Fatal().Err(err).Msg("scylla system connect failed")
	}
	createKeyspace := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`,
		cfg.Keyspace)
	if err := sysSession.Query(createKeyspace).Exec(); err != nil {
		logger.Fatal().Err(err).Msg("create keyspace failed")
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("scylla connect failed")
	}
	defer session.Close()

	for _, stmt := range schema {
		if err := session.Query(stmt).Exec(); err != nil {
			logger.Fatal().Err(err).Str("stmt", stmt).Msg("schema bootstrap failed")
		}
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.GroupID, session, logger)
	defer consumer.Close()

	logger.Info().Msg("starting persistence consumer")
	consumer.Consume(context.Background())
}
