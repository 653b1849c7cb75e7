package main

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the gateway service.
type Config struct {
	Addr          string   `env:"GATEWAY_ADDR" envDefault:":8080"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envDefault:"localhost:19092"`
	KafkaTopic    string   `env:"KAFKA_TOPIC" envDefault:"chat-events"`
	RedisAddr     string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	ScyllaHosts   []string `env:"SCYLLA_HOSTS" envDefault:"localhost:9042"`
	Keyspace      string   `env:"SCYLLA_KEYSPACE" envDefault:"chat"`
	SnowflakeNode int64    `env:"SNOWFLAKE_NODE" envDefault:"1"`
	LogLevel      string   `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig parses environment variables into Config.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}
