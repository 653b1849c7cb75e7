package main

import (
	"log"
	"os"
	"strings"

	"github.com/storeline/storechat/pkg/db"
)

// Drops the chat tables so the messaging service recreates them fresh
// on next startup. Dev convenience only.
func main() {
	hosts := strings.Split(envOr("SCYLLA_HOSTS", "localhost:9042"), ",")
	keyspace := envOr("SCYLLA_KEYSPACE", "chat")

	session, err := db.NewSession(hosts, keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	tables := []string{
		"messages",
		"conversation_pairs",
		"conversation_index",
		"user_conversations",
		"conversation_counters",
		"users",
	}
	for _, table := range tables {
		log.Printf("Dropping table %s...", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("Failed to drop %s: %v", table, err)
		}
	}
	log.Println("All tables dropped.")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
