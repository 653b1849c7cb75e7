package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/storeline/storechat/pkg/db"
)

// ScyllaStore backs the registry with two ScyllaDB tables: the pair
// table (partitioned by the pair, written with a lightweight
// transaction) and a reverse index by conversation id.
type ScyllaStore struct {
	session *db.Session
}

func NewScyllaStore(session *db.Session) *ScyllaStore {
	return &ScyllaStore{session: session}
}

func (s *ScyllaStore) Lookup(ctx context.Context, customerID, ownerID string) (*Record, error) {
	rec := &Record{CustomerID: customerID, OwnerID: ownerID}
	err := s.session.Query(
		`SELECT conversation_id, created_at FROM conversation_pairs WHERE customer_id = ? AND owner_id = ?`,
		customerID, ownerID,
	).WithContext(ctx).Scan(&rec.ID, &rec.CreatedAt)
	if err == gocql.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup pair (%s, %s): %w", customerID, ownerID, err)
	}
	return rec, nil
}

func (s *ScyllaStore) CreateOrGet(ctx context.Context, customerID, ownerID, proposedID string) (*Record, bool, error) {
	now := time.Now().UTC()

	// IF NOT EXISTS makes Scylla the single arbiter of the creation
	// race: the loser of a concurrent insert gets applied=false and
	// the winner's row back.
	var existingID string
	var existingCreated time.Time
	applied, err := s.session.Query(
		`INSERT INTO conversation_pairs (customer_id, owner_id, conversation_id, created_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		customerID, ownerID, proposedID, now,
	).WithContext(ctx).ScanCAS(&existingID, &existingCreated)
	if err != nil {
		return nil, false, fmt.Errorf("create pair (%s, %s): %w", customerID, ownerID, err)
	}

	rec := &Record{CustomerID: customerID, OwnerID: ownerID}
	if applied {
		rec.ID = proposedID
		rec.CreatedAt = now
	} else {
		rec.ID = existingID
		rec.CreatedAt = existingCreated
	}

	if applied {
		if err := s.session.Query(
			`INSERT INTO conversation_index (conversation_id, customer_id, owner_id, created_at) VALUES (?, ?, ?, ?)`,
			rec.ID, customerID, ownerID, now,
		).WithContext(ctx).Exec(); err != nil {
			return nil, false, fmt.Errorf("index conversation %s: %w", rec.ID, err)
		}
	}
	return rec, applied, nil
}

func (s *ScyllaStore) Participants(ctx context.Context, conversationID string) (*Record, error) {
	rec := &Record{ID: conversationID}
	err := s.session.Query(
		`SELECT customer_id, owner_id, created_at FROM conversation_index WHERE conversation_id = ?`,
		conversationID,
	).WithContext(ctx).Scan(&rec.CustomerID, &rec.OwnerID, &rec.CreatedAt)
	if err == gocql.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup conversation %s: %w", conversationID, err)
	}
	return rec, nil
}
