// Package conversation is the authoritative registry of (customer,
// owner) pairs. Exactly one conversation may exist per pair; creation
// is a test-and-set so concurrent resolvers always converge on the
// same conversation id.
package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Lookup when the pair has no
// conversation yet.
var ErrNotFound = errors.New("conversation: not found")

// Record is one registry entry.
type Record struct {
	ID         string
	CustomerID string
	OwnerID    string
	CreatedAt  time.Time
}

// Store defines registry persistence operations.
type Store interface {
	// Lookup returns the conversation for the pair, or ErrNotFound.
	Lookup(ctx context.Context, customerID, ownerID string) (*Record, error)

	// CreateOrGet inserts the pair with the proposed id unless a
	// conversation already exists, in which case the existing record
	// wins. The returned bool reports whether this call created it.
	// This is the one operation in the protocol that must be a strict
	// test-and-set shared across all clients.
	CreateOrGet(ctx context.Context, customerID, ownerID, proposedID string) (*Record, bool, error)

	// Participants resolves a conversation id back to its pair, or
	// ErrNotFound.
	Participants(ctx context.Context, conversationID string) (*Record, error)
}
