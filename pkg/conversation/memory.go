package conversation

import (
	"context"
	"sync"
	"time"
)

type pairKey struct {
	customerID string
	ownerID    string
}

// MemoryStore is a mutex-guarded in-process registry. It backs tests
// and single-node deployments without a database.
type MemoryStore struct {
	mu     sync.Mutex
	byPair map[pairKey]*Record
	byID   map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPair: make(map[pairKey]*Record),
		byID:   make(map[string]*Record),
	}
}

func (s *MemoryStore) Lookup(_ context.Context, customerID, ownerID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byPair[pairKey{customerID, ownerID}]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *MemoryStore) CreateOrGet(_ context.Context, customerID, ownerID, proposedID string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{customerID, ownerID}
	if rec, ok := s.byPair[key]; ok {
		c := *rec
		return &c, false, nil
	}

	rec := &Record{
		ID:         proposedID,
		CustomerID: customerID,
		OwnerID:    ownerID,
		CreatedAt:  time.Now().UTC(),
	}
	s.byPair[key] = rec
	s.byID[proposedID] = rec
	c := *rec
	return &c, true, nil
}

func (s *MemoryStore) Participants(_ context.Context, conversationID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}
