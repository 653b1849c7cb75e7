package chatclient

import (
	"context"
	"sync"
	"time"

	"github.com/storeline/storechat/pkg/wire"
)

// defaultResolveTimeout bounds the wait for a
// conversationExists/Created reply.
const defaultResolveTimeout = 5 * time.Second

// Resolver maps the local customer's (customer, owner) pair to the
// canonical conversation id. The server is the single authority for
// the create-or-join race; the resolver only asks, filters replies
// addressed to other clients on the same transport, and caches the
// answer per owner. Replies carry no owner id, so queries are
// serialized: at most one is in flight and the next reply belongs
// to it.
type Resolver struct {
	mu      sync.Mutex
	emit    func(wire.Event) error
	userID  string
	timeout time.Duration

	flight chan struct{}

	cache   map[string]string // ownerID -> conversationID
	pending string            // owner of the in-flight query
	waiter  chan string
}

func newResolver(emit func(wire.Event) error, userID string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	return &Resolver{
		emit:    emit,
		userID:  userID,
		timeout: timeout,
		flight:  make(chan struct{}, 1),
		cache:   make(map[string]string),
	}
}

// Resolve returns the conversation id for (local customer, ownerID).
// On timeout it returns ErrResolutionTimeout and the client is in the
// "ready, no conversation yet" state: composing the first message
// triggers creation via startConversation instead.
func (r *Resolver) Resolve(ctx context.Context, ownerID string) (string, error) {
	r.mu.Lock()
	if id, ok := r.cache[ownerID]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	select {
	case r.flight <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-r.flight }()

	r.mu.Lock()
	if id, ok := r.cache[ownerID]; ok {
		r.mu.Unlock()
		return id, nil
	}
	ch := make(chan string, 1)
	r.pending = ownerID
	r.waiter = ch
	r.mu.Unlock()

	if err := r.emit(&wire.CheckConversation{CustomerID: r.userID, OwnerID: ownerID}); err != nil {
		r.abandon(ch)
		return "", err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case id := <-ch:
		return id, nil
	case <-timer.C:
		r.abandon(ch)
		return "", ErrResolutionTimeout
	case <-ctx.Done():
		r.abandon(ch)
		return "", ctx.Err()
	}
}

// HandleResponse accepts either reply shape. Replies whose customerId
// is not the local identity belong to other concurrently-resolving
// clients and are ignored. Returns whether the reply was ours. A reply
// with no query in flight (the startConversation path) is not cached:
// the owner it belongs to is not on the wire.
func (r *Resolver) HandleResponse(conversationID, customerID string) bool {
	if customerID != r.userID {
		return false
	}

	r.mu.Lock()
	if r.pending != "" {
		r.cache[r.pending] = conversationID
		r.pending = ""
	}
	waiter := r.waiter
	r.waiter = nil
	r.mu.Unlock()

	if waiter != nil {
		waiter <- conversationID
	}
	return true
}

// ConversationID returns the cached id for ownerID, empty until
// resolved.
func (r *Resolver) ConversationID(ownerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache[ownerID]
}

func (r *Resolver) abandon(ch chan string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiter == ch {
		r.waiter = nil
		r.pending = ""
	}
}
