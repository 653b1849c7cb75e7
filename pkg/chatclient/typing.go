package chatclient

import (
	"sync"
	"time"
)

// typingExpiry auto-clears a received typing-true signal. The
// explicit not-typing signal can be lost on an abrupt peer
// disconnect; the local timer guarantees the indicator never sticks.
const typingExpiry = 7 * time.Second

type typingKey struct {
	conversationID string
	userID         string
}

// TypingTracker stores the latest typing state per (conversation,
// peer), last-write-wins, with a local expiry timer on each
// typing-true signal.
type TypingTracker struct {
	mu     sync.Mutex
	typing map[typingKey]bool
	timers map[typingKey]*time.Timer
	expiry time.Duration
}

func newTypingTracker(expiry time.Duration) *TypingTracker {
	if expiry <= 0 {
		expiry = typingExpiry
	}
	return &TypingTracker{
		typing: make(map[typingKey]bool),
		timers: make(map[typingKey]*time.Timer),
		expiry: expiry,
	}
}

func (t *TypingTracker) set(conversationID, userID string, isTyping bool) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}

	if !isTyping {
		delete(t.typing, key)
		return
	}

	t.typing[key] = true
	t.timers[key] = time.AfterFunc(t.expiry, func() {
		t.mu.Lock()
		delete(t.typing, key)
		delete(t.timers, key)
		t.mu.Unlock()
	})
}

// PeerTyping reports whether the peer is currently typing in the
// conversation.
func (t *TypingTracker) PeerTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing[typingKey{conversationID, userID}]
}

func (t *TypingTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
