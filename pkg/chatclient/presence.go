package chatclient

import "sync"

// PresenceTracker maps peer ids to online state. Transient; rebuilt
// from userOnline pushes, never persisted.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[string]bool
}

func newPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]bool)}
}

func (p *PresenceTracker) set(userID string, isOnline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isOnline {
		p.online[userID] = true
	} else {
		delete(p.online, userID)
	}
}

// Online reports the last observed state for the peer.
func (p *PresenceTracker) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}
