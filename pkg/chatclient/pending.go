package chatclient

import (
	"github.com/cespare/xxhash/v2"

	"github.com/storeline/storechat/pkg/model"
)

// ReconKey is the composite identity matching a provisional message
// to its server confirmation: conversation id, the sender's client
// timestamp, and a hash of the text-or-filename content. A value
// type, so field boundaries cannot collide the way concatenated key
// strings can.
type ReconKey struct {
	ConversationID string
	ClientTime     int64
	ContentHash    uint64
}

func keyFor(conversationID string, clientTime int64, p model.Payload) ReconKey {
	content := p.Text
	if content == "" && p.Attachment != nil {
		content = p.Attachment.Name
	}
	return ReconKey{
		ConversationID: conversationID,
		ClientTime:     clientTime,
		ContentHash:    xxhash.Sum64String(content),
	}
}

// pendingSet tracks sends awaiting confirmation. Instance-scoped: one
// set per pipeline, never process-wide. Callers hold the pipeline
// lock.
type pendingSet map[ReconKey]struct{}

func (s pendingSet) add(k ReconKey)    { s[k] = struct{}{} }
func (s pendingSet) remove(k ReconKey) { delete(s, k) }

// consume removes k and reports whether it was present.
func (s pendingSet) consume(k ReconKey) bool {
	if _, ok := s[k]; ok {
		delete(s, k)
		return true
	}
	return false
}
