package chatclient

import (
	"sync"
	"time"

	"github.com/storeline/storechat/pkg/model"
	"github.com/storeline/storechat/pkg/wire"
)

// pendingConversation is the placeholder list key used before the
// first conversation is resolved; Rekey moves it to the real id.
const pendingConversation = ""

// Pipeline turns send intents into a reconciled display list. The
// display list is append-only: a provisional message is appended the
// instant the user sends, then upgraded in place when the server
// confirmation arrives via self-echo or broadcast. The pending set
// recognizes the sender's own message on whichever path delivers it
// first, so exactly one bubble ever exists per logical message.
type Pipeline struct {
	mu     sync.Mutex
	emit   func(wire.Event) error
	userID string
	now    func() time.Time

	lists        map[string][]*model.Message
	pending      pendingSet
	provisionals map[ReconKey]*model.Message
	seen         map[int64]struct{}
}

func newPipeline(emit func(wire.Event) error, userID string, now func() time.Time) *Pipeline {
	return &Pipeline{
		emit:         emit,
		userID:       userID,
		now:          now,
		lists:        make(map[string][]*model.Message),
		pending:      make(pendingSet),
		provisionals: make(map[ReconKey]*model.Message),
		seen:         make(map[int64]struct{}),
	}
}

// Send appends a provisional copy, records its reconciliation key,
// and emits the request: startConversation when no conversation
// exists yet (peerID is the owner of the new pair), sendMessage
// otherwise. An emit failure rolls back both the provisional and the
// key before returning, so no failure leaves the display list and
// pending set inconsistent.
func (p *Pipeline) Send(conversationID, peerID string, payload model.Payload) error {
	if payload.Empty() {
		return ErrEmptyPayload
	}

	clientTime := p.now().UnixMilli()

	p.mu.Lock()
	provisional := &model.Message{
		ConversationID: conversationID,
		SenderID:       p.userID,
		Payload:        payload,
		CreatedAt:      time.UnixMilli(clientTime),
	}
	p.lists[conversationID] = append(p.lists[conversationID], provisional)

	key := keyFor(conversationID, clientTime, payload)
	p.pending.add(key)
	p.provisionals[key] = provisional
	p.mu.Unlock()

	var ev wire.Event
	if conversationID == pendingConversation {
		start := &wire.StartConversation{
			CustomerID: p.userID,
			OwnerID:    peerID,
			ClientTime: clientTime,
			Text:       payload.Text,
		}
		if a := payload.Attachment; a != nil {
			start.FileName = a.Name
			start.FileType = a.MimeType
			start.FileURL = a.BinaryRef
		}
		ev = start
	} else {
		send := &wire.SendMessage{
			ConversationID: conversationID,
			SenderID:       p.userID,
			ReceiverID:     peerID,
			ClientTime:     clientTime,
			Text:           payload.Text,
		}
		if a := payload.Attachment; a != nil {
			send.FileName = a.Name
			send.FileType = a.MimeType
			send.FileURL = a.BinaryRef
		}
		ev = send
	}

	if err := p.emit(ev); err != nil {
		p.rollback(key)
		return &SendFailure{Err: err}
	}
	return nil
}

// rollback removes the provisional message and its pending key. The
// user sees their message disappear; nothing is retried.
func (p *Pipeline) rollback(key ReconKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending.remove(key)
	provisional, ok := p.provisionals[key]
	if !ok {
		return
	}
	delete(p.provisionals, key)

	list := p.lists[provisional.ConversationID]
	for i, m := range list {
		if m == provisional {
			p.lists[provisional.ConversationID] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// HandleSent processes the unicast self-echo: consume the pending key
// and upgrade the provisional copy's id and timestamp in place. If
// the broadcast path already confirmed it, this is a no-op.
func (p *Pipeline) HandleSent(ev *wire.MessageSent) {
	key := keyFor(ev.ConversationID, ev.ClientTime, payloadFromWire(ev.Text, ev.FileName, ev.FileType, ev.FileURL))

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending.remove(key)
	p.confirmLocked(key, ev.MessageID, ev.CreatedAt)
}

// HandleBroadcast processes a receiveMessage push. If the
// reconciliation key is pending, the message is the local sender's
// own echo arriving via the broadcast path: consume the entry,
// confirm the provisional copy, and drop the broadcast copy (no
// second bubble). Otherwise it is a genuinely new peer message,
// appended in receipt order. Returns the displayed message and
// whether it originated locally.
func (p *Pipeline) HandleBroadcast(ev *wire.ReceiveMessage) (msg *model.Message, own bool) {
	payload := payloadFromWire(ev.Text, ev.FileName, ev.FileType, ev.FileURL)
	key := keyFor(ev.ConversationID, ev.ClientTime, payload)

	p.mu.Lock()
	defer p.mu.Unlock()

	// At-least-once transport: a redelivered broadcast for an already
	// displayed confirmed message is dropped by server id.
	if _, dup := p.seen[ev.MessageID]; dup {
		return nil, ev.SenderID == p.userID
	}

	// Only the local sender's broadcasts may consume a pending key: a
	// peer message colliding on (conversation, clientTime, content)
	// is a new message, not an echo.
	if ev.SenderID == p.userID && p.pending.consume(key) {
		m := p.confirmLocked(key, ev.MessageID, ev.CreatedAt)
		return m, true
	}

	p.seen[ev.MessageID] = struct{}{}
	m := &model.Message{
		ID:             ev.MessageID,
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		Payload:        payload,
		CreatedAt:      ev.CreatedAt,
	}
	p.lists[ev.ConversationID] = append(p.lists[ev.ConversationID], m)
	return m, false
}

func (p *Pipeline) confirmLocked(key ReconKey, id int64, createdAt time.Time) *model.Message {
	provisional, ok := p.provisionals[key]
	if !ok {
		return nil
	}
	delete(p.provisionals, key)
	provisional.ID = id
	provisional.CreatedAt = createdAt
	p.seen[id] = struct{}{}
	return provisional
}

// HandleRead flips the read flag on the viewer's own message. The
// transition is one-directional; a confirmed message never goes back
// to unread.
func (p *Pipeline) HandleRead(conversationID string, messageID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.lists[conversationID] {
		if m.ID == messageID && m.SenderID == p.userID {
			m.Read = true
			return
		}
	}
}

// Rekey moves state parked under the pre-resolution placeholder to
// the real conversation id, once conversationCreated names it. List
// positions, pending keys, and provisional pointers all carry over.
func (p *Pipeline) Rekey(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	parked := p.lists[pendingConversation]
	if len(parked) == 0 {
		return
	}
	delete(p.lists, pendingConversation)
	for _, m := range parked {
		m.ConversationID = conversationID
	}
	p.lists[conversationID] = append(p.lists[conversationID], parked...)

	for key := range p.pending {
		if key.ConversationID == pendingConversation {
			moved := key
			moved.ConversationID = conversationID
			p.pending.remove(key)
			p.pending.add(moved)
		}
	}
	for key, m := range p.provisionals {
		if key.ConversationID == pendingConversation {
			moved := key
			moved.ConversationID = conversationID
			delete(p.provisionals, key)
			p.provisionals[moved] = m
		}
	}
}

// LoadHistory primes a conversation's display list from the REST
// read model. Meant for initial page load, before any live events.
func (p *Pipeline) LoadHistory(conversationID string, history []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := make([]*model.Message, len(history))
	for i := range history {
		m := history[i]
		list[i] = &m
		if m.ID != 0 {
			p.seen[m.ID] = struct{}{}
		}
	}
	p.lists[conversationID] = list
}

// Messages returns a snapshot of the display list in append order.
func (p *Pipeline) Messages(conversationID string) []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.lists[conversationID]
	out := make([]model.Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// PendingCount reports sends still awaiting confirmation.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func payloadFromWire(text, fileName, fileType, fileURL string) model.Payload {
	if fileName != "" {
		return model.Payload{Attachment: &model.Attachment{
			Name:      fileName,
			MimeType:  fileType,
			BinaryRef: fileURL,
		}}
	}
	return model.Payload{Text: text}
}
