// Package chatclient is the client half of the chat protocol: it
// turns the at-least-once, partially-ordered transport into a display
// model that behaves as if delivery were exactly-once and causally
// ordered. All state is instance-scoped so multiple independent
// clients can coexist in one process.
package chatclient

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/storeline/storechat/pkg/model"
	"github.com/storeline/storechat/pkg/wire"
)

// Identity is the local user.
type Identity struct {
	UserID      string
	Role        model.Role
	DisplayName string
}

// Option tunes a Client.
type Option func(*Client)

// WithResolveTimeout overrides the wait for conversation resolution.
func WithResolveTimeout(d time.Duration) Option {
	return func(c *Client) { c.resolveTimeout = d }
}

// WithTypingExpiry overrides the auto-clear window for received
// typing signals.
func WithTypingExpiry(d time.Duration) Option {
	return func(c *Client) { c.typingExpiry = d }
}

// WithClock substitutes the provisional-timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithEventHook installs a callback invoked after each server push is
// applied, on the dispatch goroutine. UIs use it to re-render.
func WithEventHook(hook func(wire.ServerEvent)) Option {
	return func(c *Client) { c.hook = hook }
}

// Client wires the transport to the pipeline, resolver, and trackers,
// and runs the single dispatch loop that serializes all inbound
// handling.
type Client struct {
	identity       Identity
	transport      Transport
	log            zerolog.Logger
	now            func() time.Time
	resolveTimeout time.Duration
	typingExpiry   time.Duration
	hook           func(wire.ServerEvent)

	pipeline *Pipeline
	resolver *Resolver
	presence *PresenceTracker
	typing   *TypingTracker
	inbox    *Inbox

	mu        sync.Mutex
	connState ConnState
	lastError string
	joined    map[string]bool
	peers     map[string]string // conversation -> peer user id

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Client over an established transport. Call Start to
// begin dispatching.
func New(transport Transport, identity Identity, opts ...Option) *Client {
	c := &Client{
		identity:  identity,
		transport: transport,
		log:       zerolog.Nop(),
		now:       time.Now,
		joined:    make(map[string]bool),
		peers:     make(map[string]string),
		connState: StateConnecting,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.pipeline = newPipeline(transport.Emit, identity.UserID, c.now)
	c.resolver = newResolver(transport.Emit, identity.UserID, c.resolveTimeout)
	c.presence = newPresenceTracker()
	c.typing = newTypingTracker(c.typingExpiry)
	c.inbox = newInbox()
	return c
}

// Start launches the dispatch loop. Registration happens on the first
// connected transition (and again after every reconnect, along with
// rejoining subscribed conversations).
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Close stops dispatching and tears down the transport.
func (c *Client) Close() error {
	c.doneOnce.Do(func() { close(c.done) })
	err := c.transport.Close()
	c.wg.Wait()
	c.typing.stop()
	return err
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case st, ok := <-c.transport.States():
			if !ok {
				return
			}
			c.onState(st)
		case ev, ok := <-c.transport.Events():
			if !ok {
				c.onState(StateFailed)
				return
			}
			c.dispatch(ev)
		}
	}
}

func (c *Client) onState(st ConnState) {
	c.mu.Lock()
	c.connState = st
	joined := make([]string, 0, len(c.joined))
	for id := range c.joined {
		joined = append(joined, id)
	}
	c.mu.Unlock()

	if st != StateConnected {
		return
	}

	// Fresh socket: announce presence and resubscribe.
	reg := &wire.Register{
		UserID:      c.identity.UserID,
		Role:        string(c.identity.Role),
		DisplayName: c.identity.DisplayName,
	}
	if err := c.transport.Emit(reg); err != nil {
		c.log.Warn().Err(err).Msg("register failed")
	}
	for _, id := range joined {
		if err := c.transport.Emit(&wire.JoinConversation{ConversationID: id}); err != nil {
			c.log.Warn().Err(err).Str("conversation", id).Msg("rejoin failed")
		}
	}
}

// dispatch covers every member of the server-push union; handlers run
// to completion before the next event is processed.
func (c *Client) dispatch(ev wire.ServerEvent) {
	switch ev := ev.(type) {
	case *wire.ConversationExists:
		c.onResolved(ev.ConversationID, ev.CustomerID)
	case *wire.ConversationCreated:
		c.onResolved(ev.ConversationID, ev.CustomerID)
	case *wire.ReceiveMessage:
		msg, own := c.pipeline.HandleBroadcast(ev)
		if msg != nil {
			peer := ev.SenderID
			if own {
				peer = c.peerOf(ev.ConversationID)
			} else {
				c.setPeer(ev.ConversationID, ev.SenderID)
			}
			c.inbox.record(ev.ConversationID, peer, msg.Payload.Preview(), ev.CreatedAt, own)
		}
	case *wire.MessageSent:
		c.pipeline.HandleSent(ev)
		preview := payloadFromWire(ev.Text, ev.FileName, ev.FileType, ev.FileURL).Preview()
		c.inbox.record(ev.ConversationID, c.peerOf(ev.ConversationID), preview, ev.CreatedAt, true)
	case *wire.UserTyping:
		c.typing.set(ev.ConversationID, ev.UserID, ev.IsTyping)
	case *wire.MessageRead:
		c.pipeline.HandleRead(ev.ConversationID, ev.MessageID)
	case *wire.NewConversation:
		c.inbox.add(ev.ConversationID, ev.CustomerID, ev.CustomerName, ev.LastMessage)
		c.join(ev.ConversationID)
	case *wire.UserOnline:
		c.presence.set(ev.UserID, ev.IsOnline)
	case *wire.ErrorEvent:
		c.mu.Lock()
		c.lastError = ev.Message
		c.mu.Unlock()
		c.log.Warn().Str("message", ev.Message).Msg("server error")
	}

	if c.hook != nil {
		c.hook(ev)
	}
}

func (c *Client) onResolved(conversationID, customerID string) {
	if !c.resolver.HandleResponse(conversationID, customerID) {
		return // addressed to another client on this transport
	}
	c.pipeline.Rekey(conversationID)
	c.mu.Lock()
	if peer, ok := c.peers[pendingConversation]; ok {
		delete(c.peers, pendingConversation)
		c.peers[conversationID] = peer
	}
	c.mu.Unlock()
	c.join(conversationID)
}

func (c *Client) peerOf(conversationID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[conversationID]
}

func (c *Client) setPeer(conversationID, peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[conversationID] = peerID
}

func (c *Client) join(conversationID string) {
	c.mu.Lock()
	already := c.joined[conversationID]
	c.joined[conversationID] = true
	c.mu.Unlock()
	if already {
		return
	}
	if err := c.transport.Emit(&wire.JoinConversation{ConversationID: conversationID}); err != nil {
		c.log.Warn().Err(err).Str("conversation", conversationID).Msg("join failed")
	}
}

// Resolve finds or creates the conversation with ownerID. On
// ErrResolutionTimeout the client stays usable: the first Send with
// an empty conversation id starts the conversation itself.
func (c *Client) Resolve(ctx context.Context, ownerID string) (string, error) {
	id, err := c.resolver.Resolve(ctx, ownerID)
	if err == nil {
		c.setPeer(id, ownerID)
	}
	return id, err
}

// Send validates the payload locally, then hands it to the pipeline.
// An empty conversationID means no conversation has been resolved
// yet: the send becomes a startConversation with peerID as the owner.
// Sending forces the local typing state to false.
func (c *Client) Send(conversationID, peerID string, payload model.Payload) error {
	if payload.Empty() {
		return ErrEmptyPayload
	}
	if a := payload.Attachment; a != nil && a.Size > model.MaxAttachmentSize {
		return ErrAttachmentTooLarge
	}

	if conversationID != "" {
		c.emitTyping(conversationID, false)
	}
	if err := c.pipeline.Send(conversationID, peerID, payload); err != nil {
		return err
	}
	if peerID != "" {
		c.setPeer(conversationID, peerID)
	}
	return nil
}

// SetTyping emits the typing transition for the conversation.
func (c *Client) SetTyping(conversationID string, isTyping bool) error {
	return c.transport.Emit(&wire.Typing{
		ConversationID: conversationID,
		UserID:         c.identity.UserID,
		IsTyping:       isTyping,
	})
}

func (c *Client) emitTyping(conversationID string, isTyping bool) {
	if err := c.SetTyping(conversationID, isTyping); err != nil {
		c.log.Debug().Err(err).Msg("typing emit failed")
	}
}

// MarkAsRead marks a peer's message read; the peer's copy transitions
// unread to read when the resulting messageRead push lands there.
func (c *Client) MarkAsRead(conversationID string, messageID int64) error {
	return c.transport.Emit(&wire.MarkAsRead{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

// OpenConversation makes the conversation current: joins its channel
// and resets its unread count.
func (c *Client) OpenConversation(conversationID string) {
	c.inbox.Open(conversationID)
	c.join(conversationID)
}

// LoadHistory primes a display list from the REST read model.
func (c *Client) LoadHistory(conversationID string, history []model.Message) {
	c.pipeline.LoadHistory(conversationID, history)
}

// PrimeInbox seeds the conversation list from the REST read model.
func (c *Client) PrimeInbox(rows []model.ConversationSummary) {
	c.inbox.Prime(rows)
}

// Messages returns the display list snapshot for a conversation.
func (c *Client) Messages(conversationID string) []model.Message {
	return c.pipeline.Messages(conversationID)
}

// Conversations returns the owner-side list, most recent first.
func (c *Client) Conversations() []model.ConversationSummary {
	return c.inbox.Snapshot()
}

// Unread returns one conversation's unread count.
func (c *Client) Unread(conversationID string) int64 {
	return c.inbox.Unread(conversationID)
}

// Online reports a peer's presence.
func (c *Client) Online(userID string) bool {
	return c.presence.Online(userID)
}

// PeerTyping reports whether the peer is typing in the conversation.
func (c *Client) PeerTyping(conversationID, userID string) bool {
	return c.typing.PeerTyping(conversationID, userID)
}

// ConnState returns the last observed transport state.
func (c *Client) ConnState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// LastError returns the most recent server-reported error message,
// empty if none.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}
