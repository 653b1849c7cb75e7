package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/storeline/storechat/pkg/conversation"
	"github.com/storeline/storechat/pkg/snowflake"
	"github.com/storeline/storechat/pkg/wire"
)

const presenceKey = "chat:online"

// recordPublisher is the slice of kafka.Writer the hub needs;
// narrowed so tests can capture published records.
type recordPublisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Hub routes client events: it is the authority for conversation
// creation, assigns message ids and timestamps, unicasts messageSent
// echoes, and publishes everything broadcast-shaped to Kafka. The
// fanout consumer delivers Kafka records back out to the connected
// participants, so every gateway instance sees every broadcast.
type Hub struct {
	log zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool // conversation_id -> clients
	users map[string]map[*Client]bool // user_id -> clients (global tracking)
	names map[string]string           // user_id -> display name, from register

	store    conversation.Store
	producer recordPublisher
	redis    *redis.Client
	node     *snowflake.Node
	newID    func() string
	now      func() time.Time
}

func NewHub(store conversation.Store, producer recordPublisher, rdb *redis.Client, node *snowflake.Node, log zerolog.Logger) *Hub {
	return &Hub{
		log:      log,
		rooms:    make(map[string]map[*Client]bool),
		users:    make(map[string]map[*Client]bool),
		names:    make(map[string]string),
		store:    store,
		producer: producer,
		redis:    rdb,
		node:     node,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// RegisterClient tracks the connection under its user id.
func (h *Hub) RegisterClient(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[*Client]bool)
	}
	h.users[c.UserID][c] = true
	h.mu.Unlock()
	h.log.Info().Str("user", c.UserID).Str("role", c.Role).Msg("client connected")
}

// Unregister drops the connection from every room and the user map,
// and broadcasts the offline transition when it was the user's last
// connection.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	for id, room := range h.rooms {
		if room[c] {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, id)
			}
		}
	}
	last := false
	if clients, ok := h.users[c.UserID]; ok && clients[c] {
		delete(clients, c)
		close(c.send)
		if len(clients) == 0 {
			delete(h.users, c.UserID)
			delete(h.names, c.UserID)
			last = true
		}
	}
	h.mu.Unlock()

	if last {
		if err := h.redis.SRem(context.Background(), presenceKey, c.UserID).Err(); err != nil {
			h.log.Warn().Err(err).Str("user", c.UserID).Msg("presence clear failed")
		}
		h.publish(&wire.Record{Kind: wire.KindPresence, UserID: c.UserID, IsOnline: false})
	}
	h.log.Info().Str("user", c.UserID).Msg("client disconnected")
}

// handle dispatches one decoded client event. It runs on the
// connection's read goroutine; hub maps are guarded by mu.
func (h *Hub) handle(c *Client, ev wire.Event) {
	switch ev := ev.(type) {
	case *wire.Register:
		h.onRegister(c, ev)
	case *wire.CheckConversation:
		h.onCheck(c, ev)
	case *wire.JoinConversation:
		h.onJoin(c, ev)
	case *wire.StartConversation:
		h.onStart(c, ev)
	case *wire.SendMessage:
		h.onSend(c, ev)
	case *wire.Typing:
		h.publish(&wire.Record{
			Kind:           wire.KindTyping,
			ConversationID: ev.ConversationID,
			UserID:         c.UserID,
			IsTyping:       ev.IsTyping,
		})
	case *wire.MarkAsRead:
		h.publish(&wire.Record{
			Kind:           wire.KindRead,
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
			UserID:         c.UserID,
		})
	default:
		h.sendError(c, "unsupported event")
	}
}

func (h *Hub) onRegister(c *Client, ev *wire.Register) {
	if ev.Role != "" {
		c.Role = ev.Role
	}
	if ev.DisplayName != "" {
		h.mu.Lock()
		h.names[c.UserID] = ev.DisplayName
		h.mu.Unlock()
	}
	if err := h.redis.SAdd(context.Background(), presenceKey, c.UserID).Err(); err != nil {
		h.log.Warn().Err(err).Str("user", c.UserID).Msg("presence set failed")
	}
	h.publish(&wire.Record{Kind: wire.KindPresence, UserID: c.UserID, IsOnline: true})
}

// onCheck answers the resolution query. The plain lookup serves the
// common case of an existing pair; creation is the strict
// test-and-set: concurrent checks for one pair converge on a single
// conversation id, decided by the store, never by clients.
func (h *Hub) onCheck(c *Client, ev *wire.CheckConversation) {
	ctx := context.Background()
	if rec, err := h.store.Lookup(ctx, ev.CustomerID, ev.OwnerID); err == nil {
		h.join(c, rec.ID)
		h.unicast(c, &wire.ConversationExists{ConversationID: rec.ID, CustomerID: ev.CustomerID})
		return
	} else if !errors.Is(err, conversation.ErrNotFound) {
		h.log.Error().Err(err).Msg("conversation lookup failed")
		h.sendError(c, "conversation lookup failed")
		return
	}

	rec, created, err := h.store.CreateOrGet(ctx, ev.CustomerID, ev.OwnerID, h.newID())
	if err != nil {
		h.log.Error().Err(err).Msg("conversation resolve failed")
		h.sendError(c, "conversation lookup failed")
		return
	}

	h.join(c, rec.ID)
	if created {
		h.unicast(c, &wire.ConversationCreated{ConversationID: rec.ID, CustomerID: ev.CustomerID})
		h.notifyOwner(rec, "")
	} else {
		h.unicast(c, &wire.ConversationExists{ConversationID: rec.ID, CustomerID: ev.CustomerID})
	}
}

// onStart creates-or-reuses the conversation and delivers the first
// message atomically with it.
func (h *Hub) onStart(c *Client, ev *wire.StartConversation) {
	ctx := context.Background()
	rec, created, err := h.store.CreateOrGet(ctx, ev.CustomerID, ev.OwnerID, h.newID())
	if err != nil {
		h.log.Error().Err(err).Msg("conversation create failed")
		h.sendError(c, "conversation create failed")
		return
	}

	h.join(c, rec.ID)
	if created {
		h.unicast(c, &wire.ConversationCreated{ConversationID: rec.ID, CustomerID: ev.CustomerID})
	} else {
		h.unicast(c, &wire.ConversationExists{ConversationID: rec.ID, CustomerID: ev.CustomerID})
	}

	first := &wire.SendMessage{
		ConversationID: rec.ID,
		SenderID:       ev.CustomerID,
		ReceiverID:     ev.OwnerID,
		ClientTime:     ev.ClientTime,
		Text:           ev.Text,
		FileName:       ev.FileName,
		FileType:       ev.FileType,
		FileURL:        ev.FileURL,
	}
	preview := ""
	if first.Text != "" || first.FileName != "" {
		h.confirm(c, first)
		preview = first.Text
		if preview == "" {
			preview = first.FileName
		}
	}
	if created {
		h.notifyOwner(rec, preview)
	}
}

// onJoin subscribes the connection to a conversation's broadcast
// channel. Membership is checked against the registry: only the pair's
// customer and owner may listen in.
func (h *Hub) onJoin(c *Client, ev *wire.JoinConversation) {
	rec := h.participant(c, ev.ConversationID)
	if rec == nil {
		return
	}
	h.join(c, rec.ID)
}

func (h *Hub) onSend(c *Client, ev *wire.SendMessage) {
	if ev.Text == "" && ev.FileName == "" {
		h.sendError(c, "empty message")
		return
	}
	rec := h.participant(c, ev.ConversationID)
	if rec == nil {
		return
	}
	ev.SenderID = c.UserID
	if ev.ReceiverID == "" {
		if c.UserID == rec.CustomerID {
			ev.ReceiverID = rec.OwnerID
		} else {
			ev.ReceiverID = rec.CustomerID
		}
	}
	h.confirm(c, ev)
}

// participant resolves the conversation and verifies the connection's
// user belongs to it. A nil return means an error event was already
// sent.
func (h *Hub) participant(c *Client, conversationID string) *conversation.Record {
	rec, err := h.store.Participants(context.Background(), conversationID)
	if err != nil {
		h.sendError(c, "unknown conversation")
		return nil
	}
	if c.UserID != rec.CustomerID && c.UserID != rec.OwnerID {
		h.sendError(c, "not a participant")
		return nil
	}
	return rec
}

// confirm assigns the server id and authoritative timestamp, echoes
// messageSent to the sender only, and publishes the broadcast record.
// The broadcast carries the sender's clientTime so the sender can
// recognize its own echo on the broadcast path.
func (h *Hub) confirm(c *Client, ev *wire.SendMessage) {
	id := h.node.Generate()
	createdAt := h.now().UTC()

	h.unicast(c, &wire.MessageSent{
		ConversationID: ev.ConversationID,
		MessageID:      id,
		ClientTime:     ev.ClientTime,
		CreatedAt:      createdAt,
		Text:           ev.Text,
		FileName:       ev.FileName,
		FileType:       ev.FileType,
		FileURL:        ev.FileURL,
	})

	h.publish(&wire.Record{
		Kind:           wire.KindMessage,
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		SenderRole:     c.Role,
		ReceiverID:     ev.ReceiverID,
		MessageID:      id,
		ClientTime:     ev.ClientTime,
		CreatedAt:      createdAt,
		Text:           ev.Text,
		FileName:       ev.FileName,
		FileType:       ev.FileType,
		FileURL:        ev.FileURL,
	})
}

// notifyOwner pushes newConversation to the owner's live connections.
// The customer's display name comes from their register event; the id
// stands in when they never sent one.
func (h *Hub) notifyOwner(rec *conversation.Record, lastMessage string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	name := h.names[rec.CustomerID]
	if name == "" {
		name = rec.CustomerID
	}
	frame, err := wire.Encode(&wire.NewConversation{
		ConversationID: rec.ID,
		CustomerID:     rec.CustomerID,
		CustomerName:   name,
		LastMessage:    lastMessage,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("encode newConversation")
		return
	}
	for client := range h.users[rec.OwnerID] {
		h.enqueue(client, frame)
	}
}

func (h *Hub) join(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[conversationID] = room
	}
	room[c] = true
}

// RunFanout consumes the Kafka topic and delivers records to the
// connected clients this instance holds.
func (h *Hub) RunFanout(ctx context.Context, reader *kafka.Reader) {
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.Error().Err(err).Msg("fanout consumer error")
			return
		}

		var rec wire.Record
		if err := json.Unmarshal(m.Value, &rec); err != nil {
			h.log.Warn().Err(err).Msg("bad fanout record")
			continue
		}
		h.deliver(&rec)
	}
}

// deliver routes one fanout record to its audience.
func (h *Hub) deliver(rec *wire.Record) {
	switch rec.Kind {
	case wire.KindMessage:
		ev := &wire.ReceiveMessage{
			ConversationID: rec.ConversationID,
			MessageID:      rec.MessageID,
			SenderID:       rec.SenderID,
			ClientTime:     rec.ClientTime,
			CreatedAt:      rec.CreatedAt,
			Text:           rec.Text,
			FileName:       rec.FileName,
			FileType:       rec.FileType,
			FileURL:        rec.FileURL,
		}
		frame, err := wire.Encode(ev)
		if err != nil {
			h.log.Error().Err(err).Msg("encode receiveMessage")
			return
		}

		// Deliver to the room plus both participants' connections
		// globally, so an owner who has not opened the conversation
		// still gets the unread/preview update.
		h.mu.RLock()
		targets := make(map[*Client]bool)
		for client := range h.rooms[rec.ConversationID] {
			targets[client] = true
		}
		for client := range h.users[rec.SenderID] {
			targets[client] = true
		}
		for client := range h.users[rec.ReceiverID] {
			targets[client] = true
		}
		for client := range targets {
			h.enqueue(client, frame)
		}
		h.mu.RUnlock()

	case wire.KindTyping:
		h.toRoomExcept(rec.ConversationID, rec.UserID, &wire.UserTyping{
			ConversationID: rec.ConversationID,
			UserID:         rec.UserID,
			IsTyping:       rec.IsTyping,
		})

	case wire.KindRead:
		h.toRoomExcept(rec.ConversationID, rec.UserID, &wire.MessageRead{
			ConversationID: rec.ConversationID,
			MessageID:      rec.MessageID,
		})

	case wire.KindPresence:
		ev := &wire.UserOnline{UserID: rec.UserID, IsOnline: rec.IsOnline}
		frame, err := wire.Encode(ev)
		if err != nil {
			return
		}
		h.mu.RLock()
		for _, clients := range h.users {
			for client := range clients {
				if client.UserID == rec.UserID {
					continue
				}
				h.enqueue(client, frame)
			}
		}
		h.mu.RUnlock()
	}
}

func (h *Hub) toRoomExcept(conversationID, exceptUserID string, ev wire.ServerEvent) {
	frame, err := wire.Encode(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("encode room event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[conversationID] {
		if client.UserID == exceptUserID {
			continue
		}
		h.enqueue(client, frame)
	}
}

func (h *Hub) unicast(c *Client, ev wire.ServerEvent) {
	frame, err := wire.Encode(ev)
	if err != nil {
		h.log.Error().Err(err).Str("event", ev.EventName()).Msg("encode failed")
		return
	}
	// Membership check under the read lock: a concurrently
	// unregistering client has a closed send channel.
	h.mu.RLock()
	if h.users[c.UserID][c] {
		h.enqueue(c, frame)
	}
	h.mu.RUnlock()
}

// enqueue drops the connection if its send buffer is full; the
// writePump is stuck and the client will reconnect.
func (h *Hub) enqueue(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.log.Warn().Str("user", c.UserID).Msg("send buffer full, dropping client")
	}
}

func (h *Hub) sendError(c *Client, message string) {
	h.unicast(c, &wire.ErrorEvent{Message: message})
}

func (h *Hub) publish(rec *wire.Record) {
	value, err := json.Marshal(rec)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal record")
		return
	}
	err = h.producer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(rec.ConversationID),
		Value: value,
		Time:  h.now(),
	})
	if err != nil {
		h.log.Error().Err(err).Str("kind", string(rec.Kind)).Msg("publish failed")
	}
}
