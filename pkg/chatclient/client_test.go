package chatclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storeline/storechat/pkg/model"
	"github.com/storeline/storechat/pkg/wire"
)

func TestResolveExisting(t *testing.T) {
	c, ft := newTestClient(t, Identity{UserID: "cust-1", Role: model.RoleCustomer})

	done := make(chan struct{})
	var id string
	var err error
	go func() {
		defer close(done)
		id, err = c.Resolve(context.Background(), "own-1")
	}()

	require.Eventually(t, func() bool {
		for _, ev := range ft.sent() {
			if _, ok := ev.(*wire.CheckConversation); ok {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	c.dispatch(&wire.ConversationExists{ConversationID: "c1", CustomerID: "cust-1"})
	<-done

	require.NoError(t, err)
	require.Equal(t, "c1", id)

	// Resolution joins the conversation's broadcast channel.
	join, ok := ft.lastSent().(*wire.JoinConversation)
	require.True(t, ok)
	require.Equal(t, "c1", join.ConversationID)

	// Second resolve is answered from cache, no second query.
	queries := len(ft.sent())
	id2, err := c.Resolve(context.Background(), "own-1")
	require.NoError(t, err)
	require.Equal(t, "c1", id2)
	require.Len(t, ft.sent(), queries)
}

func TestResolveTimeout(t *testing.T) {
	c, _ := newTestClient(t, Identity{UserID: "cust-1", Role: model.RoleCustomer},
		WithResolveTimeout(30*time.Millisecond))

	_, err := c.Resolve(context.Background(), "own-1")
	require.ErrorIs(t, err, ErrResolutionTimeout)
}

// Replies addressed to other customers sharing the transport must be
// ignored by the local resolver.
func TestResolveFiltersForeignReplies(t *testing.T) {
	c, _ := newTestClient(t, Identity{UserID: "cust-1", Role: model.RoleCustomer},
		WithResolveTimeout(50*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), "own-1")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.dispatch(&wire.ConversationExists{ConversationID: "c-other", CustomerID: "cust-2"})

	require.ErrorIs(t, <-done, ErrResolutionTimeout)
	require.Empty(t, c.resolver.ConversationID("own-1"))
}

// A customer talking to two owners has two distinct conversations; the
// second owner must trigger its own query instead of reusing the first
// owner's cached id.
func TestResolvePerOwner(t *testing.T) {
	c, ft := newTestClient(t, Identity{UserID: "cust-1", Role: model.RoleCustomer})

	resolve := func(ownerID, conversationID string) string {
		done := make(chan struct{})
		var id string
		var err error
		queries := countQueries(ft)
		go func() {
			defer close(done)
			id, err = c.Resolve(context.Background(), ownerID)
		}()
		require.Eventually(t, func() bool {
			return countQueries(ft) == queries+1
		}, time.Second, 5*time.Millisecond)
		c.dispatch(&wire.ConversationExists{ConversationID: conversationID, CustomerID: "cust-1"})
		<-done
		require.NoError(t, err)
		return id
	}

	require.Equal(t, "c1", resolve("own-1", "c1"))
	require.Equal(t, "c2", resolve("own-2", "c2"))

	// The second query named the second owner.
	var owners []string
	for _, ev := range ft.sent() {
		if q, ok := ev.(*wire.CheckConversation); ok {
			owners = append(owners, q.OwnerID)
		}
	}
	require.Equal(t, []string{"own-1", "own-2"}, owners)

	// Both answers are cached independently.
	require.Equal(t, "c1", c.resolver.ConversationID("own-1"))
	require.Equal(t, "c2", c.resolver.ConversationID("own-2"))
}

func countQueries(ft *fakeTransport) int {
	n := 0
	for _, ev := range ft.sent() {
		if _, ok := ev.(*wire.CheckConversation); ok {
			n++
		}
	}
	return n
}

// First-message flow: no conversation exists, the customer sends
// "Hello", a startConversation goes out, conversationCreated names
// the id, then messageSent upgrades the provisional bubble in place.
func TestFirstMessageCreatesConversation(t *testing.T) {
	c, ft := newTestClient(t, Identity{UserID: "cust-1", Role: model.RoleCustomer})

	require.NoError(t, c.Send("", "own-1", textPayload("Hello")))

	start, ok := ft.lastSent().(*wire.StartConversation)
	require.True(t, ok)
	require.Equal(t, "cust-1", start.CustomerID)
	require.Equal(t, "own-1", start.OwnerID)
	require.Equal(t, "Hello", start.Text)

	require.Len(t, c.Messages(""), 1)

	c.dispatch(&wire.ConversationCreated{ConversationID: "c1", CustomerID: "cust-1"})

	// The provisional moved to the real conversation id.
	require.Empty(t, c.Messages(""))
	msgs := c.Messages("c1")
	require.Len(t, msgs, 1)
	require.False(t, msgs[0].Confirmed())

	serverTime := testClock.Add(60 * time.Millisecond)
	c.dispatch(&wire.MessageSent{
		ConversationID: "c1",
		MessageID:      101,
		ClientTime:     testClock.UnixMilli(),
		CreatedAt:      serverTime,
		Text:           "Hello",
	})

	msgs = c.Messages("c1")
	require.Len(t, msgs, 1)
	require.Equal(t, int64(101), msgs[0].ID)
	require.Equal(t, 0, c.pipeline.PendingCount())
}

func TestUnreadAccounting(t *testing.T) {
	c, _ := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner})
	c.PrimeInbox([]model.ConversationSummary{
		{ConversationID: "c1", CustomerID: "cust-1"},
		{ConversationID: "c2", CustomerID: "cust-2"},
	})
	c.OpenConversation("c1")

	// Broadcast to the open conversation: no unread.
	c.dispatch(&wire.ReceiveMessage{
		ConversationID: "c1", MessageID: 101, SenderID: "cust-1",
		CreatedAt: testClock, Text: "hi",
	})
	require.Equal(t, int64(0), c.Unread("c1"))

	// Broadcast to a closed conversation increments by exactly one.
	c.dispatch(&wire.ReceiveMessage{
		ConversationID: "c2", MessageID: 102, SenderID: "cust-2",
		CreatedAt: testClock, Text: "hello?",
	})
	require.Equal(t, int64(1), c.Unread("c2"))

	// Opening resets that count and leaves others unchanged.
	c.dispatch(&wire.ReceiveMessage{
		ConversationID: "c2", MessageID: 103, SenderID: "cust-2",
		CreatedAt: testClock, Text: "anyone?",
	})
	require.Equal(t, int64(2), c.Unread("c2"))
	c.OpenConversation("c2")
	require.Equal(t, int64(0), c.Unread("c2"))
	require.Equal(t, int64(0), c.Unread("c1"))
}

func TestPreviewOverwrittenUnconditionally(t *testing.T) {
	c, _ := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner})
	c.PrimeInbox([]model.ConversationSummary{{ConversationID: "c1", CustomerID: "cust-1"}})

	c.dispatch(&wire.ReceiveMessage{
		ConversationID: "c1", MessageID: 101, SenderID: "cust-1",
		CreatedAt: testClock, Text: "first",
	})
	require.NoError(t, c.Send("c1", "cust-1", textPayload("reply")))
	c.dispatch(&wire.MessageSent{
		ConversationID: "c1", MessageID: 102,
		ClientTime: testClock.UnixMilli(), CreatedAt: testClock.Add(time.Second), Text: "reply",
	})

	rows := c.Conversations()
	require.Len(t, rows, 1)
	require.Equal(t, "reply", rows[0].LastMessage)
}

// A conversation first seen through one's own send still gets a
// summary row naming the peer, not an anonymous one.
func TestOwnSendCreatesSummaryWithPeer(t *testing.T) {
	c, _ := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner})

	require.NoError(t, c.Send("c1", "cust-1", textPayload("hello")))
	c.dispatch(&wire.MessageSent{
		ConversationID: "c1", MessageID: 101,
		ClientTime: testClock.UnixMilli(), CreatedAt: testClock, Text: "hello",
	})

	rows := c.Conversations()
	require.Len(t, rows, 1)
	require.Equal(t, "cust-1", rows[0].CustomerID)
	require.Equal(t, "hello", rows[0].LastMessage)
}

func TestNewConversationPush(t *testing.T) {
	c, ft := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner})

	c.dispatch(&wire.NewConversation{
		ConversationID: "c9",
		CustomerID:     "cust-9",
		CustomerName:   "Dana",
		LastMessage:    "Hi there",
	})

	rows := c.Conversations()
	require.Len(t, rows, 1)
	require.Equal(t, "cust-9", rows[0].CustomerID)
	require.Equal(t, "Dana", rows[0].CustomerName)

	// The owner subscribes to the fresh conversation right away.
	join, ok := ft.lastSent().(*wire.JoinConversation)
	require.True(t, ok)
	require.Equal(t, "c9", join.ConversationID)
}

func TestTypingLastWriteWinsAndExpiry(t *testing.T) {
	c, _ := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner},
		WithTypingExpiry(30*time.Millisecond))

	c.dispatch(&wire.UserTyping{ConversationID: "c1", UserID: "cust-1", IsTyping: true})
	require.True(t, c.PeerTyping("c1", "cust-1"))

	c.dispatch(&wire.UserTyping{ConversationID: "c1", UserID: "cust-1", IsTyping: false})
	require.False(t, c.PeerTyping("c1", "cust-1"))

	// A lost not-typing signal: the local expiry clears the stale
	// indicator on its own.
	c.dispatch(&wire.UserTyping{ConversationID: "c1", UserID: "cust-1", IsTyping: true})
	require.Eventually(t, func() bool {
		return !c.PeerTyping("c1", "cust-1")
	}, time.Second, 5*time.Millisecond)
}

func TestSendForcesTypingFalse(t *testing.T) {
	c, ft := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner})

	require.NoError(t, c.SetTyping("c1", true))
	require.NoError(t, c.Send("c1", "cust-1", textPayload("done typing")))

	events := ft.sent()
	require.GreaterOrEqual(t, len(events), 3)
	typingOff, ok := events[len(events)-2].(*wire.Typing)
	require.True(t, ok)
	require.False(t, typingOff.IsTyping)
}

func TestPresenceTransitions(t *testing.T) {
	c, _ := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner})

	require.False(t, c.Online("cust-1"))
	c.dispatch(&wire.UserOnline{UserID: "cust-1", IsOnline: true})
	require.True(t, c.Online("cust-1"))
	c.dispatch(&wire.UserOnline{UserID: "cust-1", IsOnline: false})
	require.False(t, c.Online("cust-1"))
}

func TestReadReceiptOneDirectional(t *testing.T) {
	c, _ := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner})

	require.NoError(t, c.Send("c1", "cust-1", textPayload("seen yet?")))
	c.dispatch(&wire.MessageSent{
		ConversationID: "c1", MessageID: 101,
		ClientTime: testClock.UnixMilli(), CreatedAt: testClock, Text: "seen yet?",
	})

	c.dispatch(&wire.MessageRead{ConversationID: "c1", MessageID: 101})
	msgs := c.Messages("c1")
	require.True(t, msgs[0].Read)

	// A peer's message is never flipped by the viewer's own receipt.
	c.dispatch(&wire.ReceiveMessage{
		ConversationID: "c1", MessageID: 102, SenderID: "cust-1",
		CreatedAt: testClock, Text: "yes",
	})
	c.dispatch(&wire.MessageRead{ConversationID: "c1", MessageID: 102})
	msgs = c.Messages("c1")
	require.False(t, msgs[1].Read)
}

func TestServerErrorSurfacedWithoutStateDamage(t *testing.T) {
	c, _ := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner})

	require.NoError(t, c.Send("c1", "cust-1", textPayload("Hi")))
	c.dispatch(&wire.ErrorEvent{Message: "rate limited"})

	require.Equal(t, "rate limited", c.LastError())
	require.Len(t, c.Messages("c1"), 1)
	require.Equal(t, 1, c.pipeline.PendingCount())
}

// Full loop through the dispatch goroutine: events pushed on the
// transport channel are serialized and applied.
func TestRunLoopDispatch(t *testing.T) {
	c, ft := newTestClient(t, Identity{UserID: "own-1", Role: model.RoleOwner})
	c.Start()
	defer c.Close()

	ft.states <- StateConnected
	ft.events <- &wire.ReceiveMessage{
		ConversationID: "c1", MessageID: 101, SenderID: "cust-1",
		CreatedAt: testClock, Text: "hi",
	}

	require.Eventually(t, func() bool {
		return len(c.Messages("c1")) == 1
	}, time.Second, 5*time.Millisecond)

	// The connected transition registered the client.
	var registered bool
	for _, ev := range ft.sent() {
		if reg, ok := ev.(*wire.Register); ok {
			registered = reg.UserID == "own-1" && reg.Role == string(model.RoleOwner)
		}
	}
	require.True(t, registered)
	require.Equal(t, StateConnected, c.ConnState())
}
