package chatclient

import (
	"sort"
	"sync"
	"time"

	"github.com/storeline/storechat/pkg/model"
)

// Inbox is the owner-side conversation list read model: one row per
// conversation with last-message preview and unread count. A
// broadcast for a conversation that is not the open one increments
// its unread count; opening a conversation resets its count to zero
// and touches no other row. Preview and time are overwritten
// unconditionally by every confirmed send or receive.
type Inbox struct {
	mu   sync.Mutex
	rows map[string]*model.ConversationSummary
	open string
}

func newInbox() *Inbox {
	return &Inbox{rows: make(map[string]*model.ConversationSummary)}
}

// Prime seeds the list from the REST read model on initial load.
func (in *Inbox) Prime(rows []model.ConversationSummary) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i := range rows {
		r := rows[i]
		in.rows[r.ConversationID] = &r
	}
}

// Open makes the conversation the current one and zeroes its unread
// count. All other counts are untouched.
func (in *Inbox) Open(conversationID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.open = conversationID
	if row, ok := in.rows[conversationID]; ok {
		row.UnreadCount = 0
	}
}

// OpenID returns the currently open conversation, empty if none.
func (in *Inbox) OpenID() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.open
}

// record applies one confirmed send or receive. fromSelf suppresses
// unread accounting: only peer broadcasts count as unread.
func (in *Inbox) record(conversationID, peerID, preview string, at time.Time, fromSelf bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	row, ok := in.rows[conversationID]
	if !ok {
		row = &model.ConversationSummary{ConversationID: conversationID}
		in.rows[conversationID] = row
	}
	if row.CustomerID == "" {
		row.CustomerID = peerID
	}
	row.LastMessage = preview
	row.LastTime = at
	if !fromSelf && conversationID != in.open {
		row.UnreadCount++
	}
}

// add registers a freshly created conversation pushed via
// newConversation.
func (in *Inbox) add(conversationID, customerID, customerName, lastMessage string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	row, ok := in.rows[conversationID]
	if !ok {
		row = &model.ConversationSummary{ConversationID: conversationID}
		in.rows[conversationID] = row
	}
	row.CustomerID = customerID
	if customerName != "" {
		row.CustomerName = customerName
	}
	if lastMessage != "" {
		row.LastMessage = lastMessage
	}
}

// Unread returns the unread count for one conversation.
func (in *Inbox) Unread(conversationID string) int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	if row, ok := in.rows[conversationID]; ok {
		return row.UnreadCount
	}
	return 0
}

// Snapshot returns the rows sorted most-recent first.
func (in *Inbox) Snapshot() []model.ConversationSummary {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]model.ConversationSummary, 0, len(in.rows))
	for _, row := range in.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTime.After(out[j].LastTime)
	})
	return out
}
