package session

import (
	"sync"

	"go.uber.org/zap"
)

// Counts is a point-in-time copy of the unread state handed to observers.
type Counts struct {
	Total          int
	Conversations  map[int64]int
	ConversationID int64 // conversation touched by the mutation, 0 for bulk changes
}

// Unread is the single source of truth for unread counters.
// Every mutation goes through one mutex; counters never go negative.
// Observers see snapshots in mutation order and must not mutate the
// aggregator themselves.
type Unread struct {
	// held from capture through delivery so observers never see an older
	// snapshot after a newer one
	notifyMu sync.Mutex

	mu        sync.Mutex
	perConv   map[int64]int
	total     int
	gate      *Gate
	observers map[int]func(Counts)
	nextObs   int
	logger    *zap.Logger
}

// NewUnread creates an empty aggregator consulting gate for suppression.
func NewUnread(gate *Gate, logger *zap.Logger) *Unread {
	return &Unread{
		perConv:   make(map[int64]int),
		gate:      gate,
		observers: make(map[int]func(Counts)),
		logger:    logger,
	}
}

// Load replaces the whole state with a server snapshot. The server-computed
// total is authoritative even if it differs from the sum of the page it came with.
func (u *Unread) Load(total int, perConversation map[int64]int) {
	u.notifyMu.Lock()
	defer u.notifyMu.Unlock()

	u.mu.Lock()
	u.perConv = make(map[int64]int, len(perConversation))
	for id, n := range perConversation {
		if n > 0 {
			u.perConv[id] = n
		}
	}
	u.total = max(total, 0)
	counts := u.countsLocked(0)
	u.mu.Unlock()

	u.logger.Debug("Unread snapshot loaded", zap.Int("total", counts.Total), zap.Int("conversations", len(counts.Conversations)))
	u.notify(counts)
}

// Increment counts one new message for the conversation unless it is the
// active one. It reports whether the counters changed.
func (u *Unread) Increment(conversationID int64) bool {
	u.notifyMu.Lock()
	defer u.notifyMu.Unlock()

	// the gate is read under mu so an Activate followed by MarkRead cannot
	// slip between the check and the increment
	u.mu.Lock()
	if u.gate != nil && u.gate.IsActive(conversationID) {
		u.mu.Unlock()
		u.logger.Debug("Unread increment suppressed, conversation is active", zap.Int64("conversation_id", conversationID))
		return false
	}
	u.perConv[conversationID]++
	u.total++
	counts := u.countsLocked(conversationID)
	u.mu.Unlock()

	u.notify(counts)
	return true
}

// MarkRead zeroes the conversation counter and subtracts the same amount from
// the total. It returns the amount cleared.
func (u *Unread) MarkRead(conversationID int64) int {
	u.notifyMu.Lock()
	defer u.notifyMu.Unlock()

	u.mu.Lock()
	n := u.perConv[conversationID]
	if n == 0 {
		u.mu.Unlock()
		return 0
	}
	delete(u.perConv, conversationID)
	u.total = max(u.total-n, 0)
	counts := u.countsLocked(conversationID)
	u.mu.Unlock()

	u.notify(counts)
	return n
}

// Remove forgets a conversation the user left or was removed from.
func (u *Unread) Remove(conversationID int64) {
	u.MarkRead(conversationID)
}

// MarkAllRead zeroes every counter.
func (u *Unread) MarkAllRead() {
	u.clear()
}

// Reset drops all counters, used on logout.
func (u *Unread) Reset() {
	u.clear()
}

func (u *Unread) clear() {
	u.notifyMu.Lock()
	defer u.notifyMu.Unlock()

	u.mu.Lock()
	u.perConv = make(map[int64]int)
	u.total = 0
	counts := u.countsLocked(0)
	u.mu.Unlock()

	u.notify(counts)
}

// Count returns the unread count of one conversation.
func (u *Unread) Count(conversationID int64) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.perConv[conversationID]
}

// Total returns the global unread count.
func (u *Unread) Total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total
}

// Sum recomputes the total from the per-conversation counters.
func (u *Unread) Sum() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	sum := 0
	for _, n := range u.perConv {
		sum += n
	}
	return sum
}

// Snapshot returns a copy of the current counters.
func (u *Unread) Snapshot() Counts {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.countsLocked(0)
}

// Subscribe registers a badge observer called after every change.
// The returned func removes it.
func (u *Unread) Subscribe(fn func(Counts)) func() {
	u.mu.Lock()
	id := u.nextObs
	u.nextObs++
	u.observers[id] = fn
	u.mu.Unlock()

	return func() {
		u.mu.Lock()
		delete(u.observers, id)
		u.mu.Unlock()
	}
}

func (u *Unread) countsLocked(conversationID int64) Counts {
	perConv := make(map[int64]int, len(u.perConv))
	for id, n := range u.perConv {
		perConv[id] = n
	}
	return Counts{Total: u.total, Conversations: perConv, ConversationID: conversationID}
}

// notify must be called with notifyMu held.
func (u *Unread) notify(counts Counts) {
	u.mu.Lock()
	observers := make([]func(Counts), 0, len(u.observers))
	for _, fn := range u.observers {
		observers = append(observers, fn)
	}
	u.mu.Unlock()

	for _, fn := range observers {
		fn(counts)
	}
}
