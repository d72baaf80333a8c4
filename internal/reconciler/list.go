package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"ngabarin/messaging/internal/guard"
	"ngabarin/messaging/internal/models"
	"ngabarin/messaging/internal/session"
)

// ListSnapshot is what the conversation list renders.
type ListSnapshot struct {
	Conversations []models.Conversation
	Search        string
	Loading       bool
	Err           error
	TotalUnread   int
}

// List keeps the user's conversations ordered by last activity.
type List struct {
	api     ListAPI
	sess    *session.Session
	logger  *zap.Logger
	perPage int
	scope   *guard.Scope
	refresh *guard.Site

	// serializes capture and delivery of snapshots
	notifyMu sync.Mutex

	mu            sync.Mutex
	conversations []models.Conversation
	search        string
	loading       bool
	err           error
	observers     map[int]func(ListSnapshot)
	nextObs       int
}

// NewList creates an empty list.
func NewList(api ListAPI, sess *session.Session, logger *zap.Logger, perPage int) *List {
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	scope := guard.NewScope()
	return &List{
		api:       api,
		sess:      sess,
		logger:    logger,
		perPage:   perPage,
		scope:     scope,
		refresh:   scope.Site(),
		observers: make(map[int]func(ListSnapshot)),
	}
}

// Refresh reloads the list. An unfiltered refresh also replaces the unread
// counters with the server snapshot. Results of superseded calls are dropped.
func (l *List) Refresh(ctx context.Context, search string) error {
	ticket := l.refresh.Begin()

	l.mu.Lock()
	l.loading = true
	l.search = search
	l.mu.Unlock()
	l.notify()

	res, err := l.api.ListConversations(ctx, search, 1, l.perPage)
	if !ticket.Current() {
		l.logger.Debug("Discarding stale conversation list", zap.String("search", search), zap.Uint64("request_id", ticket.ID()))
		return nil
	}

	if err != nil {
		l.mu.Lock()
		l.loading = false
		l.err = err
		l.mu.Unlock()

		l.logger.Warn("Failed to load conversations", zap.Error(err))
		l.notify()
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	conversations := append([]models.Conversation(nil), res.Conversations...)
	sortByActivity(conversations)

	l.mu.Lock()
	l.conversations = conversations
	l.loading = false
	l.err = nil
	l.mu.Unlock()

	if search == "" {
		perConversation := make(map[int64]int, len(conversations))
		for _, c := range conversations {
			perConversation[c.ID] = c.UnreadCount
		}
		total := res.TotalUnreadCount
		// the active conversation is being read right now
		if id, ok := l.sess.Gate.Active(); ok {
			total -= perConversation[id]
			delete(perConversation, id)
		}
		l.sess.Unread.Load(total, perConversation)
	}

	l.notify()
	return nil
}

// ApplyMessage moves the conversation of msg to the top with a fresh preview.
// It reports false when the conversation is not in the list.
func (l *List) ApplyMessage(msg models.Message) bool {
	l.mu.Lock()
	i := l.indexLocked(msg.ConversationID)
	if i < 0 {
		l.mu.Unlock()
		return false
	}
	l.conversations[i].Touch(msg)
	sortByActivity(l.conversations)
	l.mu.Unlock()

	l.notify()
	return true
}

// Upsert inserts or replaces a conversation, e.g. after a rename.
func (l *List) Upsert(conv models.Conversation) {
	l.mu.Lock()
	if i := l.indexLocked(conv.ID); i >= 0 {
		l.conversations[i] = conv
	} else {
		l.conversations = append(l.conversations, conv)
	}
	sortByActivity(l.conversations)
	l.mu.Unlock()

	l.notify()
}

// FindOrCreate opens the direct conversation with userID and puts it in the list.
func (l *List) FindOrCreate(ctx context.Context, userID int64) (*models.FindOrCreateResponse, error) {
	res, err := l.api.FindOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation with user %d: %w", userID, err)
	}
	if l.scope.Mounted() {
		l.Upsert(res.Conversation)
	}
	return res, nil
}

// Leave leaves the conversation on the server, then forgets it locally.
func (l *List) Leave(ctx context.Context, conversationID int64) error {
	if err := l.api.Leave(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to leave conversation %d: %w", conversationID, err)
	}
	l.Remove(conversationID)
	return nil
}

// MarkAllRead zeroes every counter at once, then sends a read receipt for
// each conversation that had unread messages. Receipt failures are joined
// into the returned error; the local counters stay at zero regardless.
func (l *List) MarkAllRead(ctx context.Context) error {
	counts := l.sess.Unread.Snapshot()
	l.sess.Unread.MarkAllRead()
	l.notify()

	ids := make([]int64, 0, len(counts.Conversations))
	for id := range counts.Conversations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids {
		if err := l.api.MarkAsRead(ctx, id); err != nil {
			l.logger.Debug("Read receipt not delivered", zap.Int64("conversation_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("conversation %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Remove drops a conversation the user left or was removed from.
func (l *List) Remove(conversationID int64) {
	l.mu.Lock()
	if i := l.indexLocked(conversationID); i >= 0 {
		l.conversations = append(l.conversations[:i], l.conversations[i+1:]...)
	}
	l.mu.Unlock()

	l.sess.Gate.Clear(conversationID)
	l.sess.Unread.Remove(conversationID)
	l.notify()
}

// Conversations returns the list with live unread counts.
func (l *List) Conversations() []models.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conversationsLocked()
}

// Snapshot returns the current list state.
func (l *List) Snapshot() ListSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// OnChange registers an observer called after every visible change.
func (l *List) OnChange(fn func(ListSnapshot)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextObs
	l.nextObs++
	l.observers[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}
}

// Close discards in-flight refreshes.
func (l *List) Close() {
	l.scope.Unmount()
}

func (l *List) indexLocked(id int64) int {
	for i, c := range l.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (l *List) conversationsLocked() []models.Conversation {
	out := make([]models.Conversation, len(l.conversations))
	for i, c := range l.conversations {
		c.UnreadCount = l.sess.Unread.Count(c.ID)
		out[i] = c
	}
	return out
}

func (l *List) snapshotLocked() ListSnapshot {
	return ListSnapshot{
		Conversations: l.conversationsLocked(),
		Search:        l.search,
		Loading:       l.loading,
		Err:           l.err,
		TotalUnread:   l.sess.Unread.Total(),
	}
}

func (l *List) notify() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if len(l.observers) == 0 {
		l.mu.Unlock()
		return
	}
	snap := l.snapshotLocked()
	observers := make([]func(ListSnapshot), 0, len(l.observers))
	for _, fn := range l.observers {
		observers = append(observers, fn)
	}
	l.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// sortByActivity orders newest activity first, ties by id descending.
func sortByActivity(conversations []models.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID > b.ID
	})
}
