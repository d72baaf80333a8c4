package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ngabarin/messaging/internal/guard"
	"ngabarin/messaging/internal/models"
	"ngabarin/messaging/internal/session"
	"ngabarin/messaging/internal/typing"
)

// ErrEmptyMessage is returned by Send for a blank compose field.
var ErrEmptyMessage = errors.New("message cannot be empty")

const (
	DefaultPageSize = 50

	readReceiptTimeout = 10 * time.Second
)

// State of a conversation screen.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MessageView is a message with its display fields derived for the current user.
type MessageView struct {
	models.Message
	Mine bool
	Time string // 15:04
	Date string // 02.01.2006
}

// Snapshot is what a conversation screen renders.
type Snapshot struct {
	ConversationID int64
	Conversation   *models.Conversation
	Participants   []models.Participant
	State          State
	Err            error // history fetch failure, set in StateFailed
	SendErr        error
	FailedText     string // text of the last failed send, kept until the next send
	Messages       []MessageView
	HasMore        bool
	Draft          string
	Typing         []typing.User
	Connected      bool
}

// Options tune a Conversation.
type Options struct {
	PageSize          int
	TypingQuietPeriod time.Duration
	RemoteTypingTTL   time.Duration
	AfterFunc         typing.AfterFunc
}

// Conversation reconciles one conversation's history with its push events.
type Conversation struct {
	id      int64
	api     API
	gateway Subscriber
	sess    *session.Session
	logger  *zap.Logger
	perPage int

	scope     *guard.Scope
	history   *guard.Site
	older     *guard.Site
	indicator *typing.Indicator
	tracker   *typing.Tracker
	wg        sync.WaitGroup

	// serializes capture and delivery of snapshots
	notifyMu sync.Mutex

	mu           sync.Mutex
	state        State
	err          error
	sendErr      error
	failedText   string
	messages     []models.Message
	pending      []models.Message
	page         int
	lastPage     int
	conversation *models.Conversation
	participants []models.Participant
	draft        string
	connected    bool
	closed       bool
	observers    map[int]func(Snapshot)
	nextObs      int
}

// NewConversation creates an idle conversation screen.
func NewConversation(id int64, api API, gw Subscriber, sess *session.Session, logger *zap.Logger, opts Options) *Conversation {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = typing.RealAfterFunc
	}
	logger = logger.With(zap.Int64("conversation_id", id))

	scope := guard.NewScope()
	c := &Conversation{
		id:        id,
		api:       api,
		gateway:   gw,
		sess:      sess,
		logger:    logger,
		perPage:   opts.PageSize,
		scope:     scope,
		history:   scope.Site(),
		older:     scope.Site(),
		observers: make(map[int]func(Snapshot)),
	}

	indicatorOpts := []typing.IndicatorOption{typing.WithAfterFunc(opts.AfterFunc)}
	if opts.TypingQuietPeriod > 0 {
		indicatorOpts = append(indicatorOpts, typing.WithQuietPeriod(opts.TypingQuietPeriod))
	}
	c.indicator = typing.NewIndicator(id, api, logger, indicatorOpts...)
	c.tracker = typing.NewTracker(opts.RemoteTypingTTL, opts.AfterFunc, func([]typing.User) { c.notify() })
	return c
}

// ID returns the conversation id.
func (c *Conversation) ID() int64 {
	return c.id
}

// Open activates the conversation: the gate points here, the local unread
// counter is zeroed, push events are subscribed and page 1 is fetched.
func (c *Conversation) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.sess.Gate.Activate(c.id)
	c.sess.Unread.MarkRead(c.id)
	c.gateway.Subscribe(c.id, c)

	c.mu.Lock()
	c.connected = c.gateway.Connected()
	c.mu.Unlock()

	return c.load(ctx)
}

// Retry reloads the history after a failed fetch.
func (c *Conversation) Retry(ctx context.Context) error {
	c.mu.Lock()
	failed := c.state == StateFailed
	c.mu.Unlock()

	if !failed {
		return nil
	}
	return c.load(ctx)
}

func (c *Conversation) load(ctx context.Context) error {
	ticket := c.history.Begin()

	c.mu.Lock()
	c.state = StateLoading
	c.err = nil
	c.mu.Unlock()
	c.notify()

	detail, err := c.api.GetConversation(ctx, c.id, 1, c.perPage)
	if !ticket.Current() {
		c.logger.Debug("Discarding stale history response", zap.Uint64("request_id", ticket.ID()))
		return nil
	}

	c.mu.Lock()
	if err != nil {
		c.state = StateFailed
		c.err = err
		c.mu.Unlock()

		c.logger.Warn("Failed to load conversation history", zap.Error(err))
		c.notify()
		return fmt.Errorf("failed to load conversation %d: %w", c.id, err)
	}

	// server truth replaces whatever was shown, then buffered pushes are folded in
	c.messages, _ = merge(nil, detail.Messages.Data...)
	c.messages, _ = merge(c.messages, c.pending...)
	c.pending = nil
	c.page = max(detail.Messages.CurrentPage, 1)
	c.lastPage = detail.Messages.LastPage
	conv := detail.Conversation
	c.conversation = &conv
	c.participants = detail.Participants
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Debug("Conversation history loaded", zap.Int("messages", len(detail.Messages.Data)))
	c.notify()
	c.markRead()
	return nil
}

// LoadOlder fetches the next page of older messages.
func (c *Conversation) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateReady || c.page >= c.lastPage {
		c.mu.Unlock()
		return nil
	}
	next := c.page + 1
	c.mu.Unlock()

	ticket := c.older.Begin()
	detail, err := c.api.GetConversation(ctx, c.id, next, c.perPage)
	if !ticket.Current() {
		return nil
	}
	if err != nil {
		c.logger.Warn("Failed to load older messages", zap.Int("page", next), zap.Error(err))
		return fmt.Errorf("failed to load page %d of conversation %d: %w", next, c.id, err)
	}

	c.mu.Lock()
	var added int
	c.messages, added = merge(c.messages, detail.Messages.Data...)
	c.page = max(detail.Messages.CurrentPage, next)
	c.lastPage = detail.Messages.LastPage
	c.mu.Unlock()

	c.logger.Debug("Older messages loaded", zap.Int("page", next), zap.Int("added", added))
	c.notify()
	return nil
}

// Resubscribe re-registers for push events after the channel came back and
// fetches page 1 again to fill whatever was missed while offline.
func (c *Conversation) Resubscribe(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = true
	ready := c.state == StateReady
	c.wg.Add(1)
	c.mu.Unlock()

	c.gateway.Subscribe(c.id, c)
	c.notify()

	go func() {
		defer c.wg.Done()
		if !ready {
			return
		}

		ticket := c.history.Begin()
		detail, err := c.api.GetConversation(ctx, c.id, 1, c.perPage)
		if !ticket.Current() {
			return
		}
		if err != nil {
			c.logger.Debug("Gap fill after reconnect failed", zap.Error(err))
			return
		}

		c.mu.Lock()
		var added int
		c.messages, added = merge(c.messages, detail.Messages.Data...)
		c.mu.Unlock()

		if added > 0 {
			c.notify()
			c.markRead()
		}
	}()
}

// Send delivers text and appends the stored message once the server confirmed it.
// On failure the text goes back into an empty draft and stays in FailedText
// either way, next to the error.
func (c *Conversation) Send(ctx context.Context, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	c.draft = ""
	c.sendErr = nil
	c.failedText = ""
	c.mu.Unlock()
	c.indicator.ForceStop()
	c.notify()

	msg, err := c.api.SendMessage(ctx, c.id, text)
	if err != nil {
		c.mu.Lock()
		if c.draft == "" {
			c.draft = text
		}
		c.sendErr = err
		c.failedText = text
		c.mu.Unlock()

		c.logger.Warn("Failed to send message", zap.Error(err))
		c.notify()
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if c.scope.Mounted() {
		c.mu.Lock()
		c.messages, _ = insert(c.messages, *msg)
		c.mu.Unlock()
		c.notify()
	}
	return msg, nil
}

// SetDraft updates the compose field and feeds the typing indicator.
func (c *Conversation) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()

	c.indicator.Update(strings.TrimSpace(text) != "")
	c.notify()
}

// OnMessage merges a pushed message.
func (c *Conversation) OnMessage(msg models.Message) {
	if msg.ConversationID != c.id {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state != StateReady {
		c.pending = append(c.pending, msg)
		c.mu.Unlock()
		return
	}

	var added bool
	c.messages, added = insert(c.messages, msg)
	if added && c.conversation != nil {
		c.conversation.Touch(msg)
	}
	c.mu.Unlock()

	if !added {
		c.logger.Debug("Duplicate message discarded", zap.Int64("message_id", msg.ID))
		return
	}
	c.notify()
	if !c.sess.IsMine(msg.SenderID) {
		c.markRead()
	}
}

// OnTypingChanged records a remote typing event.
func (c *Conversation) OnTypingChanged(userID int64, name string, isTyping bool) {
	if c.sess.IsMine(userID) {
		return
	}
	c.tracker.Set(userID, name, isTyping)
}

// OnConnectionStateChanged updates the connectivity indicator.
func (c *Conversation) OnConnectionStateChanged(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
	c.notify()
}

// Close unsubscribes, clears the gate if it still points here, stops typing
// and discards every in-flight result.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.scope.Unmount()
	c.observers = make(map[int]func(Snapshot))
	c.mu.Unlock()

	c.gateway.Unsubscribe(c.id)
	c.sess.Gate.Clear(c.id)
	c.indicator.Close()
	c.tracker.Clear()
	c.wg.Wait()
}

// OnChange registers an observer called after every visible change.
func (c *Conversation) OnChange(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current view state.
func (c *Conversation) Snapshot() Snapshot {
	users := c.tracker.Users()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(users)
}

func (c *Conversation) snapshotLocked(users []typing.User) Snapshot {
	views := make([]MessageView, len(c.messages))
	for i, m := range c.messages {
		local := m.CreatedAt.Local()
		views[i] = MessageView{
			Message: m,
			Mine:    m.IsMine(c.sess.UserID),
			Time:    local.Format("15:04"),
			Date:    local.Format("02.01.2006"),
		}
	}

	var conv *models.Conversation
	if c.conversation != nil {
		cp := *c.conversation
		conv = &cp
	}

	return Snapshot{
		ConversationID: c.id,
		Conversation:   conv,
		Participants:   append([]models.Participant(nil), c.participants...),
		State:          c.state,
		Err:            c.err,
		SendErr:        c.sendErr,
		FailedText:     c.failedText,
		Messages:       views,
		HasMore:        c.page < c.lastPage,
		Draft:          c.draft,
		Typing:         users,
		Connected:      c.connected,
	}
}

// notify hands the current state to every observer. Observers run one
// delivery at a time, in capture order, and must not call notify themselves.
func (c *Conversation) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	users := c.tracker.Users()

	c.mu.Lock()
	if len(c.observers) == 0 {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked(users)
	observers := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// markRead zeroes the local counter and tells the server, fire and forget.
func (c *Conversation) markRead() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.sess.Unread.MarkRead(c.id)

	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), readReceiptTimeout)
		defer cancel()
		if err := c.api.MarkAsRead(ctx, c.id); err != nil {
			c.logger.Debug("Read receipt not delivered", zap.Error(err))
		}
	}()
}
