// Package messenger wires the sync core together for one logged-in user.
package messenger

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ngabarin/messaging/internal/config"
	"ngabarin/messaging/internal/gateway"
	"ngabarin/messaging/internal/models"
	"ngabarin/messaging/internal/reconciler"
	"ngabarin/messaging/internal/session"
	"ngabarin/messaging/internal/typing"
)

// ErrNotLoggedIn is returned by operations that need a session.
var ErrNotLoggedIn = errors.New("not logged in")

const resyncTimeout = 10 * time.Second

// API is the REST surface the core consumes.
type API interface {
	reconciler.API
	reconciler.ListAPI
}

// Gateway is the push channel.
type Gateway interface {
	Connect(ctx context.Context, userID int64)
	Disconnect()
	Subscribe(conversationID int64, l gateway.Listener)
	Unsubscribe(conversationID int64)
	OnInbox(fn func(models.Message)) func()
	Watch(fn func(connected bool)) func()
	Connected() bool
}

// Notifier raises an alert for a message the user is not looking at.
type Notifier interface {
	Notify(msg models.Message)
}

// Option customizes a Messenger.
type Option func(*Messenger)

// WithNotifier sets the alert collaborator.
func WithNotifier(n Notifier) Option {
	return func(m *Messenger) { m.notifier = n }
}

// WithAfterFunc replaces the timer source of typing indicators.
func WithAfterFunc(fn typing.AfterFunc) Option {
	return func(m *Messenger) { m.afterFunc = fn }
}

// Messenger owns the session and every open conversation.
type Messenger struct {
	cfg       config.ClientConfig
	api       API
	gateway   Gateway
	logger    *zap.Logger
	notifier  Notifier
	afterFunc typing.AfterFunc

	mu     sync.Mutex
	sess   *session.Session
	list   *reconciler.List
	open   map[int64]*reconciler.Conversation
	cancel []func()
	wg     sync.WaitGroup
}

// New creates a logged-out messenger.
func New(cfg config.ClientConfig, api API, gw Gateway, logger *zap.Logger, opts ...Option) *Messenger {
	m := &Messenger{
		cfg:     cfg,
		api:     api,
		gateway: gw,
		logger:  logger,
		open:    make(map[int64]*reconciler.Conversation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login creates the session once, connects the push channel and loads the
// conversation list. A failed list load leaves the session usable.
func (m *Messenger) Login(ctx context.Context, userID int64) (*session.Session, error) {
	m.mu.Lock()
	if m.sess != nil {
		sess := m.sess
		m.mu.Unlock()
		if sess.UserID != userID {
			return nil, errors.New("another user is logged in")
		}
		return sess, nil
	}

	sess := session.New(userID, m.logger)
	list := reconciler.NewList(m.api, sess, m.logger, m.cfg.PageSize)
	m.sess = sess
	m.list = list
	m.cancel = []func(){
		m.gateway.OnInbox(m.handleInbox),
		m.gateway.Watch(m.handleConnection),
	}
	m.mu.Unlock()

	m.logger.Info("Messaging session started", zap.Int64("user_id", userID))
	m.gateway.Connect(ctx, userID)

	return sess, list.Refresh(ctx, "")
}

// Logout closes every conversation, disconnects and resets the counters.
func (m *Messenger) Logout() {
	m.mu.Lock()
	sess, list := m.sess, m.list
	if sess == nil {
		m.mu.Unlock()
		return
	}
	open := m.open
	cancel := m.cancel
	m.sess, m.list, m.cancel = nil, nil, nil
	m.open = make(map[int64]*reconciler.Conversation)
	m.mu.Unlock()

	for _, fn := range cancel {
		fn()
	}
	for _, c := range open {
		c.Close()
	}
	list.Close()
	m.gateway.Disconnect()
	m.wg.Wait()
	sess.End()

	m.logger.Info("Messaging session ended", zap.Int64("user_id", sess.UserID))
}

// Session returns the current session or nil.
func (m *Messenger) Session() *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// List returns the conversation list or nil when logged out.
func (m *Messenger) List() *reconciler.List {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list
}

// Open mounts a conversation screen. The returned conversation stays usable
// on error so the caller can Retry.
func (m *Messenger) Open(ctx context.Context, conversationID int64) (*reconciler.Conversation, error) {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	if c, ok := m.open[conversationID]; ok {
		m.mu.Unlock()
		return c, nil
	}

	c := reconciler.NewConversation(conversationID, m.api, m.gateway, m.sess, m.logger, reconciler.Options{
		PageSize:          m.cfg.PageSize,
		TypingQuietPeriod: m.cfg.TypingQuietPeriod,
		RemoteTypingTTL:   m.cfg.RemoteTypingTTL,
		AfterFunc:         m.afterFunc,
	})
	m.open[conversationID] = c
	m.mu.Unlock()

	return c, c.Open(ctx)
}

// Close unmounts a conversation screen.
func (m *Messenger) Close(conversationID int64) {
	m.mu.Lock()
	c, ok := m.open[conversationID]
	delete(m.open, conversationID)
	m.mu.Unlock()

	if ok {
		c.Close()
	}
}

// Leave leaves a conversation on the server and forgets it locally.
func (m *Messenger) Leave(ctx context.Context, conversationID int64) error {
	list := m.List()
	if list == nil {
		return ErrNotLoggedIn
	}
	m.Close(conversationID)
	return list.Leave(ctx, conversationID)
}

// MarkAllRead clears every unread counter and sends the read receipts.
func (m *Messenger) MarkAllRead(ctx context.Context) error {
	list := m.List()
	if list == nil {
		return ErrNotLoggedIn
	}
	return list.MarkAllRead(ctx)
}

// handleInbox sees every message.created event of the user.
func (m *Messenger) handleInbox(msg models.Message) {
	m.mu.Lock()
	sess, list := m.sess, m.list
	m.mu.Unlock()
	if sess == nil {
		return
	}

	mine := sess.IsMine(msg.SenderID)
	if !mine {
		sess.Unread.Increment(msg.ConversationID)
	}

	if !list.ApplyMessage(msg) {
		m.logger.Debug("Message for unknown conversation, refreshing list", zap.Int64("conversation_id", msg.ConversationID))
		m.background(func(ctx context.Context) {
			if err := list.Refresh(ctx, ""); err != nil {
				m.logger.Debug("List refresh after unknown conversation failed", zap.Error(err))
			}
		})
	}

	if !mine && m.notifier != nil && !sess.Gate.IsActive(msg.ConversationID) {
		m.notifier.Notify(msg)
	}
}

// handleConnection re-subscribes every open conversation after a reconnect.
func (m *Messenger) handleConnection(connected bool) {
	if !connected {
		return
	}

	m.mu.Lock()
	open := make([]*reconciler.Conversation, 0, len(m.open))
	for _, c := range m.open {
		open = append(open, c)
	}
	m.mu.Unlock()

	for _, c := range open {
		m.logger.Debug("Re-subscribing after reconnect", zap.Int64("conversation_id", c.ID()))
		c.Resubscribe(context.Background())
	}
}

func (m *Messenger) background(fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		defer cancel()
		fn(ctx)
	}()
}
