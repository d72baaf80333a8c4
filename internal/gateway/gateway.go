// Package gateway keeps the push channel open and routes its events to
// per-conversation listeners.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fasthttp/websocket"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/models"
)

const (
	pingPeriod   = 54 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffered = 256
)

// Listener receives the events of one subscribed conversation.
type Listener interface {
	OnMessage(msg models.Message)
	OnTypingChanged(userID int64, name string, isTyping bool)
	OnConnectionStateChanged(connected bool)
}

// Gateway is the client side of the push channel.
// Subscriptions belong to the caller: after a drop every listener is told
// and forgotten, and the caller re-subscribes once Watch reports true.
type Gateway struct {
	url        string
	token      string
	dialer     Dialer
	newBackOff func() backoff.BackOff
	logger     *zap.Logger

	mu        sync.Mutex
	userID    int64
	connected bool
	send      chan []byte
	listeners map[int64]Listener
	inbox     map[int]func(models.Message)
	watchers  map[int]func(bool)
	nextID    int
	cancel    context.CancelFunc
	done      chan struct{}
	conn      Conn
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(g *Gateway) { g.dialer = d }
}

// WithBackOff replaces the reconnect policy.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(g *Gateway) { g.newBackOff = fn }
}

// DefaultBackOff retries forever: 500ms, doubling, capped at maxInterval.
func DefaultBackOff(maxInterval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.Multiplier = 2
		b.MaxInterval = maxInterval
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// New creates a disconnected gateway for url.
func New(url, token string, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		url:        url,
		token:      token,
		dialer:     NewWSDialer(writeWait),
		newBackOff: DefaultBackOff(30 * time.Second),
		logger:     logger,
		listeners:  make(map[int64]Listener),
		inbox:      make(map[int]func(models.Message)),
		watchers:   make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect starts the background connection loop for userID. It returns
// immediately; failures are retried until Disconnect.
func (g *Gateway) Connect(ctx context.Context, userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.userID = userID
	g.cancel = cancel
	g.done = make(chan struct{})

	go g.run(loopCtx, g.done)
}

// Disconnect stops the loop and closes the connection.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	cancel, done, conn := g.cancel, g.done, g.conn
	if cancel == nil {
		g.mu.Unlock()
		return
	}
	g.cancel = nil
	// cancel under the lock so serve cannot adopt a connection afterwards
	cancel()
	g.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	<-done
}

// Connected reports whether the channel is currently up.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Subscribe routes events of conversationID to l, replacing any previous listener.
// While disconnected the subscription is sent as soon as the channel comes up.
func (g *Gateway) Subscribe(conversationID int64, l Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.listeners[conversationID] = l
	if g.connected {
		g.enqueueLocked(models.EventSubscribe, conversationID)
	}
}

// Unsubscribe stops routing events of conversationID.
func (g *Gateway) Unsubscribe(conversationID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.listeners[conversationID]; !ok {
		return
	}
	delete(g.listeners, conversationID)
	if g.connected {
		g.enqueueLocked(models.EventUnsubscribe, conversationID)
	}
}

// OnInbox registers a handler for every message.created event delivered to
// the user, subscribed or not.
func (g *Gateway) OnInbox(fn func(models.Message)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID
	g.nextID++
	g.inbox[id] = fn
	return func() {
		g.mu.Lock()
		delete(g.inbox, id)
		g.mu.Unlock()
	}
}

// Watch registers a connection state observer.
func (g *Gateway) Watch(fn func(connected bool)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID
	g.nextID++
	g.watchers[id] = fn
	return func() {
		g.mu.Lock()
		delete(g.watchers, id)
		g.mu.Unlock()
	}
}

func (g *Gateway) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := backoff.WithContext(g.newBackOff(), ctx)
	for {
		conn, err := g.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				g.logger.Error("Push channel reconnect abandoned", zap.Error(err))
				return
			}
			g.logger.Warn("Push channel unavailable, retrying", zap.Error(err), zap.Duration("retry_in", wait))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		b.Reset()
		g.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
	}
}

func (g *Gateway) dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if g.token != "" {
		header.Set("Authorization", "Bearer "+g.token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return g.dialer.Dial(dialCtx, g.url, header)
}

// serve runs one connection until it drops.
func (g *Gateway) serve(ctx context.Context, conn Conn) {
	send := make(chan []byte, sendBuffered)
	stop := make(chan struct{})

	g.mu.Lock()
	if ctx.Err() != nil {
		g.mu.Unlock()
		conn.Close()
		return
	}
	g.conn = conn
	g.send = send
	g.connected = true
	// subscriptions registered while offline
	for id := range g.listeners {
		g.enqueueLocked(models.EventSubscribe, id)
	}
	watchers := g.watchersLocked()
	g.mu.Unlock()

	g.logger.Info("Push channel connected", zap.Int64("user_id", g.userID))
	for _, fn := range watchers {
		fn(true)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writePump(conn, send, stop)
	}()

	g.readPump(conn)

	close(stop)
	<-writerDone
	conn.Close()

	g.mu.Lock()
	g.conn = nil
	g.send = nil
	g.connected = false
	listeners := make([]Listener, 0, len(g.listeners))
	for _, l := range g.listeners {
		listeners = append(listeners, l)
	}
	g.listeners = make(map[int64]Listener)
	watchers = g.watchersLocked()
	g.mu.Unlock()

	g.logger.Info("Push channel disconnected", zap.Int64("user_id", g.userID))
	for _, l := range listeners {
		l.OnConnectionStateChanged(false)
	}
	for _, fn := range watchers {
		fn(false)
	}
}

func (g *Gateway) readPump(conn Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("Push channel read failed", zap.Error(err))
			}
			return
		}

		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			g.logger.Warn("Failed to parse push event", zap.Error(err))
			continue
		}
		g.dispatch(event)
	}
}

func (g *Gateway) writePump(conn Conn, send <-chan []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				g.logger.Debug("Push channel write failed", zap.Error(err))
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (g *Gateway) dispatch(event models.Event) {
	switch event.Type {
	case models.EventMessageCreated:
		var msg models.Message
		if err := json.Unmarshal(event.Payload, &msg); err != nil {
			g.logger.Warn("Invalid message.created payload", zap.Error(err))
			return
		}
		if msg.ConversationID == 0 {
			msg.ConversationID = event.ConversationID
		}

		g.mu.Lock()
		inbox := make([]func(models.Message), 0, len(g.inbox))
		for _, fn := range g.inbox {
			inbox = append(inbox, fn)
		}
		l := g.listeners[msg.ConversationID]
		g.mu.Unlock()

		for _, fn := range inbox {
			fn(msg)
		}
		if l != nil {
			l.OnMessage(msg)
		}

	case models.EventTypingChanged:
		var p models.TypingPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			g.logger.Warn("Invalid typing.changed payload", zap.Error(err))
			return
		}

		g.mu.Lock()
		l := g.listeners[event.ConversationID]
		g.mu.Unlock()

		if l != nil {
			l.OnTypingChanged(p.UserID, p.UserName, p.IsTyping)
		}

	case models.EventError:
		var p models.ErrorPayload
		_ = json.Unmarshal(event.Payload, &p)
		g.logger.Warn("Push channel reported an error",
			zap.Int64("conversation_id", event.ConversationID),
			zap.String("code", p.Code),
			zap.String("message", p.Message),
		)

	default:
		g.logger.Debug("Ignoring push event", zap.String("type", string(event.Type)))
	}
}

// enqueueLocked must be called with mu held.
func (g *Gateway) enqueueLocked(eventType models.EventType, conversationID int64) {
	event, err := models.NewEvent(eventType, conversationID, nil)
	if err != nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		g.logger.Error("Failed to encode push command", zap.Error(err))
		return
	}

	select {
	case g.send <- data:
	default:
		g.logger.Warn("Push channel send buffer full, dropping command",
			zap.String("type", string(eventType)),
			zap.Int64("conversation_id", conversationID),
		)
	}
}

func (g *Gateway) watchersLocked() []func(bool) {
	watchers := make([]func(bool), 0, len(g.watchers))
	for _, fn := range g.watchers {
		watchers = append(watchers, fn)
	}
	return watchers
}
