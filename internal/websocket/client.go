package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	checkTimeout   = 5 * time.Second
)

// Conn is the part of a WebSocket connection the pumps use
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client represents a WebSocket client connection
type Client struct {
	ID   int64 // User ID
	conn Conn
	hub  *Hub
	send chan []byte

	// guarded by hub.mu
	subscriptions map[int64]struct{}
}

// NewClient creates a new WebSocket client
func NewClient(userID int64, conn Conn, hub *Hub) *Client {
	return &Client{
		ID:            userID,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[int64]struct{}),
	}
}

// ReadPump handles incoming commands from the client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error", zap.Int64("user_id", c.ID), zap.Error(err))
			}
			break
		}

		var incoming models.Event
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.sendError("bad_request", "Malformed event")
			continue
		}

		c.handleIncoming(incoming)
	}
}

// WritePump handles outgoing events to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("WebSocket write error", zap.Int64("user_id", c.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleIncoming processes the commands a client may send
func (c *Client) handleIncoming(event models.Event) {
	switch event.Type {
	case models.EventSubscribe:
		c.handleSubscribe(event.ConversationID)
	case models.EventUnsubscribe:
		c.hub.Unsubscribe(c, event.ConversationID)
	default:
		c.sendError("bad_request", "Unknown event type: "+string(event.Type))
	}
}

// handleSubscribe only lets participants follow a conversation
func (c *Client) handleSubscribe(conversationID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	ok, err := c.hub.members.IsParticipant(ctx, conversationID, c.ID)
	if err != nil {
		c.hub.logger.Error("Failed to check membership", zap.Int64("conversation_id", conversationID), zap.Error(err))
		c.sendError("internal", "Failed to subscribe")
		return
	}
	if !ok {
		c.sendError("forbidden", "Not a participant of this conversation")
		return
	}

	c.hub.Subscribe(c, conversationID)
}

func (c *Client) sendError(code, message string) {
	event, err := models.NewEvent(models.EventError, 0, models.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.hub.sendTo(c, event)
}
