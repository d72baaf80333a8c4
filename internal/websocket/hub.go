package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"ngabarin/messaging/internal/metrics"
	"ngabarin/messaging/internal/models"
)

// Membership answers whether a user may subscribe to a conversation.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

// Option customizes a Hub
type Option func(*Hub)

// WithMetrics reports connections and dropped events to Prometheus
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub maintains the set of active clients and broadcasts events
type Hub struct {
	// Registered clients mapped by user ID
	Clients map[int64]*Client

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Clients subscribed to each conversation
	subscriptions map[int64]map[*Client]struct{}

	members Membership
	logger  *zap.Logger
	metrics *metrics.Metrics
	done    chan struct{}

	// Mutex for thread-safe operations
	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(members Membership, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		Clients:       make(map[int64]*Client),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		subscriptions: make(map[int64]map[*Client]struct{}),
		members:       members,
		logger:        logger,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop; it closes every client when ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Serve runs a connection until it closes
func (h *Hub) Serve(conn Conn, userID int64) {
	client := NewClient(userID, conn, h)

	select {
	case h.Register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump() // This blocks until connection closes
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// If user already has a connection, close the old one
	if existing, ok := h.Clients[client.ID]; ok {
		h.dropLocked(existing)
	}

	h.Clients[client.ID] = client
	h.reportConnections()

	h.logger.Info("Client connected", zap.Int64("user_id", client.ID))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Clients[client.ID] != client {
		return
	}
	h.dropLocked(client)
	h.reportConnections()

	h.logger.Info("Client disconnected", zap.Int64("user_id", client.ID))
}

// dropLocked forgets a client and closes its send channel; the caller holds mu
func (h *Hub) dropLocked(client *Client) {
	delete(h.Clients, client.ID)
	for conversationID := range client.subscriptions {
		h.removeSubscriberLocked(conversationID, client)
	}
	client.subscriptions = nil
	close(client.send)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.Clients {
		h.dropLocked(client)
	}
	h.reportConnections()
}

// unregister asks the run loop to drop a client without blocking after shutdown
func (h *Hub) unregister(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// Subscribe routes typing events of a conversation to the client
func (h *Hub) Subscribe(client *Client, conversationID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Clients[client.ID] != client {
		return false
	}

	subs, ok := h.subscriptions[conversationID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.subscriptions[conversationID] = subs
	}
	subs[client] = struct{}{}
	client.subscriptions[conversationID] = struct{}{}
	return true
}

// Unsubscribe stops routing a conversation's typing events to the client
func (h *Hub) Unsubscribe(client *Client, conversationID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Clients[client.ID] != client {
		return
	}
	h.removeSubscriberLocked(conversationID, client)
	delete(client.subscriptions, conversationID)
}

func (h *Hub) removeSubscriberLocked(conversationID int64, client *Client) {
	subs := h.subscriptions[conversationID]
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.subscriptions, conversationID)
	}
}

// BroadcastToUsers sends an event to every connected user of the list
func (h *Hub) BroadcastToUsers(userIDs []int64, event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userID := range userIDs {
		if client, ok := h.Clients[userID]; ok {
			h.deliverLocked(client, data)
		}
	}
}

// BroadcastToSubscribers sends an event to the subscribers of a conversation,
// skipping the given user
func (h *Hub) BroadcastToSubscribers(conversationID int64, event models.Event, excludeUserID int64) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.subscriptions[conversationID] {
		if client.ID == excludeUserID {
			continue
		}
		h.deliverLocked(client, data)
	}
}

// sendTo delivers an event to one client if it is still registered
func (h *Hub) sendTo(client *Client, event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.Clients[client.ID] == client {
		h.deliverLocked(client, data)
	}
}

// deliverLocked never blocks; a client whose buffer is full is dropped
func (h *Hub) deliverLocked(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn("Client buffer full, dropping connection", zap.Int64("user_id", client.ID))
		if h.metrics != nil {
			h.metrics.EventsDropped.Inc()
		}
		go h.unregister(client)
	}
}

func (h *Hub) reportConnections() {
	if h.metrics != nil {
		h.metrics.ActiveWebSockets.Set(float64(len(h.Clients)))
	}
}

// IsUserOnline checks if a user is currently connected
func (h *Hub) IsUserOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.Clients[userID]
	return ok
}

// GetOnlineUsers returns the currently connected user IDs in ascending order
func (h *Hub) GetOnlineUsers() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userIDs := make([]int64, 0, len(h.Clients))
	for userID := range h.Clients {
		userIDs = append(userIDs, userID)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	return userIDs
}

// GetOnlineCount returns the number of currently connected clients
func (h *Hub) GetOnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.Clients)
}

// SubscriberCount returns how many clients follow a conversation
func (h *Hub) SubscriberCount(conversationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscriptions[conversationID])
}
