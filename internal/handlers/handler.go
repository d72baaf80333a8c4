package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/database"
	"ngabarin/messaging/internal/metrics"
	"ngabarin/messaging/internal/models"
	ws "ngabarin/messaging/internal/websocket"
)

// Store is the persistence the handlers need
type Store interface {
	ListConversations(ctx context.Context, userID int64, search string, page, perPage int) ([]models.Conversation, int, error)
	GetConversation(ctx context.Context, conversationID, userID int64) (*models.Conversation, error)
	Messages(ctx context.Context, conversationID int64, page, perPage int) (models.Page, error)
	FindOrCreateDirect(ctx context.Context, userID, otherID int64) (*models.Conversation, bool, error)
	CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (*models.Message, error)
	MarkAsRead(ctx context.Context, conversationID, userID int64) error
	Leave(ctx context.Context, conversationID, userID int64) error
	UserName(ctx context.Context, userID int64) (string, error)
	ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

// Hub fans push events out to connected clients
type Hub interface {
	BroadcastToUsers(userIDs []int64, event models.Event)
	BroadcastToSubscribers(conversationID int64, event models.Event, excludeUserID int64)
	Serve(conn ws.Conn, userID int64)
	GetOnlineCount() int
	GetOnlineUsers() []int64
}

// Handler serves the messaging REST API and the push channel endpoint
type Handler struct {
	store   Store
	hub     Hub
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a handler; m may be nil
func New(store Store, hub Hub, logger *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{store: store, hub: hub, logger: logger, metrics: m}
}

// Health reports that the API is up
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "Ngabarin API is running",
	})
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// storeError maps store failures onto responses
func (h *Handler) storeError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return fail(c, fiber.StatusNotFound, "Conversation not found")
	case errors.Is(err, database.ErrNotParticipant):
		return fail(c, fiber.StatusForbidden, "Not a participant of this conversation")
	case errors.Is(err, database.ErrUserNotFound):
		return fail(c, fiber.StatusNotFound, "User not found")
	}

	h.logger.Error(fallback, zap.Error(err), zap.Any("request_id", c.Locals("requestID")))
	if h.metrics != nil {
		h.metrics.DatabaseErrors.Inc()
	}
	return fail(c, fiber.StatusInternalServerError, fallback)
}

func conversationID(c *fiber.Ctx) (int64, bool) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, false
	}
	return int64(id), true
}
