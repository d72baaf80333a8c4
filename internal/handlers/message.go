package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/middleware"
	"ngabarin/messaging/internal/models"
)

const (
	maxMessageLength = 4000
	fanoutTimeout    = 5 * time.Second
)

// SendMessage stores a message and pushes message.created to every
// participant, the sender included
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	var req models.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	body := strings.TrimSpace(req.Message)
	if req.ConversationID <= 0 || body == "" {
		return fail(c, fiber.StatusBadRequest, "Conversation ID and message are required")
	}
	if len(body) > maxMessageLength {
		return fail(c, fiber.StatusBadRequest, "Message is too long")
	}

	message, err := h.store.CreateMessage(c.UserContext(), req.ConversationID, userID, body)
	if err != nil {
		return h.storeError(c, err, "Failed to send message")
	}
	if h.metrics != nil {
		h.metrics.MessagesSent.Inc()
	}

	h.fanOut(*message)

	return c.Status(fiber.StatusCreated).JSON(models.SendMessageResponse{Message: *message})
}

// fanOut pushes a stored message; delivery failures never fail the request
func (h *Handler) fanOut(message models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
	defer cancel()

	userIDs, err := h.store.ParticipantIDs(ctx, message.ConversationID)
	if err != nil {
		h.logger.Warn("Failed to load participants for fan-out",
			zap.Int64("conversation_id", message.ConversationID), zap.Error(err))
		return
	}

	event, err := models.NewEvent(models.EventMessageCreated, message.ConversationID, message)
	if err != nil {
		h.logger.Error("Failed to build message event", zap.Error(err))
		return
	}
	h.hub.BroadcastToUsers(userIDs, event)
}

// Typing relays a typing edge to the other subscribers of the conversation
func (h *Handler) Typing(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	var req models.TypingRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.ConversationID <= 0 {
		return fail(c, fiber.StatusBadRequest, "Conversation ID is required")
	}

	ok, err := h.store.IsParticipant(c.UserContext(), req.ConversationID, userID)
	if err != nil {
		return h.storeError(c, err, "Failed to check participant")
	}
	if !ok {
		return fail(c, fiber.StatusForbidden, "Not a participant of this conversation")
	}

	name := middleware.GetUserName(c)
	if name == "" {
		if name, err = h.store.UserName(c.UserContext(), userID); err != nil {
			return h.storeError(c, err, "Failed to get user")
		}
	}

	event, err := models.NewEvent(models.EventTypingChanged, req.ConversationID, models.TypingPayload{
		UserID:   userID,
		UserName: name,
		IsTyping: req.IsTyping,
	})
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to build typing event")
	}
	h.hub.BroadcastToSubscribers(req.ConversationID, event, userID)

	return c.SendStatus(fiber.StatusNoContent)
}
