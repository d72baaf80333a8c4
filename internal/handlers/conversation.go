package handlers

import (
	"github.com/gofiber/fiber/v2"

	"ngabarin/messaging/internal/middleware"
	"ngabarin/messaging/internal/models"
)

const defaultPerPage = 50

// ListConversations returns the user's conversations, most recent first,
// with per-conversation and total unread counts
func (h *Handler) ListConversations(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	conversations, total, err := h.store.ListConversations(c.UserContext(), userID,
		c.Query("search"), c.QueryInt("page", 1), c.QueryInt("per_page", defaultPerPage))
	if err != nil {
		return h.storeError(c, err, "Failed to get conversations")
	}

	if conversations == nil {
		conversations = []models.Conversation{}
	}

	return c.JSON(models.ConversationList{
		Conversations:    conversations,
		TotalUnreadCount: total,
	})
}

// GetConversation returns a conversation, its participants and one page of
// history; page 1 holds the newest messages
func (h *Handler) GetConversation(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	id, ok := conversationID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid conversation ID")
	}

	conversation, err := h.store.GetConversation(c.UserContext(), id, userID)
	if err != nil {
		return h.storeError(c, err, "Failed to get conversation")
	}

	page, err := h.store.Messages(c.UserContext(), id, c.QueryInt("page", 1), c.QueryInt("per_page", defaultPerPage))
	if err != nil {
		return h.storeError(c, err, "Failed to get messages")
	}
	if page.Data == nil {
		page.Data = []models.Message{}
	}

	return c.JSON(models.ConversationDetail{
		Conversation: *conversation,
		Messages:     page,
		Participants: conversation.Participants,
	})
}

// FindOrCreate returns the direct conversation with another user, creating it
// on first contact
func (h *Handler) FindOrCreate(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	var req models.FindOrCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.UserID <= 0 {
		return fail(c, fiber.StatusBadRequest, "User ID is required")
	}
	if req.UserID == userID {
		return fail(c, fiber.StatusBadRequest, "Cannot start a conversation with yourself")
	}

	conversation, created, err := h.store.FindOrCreateDirect(c.UserContext(), userID, req.UserID)
	if err != nil {
		return h.storeError(c, err, "Failed to find or create conversation")
	}

	page, err := h.store.Messages(c.UserContext(), conversation.ID, 1, defaultPerPage)
	if err != nil {
		return h.storeError(c, err, "Failed to get messages")
	}
	if page.Data == nil {
		page.Data = []models.Message{}
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(models.FindOrCreateResponse{
		Conversation: *conversation,
		Messages:     page.Data,
	})
}

// MarkAsRead moves the user's read marker to the newest message
func (h *Handler) MarkAsRead(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	id, ok := conversationID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid conversation ID")
	}

	if err := h.store.MarkAsRead(c.UserContext(), id, userID); err != nil {
		return h.storeError(c, err, "Failed to mark as read")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Leave removes the user from a conversation
func (h *Handler) Leave(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	id, ok := conversationID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid conversation ID")
	}

	if err := h.store.Leave(c.UserContext(), id, userID); err != nil {
		return h.storeError(c, err, "Failed to leave conversation")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "You have left the conversation",
	})
}
