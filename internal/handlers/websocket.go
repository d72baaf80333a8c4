package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"ngabarin/messaging/internal/middleware"
)

// WebSocketUpgrade checks if the request should be upgraded to WebSocket
func (h *Handler) WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) && middleware.GetUserID(c) != 0 {
		return c.Next()
	}

	return fail(c, fiber.StatusUpgradeRequired, "WebSocket upgrade required")
}

// WebSocket hands the upgraded connection to the hub
func (h *Handler) WebSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(int64)
		if userID == 0 {
			conn.Close()
			return
		}
		h.hub.Serve(conn, userID) // This blocks until connection closes
	})
}

// WebSocketStats returns WebSocket connection statistics
func (h *Handler) WebSocketStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"onlineUsers": h.hub.GetOnlineCount(),
			"userIds":     h.hub.GetOnlineUsers(),
		},
	})
}
