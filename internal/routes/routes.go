package routes

import (
	"github.com/gofiber/fiber/v2"

	"ngabarin/messaging/internal/handlers"
	"ngabarin/messaging/internal/metrics"
	"ngabarin/messaging/internal/middleware"
)

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, h *handlers.Handler, tokens middleware.TokenValidator, m *metrics.Metrics) {
	if m != nil {
		app.Get("/metrics", m.Handler())
	}

	// API v1 group
	api := app.Group("/api/v1")

	// Health check (public)
	api.Get("/health", h.Health)

	auth := middleware.Auth(tokens)

	// Conversation routes (protected)
	conversations := api.Group("/conversations", auth)
	conversations.Get("/", middleware.RelaxedRateLimiter(), h.ListConversations)
	conversations.Post("/find-or-create", middleware.ModerateRateLimiter(), h.FindOrCreate)
	conversations.Get("/:id", middleware.RelaxedRateLimiter(), h.GetConversation)
	conversations.Post("/:id/mark-as-read", middleware.RelaxedRateLimiter(), h.MarkAsRead)
	conversations.Post("/:id/leave", middleware.ModerateRateLimiter(), h.Leave)

	// Message routes (protected)
	api.Post("/messages", auth, middleware.ModerateRateLimiter(), h.SendMessage)
	api.Post("/typing", auth, middleware.TypingRateLimiter(), h.Typing)

	// WebSocket route (protected)
	api.Get("/ws", auth, h.WebSocketUpgrade, h.WebSocket())

	// WebSocket stats (protected, for debugging)
	api.Get("/ws/stats", auth, h.WebSocketStats)
}
