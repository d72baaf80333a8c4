package routes

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/handlers"
	"ngabarin/messaging/internal/metrics"
	"ngabarin/messaging/internal/utils"
	"ngabarin/messaging/internal/websocket"
)

func TestSetupRoutes(t *testing.T) {
	tokens, err := utils.NewTokenManager("secret", time.Hour)
	require.NoError(t, err)
	m := metrics.New()
	hub := websocket.NewHub(nil, zap.NewNop())

	app := fiber.New()
	SetupRoutes(app, handlers.New(nil, hub, zap.NewNop(), m), tokens, m)

	token, err := tokens.GenerateToken(1, "Andi")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		target string
		token  string
		status int
	}{
		{"health is public", "GET", "/api/v1/health", "", fiber.StatusOK},
		{"metrics is public", "GET", "/metrics", "", fiber.StatusOK},
		{"conversations need a token", "GET", "/api/v1/conversations", "", fiber.StatusUnauthorized},
		{"messages need a token", "POST", "/api/v1/messages", "", fiber.StatusUnauthorized},
		{"typing needs a token", "POST", "/api/v1/typing", "", fiber.StatusUnauthorized},
		{"ws needs a token", "GET", "/api/v1/ws", "", fiber.StatusUnauthorized},
		{"ws needs an upgrade", "GET", "/api/v1/ws", token, fiber.StatusUpgradeRequired},
		{"ws stats", "GET", "/api/v1/ws/stats", token, fiber.StatusOK},
		{"unknown route", "GET", "/api/v1/contacts", token, fiber.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
