package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"ngabarin/messaging/internal/utils"
)

// TokenValidator parses a bearer token into its claims
type TokenValidator interface {
	ValidateToken(token string) (*utils.Claims, error)
}

// Auth validates the bearer token from the Authorization header, or from the
// token query parameter for WebSocket upgrades
func Auth(tokens TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - No token provided",
			})
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Invalid token",
			})
		}

		// Store user info in context
		c.Locals("userID", claims.UserID)
		c.Locals("userName", claims.Name)

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return c.Query("token")
}

// GetUserID gets user ID from context
func GetUserID(c *fiber.Ctx) int64 {
	userID, ok := c.Locals("userID").(int64)
	if !ok {
		return 0
	}
	return userID
}

// GetUserName gets the token's display name from context
func GetUserName(c *fiber.Ctx) string {
	name, ok := c.Locals("userName").(string)
	if !ok {
		return ""
	}
	return name
}
