package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestLogger tags every request with an id and logs it when done
func RequestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, requestID)
		c.Locals("requestID", requestID)

		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if userID := GetUserID(c); userID != 0 {
			fields = append(fields, zap.Int64("user_id", userID))
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			logger.Error("Request failed", append(fields, zap.Error(err))...)
		case status >= fiber.StatusBadRequest:
			logger.Info("Request rejected", fields...)
		default:
			logger.Debug("Request served", fields...)
		}
		return err
	}
}
