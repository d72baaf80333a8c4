package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/config"
	"ngabarin/messaging/internal/database"
	"ngabarin/messaging/internal/handlers"
	"ngabarin/messaging/internal/logger"
	"ngabarin/messaging/internal/metrics"
	"ngabarin/messaging/internal/middleware"
	"ngabarin/messaging/internal/routes"
	"ngabarin/messaging/internal/utils"
	"ngabarin/messaging/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := utils.NewTokenManager(cfg.Server.JWTSecret, 0)
	if err != nil {
		return err
	}

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Server.DatabaseURL, zlog)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Server.Migrate {
		if err := database.Migrate(cfg.Server.DatabaseURL, zlog); err != nil {
			return err
		}
	}

	store := database.NewStore(pool)
	m := metrics.New()

	hub := websocket.NewHub(store, zlog, websocket.WithMetrics(m))
	go hub.Run(ctx)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Ngabarin API v1.0",
		ErrorHandler: errorHandler(zlog),
	})

	// Middleware
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(zlog))
	app.Use(m.Middleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowCredentials: true,
	}))

	routes.SetupRoutes(app, handlers.New(store, hub, zlog, m), tokens, m)

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("Server starting", zap.String("port", cfg.Server.Port))
		errCh <- app.Listen(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("Shutting down")
	return app.ShutdownWithTimeout(shutdownTimeout)
}

// errorHandler keeps unhandled errors in the API's error envelope
func errorHandler(zlog *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			zlog.Error("Unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}

		return c.Status(code).JSON(fiber.Map{
			"success": false,
			"error":   message,
		})
	}
}
