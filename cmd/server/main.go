package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/saeid-a/CoachLedger/internal/config"
	"github.com/saeid-a/CoachLedger/internal/database"
	"github.com/saeid-a/CoachLedger/internal/logging"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/internal/routes"
	"github.com/saeid-a/CoachLedger/internal/services"
	realtimews "github.com/saeid-a/CoachLedger/internal/websocket"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		zlog.Fatal("DB_URL is required")
	}
	pool, err := database.Connect(ctx, cfg.DBUrl)
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	// 3. Wire the engine
	hub := realtimews.NewHub(zlog.Named("realtime"))
	go hub.Run(ctx)

	engine := services.NewEngine(
		services.EngineConfigFrom(cfg),
		services.NewPgUnitOfWork(pool),
		processor.NewStripeClient(cfg.StripeSecretKey),
		processor.NewStripeEventVerifier(cfg.StripeWebhookSecret),
		hub,
		zlog,
	)
	go engine.Overtime.RunSweeper(ctx, cfg.OvertimeSweepInterval)

	// 4. Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	routes.RegisterRoutes(app, cfg, engine, hub)

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zlog.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	// 5. Start Server
	zlog.Info("Server starting", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zlog.Fatal("Server failed to start", zap.Error(err))
	}
}
