package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/CoachLedger/internal/config"
	"github.com/saeid-a/CoachLedger/internal/handlers"
	"github.com/saeid-a/CoachLedger/internal/middleware"
	"github.com/saeid-a/CoachLedger/internal/services"
	realtimews "github.com/saeid-a/CoachLedger/internal/websocket"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, engine *services.Engine, hub *realtimews.Hub) {
	webhookHandler := handlers.NewWebhookHandler(engine.Webhooks)
	paymentHandler := handlers.NewPaymentHandler(engine.Payments)
	overtimeHandler := handlers.NewOvertimeHandler(engine.Overtime)
	refundRequestHandler := handlers.NewRefundRequestHandler(engine.RefundRequests)
	realtimeHandler := handlers.NewRealtimeHandler(hub, engine.Channels, cfg.JWTSecret)

	api := app.Group("/api")

	// Signed by the processor; no bearer token.
	api.Post("/webhooks/stripe", webhookHandler.Stripe)

	api.Use("/v1/ws", realtimeHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(realtimeHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	payments := authProtected.Group("/payments")
	payments.Post("/intents", middleware.PayerOnly(), paymentHandler.CreateIntent)
	payments.Get("/:id", paymentHandler.Get)
	payments.Post("/:id/confirm", paymentHandler.Confirm)
	payments.Post("/:id/refund", middleware.RecipientOrOperator(), paymentHandler.Refund)
	payments.Post("/:id/capture", paymentHandler.Capture)
	payments.Post("/:id/cancel", paymentHandler.Cancel)

	sessions := authProtected.Group("/sessions")
	sessions.Post("/:id/overtime", overtimeHandler.Request)
	sessions.Post("/:id/overtime/:segmentId/authorize", middleware.PayerOnly(), overtimeHandler.Authorize)

	refundRequests := authProtected.Group("/refund-requests")
	refundRequests.Post("", middleware.PayerOnly(), refundRequestHandler.Create)
	refundRequests.Get("", refundRequestHandler.List)
	refundRequests.Post("/:id/respond", middleware.RecipientOrOperator(), refundRequestHandler.Respond)
}
