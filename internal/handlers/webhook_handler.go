package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/internal/services"
)

type webhookApplicationService interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*services.WebhookResult, error)
}

type WebhookHandler struct {
	service webhookApplicationService
}

func NewWebhookHandler(service webhookApplicationService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// Stripe acknowledges every delivery the engine has settled, including
// idempotent replays and ones parked for manual intervention. Only transient
// failures answer 5xx so the processor retries.
func (h *WebhookHandler) Stripe(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing Stripe-Signature header"})
	}

	// fiber reuses the request buffer once the handler returns.
	payload := append([]byte(nil), c.Body()...)

	result, err := h.service.HandleStripeWebhook(c.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrSignature):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid signature"})
		case errors.Is(err, processor.ErrInvalidEvent):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payload"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process webhook"})
		}
	}

	return c.JSON(fiber.Map{
		"received": true,
		"status":   result.Outcome,
	})
}
