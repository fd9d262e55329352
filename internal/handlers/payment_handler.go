package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/services"
)

type paymentApplicationService interface {
	CreatePaymentIntent(ctx context.Context, actorID int64, input services.CreatePaymentInput) (*services.PaymentIntentResult, error)
	ConfirmPayment(ctx context.Context, actorID int64, paymentID int64) (*services.ConfirmPaymentResult, error)
	GetPaymentStatus(ctx context.Context, actorID int64, role string, paymentID int64) (*services.PaymentStatusView, error)
	RefundPayment(ctx context.Context, actorID int64, role string, paymentID int64, amount int64, reason string) (*services.RefundOutcome, error)
	CapturePayment(ctx context.Context, actorID int64, role string, paymentID int64, amount int64) (*models.CaptureResult, error)
	CancelPayment(ctx context.Context, actorID int64, role string, paymentID int64) (*models.CaptureResult, error)
}

type PaymentHandler struct {
	service paymentApplicationService
}

type createPaymentIntentRequest struct {
	Type          string `json:"type"`
	BookingID     *int64 `json:"booking_id"`
	ProgramID     *int64 `json:"program_id"`
	LiveSessionID *int64 `json:"live_session_id"`
	Discount      int64  `json:"discount"`
}

type refundPaymentRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type capturePaymentRequest struct {
	Amount int64 `json:"amount"`
}

func NewPaymentHandler(service paymentApplicationService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

func (h *PaymentHandler) CreateIntent(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createPaymentIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	result, err := h.service.CreatePaymentIntent(c.Context(), userID, services.CreatePaymentInput{
		Kind:          models.PurchaseKind(req.Type),
		BookingID:     req.BookingID,
		ProgramID:     req.ProgramID,
		LiveSessionID: req.LiveSessionID,
		Discount:      req.Discount,
	})
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment":       result.Payment,
		"client_secret": result.ClientSecret,
	})
}

func (h *PaymentHandler) Confirm(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payment id"})
	}

	result, err := h.service.ConfirmPayment(c.Context(), userID, paymentID)
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(result)
}

func (h *PaymentHandler) Get(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payment id"})
	}

	view, err := h.service.GetPaymentStatus(c.Context(), userID, parseActorRole(c), paymentID)
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(view)
}

func (h *PaymentHandler) Refund(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payment id"})
	}

	var req refundPaymentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	outcome, err := h.service.RefundPayment(c.Context(), userID, parseActorRole(c), paymentID, req.Amount, req.Reason)
	if err != nil {
		return mapPaymentError(c, err)
	}

	response := fiber.Map{"payment": outcome.Payment}
	if outcome.Refund != nil {
		response["refund_id"] = outcome.Refund.ID
		response["refund_status"] = outcome.Refund.Status
	}
	if outcome.CreditNote != nil {
		response["credit_note"] = outcome.CreditNote
	}
	return c.JSON(response)
}

func (h *PaymentHandler) Capture(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payment id"})
	}

	var req capturePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	result, err := h.service.CapturePayment(c.Context(), userID, parseActorRole(c), paymentID, req.Amount)
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(fiber.Map{"capture": result})
}

func (h *PaymentHandler) Cancel(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payment id"})
	}

	result, err := h.service.CancelPayment(c.Context(), userID, parseActorRole(c), paymentID)
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(fiber.Map{"capture": result})
}

func mapPaymentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidStateTransition),
		errors.Is(err, services.ErrAlreadyProcessed),
		errors.Is(err, services.ErrCapacityReached),
		errors.Is(err, services.ErrNoUnclaimedSegment):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrRefundExceedsBalance),
		errors.Is(err, services.ErrMissingPaymentMethod):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process payment request"})
	}
}
