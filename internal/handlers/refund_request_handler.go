package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/services"
)

type refundRequestApplicationService interface {
	Create(ctx context.Context, actorID int64, input services.CreateRefundRequestInput) (*models.RefundRequest, error)
	List(ctx context.Context, actorID int64, role string, input services.ListRefundRequestsInput) ([]models.RefundRequest, int, error)
	Respond(ctx context.Context, actorID int64, role string, requestID int64, input services.RespondRefundRequestInput) (*models.RefundRequest, error)
}

type RefundRequestHandler struct {
	service refundRequestApplicationService
}

type createRefundRequestRequest struct {
	PaymentID int64  `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

type respondRefundRequestRequest struct {
	Decision string  `json:"decision"`
	Note     *string `json:"note"`
}

func NewRefundRequestHandler(service refundRequestApplicationService) *RefundRequestHandler {
	return &RefundRequestHandler{service: service}
}

func (h *RefundRequestHandler) Create(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createRefundRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	request, err := h.service.Create(c.Context(), userID, services.CreateRefundRequestInput{
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"refund_request": request})
}

func (h *RefundRequestHandler) List(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	query, ok := parsePageQuery(c, refundRequestStatuses)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid status filter"})
	}

	requests, total, err := h.service.List(c.Context(), userID, parseActorRole(c), services.ListRefundRequestsInput{
		Status: query.Status,
		Page:   query.Page,
		Limit:  query.Limit,
	})
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(fiber.Map{
		"refund_requests": requests,
		"pagination":      buildPaginationMeta(query, total),
	})
}

func (h *RefundRequestHandler) Respond(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid refund request id"})
	}

	var req respondRefundRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	request, err := h.service.Respond(c.Context(), userID, parseActorRole(c), requestID, services.RespondRefundRequestInput{
		Decision: req.Decision,
		Note:     req.Note,
	})
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(fiber.Map{"refund_request": request})
}
