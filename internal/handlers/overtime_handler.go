package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/CoachLedger/internal/models"
)

type overtimeApplicationService interface {
	RequestOvertime(ctx context.Context, actorID int64, sessionID int64, minutes int) (*models.OvertimeSegment, error)
	AuthorizeSegment(ctx context.Context, payerID int64, sessionID int64, segmentID int64) (*models.OvertimeSegment, error)
}

type OvertimeHandler struct {
	service overtimeApplicationService
}

type requestOvertimeRequest struct {
	Minutes int `json:"minutes"`
}

func NewOvertimeHandler(service overtimeApplicationService) *OvertimeHandler {
	return &OvertimeHandler{service: service}
}

func (h *OvertimeHandler) Request(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req requestOvertimeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	segment, err := h.service.RequestOvertime(c.Context(), userID, sessionID, req.Minutes)
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"segment": segment})
}

func (h *OvertimeHandler) Authorize(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}
	segmentID, ok := parseIDParam(c, "segmentId")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid segment id"})
	}

	segment, err := h.service.AuthorizeSegment(c.Context(), userID, sessionID, segmentID)
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(fiber.Map{"segment": segment})
}
