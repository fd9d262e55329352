package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/repository"
	"go.uber.org/zap"
)

const (
	RefundDecisionApprove = "approve"
	RefundDecisionReject  = "reject"
)

type CreateRefundRequestInput struct {
	PaymentID int64
	Amount    int64
	Reason    string
}

type RespondRefundRequestInput struct {
	Decision string
	Note     *string
}

type ListRefundRequestsInput struct {
	Status string
	Page   int
	Limit  int
}

// RefundRequestService manages the tickets a payer opens to ask the coach
// for a refund. Approving a ticket runs the refund.
type RefundRequestService struct {
	uow      UnitOfWork
	refunds  *RefundService
	notifier Notifier
	logger   *zap.Logger
}

func NewRefundRequestService(uow UnitOfWork, refunds *RefundService, notifier Notifier, logger *zap.Logger) *RefundRequestService {
	return &RefundRequestService{
		uow:      uow,
		refunds:  refunds,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *RefundRequestService) Create(ctx context.Context, actorID int64, input CreateRefundRequestInput) (*models.RefundRequest, error) {
	reason := strings.TrimSpace(input.Reason)
	if input.PaymentID <= 0 || reason == "" || input.Amount < 0 {
		return nil, ErrInvalidInput
	}

	stores := s.uow.Stores()
	payment, err := stores.Payments.GetByID(ctx, input.PaymentID)
	if err != nil {
		return nil, notFound(err)
	}
	if payment.PayerID != actorID {
		return nil, ErrForbidden
	}
	if payment.Status != models.PaymentStatusCompleted && payment.Status != models.PaymentStatusPartiallyRefunded {
		return nil, ErrInvalidStateTransition
	}

	amount := input.Amount
	if amount == 0 {
		amount = payment.Remaining()
	}
	if amount > payment.Remaining() {
		return nil, ErrRefundExceedsBalance
	}

	request, err := stores.RefundRequests.Create(ctx, repository.CreateRefundRequestInput{
		PaymentID:   payment.ID,
		RequesterID: actorID,
		CoachID:     payment.RecipientID,
		AmountMinor: amount,
		Currency:    payment.Amount.Currency,
		Reason:      reason,
	})
	if err != nil {
		return nil, err
	}

	s.send(ctx, Notification{
		UserID:   payment.RecipientID,
		Type:     NotificationRefundRequested,
		Priority: PriorityNormal,
		Title:    "Refund requested",
		Message:  reason,
		Data:     map[string]any{"refund_request_id": request.ID, "payment_id": payment.ID},
	})
	return request, nil
}

func (s *RefundRequestService) List(
	ctx context.Context,
	actorID int64,
	role string,
	input ListRefundRequestsInput,
) ([]models.RefundRequest, int, error) {
	status := strings.TrimSpace(input.Status)
	switch status {
	case "", models.RefundRequestStatusOpen, models.RefundRequestStatusApproved, models.RefundRequestStatusRejected:
	default:
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if input.Page <= 0 || input.Limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	return s.uow.Stores().RefundRequests.List(ctx, repository.RefundRequestFilter{
		ActorID: actorID,
		Role:    role,
		Status:  status,
		Limit:   input.Limit,
		Offset:  (input.Page - 1) * input.Limit,
	})
}

// Respond resolves an open ticket. Only the coach paid, or an admin, may
// answer. An approval that fails at the processor leaves the ticket open.
func (s *RefundRequestService) Respond(
	ctx context.Context,
	actorID int64,
	role string,
	requestID int64,
	input RespondRefundRequestInput,
) (*models.RefundRequest, error) {
	if input.Decision != RefundDecisionApprove && input.Decision != RefundDecisionReject {
		return nil, fmt.Errorf("%w: decision must be approve or reject", ErrInvalidInput)
	}

	stores := s.uow.Stores()
	request, err := stores.RefundRequests.GetByID(ctx, requestID)
	if err != nil {
		return nil, notFound(err)
	}
	if role != models.RoleAdmin && request.CoachID != actorID {
		return nil, ErrForbidden
	}
	if request.Status != models.RefundRequestStatusOpen {
		return nil, ErrInvalidStateTransition
	}

	status := models.RefundRequestStatusRejected
	var refundID *string
	if input.Decision == RefundDecisionApprove {
		payment, err := stores.Payments.GetByID(ctx, request.PaymentID)
		if err != nil {
			return nil, notFound(err)
		}
		outcome, err := s.refunds.Refund(ctx, RefundInput{
			PaymentIntentID: payment.PaymentIntentID,
			Amount:          request.AmountMinor,
			Currency:        request.Currency,
			Reason:          RefundReasonRequested,
			IdempotencyKey:  "refund-request-" + strconv.FormatInt(request.ID, 10),
		})
		if err != nil {
			return nil, err
		}
		status = models.RefundRequestStatusApproved
		if outcome.Refund != nil {
			refundID = &outcome.Refund.ID
		}
	}

	resolved, err := stores.RefundRequests.Resolve(ctx, request.ID, status, input.Note, refundID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	s.logger.Info("refund request resolved",
		zap.Int64("refund_request_id", resolved.ID),
		zap.Int64("payment_id", resolved.PaymentID),
		zap.String("status", resolved.Status),
	)
	s.send(ctx, Notification{
		UserID:   resolved.RequesterID,
		Type:     NotificationRefundRequestDone,
		Priority: PriorityNormal,
		Title:    "Refund request " + resolved.Status,
		Message:  derefString(resolved.ResponseNote),
		Data:     map[string]any{"refund_request_id": resolved.ID, "payment_id": resolved.PaymentID},
	})
	return resolved, nil
}

func (s *RefundRequestService) send(ctx context.Context, notification Notification) {
	if err := s.notifier.Send(ctx, notification); err != nil {
		s.logger.Error("notification failed",
			zap.Int64("user_id", notification.UserID),
			zap.String("type", notification.Type),
			zap.Error(err),
		)
	}
}
