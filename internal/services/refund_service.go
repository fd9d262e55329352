package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/pkg/money"
	"go.uber.org/zap"
)

const (
	RefundReasonCapacity       = "capacity_reached"
	RefundReasonDuplicate      = "duplicate"
	RefundReasonRequested      = "requested_by_customer"
	RefundReasonCoachCancelled = "coach_cancelled"
)

type RefundInput struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
	Reason          string
	// IdempotencyKey defaults to a random key, which makes every call a
	// distinct refund.
	IdempotencyKey string
}

type RefundOutcome struct {
	Payment    *models.Payment
	Refund     *processor.Refund
	CreditNote *models.Invoice
}

// RefundService runs refunds against the processor and applies their
// completion to the payment, the ledger and the purchased entity.
type RefundService struct {
	uow      UnitOfWork
	client   processor.Client
	ledger   *LedgerService
	invoices *InvoiceService
	notifier Notifier
	logger   *zap.Logger
}

func NewRefundService(
	uow UnitOfWork,
	client processor.Client,
	ledger *LedgerService,
	invoices *InvoiceService,
	notifier Notifier,
	logger *zap.Logger,
) *RefundService {
	return &RefundService{
		uow:      uow,
		client:   client,
		ledger:   ledger,
		invoices: invoices,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *RefundService) Refund(ctx context.Context, input RefundInput) (*RefundOutcome, error) {
	if input.PaymentIntentID == "" || input.Amount <= 0 {
		return nil, ErrInvalidInput
	}

	payment, err := s.uow.Stores().Payments.GetByIntentID(ctx, input.PaymentIntentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if input.Currency != "" && money.NormalizeCurrency(input.Currency) != money.NormalizeCurrency(payment.Amount.Currency) {
		return nil, fmt.Errorf("%w: currency %s does not match payment currency %s", ErrInvalidInput, input.Currency, payment.Amount.Currency)
	}
	if payment.Status != models.PaymentStatusCompleted && payment.Status != models.PaymentStatusPartiallyRefunded {
		return nil, ErrInvalidStateTransition
	}
	if input.Amount > payment.Remaining() {
		return nil, ErrRefundExceedsBalance
	}

	key := input.IdempotencyKey
	if key == "" {
		key = "refund-" + uuid.NewString()
	}
	refund, err := s.client.CreateRefund(ctx, processor.RefundParams{
		PaymentIntentID: input.PaymentIntentID,
		Amount:          input.Amount,
		Reason:          input.Reason,
		Metadata:        map[string]string{processor.MetaPaymentID: strconv.FormatInt(payment.ID, 10)},
		IdempotencyKey:  key,
	})
	if err != nil {
		return nil, err
	}
	if refund.Reason == "" {
		refund.Reason = input.Reason
	}

	outcome, err := s.HandleRefundCompletion(ctx, refund)
	if err != nil && KindOf(err) != KindIdempotent {
		return nil, err
	}
	if outcome == nil {
		outcome = &RefundOutcome{Payment: payment, Refund: refund}
	}
	return outcome, nil
}

// HandleRefundCompletion applies a finished refund exactly once. Replays of
// the same refund id return an idempotent ReconciliationError.
func (s *RefundService) HandleRefundCompletion(ctx context.Context, refund *processor.Refund) (*RefundOutcome, error) {
	const op = "handle refund completion"

	if refund == nil || refund.ID == "" {
		return nil, fatal(op, ErrInvalidInput)
	}
	if refund.Status != "" && refund.Status != "succeeded" {
		s.logger.Info("refund not settled yet",
			zap.String("refund_id", refund.ID),
			zap.String("payment_intent_id", refund.PaymentIntentID),
			zap.String("status", refund.Status),
		)
		return nil, nil
	}

	var updated *models.Payment
	err := s.uow.WithTx(ctx, func(stores Stores) error {
		payment, err := stores.Payments.GetByIntentIDForUpdate(ctx, refund.PaymentIntentID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fatal(op, fmt.Errorf("%w: intent %s", ErrMissingLinkage, refund.PaymentIntentID))
			}
			return err
		}

		_, created, err := s.ledger.EnsureRefundTransaction(ctx, stores.Transactions, payment, refund.ID, refund.Amount, TransactionStatusSucceeded)
		if err != nil {
			return err
		}
		if !created {
			updated = payment
			return idempotent(op)
		}

		updated, err = stores.Payments.ApplyRefund(ctx, payment.ID, refund.Amount)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fatal(op, fmt.Errorf("%w: payment %d remaining %d, refund %d",
					ErrRefundExceedsBalance, payment.ID, payment.Remaining(), refund.Amount))
			}
			return err
		}

		if updated.Status == models.PaymentStatusRefunded && refund.Reason != RefundReasonDuplicate {
			return reversePurchase(ctx, stores, updated)
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindIdempotent {
			s.logger.Info("refund already applied",
				zap.String("refund_id", refund.ID),
				zap.String("payment_intent_id", refund.PaymentIntentID),
			)
			return &RefundOutcome{Payment: updated, Refund: refund}, err
		}
		return nil, err
	}

	outcome := &RefundOutcome{Payment: updated, Refund: refund}

	note, err := s.invoices.IssueCreditNote(ctx, updated, refund.ID, refund.Amount, refund.Reason)
	switch {
	case err == nil:
		outcome.CreditNote = note
	case errors.Is(err, ErrNoOriginalInvoice) && isCompensation(refund.Reason):
		s.logger.Info("no invoice to credit for compensating refund",
			zap.Int64("payment_id", updated.ID),
			zap.String("refund_id", refund.ID),
			zap.String("reason", refund.Reason),
		)
	case errors.Is(err, ErrNoOriginalInvoice):
		s.logger.Error("no invoice to credit, manual reconciliation required",
			zap.Int64("payment_id", updated.ID),
			zap.String("payment_intent_id", updated.PaymentIntentID),
			zap.String("refund_id", refund.ID),
			zap.String("reason", refund.Reason),
			zap.Int64("amount", refund.Amount),
		)
	default:
		s.logger.Error("credit note failed, manual reconciliation required",
			zap.Int64("payment_id", updated.ID),
			zap.String("payment_intent_id", updated.PaymentIntentID),
			zap.String("refund_id", refund.ID),
			zap.Int64("amount", refund.Amount),
			zap.Error(err),
		)
	}

	if err := s.notifier.Send(ctx, Notification{
		UserID:   updated.PayerID,
		Type:     NotificationRefundIssued,
		Priority: PriorityNormal,
		Title:    "Refund issued",
		Message:  money.Format(refund.Amount, updated.Amount.Currency) + " has been refunded to your payment method.",
		Data: map[string]any{
			"payment_id": updated.ID,
			"refund_id":  refund.ID,
			"amount":     refund.Amount,
		},
	}); err != nil {
		s.logger.Error("refund notification failed",
			zap.Int64("payment_id", updated.ID),
			zap.String("refund_id", refund.ID),
			zap.Error(err),
		)
	}

	return outcome, nil
}

// isCompensation reports whether a refund reverses a charge the ledger
// refused, where the purchase may never have been invoiced.
func isCompensation(reason string) bool {
	return reason == RefundReasonCapacity || reason == RefundReasonDuplicate
}

// reversePurchase undoes the purchase a fully refunded payment paid for.
// Entities settled by another payment are left alone.
func reversePurchase(ctx context.Context, stores Stores, payment *models.Payment) error {
	switch payment.PurchaseKind {
	case models.PurchaseKindStandard:
		if payment.BookingID == nil {
			return nil
		}
		booking, err := stores.Bookings.GetByIDForUpdate(ctx, *payment.BookingID)
		if err != nil {
			return ignoreNoRows(err)
		}
		if booking.Payment.Status == string(models.PaymentStatusCompleted) && !paidWith(booking.Payment.PaymentID, payment) {
			return nil
		}
		paymentID := payment.ID
		if _, err := stores.Bookings.UpdatePayment(ctx, *payment.BookingID, models.BookingPayment{
			Status:    string(models.PaymentStatusRefunded),
			PaymentID: &paymentID,
		}); err != nil {
			return err
		}
		if _, err := stores.Bookings.UpdateStatus(ctx, *payment.BookingID, models.BookingStatusCancelled); err != nil {
			return err
		}
		session, err := stores.Sessions.GetByBookingID(ctx, *payment.BookingID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		_, err = stores.Sessions.UpdateStateIfCurrent(
			ctx,
			session.ID,
			[]string{models.SessionStateRequested, models.SessionStateConfirmed},
			models.SessionStateCancelled,
		)
		return ignoreNoRows(err)

	case models.PurchaseKindGroup, models.PurchaseKindWebinar:
		if payment.BookingID == nil {
			return nil
		}
		booking, err := stores.Bookings.GetByIDForUpdate(ctx, *payment.BookingID)
		if err != nil {
			return ignoreNoRows(err)
		}
		attendee, found := booking.Attendee(payment.PayerID)
		if !found || !paidWith(attendee.PaymentID, payment) {
			return nil
		}
		err = stores.Bookings.UpdateAttendeeStatus(ctx, *payment.BookingID, payment.PayerID, models.AttendeeStatusRefunded)
		return ignoreNoRows(err)

	case models.PurchaseKindLiveSession:
		if payment.LiveSessionID == nil {
			return nil
		}
		_, err := stores.LiveSessions.UpdateStatusIfCurrent(
			ctx,
			*payment.LiveSessionID,
			[]string{models.LiveSessionStatusCompleted, models.LiveSessionStatusActive, models.LiveSessionStatusPending},
			models.LiveSessionStatusRefunded,
		)
		return ignoreNoRows(err)

	case models.PurchaseKindProgram:
		if payment.ProgramID == nil {
			return nil
		}
		enrollment, err := stores.Programs.GetEnrollment(ctx, *payment.ProgramID, payment.PayerID)
		if err != nil {
			return ignoreNoRows(err)
		}
		if enrollment.PaymentID != nil && !paidWith(enrollment.PaymentID, payment) {
			return nil
		}
		if _, err := stores.Programs.UpdateEnrollmentStatusIfCurrent(
			ctx,
			enrollment.ID,
			models.EnrollmentStatusActive,
			models.EnrollmentStatusCancelled,
			nil,
		); err != nil {
			return ignoreNoRows(err)
		}
		return stores.Programs.AdjustEnrollmentsCount(ctx, *payment.ProgramID, -1)

	case models.PurchaseKindOvertime:
		return nil
	}
	return nil
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
