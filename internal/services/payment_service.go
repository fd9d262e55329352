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
	"go.uber.org/zap"
)

type CreatePaymentInput struct {
	Kind          models.PurchaseKind
	BookingID     *int64
	ProgramID     *int64
	LiveSessionID *int64
	Discount      int64
}

type PaymentIntentResult struct {
	Payment      *models.Payment `json:"payment"`
	ClientSecret string          `json:"client_secret"`
}

type PaymentStatusView struct {
	Payment      *models.Payment      `json:"payment"`
	Transactions []models.Transaction `json:"transactions"`
	Invoices     []models.Invoice     `json:"invoices"`
}

type ConfirmPaymentResult struct {
	Payment *models.Payment `json:"payment"`
	Status  string          `json:"status"`
	Outcome string          `json:"outcome,omitempty"`
}

// intentReconciler applies a succeeded intent through the webhook path.
type intentReconciler interface {
	ReconcileIntent(ctx context.Context, intent *processor.Intent) (string, error)
}

// PaymentService is the internal API over payments: it creates intents from
// price quotes and exposes refunds and captures to the parties of a payment.
type PaymentService struct {
	uow        UnitOfWork
	client     processor.Client
	pricer     *Pricer
	reconciler intentReconciler
	refunds    *RefundService
	overtime   *OvertimeService
	logger     *zap.Logger
}

func NewPaymentService(
	uow UnitOfWork,
	client processor.Client,
	pricer *Pricer,
	reconciler intentReconciler,
	refunds *RefundService,
	overtime *OvertimeService,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		uow:        uow,
		client:     client,
		pricer:     pricer,
		reconciler: reconciler,
		refunds:    refunds,
		overtime:   overtime,
		logger:     logger,
	}
}

// purchase is the priced thing a payment is created for.
type purchase struct {
	entityID    int64
	recipientID int64
	base        int64
	currency    string
	description string
	metadata    map[string]string
	payment     models.Payment
}

func (s *PaymentService) CreatePaymentIntent(ctx context.Context, actorID int64, input CreatePaymentInput) (*PaymentIntentResult, error) {
	if actorID <= 0 || input.Discount < 0 {
		return nil, ErrInvalidInput
	}

	stores := s.uow.Stores()
	target, err := s.resolvePurchase(ctx, stores, actorID, input)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.pricer.Quote(input.Kind, target.entityID, target.base, input.Discount, target.currency)
	if err != nil {
		return nil, err
	}

	customerID, err := ensureCustomer(ctx, s.client, stores.Users, actorID)
	if err != nil {
		return nil, err
	}
	coach, err := stores.Users.GetByID(ctx, target.recipientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	metadata := target.metadata
	metadata[processor.MetaType] = string(input.Kind)
	metadata[processor.MetaPayerID] = strconv.FormatInt(actorID, 10)
	metadata[processor.MetaCoachID] = strconv.FormatInt(target.recipientID, 10)
	metadata[processor.MetaPlatformFee] = strconv.FormatInt(snapshot.PlatformFee, 10)

	params := processor.IntentParams{
		Amount:         snapshot.Total,
		Currency:       snapshot.Currency,
		CustomerID:     customerID,
		Description:    target.description,
		Metadata:       metadata,
		IdempotencyKey: "intent-" + uuid.NewString(),
	}
	if coach.StripeAccountID != nil && *coach.StripeAccountID != "" {
		params.DestinationAccount = *coach.StripeAccountID
		params.ApplicationFee = snapshot.PlatformFee + snapshot.VAT.Amount
	}

	intent, err := s.client.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, err
	}

	payment := target.payment
	payment.PayerID = actorID
	payment.RecipientID = target.recipientID
	payment.PurchaseKind = input.Kind
	payment.Type = models.PaymentTypeCharge
	payment.Status = models.PaymentStatusPending
	payment.Amount = snapshot.Amount()
	payment.PriceSnapshot = &snapshot
	payment.PaymentIntentID = intent.ID
	payment.ClientSecret = optionalString(intent.ClientSecret)
	payment.CustomerID = &customerID

	var stored *models.Payment
	err = s.uow.WithTx(ctx, func(stores Stores) error {
		stored, _, err = stores.Payments.Upsert(ctx, &payment)
		if err != nil {
			return err
		}
		if input.Kind != models.PurchaseKindStandard {
			return nil
		}
		paymentID := stored.ID
		intentID := intent.ID
		_, err = stores.Bookings.UpdatePayment(ctx, *payment.BookingID, models.BookingPayment{
			Status:          string(models.PaymentStatusPending),
			PaymentID:       &paymentID,
			PaymentIntentID: &intentID,
		})
		return err
	})
	if err != nil {
		if _, cancelErr := s.client.CancelPaymentIntent(ctx, intent.ID); cancelErr != nil {
			s.logger.Error("failed to cancel unrecorded intent",
				zap.String("payment_intent_id", intent.ID),
				zap.Error(cancelErr),
			)
		}
		return nil, err
	}

	s.logger.Info("payment intent created",
		zap.Int64("payment_id", stored.ID),
		zap.String("payment_intent_id", intent.ID),
		zap.String("purchase_kind", string(input.Kind)),
		zap.Int64("total", snapshot.Total),
	)
	return &PaymentIntentResult{Payment: stored, ClientSecret: intent.ClientSecret}, nil
}

// ConfirmPayment confirms the payer's intent and, when the processor
// settles it synchronously, reconciles it right away.
func (s *PaymentService) ConfirmPayment(ctx context.Context, actorID int64, paymentID int64) (*ConfirmPaymentResult, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != actorID {
		return nil, ErrForbidden
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, ErrInvalidStateTransition
	}

	intent, err := s.client.ConfirmPaymentIntent(ctx, payment.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	result := &ConfirmPaymentResult{Payment: payment, Status: intent.Status}
	if intent.Status != processor.IntentStatusSucceeded {
		return result, nil
	}

	outcome, err := s.reconciler.ReconcileIntent(ctx, intent)
	if err != nil {
		// The webhook delivery of the same event will retry.
		s.logger.Warn("synchronous reconciliation failed, waiting for webhook",
			zap.Int64("payment_id", payment.ID),
			zap.String("payment_intent_id", payment.PaymentIntentID),
			zap.Error(err),
		)
		return result, nil
	}
	result.Outcome = outcome
	if refreshed, err := s.getPayment(ctx, paymentID); err == nil {
		result.Payment = refreshed
	}
	return result, nil
}

func (s *PaymentService) GetPaymentStatus(ctx context.Context, actorID int64, role string, paymentID int64) (*PaymentStatusView, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !canViewPayment(role, actorID, payment) {
		return nil, ErrForbidden
	}

	stores := s.uow.Stores()
	transactions, err := stores.Transactions.ListByPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	invoices, err := stores.Invoices.ListByPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentStatusView{
		Payment:      payment,
		Transactions: transactions,
		Invoices:     invoices,
	}, nil
}

// RefundPayment lets the coach paid, or an admin, refund part or all of a
// settled payment. A zero amount refunds the remaining balance.
func (s *PaymentService) RefundPayment(
	ctx context.Context,
	actorID int64,
	role string,
	paymentID int64,
	amount int64,
	reason string,
) (*RefundOutcome, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !canManagePayment(role, actorID, payment) {
		return nil, ErrForbidden
	}
	if amount == 0 {
		amount = payment.Remaining()
	}
	if reason == "" {
		reason = RefundReasonCoachCancelled
	}
	return s.refunds.Refund(ctx, RefundInput{
		PaymentIntentID: payment.PaymentIntentID,
		Amount:          amount,
		Currency:        payment.Amount.Currency,
		Reason:          reason,
	})
}

func (s *PaymentService) CapturePayment(ctx context.Context, actorID int64, role string, paymentID int64, amount int64) (*models.CaptureResult, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !canManagePayment(role, actorID, payment) {
		return nil, ErrForbidden
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: capture amount must be positive", ErrInvalidInput)
	}
	return s.overtime.CaptureOrCancel(ctx, payment.PaymentIntentID, amount)
}

func (s *PaymentService) CancelPayment(ctx context.Context, actorID int64, role string, paymentID int64) (*models.CaptureResult, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !canManagePayment(role, actorID, payment) {
		return nil, ErrForbidden
	}
	return s.overtime.CaptureOrCancel(ctx, payment.PaymentIntentID, 0)
}

func (s *PaymentService) resolvePurchase(ctx context.Context, stores Stores, actorID int64, input CreatePaymentInput) (*purchase, error) {
	switch input.Kind {
	case models.PurchaseKindStandard, models.PurchaseKindGroup, models.PurchaseKindWebinar:
		if input.BookingID == nil {
			return nil, fmt.Errorf("%w: booking_id is required", ErrInvalidInput)
		}
		booking, err := stores.Bookings.GetByID(ctx, *input.BookingID)
		if err != nil {
			return nil, notFound(err)
		}
		if input.Kind == models.PurchaseKindStandard && booking.UserID != actorID {
			return nil, ErrForbidden
		}
		if !bookingMatchesKind(booking.Type, input.Kind) {
			return nil, fmt.Errorf("%w: booking %d is a %s booking", ErrInvalidInput, booking.ID, booking.Type)
		}
		if booking.Status == models.BookingStatusCancelled || booking.Status == models.BookingStatusDeclined {
			return nil, ErrInvalidStateTransition
		}
		if attendee, ok := booking.Attendee(actorID); ok && attendee.Status == models.AttendeeStatusConfirmed {
			return nil, ErrAlreadyProcessed
		}
		if input.Kind == models.PurchaseKindStandard && booking.Payment.Status == string(models.PaymentStatusCompleted) {
			return nil, ErrAlreadyProcessed
		}
		bookingID := booking.ID
		return &purchase{
			entityID:    booking.ID,
			recipientID: booking.CoachID,
			base:        booking.PriceMinor,
			currency:    booking.Currency,
			description: purchaseDescription(input.Kind),
			metadata:    map[string]string{processor.MetaBookingID: strconv.FormatInt(booking.ID, 10)},
			payment:     models.Payment{BookingID: &bookingID},
		}, nil

	case models.PurchaseKindLiveSession:
		if input.LiveSessionID == nil {
			return nil, fmt.Errorf("%w: live_session_id is required", ErrInvalidInput)
		}
		live, err := stores.LiveSessions.GetByID(ctx, *input.LiveSessionID)
		if err != nil {
			return nil, notFound(err)
		}
		if live.UserID != actorID {
			return nil, ErrForbidden
		}
		if live.Status == models.LiveSessionStatusCompleted || live.Status == models.LiveSessionStatusRefunded {
			return nil, ErrInvalidStateTransition
		}
		liveID := live.ID
		return &purchase{
			entityID:    live.ID,
			recipientID: live.CoachID,
			base:        live.PricePerMinuteMinor * int64(live.BilledMinutes),
			currency:    live.Currency,
			description: fmt.Sprintf("%s (%d min)", purchaseDescription(input.Kind), live.BilledMinutes),
			metadata:    map[string]string{processor.MetaLiveSession: strconv.FormatInt(live.ID, 10)},
			payment:     models.Payment{LiveSessionID: &liveID},
		}, nil

	case models.PurchaseKindProgram:
		if input.ProgramID == nil {
			return nil, fmt.Errorf("%w: program_id is required", ErrInvalidInput)
		}
		program, err := stores.Programs.GetByID(ctx, *input.ProgramID)
		if err != nil {
			return nil, notFound(err)
		}
		enrollment, err := stores.Programs.GetEnrollment(ctx, program.ID, actorID)
		if err != nil {
			return nil, notFound(err)
		}
		if enrollment.Status != models.EnrollmentStatusPendingPayment && enrollment.Status != models.EnrollmentStatusPaymentFailed {
			return nil, ErrInvalidStateTransition
		}
		programID := program.ID
		return &purchase{
			entityID:    program.ID,
			recipientID: program.CoachID,
			base:        program.PriceMinor,
			currency:    program.Currency,
			description: program.Title,
			metadata:    map[string]string{processor.MetaProgramID: strconv.FormatInt(program.ID, 10)},
			payment:     models.Payment{ProgramID: &programID},
		}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported purchase kind %q", ErrInvalidInput, input.Kind)
	}
}

func (s *PaymentService) getPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	payment, err := s.uow.Stores().Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, notFound(err)
	}
	return payment, nil
}

func bookingMatchesKind(bookingType models.BookingType, kind models.PurchaseKind) bool {
	switch kind {
	case models.PurchaseKindGroup:
		return bookingType == models.BookingTypeGroup
	case models.PurchaseKindWebinar:
		return bookingType == models.BookingTypeWebinar
	default:
		return bookingType == models.BookingTypeStandard || bookingType == ""
	}
}

func canViewPayment(role string, actorID int64, payment *models.Payment) bool {
	if role == models.RoleAdmin {
		return true
	}
	return payment.PayerID == actorID || payment.RecipientID == actorID
}

func canManagePayment(role string, actorID int64, payment *models.Payment) bool {
	if role == models.RoleAdmin {
		return true
	}
	return role == models.RoleCoach && payment.RecipientID == actorID
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
