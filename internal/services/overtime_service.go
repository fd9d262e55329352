package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/internal/repository"
	"github.com/saeid-a/CoachLedger/pkg/money"
	"go.uber.org/zap"
)

const (
	EventOvertimeAuthorized = "overtime_authorized"
	EventOvertimeFailed     = "overtime_failed"
	EventOvertimeCaptured   = "overtime_captured"
	EventOvertimeCanceled   = "overtime_canceled"
)

const sweepBatchSize = 100

type OvertimeConfig struct {
	ConfirmationTTL time.Duration
	HoldLimit       time.Duration
}

// OvertimeService runs the authorize-now, capture-later protocol that bills
// live session overtime.
type OvertimeService struct {
	uow      UnitOfWork
	client   processor.Client
	pricer   *Pricer
	ledger   *LedgerService
	invoices *InvoiceService
	notifier Notifier
	realtime RealtimePublisher
	cfg      OvertimeConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewOvertimeService(
	uow UnitOfWork,
	client processor.Client,
	pricer *Pricer,
	ledger *LedgerService,
	invoices *InvoiceService,
	notifier Notifier,
	realtime RealtimePublisher,
	cfg OvertimeConfig,
	logger *zap.Logger,
) *OvertimeService {
	if realtime == nil {
		realtime = noopPublisher{}
	}
	return &OvertimeService{
		uow:      uow,
		client:   client,
		pricer:   pricer,
		ledger:   ledger,
		invoices: invoices,
		notifier: notifier,
		realtime: realtime,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestOvertime adds a requested segment priced at the booking's
// per-minute overtime rate.
func (s *OvertimeService) RequestOvertime(
	ctx context.Context,
	actorID int64,
	sessionID int64,
	minutes int,
) (*models.OvertimeSegment, error) {
	if minutes <= 0 || minutes > 24*60 {
		return nil, ErrInvalidInput
	}

	stores := s.uow.Stores()
	session, booking, err := s.loadSession(ctx, stores, sessionID)
	if err != nil {
		return nil, err
	}
	if actorID != booking.UserID && actorID != booking.CoachID {
		return nil, ErrForbidden
	}
	if session.State != models.SessionStateActive && session.State != models.SessionStateConfirmed {
		return nil, ErrInvalidStateTransition
	}
	if booking.OvertimeRateMinor <= 0 {
		return nil, fmt.Errorf("%w: booking %d has no overtime rate", ErrInvalidInput, booking.ID)
	}

	return stores.Sessions.CreateSegment(ctx, createSegmentInput(session.ID, minutes, booking))
}

// Authorize holds maxPrice on the payer's saved card and binds the hold to
// the first requested segment with that price. When no segment is left to
// claim the hold is released and a fatal error is returned.
func (s *OvertimeService) Authorize(
	ctx context.Context,
	payerID int64,
	sessionID int64,
	maxPrice int64,
) (*models.OvertimeSegment, error) {
	const op = "authorize overtime"

	if payerID <= 0 || maxPrice <= 0 {
		return nil, ErrInvalidInput
	}

	stores := s.uow.Stores()
	session, booking, err := s.loadSession(ctx, stores, sessionID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != payerID {
		return nil, ErrForbidden
	}

	payer, err := stores.Users.GetByID(ctx, payerID)
	if err != nil {
		return nil, err
	}
	if payer.DefaultPaymentMethodID == nil || *payer.DefaultPaymentMethodID == "" {
		return nil, ErrMissingPaymentMethod
	}
	customerID, err := ensureCustomer(ctx, s.client, stores.Users, payerID)
	if err != nil {
		return nil, err
	}
	coach, err := stores.Users.GetByID(ctx, booking.CoachID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.pricer.FromGross(maxPrice, booking.Currency)
	if err != nil {
		return nil, err
	}

	params := processor.IntentParams{
		Amount:          maxPrice,
		Currency:        snapshot.Currency,
		CustomerID:      customerID,
		PaymentMethodID: *payer.DefaultPaymentMethodID,
		ManualCapture:   true,
		Confirm:         true,
		Description:     fmt.Sprintf("Overtime for session %d", session.ID),
		Metadata: map[string]string{
			processor.MetaType:        string(models.PurchaseKindOvertime),
			processor.MetaSessionID:   strconv.FormatInt(session.ID, 10),
			processor.MetaBookingID:   strconv.FormatInt(booking.ID, 10),
			processor.MetaPayerID:     strconv.FormatInt(payerID, 10),
			processor.MetaCoachID:     strconv.FormatInt(booking.CoachID, 10),
			processor.MetaPlatformFee: strconv.FormatInt(snapshot.PlatformFee, 10),
		},
	}
	if coach.StripeAccountID != nil && *coach.StripeAccountID != "" {
		params.DestinationAccount = *coach.StripeAccountID
		params.ApplicationFee = snapshot.PlatformFee + snapshot.VAT.Amount
	}

	intent, err := s.client.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, err
	}

	var segment *models.OvertimeSegment
	err = s.uow.WithTx(ctx, func(stores Stores) error {
		claimed, err := stores.Sessions.ClaimSegment(ctx, session.ID, maxPrice, intent.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fatal(op, fmt.Errorf("%w: session %d price %d", ErrNoUnclaimedSegment, session.ID, maxPrice))
			}
			return err
		}

		bookingID := booking.ID
		amount := snapshot.Amount()
		payment, _, err := stores.Payments.Upsert(ctx, &models.Payment{
			PayerID:         payerID,
			RecipientID:     booking.CoachID,
			BookingID:       &bookingID,
			PurchaseKind:    models.PurchaseKindOvertime,
			Type:            models.PaymentTypeAuthorization,
			Status:          models.PaymentStatusPendingConfirmation,
			Amount:          amount,
			PriceSnapshot:   &snapshot,
			PaymentIntentID: intent.ID,
			CustomerID:      &customerID,
		})
		if err != nil {
			return err
		}
		if err := stores.Sessions.AttachSegmentPayment(ctx, claimed.ID, payment.ID); err != nil {
			return err
		}
		claimed.PaymentID = &payment.ID
		segment = claimed
		return nil
	})
	if err != nil {
		if KindOf(err) == KindFatal {
			s.logger.Error("overtime authorization has no segment, manual intervention required",
				zap.Int64("session_id", session.ID),
				zap.String("payment_intent_id", intent.ID),
				zap.Int64("max_price", maxPrice),
				zap.Error(err),
			)
		}
		if _, cancelErr := s.client.CancelPaymentIntent(ctx, intent.ID); cancelErr != nil {
			s.logger.Error("failed to release unmatched overtime hold, manual reconciliation required",
				zap.String("payment_intent_id", intent.ID),
				zap.Error(cancelErr),
			)
		}
		return nil, err
	}

	if intent.Status == processor.IntentStatusRequiresCapture {
		if err := s.HandleAmountCapturable(ctx, intent); err != nil && KindOf(err) != KindIdempotent {
			s.logger.Warn("synchronous overtime confirmation failed, waiting for webhook",
				zap.String("payment_intent_id", intent.ID),
				zap.Error(err),
			)
		} else {
			segment.Status = models.OvertimeStatusAuthorized
		}
	}
	return segment, nil
}

// AuthorizeSegment authorizes one specific requested segment at its
// calculated maximum price.
func (s *OvertimeService) AuthorizeSegment(
	ctx context.Context,
	payerID int64,
	sessionID int64,
	segmentID int64,
) (*models.OvertimeSegment, error) {
	segment, err := s.uow.Stores().Sessions.GetSegment(ctx, segmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if segment.SessionID != sessionID {
		return nil, ErrNotFound
	}
	if segment.Status != models.OvertimeStatusRequested {
		return nil, ErrInvalidStateTransition
	}
	return s.Authorize(ctx, payerID, sessionID, segment.CalculatedMaxPrice)
}

// HandleAmountCapturable confirms a hold once the processor reports the
// amount as capturable.
func (s *OvertimeService) HandleAmountCapturable(ctx context.Context, intent *processor.Intent) error {
	const op = "overtime amount capturable"

	var (
		segment *models.OvertimeSegment
		payment *models.Payment
	)
	err := s.uow.WithTx(ctx, func(stores Stores) error {
		current, err := stores.Payments.GetByIntentIDForUpdate(ctx, intent.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fatal(op, fmt.Errorf("%w: intent %s", ErrMissingLinkage, intent.ID))
			}
			return err
		}
		if current.Status != models.PaymentStatusPending && current.Status != models.PaymentStatusPendingConfirmation {
			return idempotent(op)
		}

		authorized := intent.AmountCapturable
		if authorized <= 0 || authorized > current.Amount.Total {
			authorized = current.Amount.Total
		}
		payment, err = stores.Payments.MarkAuthorized(ctx, current.ID, authorized)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return idempotent(op)
			}
			return err
		}

		locked, err := stores.Sessions.GetSegmentByIntentIDForUpdate(ctx, intent.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fatal(op, fmt.Errorf("%w: no segment for intent %s", ErrMissingLinkage, intent.ID))
			}
			return err
		}
		segment, err = stores.Sessions.UpdateSegmentStatusIfCurrent(
			ctx,
			locked.ID,
			[]models.OvertimeStatus{models.OvertimeStatusPendingConfirmation, models.OvertimeStatusRequested},
			models.OvertimeStatusAuthorized,
			nil,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			segment = locked
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	s.publish(segment.SessionID, EventOvertimeAuthorized, map[string]any{
		"segment_id":        segment.ID,
		"payment_id":        payment.ID,
		"payment_intent_id": intent.ID,
		"authorized_amount": payment.Amount.Authorized,
		"currency":          payment.Amount.Currency,
	})
	return nil
}

// HandleAuthorizationFailed marks the hold and its segment failed. The
// ledger is not touched.
func (s *OvertimeService) HandleAuthorizationFailed(ctx context.Context, stores Stores, payment *models.Payment, intent *processor.Intent) (*models.OvertimeSegment, error) {
	const op = "overtime authorization failed"

	segment, err := stores.Sessions.GetSegmentByIntentIDForUpdate(ctx, intent.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fatal(op, fmt.Errorf("%w: no segment for intent %s", ErrMissingLinkage, intent.ID))
		}
		return nil, err
	}
	if segment.Status == models.OvertimeStatusFailed {
		return segment, idempotent(op)
	}

	updated, err := stores.Sessions.UpdateSegmentStatusIfCurrent(
		ctx,
		segment.ID,
		[]models.OvertimeStatus{models.OvertimeStatusRequested, models.OvertimeStatusPendingConfirmation},
		models.OvertimeStatusFailed,
		nil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return segment, idempotent(op)
		}
		return nil, err
	}
	return updated, nil
}

// RecordCapture books a capture the processor reports as succeeded. It is
// shared by CaptureOrCancel and by captures made outside the API.
func (s *OvertimeService) RecordCapture(
	ctx context.Context,
	stores Stores,
	payment *models.Payment,
	intent *processor.Intent,
) (*models.Payment, *models.OvertimeSegment, error) {
	const op = "record overtime capture"

	if payment.Type == models.PaymentTypeOvertimeCharge && payment.Status.Settled() {
		return payment, nil, idempotent(op)
	}

	captured := intent.AmountReceived
	if captured <= 0 {
		return nil, nil, fatal(op, fmt.Errorf("%w: intent %s reports nothing received", ErrInvalidInput, intent.ID))
	}
	if captured > payment.Amount.Authorized {
		return nil, nil, fatal(op, fmt.Errorf("captured %d exceeds authorized %d for intent %s", captured, payment.Amount.Authorized, intent.ID))
	}

	snapshot, err := s.pricer.FromGross(captured, payment.Amount.Currency)
	if err != nil {
		return nil, nil, err
	}

	var chargeID *string
	if intent.ChargeID != "" {
		chargeID = &intent.ChargeID
	}
	updated, err := stores.Payments.MarkCaptured(ctx, payment.ID, snapshot, chargeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fatal(op, fmt.Errorf("%w: payment %d is %s", ErrInvalidStateTransition, payment.ID, payment.Status))
		}
		return nil, nil, err
	}

	if _, _, err := s.ledger.EnsureChargeTransaction(ctx, stores.Transactions, updated, intent.ChargeID); err != nil {
		return nil, nil, err
	}

	result := &models.CaptureResult{
		Success:        true,
		Status:         string(models.OvertimeStatusCaptured),
		ChargeID:       intent.ChargeID,
		CapturedAmount: captured,
	}
	segment, err := s.finishSegment(ctx, stores, intent.ID, models.OvertimeStatusCaptured, result)
	if err != nil {
		return nil, nil, err
	}
	return updated, segment, nil
}

// CaptureOrCancel captures finalAmount of an authorized hold, or releases
// it when finalAmount is zero. The result reports what actually happened.
func (s *OvertimeService) CaptureOrCancel(ctx context.Context, intentID string, finalAmount int64) (*models.CaptureResult, error) {
	payment, err := s.uow.Stores().Payments.GetByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if payment.Type == models.PaymentTypeOvertimeCharge && payment.Status.Settled() {
		return &models.CaptureResult{
			Success:        true,
			Status:         string(models.OvertimeStatusCaptured),
			ChargeID:       derefString(payment.ChargeID),
			CapturedAmount: payment.Amount.Total,
		}, nil
	}
	if payment.Type != models.PaymentTypeAuthorization || payment.Status != models.PaymentStatusAuthorized {
		return nil, ErrInvalidStateTransition
	}
	if finalAmount < 0 || finalAmount > payment.Amount.Authorized {
		return nil, fmt.Errorf("%w: amount %d outside authorized %d", ErrInvalidInput, finalAmount, payment.Amount.Authorized)
	}

	if finalAmount == 0 {
		return s.cancelHold(ctx, payment, "released without charge")
	}

	intent, err := s.client.CapturePaymentIntent(ctx, intentID, finalAmount)
	if err != nil {
		s.logger.Error("overtime capture failed",
			zap.Int64("payment_id", payment.ID),
			zap.String("payment_intent_id", intentID),
			zap.Int64("amount", finalAmount),
			zap.Error(err),
		)
		return &models.CaptureResult{Success: false, Status: "capture_failed"}, err
	}

	var (
		updated *models.Payment
		segment *models.OvertimeSegment
	)
	err = s.uow.WithTx(ctx, func(stores Stores) error {
		locked, err := stores.Payments.GetByIntentIDForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		updated, segment, err = s.RecordCapture(ctx, stores, locked, intent)
		return err
	})
	if err != nil && KindOf(err) != KindIdempotent {
		s.logger.Error("overtime captured but not recorded, manual reconciliation required",
			zap.Int64("payment_id", payment.ID),
			zap.String("payment_intent_id", intentID),
			zap.Int64("captured", intent.AmountReceived),
			zap.Error(err),
		)
		return &models.CaptureResult{
			Success:        true,
			Status:         intent.Status,
			ChargeID:       intent.ChargeID,
			CapturedAmount: intent.AmountReceived,
		}, err
	}

	result := &models.CaptureResult{
		Success:        true,
		Status:         string(models.OvertimeStatusCaptured),
		ChargeID:       intent.ChargeID,
		CapturedAmount: intent.AmountReceived,
	}
	if updated != nil {
		s.issueInvoice(ctx, updated)
	}
	if segment != nil {
		s.publish(segment.SessionID, EventOvertimeCaptured, map[string]any{
			"segment_id":      segment.ID,
			"captured_amount": result.CapturedAmount,
		})
	}
	return result, nil
}

// HandleIntentCanceled mirrors a cancellation reported by the processor.
func (s *OvertimeService) HandleIntentCanceled(ctx context.Context, stores Stores, payment *models.Payment, reason string) error {
	const op = "overtime intent canceled"

	if _, err := stores.Payments.MarkCanceled(ctx, payment.ID, reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return idempotent(op)
		}
		return err
	}
	_, err := s.finishSegment(ctx, stores, payment.PaymentIntentID, models.OvertimeStatusCanceled, &models.CaptureResult{
		Success: true,
		Status:  string(models.OvertimeStatusCanceled),
	})
	return err
}

type SweepResult struct {
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// SweepStaleAuthorizations expires segments stuck before capture: requested
// or pending_confirmation for longer than the confirmation TTL, and
// authorized holds older than the hold limit. Held amounts are released.
func (s *OvertimeService) SweepStaleAuthorizations(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now()

	batches := []struct {
		status models.OvertimeStatus
		cutoff time.Time
	}{
		{models.OvertimeStatusRequested, now.Add(-s.cfg.ConfirmationTTL)},
		{models.OvertimeStatusPendingConfirmation, now.Add(-s.cfg.ConfirmationTTL)},
		{models.OvertimeStatusAuthorized, now.Add(-s.cfg.HoldLimit)},
	}

	for _, batch := range batches {
		segments, err := s.uow.Stores().Sessions.ListSegmentsOlderThan(ctx, batch.status, batch.cutoff, sweepBatchSize)
		if err != nil {
			return result, err
		}
		for _, segment := range segments {
			if err := s.expireSegment(ctx, segment); err != nil {
				result.Failed++
				s.logger.Error("failed to expire overtime segment, manual reconciliation required",
					zap.Int64("segment_id", segment.ID),
					zap.Int64("session_id", segment.SessionID),
					zap.String("status", string(segment.Status)),
					zap.Error(err),
				)
				continue
			}
			result.Expired++
		}
	}
	return result, nil
}

// RunSweeper sweeps on every tick until ctx is done.
func (s *OvertimeService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.SweepStaleAuthorizations(ctx)
			if err != nil {
				s.logger.Error("overtime sweep failed", zap.Error(err))
				continue
			}
			if result.Expired > 0 || result.Failed > 0 {
				s.logger.Info("overtime sweep finished",
					zap.Int("expired", result.Expired),
					zap.Int("failed", result.Failed),
				)
			}
		}
	}
}

func (s *OvertimeService) expireSegment(ctx context.Context, segment models.OvertimeSegment) error {
	if segment.PaymentIntentID != nil {
		if _, err := s.client.CancelPaymentIntent(ctx, *segment.PaymentIntentID); err != nil {
			intent, getErr := s.client.GetPaymentIntent(ctx, *segment.PaymentIntentID)
			if getErr != nil || intent.Status != processor.IntentStatusCanceled {
				return err
			}
		}
	}

	return s.uow.WithTx(ctx, func(stores Stores) error {
		if _, err := stores.Sessions.UpdateSegmentStatusIfCurrent(
			ctx,
			segment.ID,
			[]models.OvertimeStatus{segment.Status},
			models.OvertimeStatusExpired,
			&models.CaptureResult{Success: false, Status: string(models.OvertimeStatusExpired)},
		); err != nil {
			return ignoreNoRows(err)
		}
		if segment.PaymentIntentID == nil {
			return nil
		}
		payment, err := stores.Payments.GetByIntentIDForUpdate(ctx, *segment.PaymentIntentID)
		if err != nil {
			return ignoreNoRows(err)
		}
		_, err = stores.Payments.MarkCanceled(ctx, payment.ID, "authorization expired")
		return ignoreNoRows(err)
	})
}

func (s *OvertimeService) cancelHold(ctx context.Context, payment *models.Payment, reason string) (*models.CaptureResult, error) {
	if _, err := s.client.CancelPaymentIntent(ctx, payment.PaymentIntentID); err != nil {
		return &models.CaptureResult{Success: false, Status: "cancel_failed"}, err
	}

	result := &models.CaptureResult{Success: true, Status: string(models.OvertimeStatusCanceled)}
	err := s.uow.WithTx(ctx, func(stores Stores) error {
		return s.HandleIntentCanceled(ctx, stores, payment, reason)
	})
	if err != nil && KindOf(err) != KindIdempotent {
		return result, err
	}
	return result, nil
}

func (s *OvertimeService) finishSegment(
	ctx context.Context,
	stores Stores,
	intentID string,
	status models.OvertimeStatus,
	result *models.CaptureResult,
) (*models.OvertimeSegment, error) {
	segment, err := stores.Sessions.GetSegmentByIntentIDForUpdate(ctx, intentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Error("overtime payment has no segment, manual intervention required",
				zap.String("payment_intent_id", intentID),
			)
			return nil, nil
		}
		return nil, err
	}
	updated, err := stores.Sessions.UpdateSegmentStatusIfCurrent(
		ctx,
		segment.ID,
		[]models.OvertimeStatus{
			models.OvertimeStatusRequested,
			models.OvertimeStatusPendingConfirmation,
			models.OvertimeStatusAuthorized,
		},
		status,
		result,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return segment, nil
	}
	return updated, err
}

func (s *OvertimeService) loadSession(ctx context.Context, stores Stores, sessionID int64) (*models.Session, *models.Booking, error) {
	session, err := stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	booking, err := stores.Bookings.GetByID(ctx, session.BookingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return session, booking, nil
}

func (s *OvertimeService) issueInvoice(ctx context.Context, payment *models.Payment) {
	if s.invoices == nil {
		return
	}
	if _, err := s.invoices.IssueInvoice(ctx, payment); err != nil {
		s.logger.Error("overtime invoice failed, manual reconciliation required",
			zap.Int64("payment_id", payment.ID),
			zap.String("payment_intent_id", payment.PaymentIntentID),
			zap.Error(err),
		)
	}
}

func (s *OvertimeService) publish(sessionID int64, event string, payload map[string]any) {
	if err := s.realtime.Publish(SessionChannel(sessionID), event, payload); err != nil {
		s.logger.Warn("realtime publish failed",
			zap.Int64("session_id", sessionID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func createSegmentInput(sessionID int64, minutes int, booking *models.Booking) repository.CreateSegmentInput {
	return repository.CreateSegmentInput{
		SessionID:          sessionID,
		RequestedMinutes:   minutes,
		CalculatedMaxPrice: booking.OvertimeRateMinor * int64(minutes),
		Currency:           money.NormalizeCurrency(booking.Currency),
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
