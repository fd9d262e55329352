package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/pkg/money"
	"go.uber.org/zap"
)

// Outcomes recorded on every webhook log and echoed to the processor.
const (
	OutcomeProcessed           = "processed"
	OutcomeAlreadyProcessed    = "already_processed"
	OutcomeRefundedUnavailable = "refunded_unavailable"
	OutcomeManualIntervention  = "manual_intervention_required"
	OutcomeIgnored             = "ignored"
	OutcomeFailed              = "failed"
)

const (
	WebhookSourceStripe = "stripe"
	WebhookSourceReplay = "replay"
)

const EventPaymentCompleted = "payment_completed"

type WebhookResult struct {
	LogID     string `json:"log_id,omitempty"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
}

// WebhookService verifies processor deliveries and routes them to the
// reconcilers. Only transient failures are returned as errors; everything
// else is acknowledged so the processor stops redelivering.
type WebhookService struct {
	uow         UnitOfWork
	client      processor.Client
	verifier    processor.EventVerifier
	reconcilers map[models.PurchaseKind]BookingReconciler
	ledger      *LedgerService
	invoices    *InvoiceService
	refunds     *RefundService
	statements  *PayoutStatementService
	overtime    *OvertimeService
	notifier    Notifier
	realtime    RealtimePublisher
	logger      *zap.Logger
	newID       func() string
}

func NewWebhookService(
	uow UnitOfWork,
	client processor.Client,
	verifier processor.EventVerifier,
	ledger *LedgerService,
	invoices *InvoiceService,
	refunds *RefundService,
	statements *PayoutStatementService,
	overtime *OvertimeService,
	notifier Notifier,
	realtime RealtimePublisher,
	logger *zap.Logger,
) *WebhookService {
	if realtime == nil {
		realtime = noopPublisher{}
	}
	return &WebhookService{
		uow:         uow,
		client:      client,
		verifier:    verifier,
		reconcilers: newReconcilers(overtime),
		ledger:      ledger,
		invoices:    invoices,
		refunds:     refunds,
		statements:  statements,
		overtime:    overtime,
		notifier:    notifier,
		realtime:    realtime,
		logger:      logger,
		newID:       uuid.NewString,
	}
}

// HandleStripeWebhook authenticates a raw delivery and dispatches it.
// A processor.ErrSignature error means the delivery must be rejected.
func (s *WebhookService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := s.verifier.ConstructEvent(payload, signature)
	if err != nil {
		s.logger.Warn("rejected webhook delivery", zap.Error(err))
		return nil, err
	}
	return s.dispatch(ctx, event, WebhookSourceStripe)
}

// Replay dispatches a stored delivery again. Its signature was verified
// when it was first received.
func (s *WebhookService) Replay(ctx context.Context, logID string) (*WebhookResult, error) {
	if _, err := uuid.Parse(logID); err != nil {
		return nil, fmt.Errorf("%w: webhook log id %q", ErrInvalidInput, logID)
	}
	entry, err := s.uow.Stores().WebhookLogs.GetByID(ctx, logID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	event, err := s.verifier.DecodeEvent(entry.Payload)
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, event, WebhookSourceReplay)
}

// Dispatch routes an already verified event.
func (s *WebhookService) Dispatch(ctx context.Context, event *processor.Event) (*WebhookResult, error) {
	return s.dispatch(ctx, event, WebhookSourceStripe)
}

// ReconcileIntent applies a succeeded intent observed synchronously, as when
// a payment is confirmed through the API. It shares the webhook path, so the
// later delivery of the same event is a no-op.
func (s *WebhookService) ReconcileIntent(ctx context.Context, intent *processor.Intent) (string, error) {
	outcome, err := s.handleIntentSucceeded(ctx, intent)
	return s.classify(processor.EventIntentSucceeded, intent.ID, outcome, err)
}

func (s *WebhookService) dispatch(ctx context.Context, event *processor.Event, source string) (*WebhookResult, error) {
	outcome, err := s.route(ctx, event)
	outcome, err = s.classify(event.Type, event.ID, outcome, err)

	result := &WebhookResult{
		EventID:   event.ID,
		EventType: event.Type,
		Outcome:   outcome,
	}
	result.LogID = s.record(ctx, event, source, outcome, err)
	return result, err
}

func (s *WebhookService) route(ctx context.Context, event *processor.Event) (string, error) {
	switch event.Type {
	case processor.EventIntentSucceeded:
		if event.Intent == nil {
			return "", fatal("route webhook", processor.ErrInvalidEvent)
		}
		return s.handleIntentSucceeded(ctx, event.Intent)
	case processor.EventIntentPaymentFailed:
		if event.Intent == nil {
			return "", fatal("route webhook", processor.ErrInvalidEvent)
		}
		return s.handleIntentFailed(ctx, event.Intent)
	case processor.EventIntentAmountCapturable:
		if event.Intent == nil {
			return "", fatal("route webhook", processor.ErrInvalidEvent)
		}
		return s.handleAmountCapturable(ctx, event.Intent)
	case processor.EventIntentCanceled:
		if event.Intent == nil {
			return "", fatal("route webhook", processor.ErrInvalidEvent)
		}
		return s.handleIntentCanceled(ctx, event.Intent)
	case processor.EventChargeRefundUpdated:
		if event.Refund == nil {
			return "", fatal("route webhook", processor.ErrInvalidEvent)
		}
		outcome, err := s.refunds.HandleRefundCompletion(ctx, event.Refund)
		if err == nil && outcome == nil {
			return OutcomeIgnored, nil
		}
		return OutcomeProcessed, err
	case processor.EventTransferCreated:
		if event.Transfer == nil {
			return "", fatal("route webhook", processor.ErrInvalidEvent)
		}
		return s.handleTransferCreated(ctx, event.Transfer)
	default:
		s.logger.Info("ignoring webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return OutcomeIgnored, nil
	}
}

// classify maps a reconciliation error onto the acknowledged outcome. Only
// transient errors survive, so the caller answers with a retryable status.
func (s *WebhookService) classify(eventType, eventID, outcome string, err error) (string, error) {
	if err == nil {
		if outcome == "" {
			outcome = OutcomeProcessed
		}
		return outcome, nil
	}

	switch KindOf(err) {
	case KindIdempotent:
		s.logger.Info("webhook already processed",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
		)
		return OutcomeAlreadyProcessed, nil
	case KindConflict:
		return OutcomeRefundedUnavailable, nil
	case KindFatal:
		s.logger.Error("webhook cannot be reconciled, manual intervention required",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return OutcomeManualIntervention, nil
	default:
		s.logger.Error("webhook processing failed, processor will retry",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return OutcomeFailed, err
	}
}

func (s *WebhookService) record(ctx context.Context, event *processor.Event, source, outcome string, cause error) string {
	payload := event.Raw
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	entry := &models.WebhookLog{
		ID:        s.newID(),
		Source:    source,
		EventID:   event.ID,
		EventType: event.Type,
		Payload:   payload,
		Outcome:   outcome,
	}
	if cause != nil {
		message := cause.Error()
		entry.Error = &message
	}
	if err := s.uow.Stores().WebhookLogs.Create(ctx, entry); err != nil {
		s.logger.Error("failed to persist webhook log",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		return ""
	}
	return entry.ID
}

func (s *WebhookService) handleIntentSucceeded(ctx context.Context, intent *processor.Intent) (string, error) {
	const op = "reconcile payment succeeded"

	var (
		payment *models.Payment
		kind    models.PurchaseKind
		outcome *ReconcileOutcome
	)
	err := s.uow.WithTx(ctx, func(stores Stores) error {
		current, err := lockPayment(ctx, stores, intent.ID, op)
		if err != nil {
			return err
		}
		kind = purchaseKindOf(intent, current)

		outcome, err = s.reconcilers[kind].ApplySuccess(ctx, stores, current, intent)
		if err != nil {
			return err
		}
		if outcome.Settled {
			payment, err = stores.Payments.GetByID(ctx, current.ID)
			return err
		}

		if intent.AmountReceived > 0 && intent.AmountReceived != current.Amount.Total {
			s.logger.Warn("processor amount differs from payment total",
				zap.Int64("payment_id", current.ID),
				zap.String("payment_intent_id", intent.ID),
				zap.Int64("amount_received", intent.AmountReceived),
				zap.Int64("total", current.Amount.Total),
			)
		}

		payment, err = stores.Payments.MarkCompleted(ctx, current.ID, optionalString(intent.ChargeID), optionalString(intent.CustomerID))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			payment = current
		}
		_, _, err = s.ledger.EnsureChargeTransaction(ctx, stores.Transactions, payment, intent.ChargeID)
		return err
	})
	if err != nil {
		return "", err
	}

	if outcome.Compensate {
		return "", s.compensate(ctx, payment, kind, outcome.Duplicate)
	}

	s.logger.Info("payment reconciled",
		zap.Int64("payment_id", payment.ID),
		zap.String("payment_intent_id", payment.PaymentIntentID),
		zap.String("purchase_kind", string(kind)),
	)

	if _, err := s.invoices.IssueInvoice(ctx, payment); err != nil {
		s.logger.Error("invoice failed, manual reconciliation required",
			zap.Int64("payment_id", payment.ID),
			zap.String("payment_intent_id", payment.PaymentIntentID),
			zap.Error(err),
		)
	}

	s.sendAll(ctx, payment, append(outcome.Notify, Notification{
		UserID:   payment.PayerID,
		Type:     NotificationPaymentSucceeded,
		Priority: PriorityNormal,
		Title:    "Payment received",
		Message:  money.Format(payment.Amount.Total, payment.Amount.Currency) + " was charged successfully.",
		Data:     map[string]any{"payment_id": payment.ID, "purchase_kind": string(kind)},
	}))

	event := map[string]any{
		"payment_id":    payment.ID,
		"purchase_kind": string(kind),
		"status":        string(payment.Status),
		"amount":        payment.Amount.Total,
		"currency":      payment.Amount.Currency,
	}
	s.publish(UserChannel(payment.PayerID), EventPaymentCompleted, event)
	if outcome.SessionID != 0 {
		s.publish(SessionChannel(outcome.SessionID), EventPaymentCompleted, event)
	}
	return OutcomeProcessed, nil
}

func (s *WebhookService) handleIntentFailed(ctx context.Context, intent *processor.Intent) (string, error) {
	const op = "reconcile payment failed"

	var (
		payment *models.Payment
		outcome *ReconcileOutcome
	)
	err := s.uow.WithTx(ctx, func(stores Stores) error {
		current, err := lockPayment(ctx, stores, intent.ID, op)
		if err != nil {
			return err
		}
		if current.Status == models.PaymentStatusFailed || current.Status.Settled() {
			return idempotent(op)
		}

		reason := intent.FailureMessage
		if reason == "" {
			reason = "payment failed"
		}
		payment, err = stores.Payments.MarkFailed(ctx, current.ID, reason)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return idempotent(op)
			}
			return err
		}

		outcome, err = s.reconcilers[purchaseKindOf(intent, current)].ApplyFailure(ctx, stores, payment, intent)
		if err != nil && KindOf(err) == KindIdempotent {
			outcome, err = &ReconcileOutcome{}, nil
		}
		return err
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("payment failure recorded",
		zap.Int64("payment_id", payment.ID),
		zap.String("payment_intent_id", payment.PaymentIntentID),
		zap.String("reason", derefString(payment.FailureReason)),
	)
	s.sendAll(ctx, payment, outcome.Notify)
	if outcome.SessionID != 0 {
		s.publish(SessionChannel(outcome.SessionID), EventOvertimeFailed, map[string]any{
			"payment_id":        payment.ID,
			"payment_intent_id": payment.PaymentIntentID,
			"reason":            derefString(payment.FailureReason),
		})
	}
	return OutcomeProcessed, nil
}

func (s *WebhookService) handleAmountCapturable(ctx context.Context, intent *processor.Intent) (string, error) {
	if intent.Status != processor.IntentStatusRequiresCapture {
		return OutcomeIgnored, nil
	}
	if kind, _ := models.LookupPurchaseKind(intent.Metadata[processor.MetaType]); kind != models.PurchaseKindOvertime {
		s.logger.Info("capturable amount on a non-overtime intent",
			zap.String("payment_intent_id", intent.ID),
			zap.Int64("amount_capturable", intent.AmountCapturable),
		)
		return OutcomeIgnored, nil
	}
	return OutcomeProcessed, s.overtime.HandleAmountCapturable(ctx, intent)
}

func (s *WebhookService) handleIntentCanceled(ctx context.Context, intent *processor.Intent) (string, error) {
	const op = "reconcile payment canceled"

	reason := intent.FailureMessage
	if reason == "" {
		reason = "canceled by processor"
	}
	err := s.uow.WithTx(ctx, func(stores Stores) error {
		payment, err := lockPayment(ctx, stores, intent.ID, op)
		if err != nil {
			return err
		}
		if purchaseKindOf(intent, payment) == models.PurchaseKindOvertime {
			return s.overtime.HandleIntentCanceled(ctx, stores, payment, reason)
		}
		if _, err := stores.Payments.MarkCanceled(ctx, payment.ID, reason); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return idempotent(op)
			}
			return err
		}
		return nil
	})
	return OutcomeProcessed, err
}

// handleTransferCreated books the coach payout and the processor fee of the
// source charge, then issues the coach's payout statement.
func (s *WebhookService) handleTransferCreated(ctx context.Context, transfer *processor.Transfer) (string, error) {
	const op = "reconcile transfer"

	if transfer.SourceChargeID == "" {
		s.logger.Info("transfer without source charge",
			zap.String("transfer_id", transfer.ID),
		)
		return OutcomeIgnored, nil
	}

	payment, err := s.uow.Stores().Payments.GetByChargeID(ctx, transfer.SourceChargeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fatal(op, fmt.Errorf("%w: charge %s", ErrMissingLinkage, transfer.SourceChargeID))
		}
		return "", err
	}

	fee, err := s.client.ChargeProcessingFee(ctx, transfer.SourceChargeID)
	if err != nil {
		return "", err
	}

	payoutRecorded := false
	err = s.uow.WithTx(ctx, func(stores Stores) error {
		_, created, err := s.ledger.EnsurePayoutTransaction(ctx, stores.Transactions, payment, transfer.ID, transfer.Amount)
		if err != nil {
			return err
		}
		payoutRecorded = created
		if fee > 0 {
			if _, _, err := s.ledger.EnsureFeeTransaction(ctx, stores.Transactions, payment, transfer.SourceChargeID, fee); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !payoutRecorded && payment.CoachPayoutInvoiceID != nil {
		return "", idempotent(op)
	}

	// The payout is booked at this point; a missing statement is
	// reconciled by hand rather than by a processor retry.
	if _, err := s.statements.GenerateStatement(ctx, payment, fee); err != nil {
		s.logger.Error("payout statement failed, manual reconciliation required",
			zap.Int64("payment_id", payment.ID),
			zap.String("payment_intent_id", payment.PaymentIntentID),
			zap.String("transfer_id", transfer.ID),
			zap.Int64("processing_fee", fee),
			zap.Error(err),
		)
		return OutcomeManualIntervention, nil
	}
	return OutcomeProcessed, nil
}

// compensate refunds a payment whose purchasable became unavailable while
// the payer was paying, or was already paid for by another payment.
func (s *WebhookService) compensate(ctx context.Context, payment *models.Payment, kind models.PurchaseKind, duplicate bool) error {
	const op = "compensate unavailable purchase"

	reason := RefundReasonCapacity
	notification := Notification{
		UserID:   payment.PayerID,
		Type:     NotificationCapacityRefund,
		Priority: PriorityHigh,
		Title:    "Booking unavailable",
		Message:  "The booking filled up before your payment completed. You have been refunded in full.",
	}
	cause := ErrCapacityReached
	if duplicate {
		reason = RefundReasonDuplicate
		notification.Type = NotificationDuplicateRefund
		notification.Title = "Duplicate payment refunded"
		notification.Message = "This purchase was already paid for. The second charge has been refunded in full."
		cause = ErrAlreadyProcessed
	}

	outcome, err := s.refunds.Refund(ctx, RefundInput{
		PaymentIntentID: payment.PaymentIntentID,
		Amount:          payment.Remaining(),
		Currency:        payment.Amount.Currency,
		Reason:          reason,
		IdempotencyKey:  "refund-" + reason + "-" + payment.PaymentIntentID,
	})
	if err != nil {
		s.logger.Error("compensating refund failed",
			zap.Int64("payment_id", payment.ID),
			zap.String("payment_intent_id", payment.PaymentIntentID),
			zap.String("purchase_kind", string(kind)),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return err
	}

	refundID := ""
	if outcome.Refund != nil {
		refundID = outcome.Refund.ID
	}
	s.logger.Warn("purchase unavailable, payment refunded",
		zap.Int64("payment_id", payment.ID),
		zap.String("payment_intent_id", payment.PaymentIntentID),
		zap.String("purchase_kind", string(kind)),
		zap.String("reason", reason),
		zap.String("refund_id", refundID),
	)
	notification.Data = map[string]any{
		"payment_id": payment.ID,
		"refund_id":  refundID,
	}
	s.sendAll(ctx, payment, []Notification{notification})
	return newReconciliationError(KindConflict, op, cause)
}

func (s *WebhookService) sendAll(ctx context.Context, payment *models.Payment, notifications []Notification) {
	for _, notification := range notifications {
		if err := s.notifier.Send(ctx, notification); err != nil {
			s.logger.Error("notification failed",
				zap.Int64("payment_id", payment.ID),
				zap.Int64("user_id", notification.UserID),
				zap.String("type", notification.Type),
				zap.Error(err),
			)
		}
	}
}

func (s *WebhookService) publish(channel, event string, payload map[string]any) {
	if err := s.realtime.Publish(channel, event, payload); err != nil {
		s.logger.Warn("realtime publish failed",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func lockPayment(ctx context.Context, stores Stores, intentID, op string) (*models.Payment, error) {
	payment, err := stores.Payments.GetByIntentIDForUpdate(ctx, intentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fatal(op, fmt.Errorf("%w: intent %s", ErrMissingLinkage, intentID))
		}
		return nil, err
	}
	return payment, nil
}

// purchaseKindOf trusts the intent metadata written at creation and falls
// back to the stored payment when it is missing or unknown.
func purchaseKindOf(intent *processor.Intent, payment *models.Payment) models.PurchaseKind {
	if kind, ok := models.LookupPurchaseKind(intent.Metadata[processor.MetaType]); ok {
		return kind
	}
	if payment != nil {
		if kind, ok := models.LookupPurchaseKind(string(payment.PurchaseKind)); ok {
			return kind
		}
	}
	return models.PurchaseKindStandard
}
