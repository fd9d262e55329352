package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
)

// ReconcileOutcome is what a reconciler did to its purchasable inside the
// webhook transaction, plus the side effects to run after commit.
type ReconcileOutcome struct {
	EntityUpdated bool
	// Compensate asks for the payment to be refunded because the purchasable
	// can no longer be delivered.
	Compensate bool
	// Duplicate marks a compensation for a purchasable another payment
	// already paid for.
	Duplicate bool
	// Settled means the reconciler already booked payment and ledger.
	Settled   bool
	SessionID int64
	Notify    []Notification
}

// BookingReconciler applies a payment outcome to one purchasable shape. It
// only touches its own entity; payment and ledger rows are written by the
// dispatcher.
type BookingReconciler interface {
	ApplySuccess(ctx context.Context, stores Stores, payment *models.Payment, intent *processor.Intent) (*ReconcileOutcome, error)
	ApplyFailure(ctx context.Context, stores Stores, payment *models.Payment, intent *processor.Intent) (*ReconcileOutcome, error)
}

func newReconcilers(overtime *OvertimeService) map[models.PurchaseKind]BookingReconciler {
	return map[models.PurchaseKind]BookingReconciler{
		models.PurchaseKindStandard:    standardReconciler{},
		models.PurchaseKindGroup:       rosterReconciler{kind: models.PurchaseKindGroup},
		models.PurchaseKindWebinar:     rosterReconciler{kind: models.PurchaseKindWebinar, requireMinimum: true},
		models.PurchaseKindLiveSession: liveSessionReconciler{},
		models.PurchaseKindProgram:     programReconciler{},
		models.PurchaseKindOvertime:    overtimeReconciler{overtime: overtime},
	}
}

type standardReconciler struct{}

func (standardReconciler) ApplySuccess(ctx context.Context, stores Stores, payment *models.Payment, _ *processor.Intent) (*ReconcileOutcome, error) {
	const op = "reconcile standard booking"

	booking, err := lockBooking(ctx, stores, payment, op)
	if err != nil {
		return nil, err
	}

	if booking.Payment.Status == string(models.PaymentStatusCompleted) && !paidWith(booking.Payment.PaymentID, payment) {
		return refundDuplicate(op, payment)
	}

	unavailable := booking.Status == models.BookingStatusDeclined || booking.Status == models.BookingStatusCancelled
	if payment.Status.Settled() {
		// Settled on a cancelled booking and never refunded: the earlier
		// delivery stopped before its compensation went through.
		if unavailable && payment.Amount.Refunded == 0 {
			return &ReconcileOutcome{Compensate: true}, nil
		}
		return nil, idempotent(op)
	}
	if unavailable {
		return &ReconcileOutcome{Compensate: true}, nil
	}

	paymentID := payment.ID
	intentID := payment.PaymentIntentID
	if _, err := stores.Bookings.UpdatePayment(ctx, booking.ID, models.BookingPayment{
		Status:          string(models.PaymentStatusCompleted),
		PaymentID:       &paymentID,
		PaymentIntentID: &intentID,
	}); err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusConfirmed && booking.Status != models.BookingStatusCompleted {
		if _, err := stores.Bookings.UpdateStatus(ctx, booking.ID, models.BookingStatusConfirmed); err != nil {
			return nil, err
		}
	}

	outcome := &ReconcileOutcome{EntityUpdated: true}
	session, err := stores.Sessions.GetByBookingID(ctx, booking.ID)
	switch {
	case err == nil:
		if _, err := stores.Sessions.UpdateStateIfCurrent(
			ctx,
			session.ID,
			[]string{models.SessionStateRequested},
			models.SessionStateConfirmed,
		); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		outcome.SessionID = session.ID
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, err
	}

	outcome.Notify = append(outcome.Notify, Notification{
		UserID:   booking.CoachID,
		Type:     NotificationPaymentSucceeded,
		Priority: PriorityNormal,
		Title:    "Session booked",
		Message:  "A client paid for a session with you.",
		Data:     map[string]any{"booking_id": booking.ID, "payment_id": payment.ID},
	})
	return outcome, nil
}

func (standardReconciler) ApplyFailure(ctx context.Context, stores Stores, payment *models.Payment, intent *processor.Intent) (*ReconcileOutcome, error) {
	const op = "reconcile standard booking failure"

	booking, err := lockBooking(ctx, stores, payment, op)
	if err != nil {
		return nil, err
	}
	if booking.Payment.Status == string(models.PaymentStatusFailed) {
		return nil, idempotent(op)
	}
	if booking.Payment.Status == string(models.PaymentStatusCompleted) {
		return nil, idempotent(op)
	}

	paymentID := payment.ID
	if _, err := stores.Bookings.UpdatePayment(ctx, booking.ID, models.BookingPayment{
		Status:    string(models.PaymentStatusFailed),
		PaymentID: &paymentID,
	}); err != nil {
		return nil, err
	}
	return &ReconcileOutcome{
		EntityUpdated: true,
		Notify:        []Notification{paymentFailedNotification(payment, intent)},
	}, nil
}

// rosterReconciler handles bookings many payers join: group workshops and
// webinars. The roster never grows past MaxAttendees.
type rosterReconciler struct {
	kind           models.PurchaseKind
	requireMinimum bool
}

func (r rosterReconciler) ApplySuccess(ctx context.Context, stores Stores, payment *models.Payment, _ *processor.Intent) (*ReconcileOutcome, error) {
	op := fmt.Sprintf("reconcile %s booking", r.kind)

	booking, err := lockBooking(ctx, stores, payment, op)
	if err != nil {
		return nil, err
	}

	attendee, found := booking.Attendee(payment.PayerID)
	if found && attendee.Status == models.AttendeeStatusConfirmed {
		if paidWith(attendee.PaymentID, payment) {
			return nil, idempotent(op)
		}
		return refundDuplicate(op, payment)
	}
	if payment.Status.Settled() {
		// A settled payment without a confirmed seat was a capacity
		// conflict. Resume the refund unless it already went through.
		if payment.Amount.Refunded == 0 {
			return &ReconcileOutcome{Compensate: true}, nil
		}
		return nil, idempotent(op)
	}

	if booking.Status == models.BookingStatusCancelled || booking.Status == models.BookingStatusCompleted {
		return &ReconcileOutcome{Compensate: true}, nil
	}
	maxAttendees := booking.MaxAttendees
	if maxAttendees <= 0 {
		maxAttendees = 1
	}
	confirmed := booking.ConfirmedAttendees()
	if confirmed >= maxAttendees {
		return &ReconcileOutcome{Compensate: true}, nil
	}

	paymentID := payment.ID
	if err := stores.Bookings.UpsertAttendee(ctx, booking.ID, models.Attendee{
		UserID:    payment.PayerID,
		Status:    models.AttendeeStatusConfirmed,
		PaymentID: &paymentID,
	}); err != nil {
		return nil, err
	}
	confirmed++

	switch {
	case r.requireMinimum:
		if booking.Status == models.BookingStatusPendingMinimumAttendees && confirmed >= booking.MinAttendees {
			if _, err := stores.Bookings.UpdateStatusIfCurrent(
				ctx,
				booking.ID,
				models.BookingStatusPendingMinimumAttendees,
				models.BookingStatusScheduled,
			); err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return nil, err
			}
		}
	case booking.Status == models.BookingStatusPending || booking.Status == models.BookingStatusScheduled:
		if _, err := stores.Bookings.UpdateStatus(ctx, booking.ID, models.BookingStatusConfirmed); err != nil {
			return nil, err
		}
	}

	return &ReconcileOutcome{
		EntityUpdated: true,
		Notify: []Notification{{
			UserID:   booking.CoachID,
			Type:     NotificationPaymentSucceeded,
			Priority: PriorityNormal,
			Title:    "New attendee",
			Message:  fmt.Sprintf("%d of %d seats are taken.", confirmed, maxAttendees),
			Data:     map[string]any{"booking_id": booking.ID, "payment_id": payment.ID},
		}},
	}, nil
}

// ApplyFailure records the failure on the payer's roster entry only. The
// booking itself is shared with the other attendees.
func (r rosterReconciler) ApplyFailure(ctx context.Context, stores Stores, payment *models.Payment, intent *processor.Intent) (*ReconcileOutcome, error) {
	op := fmt.Sprintf("reconcile %s booking failure", r.kind)

	booking, err := lockBooking(ctx, stores, payment, op)
	if err != nil {
		return nil, err
	}
	attendee, found := booking.Attendee(payment.PayerID)
	if found && (attendee.Status == models.AttendeeStatusConfirmed || (attendee.Status == models.AttendeeStatusPaymentFailed && paidWith(attendee.PaymentID, payment))) {
		return nil, idempotent(op)
	}

	paymentID := payment.ID
	if err := stores.Bookings.UpsertAttendee(ctx, booking.ID, models.Attendee{
		UserID:    payment.PayerID,
		Status:    models.AttendeeStatusPaymentFailed,
		PaymentID: &paymentID,
	}); err != nil {
		return nil, err
	}
	return &ReconcileOutcome{
		EntityUpdated: true,
		Notify:        []Notification{paymentFailedNotification(payment, intent)},
	}, nil
}

type liveSessionReconciler struct{}

func (liveSessionReconciler) ApplySuccess(ctx context.Context, stores Stores, payment *models.Payment, _ *processor.Intent) (*ReconcileOutcome, error) {
	const op = "reconcile live session"

	live, err := lockLiveSession(ctx, stores, payment, op)
	if err != nil {
		return nil, err
	}
	if payment.Status.Settled() {
		return nil, idempotent(op)
	}
	// The session is settled by a single payment in the same transaction,
	// so a completed session with this payment still open was paid by
	// another one.
	switch live.Status {
	case models.LiveSessionStatusCompleted:
		return refundDuplicate(op, payment)
	case models.LiveSessionStatusRefunded:
		return &ReconcileOutcome{Compensate: true}, nil
	}

	if _, err := stores.LiveSessions.UpdateStatusIfCurrent(
		ctx,
		live.ID,
		[]string{models.LiveSessionStatusPending, models.LiveSessionStatusActive, models.LiveSessionStatusCompletedPaymentFailed},
		models.LiveSessionStatusCompleted,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotent(op)
		}
		return nil, err
	}
	return &ReconcileOutcome{EntityUpdated: true}, nil
}

func (liveSessionReconciler) ApplyFailure(ctx context.Context, stores Stores, payment *models.Payment, intent *processor.Intent) (*ReconcileOutcome, error) {
	const op = "reconcile live session failure"

	live, err := lockLiveSession(ctx, stores, payment, op)
	if err != nil {
		return nil, err
	}
	if _, err := stores.LiveSessions.UpdateStatusIfCurrent(
		ctx,
		live.ID,
		[]string{models.LiveSessionStatusPending, models.LiveSessionStatusActive},
		models.LiveSessionStatusCompletedPaymentFailed,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotent(op)
		}
		return nil, err
	}
	return &ReconcileOutcome{
		EntityUpdated: true,
		Notify:        []Notification{paymentFailedNotification(payment, intent)},
	}, nil
}

type programReconciler struct{}

func (programReconciler) ApplySuccess(ctx context.Context, stores Stores, payment *models.Payment, _ *processor.Intent) (*ReconcileOutcome, error) {
	const op = "reconcile program purchase"

	enrollment, err := loadEnrollment(ctx, stores, payment, op)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusActive {
		if paidWith(enrollment.PaymentID, payment) {
			return nil, idempotent(op)
		}
		return refundDuplicate(op, payment)
	}
	if payment.Status.Settled() {
		return nil, idempotent(op)
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return &ReconcileOutcome{Compensate: true}, nil
	}

	paymentID := payment.ID
	activated := false
	for _, current := range []string{models.EnrollmentStatusPendingPayment, models.EnrollmentStatusPaymentFailed} {
		_, err := stores.Programs.UpdateEnrollmentStatusIfCurrent(ctx, enrollment.ID, current, models.EnrollmentStatusActive, &paymentID)
		if err == nil {
			activated = true
			break
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}
	if !activated {
		// Another delivery moved the enrollment first.
		current, err := loadEnrollment(ctx, stores, payment, op)
		if err != nil {
			return nil, err
		}
		if current.Status == models.EnrollmentStatusActive && !paidWith(current.PaymentID, payment) {
			return refundDuplicate(op, payment)
		}
		return nil, idempotent(op)
	}

	if err := stores.Programs.AdjustEnrollmentsCount(ctx, *payment.ProgramID, 1); err != nil {
		return nil, err
	}
	return &ReconcileOutcome{EntityUpdated: true}, nil
}

func (programReconciler) ApplyFailure(ctx context.Context, stores Stores, payment *models.Payment, intent *processor.Intent) (*ReconcileOutcome, error) {
	const op = "reconcile program purchase failure"

	enrollment, err := loadEnrollment(ctx, stores, payment, op)
	if err != nil {
		return nil, err
	}
	if _, err := stores.Programs.UpdateEnrollmentStatusIfCurrent(
		ctx,
		enrollment.ID,
		models.EnrollmentStatusPendingPayment,
		models.EnrollmentStatusPaymentFailed,
		nil,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotent(op)
		}
		return nil, err
	}
	return &ReconcileOutcome{
		EntityUpdated: true,
		Notify:        []Notification{paymentFailedNotification(payment, intent)},
	}, nil
}

// overtimeReconciler routes overtime intents to the authorization manager,
// which owns the payment and the session's segments.
type overtimeReconciler struct {
	overtime *OvertimeService
}

func (r overtimeReconciler) ApplySuccess(ctx context.Context, stores Stores, payment *models.Payment, intent *processor.Intent) (*ReconcileOutcome, error) {
	if payment.Status == models.PaymentStatusPending || payment.Status == models.PaymentStatusPendingConfirmation {
		// Captured before the amount_capturable_updated delivery arrived.
		authorized, err := stores.Payments.MarkAuthorized(ctx, payment.ID, payment.Amount.Total)
		if err != nil {
			return nil, err
		}
		payment = authorized
	}

	_, segment, err := r.overtime.RecordCapture(ctx, stores, payment, intent)
	if err != nil {
		return nil, err
	}
	outcome := &ReconcileOutcome{EntityUpdated: true, Settled: true}
	if segment != nil {
		outcome.SessionID = segment.SessionID
	}
	return outcome, nil
}

func (r overtimeReconciler) ApplyFailure(ctx context.Context, stores Stores, payment *models.Payment, intent *processor.Intent) (*ReconcileOutcome, error) {
	segment, err := r.overtime.HandleAuthorizationFailed(ctx, stores, payment, intent)
	if err != nil {
		return nil, err
	}
	notification := paymentFailedNotification(payment, intent)
	notification.Type = NotificationOvertimeFailed
	notification.Title = "Overtime could not be authorized"
	return &ReconcileOutcome{
		EntityUpdated: true,
		SessionID:     segment.SessionID,
		Notify:        []Notification{notification},
	}, nil
}

// paidWith reports whether the payment recorded on an entity is this one.
func paidWith(paymentID *int64, payment *models.Payment) bool {
	return paymentID != nil && *paymentID == payment.ID
}

// refundDuplicate handles a successful charge for a purchasable another
// payment already paid for. The charge is booked like any other and then
// refunded in full; once a refund went through the delivery is a replay.
func refundDuplicate(op string, payment *models.Payment) (*ReconcileOutcome, error) {
	if payment.Status.Settled() && payment.Amount.Refunded > 0 {
		return nil, idempotent(op)
	}
	return &ReconcileOutcome{Compensate: true, Duplicate: true}, nil
}

func lockBooking(ctx context.Context, stores Stores, payment *models.Payment, op string) (*models.Booking, error) {
	if payment.BookingID == nil {
		return nil, fatal(op, fmt.Errorf("%w: payment %d has no booking", ErrMissingLinkage, payment.ID))
	}
	booking, err := stores.Bookings.GetByIDForUpdate(ctx, *payment.BookingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fatal(op, fmt.Errorf("%w: booking %d", ErrMissingLinkage, *payment.BookingID))
		}
		return nil, err
	}
	return booking, nil
}

func lockLiveSession(ctx context.Context, stores Stores, payment *models.Payment, op string) (*models.LiveSession, error) {
	if payment.LiveSessionID == nil {
		return nil, fatal(op, fmt.Errorf("%w: payment %d has no live session", ErrMissingLinkage, payment.ID))
	}
	live, err := stores.LiveSessions.GetByIDForUpdate(ctx, *payment.LiveSessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fatal(op, fmt.Errorf("%w: live session %d", ErrMissingLinkage, *payment.LiveSessionID))
		}
		return nil, err
	}
	return live, nil
}

func loadEnrollment(ctx context.Context, stores Stores, payment *models.Payment, op string) (*models.Enrollment, error) {
	if payment.ProgramID == nil {
		return nil, fatal(op, fmt.Errorf("%w: payment %d has no program", ErrMissingLinkage, payment.ID))
	}
	enrollment, err := stores.Programs.GetEnrollment(ctx, *payment.ProgramID, payment.PayerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fatal(op, fmt.Errorf("%w: no enrollment of user %d in program %d", ErrMissingLinkage, payment.PayerID, *payment.ProgramID))
		}
		return nil, err
	}
	return enrollment, nil
}

func paymentFailedNotification(payment *models.Payment, intent *processor.Intent) Notification {
	message := "Your payment could not be completed."
	if intent != nil && intent.FailureMessage != "" {
		message = intent.FailureMessage
	}
	return Notification{
		UserID:   payment.PayerID,
		Type:     NotificationPaymentFailed,
		Priority: PriorityHigh,
		Title:    "Payment failed",
		Message:  message,
		Data: map[string]any{
			"payment_id":        payment.ID,
			"payment_intent_id": payment.PaymentIntentID,
		},
	}
}
