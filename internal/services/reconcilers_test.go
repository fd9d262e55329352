package services

import (
	"context"
	"errors"
	"testing"

	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
)

// settleTwice creates both intents before either settles, then delivers
// their success events in order. The second outcome is returned.
func settleTwice(t *testing.T, h *harness, input CreatePaymentInput) (first, second *models.Payment, result *WebhookResult) {
	t.Helper()
	first = h.createIntent(t, testPayerID, input)
	second = h.createIntent(t, testPayerID, input)

	firstResult, err := h.webhooks.Dispatch(context.Background(), h.succeededEvent(t, first.PaymentIntentID))
	if err != nil {
		t.Fatalf("Dispatch first: %v", err)
	}
	if firstResult.Outcome != OutcomeProcessed {
		t.Fatalf("expected first payment processed, got %q", firstResult.Outcome)
	}

	result, err = h.webhooks.Dispatch(context.Background(), h.succeededEvent(t, second.PaymentIntentID))
	if err != nil {
		t.Fatalf("Dispatch second: %v", err)
	}
	return first, second, result
}

// assertDuplicateRefunded checks that the second charge was booked and then
// refunded in full while the first payment kept the purchase.
func assertDuplicateRefunded(t *testing.T, h *harness, first, second *models.Payment, result *WebhookResult) {
	t.Helper()
	if result.Outcome != OutcomeRefundedUnavailable {
		t.Fatalf("expected %q for the duplicate, got %q", OutcomeRefundedUnavailable, result.Outcome)
	}

	kept := h.payment(t, first.ID)
	if kept.Status != models.PaymentStatusCompleted || kept.Amount.Refunded != 0 {
		t.Fatalf("expected first payment untouched, got %s refunded %d", kept.Status, kept.Amount.Refunded)
	}

	duplicate := h.payment(t, second.ID)
	if duplicate.Status != models.PaymentStatusRefunded || duplicate.Amount.Refunded != duplicate.Amount.Total {
		t.Fatalf("expected duplicate fully refunded, got %s refunded %d", duplicate.Status, duplicate.Amount.Refunded)
	}
	if charges := h.transactionsOf(second.ID, models.TransactionTypeCharge); len(charges) != 1 {
		t.Fatalf("expected the duplicate charge in the ledger, got %+v", charges)
	}
	refunds := h.transactionsOf(second.ID, models.TransactionTypeRefund)
	if len(refunds) != 1 || refunds[0].Amount != duplicate.Amount.Total {
		t.Fatalf("expected one full refund row, got %+v", refunds)
	}

	if len(h.client.refunds) != 1 {
		t.Fatalf("expected one processor refund, got %d", len(h.client.refunds))
	}
	for _, refund := range h.client.refunds {
		if refund.PaymentIntentID != second.PaymentIntentID || refund.Reason != RefundReasonDuplicate {
			t.Fatalf("unexpected refund %+v", refund)
		}
	}
	if len(h.notifier.ofType(NotificationDuplicateRefund)) != 1 {
		t.Fatalf("expected a duplicate refund notification")
	}
	if len(h.notifier.ofType(NotificationCapacityRefund)) != 0 {
		t.Fatalf("duplicates must not be reported as capacity refunds")
	}

	again, err := h.webhooks.Dispatch(context.Background(), &processor.Event{
		ID:     "evt_replay_" + second.PaymentIntentID,
		Type:   processor.EventIntentSucceeded,
		Intent: &processor.Intent{ID: second.PaymentIntentID, Status: processor.IntentStatusSucceeded, ChargeID: "ch_" + second.PaymentIntentID},
	})
	if err != nil || again.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected replay already processed, got %+v, %v", again, err)
	}
	if len(h.client.refunds) != 1 {
		t.Fatalf("replay must not refund again, got %d refunds", len(h.client.refunds))
	}
}

func TestWebinarDuplicateChargeIsRefunded(t *testing.T) {
	h := newHarness(t)
	h.addUser(50)
	booking := h.addBooking(models.Booking{
		UserID:       50,
		Type:         models.BookingTypeWebinar,
		Status:       models.BookingStatusScheduled,
		PriceMinor:   2000,
		MaxAttendees: 5,
	})

	first, second, result := settleTwice(t, h, CreatePaymentInput{Kind: models.PurchaseKindWebinar, BookingID: &booking.ID})
	assertDuplicateRefunded(t, h, first, second, result)

	stored, _ := memBookings{h.uow.db}.GetByID(context.Background(), booking.ID)
	attendee, found := stored.Attendee(testPayerID)
	if !found || attendee.Status != models.AttendeeStatusConfirmed {
		t.Fatalf("expected payer to keep the seat, got %+v", attendee)
	}
	if attendee.PaymentID == nil || *attendee.PaymentID != first.ID {
		t.Fatalf("expected seat paid by payment %d, got %v", first.ID, attendee.PaymentID)
	}
	if stored.ConfirmedAttendees() != 1 {
		t.Fatalf("expected one confirmed seat, got %d", stored.ConfirmedAttendees())
	}
}

func TestProgramDuplicateChargeIsRefunded(t *testing.T) {
	h := newHarness(t)
	h.uow.db.programs[300] = models.Program{ID: 300, CoachID: testCoachID, Title: "12 week strength", PriceMinor: 5000, Currency: "CHF"}
	h.uow.db.enrollments[301] = models.Enrollment{ID: 301, ProgramID: 300, UserID: testPayerID, Status: models.EnrollmentStatusPendingPayment}

	programID := int64(300)
	first, second, result := settleTwice(t, h, CreatePaymentInput{Kind: models.PurchaseKindProgram, ProgramID: &programID})
	assertDuplicateRefunded(t, h, first, second, result)

	enrollment := h.uow.db.enrollments[301]
	if enrollment.Status != models.EnrollmentStatusActive {
		t.Fatalf("expected enrollment to stay active, got %s", enrollment.Status)
	}
	if enrollment.PaymentID == nil || *enrollment.PaymentID != first.ID {
		t.Fatalf("expected enrollment paid by payment %d, got %v", first.ID, enrollment.PaymentID)
	}
	if count := h.uow.db.programs[300].EnrollmentsCount; count != 1 {
		t.Fatalf("expected enrollments count 1, got %d", count)
	}
}

func TestStandardDuplicateChargeIsRefunded(t *testing.T) {
	h := newHarness(t)
	booking := h.addBooking(models.Booking{
		UserID:     testPayerID,
		Type:       models.BookingTypeStandard,
		Status:     models.BookingStatusPending,
		PriceMinor: 10000,
	})
	session := h.addSession(booking.ID, models.SessionStateRequested)

	first, second, result := settleTwice(t, h, CreatePaymentInput{Kind: models.PurchaseKindStandard, BookingID: &booking.ID})
	assertDuplicateRefunded(t, h, first, second, result)

	stored := h.uow.db.bookings[booking.ID]
	if stored.Status != models.BookingStatusConfirmed {
		t.Fatalf("expected booking to stay confirmed, got %s", stored.Status)
	}
	if stored.Payment.Status != string(models.PaymentStatusCompleted) || stored.Payment.PaymentID == nil || *stored.Payment.PaymentID != first.ID {
		t.Fatalf("expected booking settled by payment %d, got %+v", first.ID, stored.Payment)
	}
	if state := h.uow.db.sessions[session.ID].State; state != models.SessionStateConfirmed {
		t.Fatalf("expected session to stay confirmed, got %s", state)
	}
	if invoices := h.invoicesOf(second.ID, models.InvoiceTypeInvoice); len(invoices) != 0 {
		t.Fatalf("duplicate must not be invoiced, got %+v", invoices)
	}
}

func TestStandardBookingRejectsIntentAfterSettlement(t *testing.T) {
	h := newHarness(t)
	booking, _, _ := settleStandardBooking(t, h)

	_, err := h.payments.CreatePaymentIntent(context.Background(), testPayerID, CreatePaymentInput{Kind: models.PurchaseKindStandard, BookingID: &booking.ID})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestRefundLeavesPurchaseOwnedByAnotherPayment(t *testing.T) {
	h := newHarness(t)
	h.uow.db.programs[300] = models.Program{ID: 300, CoachID: testCoachID, PriceMinor: 5000, Currency: "CHF", EnrollmentsCount: 1}
	owner := int64(900)
	h.uow.db.enrollments[301] = models.Enrollment{ID: 301, ProgramID: 300, UserID: testPayerID, Status: models.EnrollmentStatusActive, PaymentID: &owner}

	programID := int64(300)
	other := &models.Payment{ID: 901, PayerID: testPayerID, PurchaseKind: models.PurchaseKindProgram, ProgramID: &programID}
	if err := reversePurchase(context.Background(), h.uow.Stores(), other); err != nil {
		t.Fatalf("reversePurchase: %v", err)
	}
	if status := h.uow.db.enrollments[301].Status; status != models.EnrollmentStatusActive {
		t.Fatalf("expected enrollment kept active, got %s", status)
	}
	if count := h.uow.db.programs[300].EnrollmentsCount; count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	booking := h.addBooking(models.Booking{
		UserID:  testPayerID,
		Type:    models.BookingTypeStandard,
		Status:  models.BookingStatusConfirmed,
		Payment: models.BookingPayment{Status: string(models.PaymentStatusCompleted), PaymentID: &owner},
	})
	standard := &models.Payment{ID: 902, PayerID: testPayerID, PurchaseKind: models.PurchaseKindStandard, BookingID: &booking.ID}
	if err := reversePurchase(context.Background(), h.uow.Stores(), standard); err != nil {
		t.Fatalf("reversePurchase: %v", err)
	}
	if stored := h.uow.db.bookings[booking.ID]; stored.Status != models.BookingStatusConfirmed || *stored.Payment.PaymentID != owner {
		t.Fatalf("expected booking untouched, got %+v", stored)
	}

	h.uow.db.attendees[booking.ID] = []models.Attendee{{UserID: testPayerID, Status: models.AttendeeStatusConfirmed, PaymentID: &owner}}
	roster := &models.Payment{ID: 903, PayerID: testPayerID, PurchaseKind: models.PurchaseKindWebinar, BookingID: &booking.ID}
	if err := reversePurchase(context.Background(), h.uow.Stores(), roster); err != nil {
		t.Fatalf("reversePurchase: %v", err)
	}
	if status := h.uow.db.attendees[booking.ID][0].Status; status != models.AttendeeStatusConfirmed {
		t.Fatalf("expected seat kept, got %s", status)
	}
}

func TestWebinarPaymentFailureIsRecordedOnRoster(t *testing.T) {
	h := newHarness(t)
	h.addUser(50)
	booking := h.addBooking(models.Booking{
		UserID:       50,
		Type:         models.BookingTypeWebinar,
		Status:       models.BookingStatusScheduled,
		PriceMinor:   2000,
		MaxAttendees: 5,
	})
	payment := h.createIntent(t, testPayerID, CreatePaymentInput{Kind: models.PurchaseKindWebinar, BookingID: &booking.ID})

	intent, _ := h.client.GetPaymentIntent(context.Background(), payment.PaymentIntentID)
	intent.FailureMessage = "Insufficient funds."
	event := &processor.Event{ID: "evt_webinar_failed", Type: processor.EventIntentPaymentFailed, Intent: intent}

	result, err := h.webhooks.Dispatch(context.Background(), event)
	if err != nil || result.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %+v, %v", result, err)
	}

	stored, _ := memBookings{h.uow.db}.GetByID(context.Background(), booking.ID)
	attendee, found := stored.Attendee(testPayerID)
	if !found || attendee.Status != models.AttendeeStatusPaymentFailed {
		t.Fatalf("expected roster entry marked payment_failed, got %+v", attendee)
	}
	if attendee.PaymentID == nil || *attendee.PaymentID != payment.ID {
		t.Fatalf("expected failure linked to payment %d, got %v", payment.ID, attendee.PaymentID)
	}
	if stored.ConfirmedAttendees() != 0 {
		t.Fatalf("failed payers must not take a seat")
	}
	if len(h.notifier.ofType(NotificationPaymentFailed)) != 1 {
		t.Fatalf("expected one failure notification")
	}

	again, err := h.webhooks.Dispatch(context.Background(), event)
	if err != nil || again.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected replay already processed, got %+v, %v", again, err)
	}

	retry := h.createIntent(t, testPayerID, CreatePaymentInput{Kind: models.PurchaseKindWebinar, BookingID: &booking.ID})
	if _, err := h.webhooks.Dispatch(context.Background(), h.succeededEvent(t, retry.PaymentIntentID)); err != nil {
		t.Fatalf("Dispatch retry: %v", err)
	}
	stored, _ = memBookings{h.uow.db}.GetByID(context.Background(), booking.ID)
	if attendee, _ := stored.Attendee(testPayerID); attendee.Status != models.AttendeeStatusConfirmed || *attendee.PaymentID != retry.ID {
		t.Fatalf("expected retry to confirm the seat, got %+v", attendee)
	}
}

func TestPurchaseKindFallsBackToStoredKind(t *testing.T) {
	program := &models.Payment{PurchaseKind: models.PurchaseKindProgram}

	cases := []struct {
		name     string
		metadata string
		payment  *models.Payment
		want     models.PurchaseKind
	}{
		{"metadata wins", string(models.PurchaseKindWebinar), program, models.PurchaseKindWebinar},
		{"legacy alias", "live", program, models.PurchaseKindLiveSession},
		{"unknown metadata", "gift_card", program, models.PurchaseKindProgram},
		{"missing metadata", "", program, models.PurchaseKindProgram},
		{"nothing known", "gift_card", nil, models.PurchaseKindStandard},
		{"unknown stored kind", "", &models.Payment{PurchaseKind: "gift_card"}, models.PurchaseKindStandard},
	}
	for _, tc := range cases {
		intent := &processor.Intent{Metadata: map[string]string{}}
		if tc.metadata != "" {
			intent.Metadata[processor.MetaType] = tc.metadata
		}
		if got := purchaseKindOf(intent, tc.payment); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
