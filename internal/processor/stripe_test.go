package processor

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

const testWebhookSecret = "whsec_test_secret"

func signPayload(t *testing.T, payload []byte, secret string, ts time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts.Unix())))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

const succeededPayload = `{
  "id": "evt_1",
  "object": "event",
  "api_version": "2020-08-27",
  "type": "payment_intent.succeeded",
  "data": {
    "object": {
      "id": "pi_123",
      "object": "payment_intent",
      "amount": 12270,
      "amount_received": 12270,
      "currency": "chf",
      "status": "succeeded",
      "latest_charge": "ch_123",
      "customer": "cus_9",
      "metadata": {"type": "standard", "booking_id": "42"}
    }
  }
}`

func TestConstructEventDecodesIntent(t *testing.T) {
	verifier := NewStripeEventVerifier(testWebhookSecret)
	payload := []byte(succeededPayload)

	evt, err := verifier.ConstructEvent(payload, signPayload(t, payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("ConstructEvent: %v", err)
	}
	if evt.ID != "evt_1" || evt.Type != EventIntentSucceeded {
		t.Fatalf("unexpected event header %+v", evt)
	}
	if evt.Intent == nil {
		t.Fatalf("expected intent payload")
	}
	if evt.Intent.ID != "pi_123" || evt.Intent.Amount != 12270 || evt.Intent.Currency != "CHF" {
		t.Fatalf("unexpected intent %+v", evt.Intent)
	}
	if evt.Intent.ChargeID != "ch_123" || evt.Intent.CustomerID != "cus_9" {
		t.Fatalf("expected expandable ids to decode, got %+v", evt.Intent)
	}
	if evt.Intent.Metadata[MetaBookingID] != "42" {
		t.Fatalf("expected booking metadata, got %v", evt.Intent.Metadata)
	}
}

func TestConstructEventRejectsBadSignature(t *testing.T) {
	verifier := NewStripeEventVerifier(testWebhookSecret)
	payload := []byte(succeededPayload)

	_, err := verifier.ConstructEvent(payload, signPayload(t, payload, "whsec_other", time.Now()))
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}

	_, err = verifier.ConstructEvent(payload, "")
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for missing header, got %v", err)
	}
}

func TestDecodeEventRefundAndTransfer(t *testing.T) {
	verifier := NewStripeEventVerifier(testWebhookSecret)

	refund, err := verifier.DecodeEvent([]byte(`{
	  "id": "evt_2",
	  "type": "charge.refund.updated",
	  "data": {"object": {
	    "id": "re_1", "object": "refund", "amount": 6135, "currency": "chf",
	    "status": "succeeded", "payment_intent": "pi_123", "charge": "ch_123",
	    "reason": "requested_by_customer", "metadata": {"reason": "coach_cancelled"}
	  }}
	}`))
	if err != nil {
		t.Fatalf("DecodeEvent refund: %v", err)
	}
	if refund.Refund == nil || refund.Refund.Amount != 6135 || refund.Refund.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected refund %+v", refund.Refund)
	}
	if refund.Refund.Reason != "coach_cancelled" {
		t.Fatalf("expected metadata reason to win, got %q", refund.Refund.Reason)
	}

	transfer, err := verifier.DecodeEvent([]byte(`{
	  "id": "evt_3",
	  "type": "transfer.created",
	  "data": {"object": {
	    "id": "tr_1", "object": "transfer", "amount": 9100, "currency": "chf",
	    "destination": "acct_7", "source_transaction": "ch_123"
	  }}
	}`))
	if err != nil {
		t.Fatalf("DecodeEvent transfer: %v", err)
	}
	if transfer.Transfer == nil || transfer.Transfer.DestinationID != "acct_7" || transfer.Transfer.SourceChargeID != "ch_123" {
		t.Fatalf("unexpected transfer %+v", transfer.Transfer)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	verifier := NewStripeEventVerifier(testWebhookSecret)
	if _, err := verifier.DecodeEvent([]byte("not json")); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestRefundReasonMapping(t *testing.T) {
	if got := stripeRefundReason("duplicate"); got != "duplicate" {
		t.Fatalf("expected duplicate, got %s", got)
	}
	if got := stripeRefundReason("capacity_reached"); got != "requested_by_customer" {
		t.Fatalf("expected fallback reason, got %s", got)
	}
	if got := stripeCreditNoteReason("capacity_reached"); got != "" {
		t.Fatalf("expected empty credit note reason, got %s", got)
	}
}

func TestCreateCreditNoteRejectsNonPositiveLines(t *testing.T) {
	client := NewStripeClient("sk_test_unused")
	_, err := client.CreateCreditNote(context.Background(), CreditNoteParams{
		InvoiceID: "in_1",
		Lines: []CreditNoteLineParams{
			{Description: "Refund: Coaching session", Amount: 5000},
			{Description: "Refund: Promotion", Amount: -500},
		},
	})
	if err == nil {
		t.Fatalf("expected a negative credit line to be rejected before calling the processor")
	}
}
