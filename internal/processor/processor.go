// Package processor is the boundary to the external payment processor. The
// rest of the service only sees the types declared here.
package processor

import (
	"context"
	"errors"
)

var (
	ErrSignature    = errors.New("webhook signature verification failed")
	ErrInvalidEvent = errors.New("webhook payload could not be decoded")
)

// Intent statuses reported by the processor.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusProcessing            = "processing"
	IntentStatusRequiresCapture       = "requires_capture"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// Event types the dispatcher routes on.
const (
	EventIntentSucceeded        = "payment_intent.succeeded"
	EventIntentPaymentFailed    = "payment_intent.payment_failed"
	EventIntentAmountCapturable = "payment_intent.amount_capturable_updated"
	EventIntentCanceled         = "payment_intent.canceled"
	EventChargeRefundUpdated    = "charge.refund.updated"
	EventTransferCreated        = "transfer.created"
)

// Metadata keys written on every intent this service creates.
const (
	MetaType        = "type"
	MetaPaymentID   = "payment_id"
	MetaBookingID   = "booking_id"
	MetaSessionID   = "session_id"
	MetaProgramID   = "program_id"
	MetaLiveSession = "live_session_id"
	MetaPayerID     = "payer_id"
	MetaCoachID     = "coach_id"
	MetaPlatformFee = "platform_fee"
)

type Intent struct {
	ID               string
	Status           string
	Amount           int64
	AmountCapturable int64
	AmountReceived   int64
	Currency         string
	ClientSecret     string
	CustomerID       string
	ChargeID         string
	FailureMessage   string
	Metadata         map[string]string
}

type IntentParams struct {
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	// ManualCapture creates an authorize-only intent.
	ManualCapture bool
	// Confirm confirms off-session with PaymentMethodID at creation.
	Confirm            bool
	ApplicationFee     int64
	DestinationAccount string
	Description        string
	Metadata           map[string]string
	IdempotencyKey     string
}

type Refund struct {
	ID              string
	PaymentIntentID string
	ChargeID        string
	Amount          int64
	Currency        string
	Status          string
	Reason          string
	Metadata        map[string]string
}

type RefundParams struct {
	PaymentIntentID string
	Amount          int64
	Reason          string
	Metadata        map[string]string
	IdempotencyKey  string
}

type Transfer struct {
	ID             string
	Amount         int64
	Currency       string
	DestinationID  string
	SourceChargeID string
	Metadata       map[string]string
}

type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

type TaxRate struct {
	ID         string
	Percentage float64
	Inclusive  bool
	Active     bool
}

type InvoiceLineParams struct {
	Description string
	Amount      int64
	TaxRateID   string
}

type InvoiceParams struct {
	CustomerID     string
	Currency       string
	Description    string
	Lines          []InvoiceLineParams
	Metadata       map[string]string
	IdempotencyKey string
}

type InvoiceLine struct {
	ID          string
	Description string
	// Amount includes any tax computed on the line.
	Amount int64
}

type Invoice struct {
	ID        string
	Number    string
	Status    string
	Total     int64
	HostedURL string
	PDFURL    string
	Lines     []InvoiceLine
}

type CreditNoteLineParams struct {
	Description string
	Amount      int64
}

type CreditNoteParams struct {
	InvoiceID      string
	Reason         string
	Lines          []CreditNoteLineParams
	Memo           string
	Metadata       map[string]string
	IdempotencyKey string
}

type CreditNote struct {
	ID     string
	Number string
	Total  int64
	PDFURL string
}

// Event is a verified processor webhook event. Exactly one payload pointer is
// set for the event types the service understands.
type Event struct {
	ID       string
	Type     string
	Intent   *Intent
	Refund   *Refund
	Transfer *Transfer
	Raw      []byte
}

// Client is the processor contract consumed by the reconciliation engine.
type Client interface {
	CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID string) (*Intent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error)
	CapturePaymentIntent(ctx context.Context, intentID string, amount int64) (*Intent, error)
	CancelPaymentIntent(ctx context.Context, intentID string) (*Intent, error)
	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)

	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	ListTaxRates(ctx context.Context, inclusive bool) ([]TaxRate, error)
	CreateTaxRate(ctx context.Context, percentage float64, inclusive bool, displayName string) (*TaxRate, error)

	CreateInvoice(ctx context.Context, params InvoiceParams) (*Invoice, error)
	FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	PayInvoiceOutOfBand(ctx context.Context, invoiceID string) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	CreateCreditNote(ctx context.Context, params CreditNoteParams) (*CreditNote, error)

	ChargeProcessingFee(ctx context.Context, chargeID string) (int64, error)
}

// EventVerifier authenticates and decodes raw webhook deliveries.
type EventVerifier interface {
	ConstructEvent(payload []byte, signatureHeader string) (*Event, error)
	// DecodeEvent decodes a payload that was verified on an earlier delivery.
	DecodeEvent(payload []byte) (*Event, error)
}
