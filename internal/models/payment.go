package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeCharge         PaymentType = "charge"
	PaymentTypeAuthorization  PaymentType = "authorization"
	PaymentTypeOvertimeCharge PaymentType = "overtime_charge"
	PaymentTypeRefund         PaymentType = "refund"
)

type PaymentStatus string

const (
	PaymentStatusPending             PaymentStatus = "pending"
	PaymentStatusPendingConfirmation PaymentStatus = "pending_confirmation"
	PaymentStatusAuthorized          PaymentStatus = "authorized"
	PaymentStatusCompleted           PaymentStatus = "completed"
	PaymentStatusFailed              PaymentStatus = "failed"
	PaymentStatusPartiallyRefunded   PaymentStatus = "partially_refunded"
	PaymentStatusRefunded            PaymentStatus = "refunded"
	PaymentStatusCanceled            PaymentStatus = "canceled"
)

// Settled reports whether money has moved for the payment. Settled payments
// keep their total and price snapshot forever.
func (s PaymentStatus) Settled() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

type VAT struct {
	Rate     decimal.Decimal `json:"rate"`
	Amount   int64           `json:"amount"`
	Included bool            `json:"included"`
}

// Amount holds every money field of a payment in minor units.
type Amount struct {
	Base        int64  `json:"base"`
	Discount    int64  `json:"discount"`
	PlatformFee int64  `json:"platform_fee"`
	VAT         VAT    `json:"vat"`
	Total       int64  `json:"total"`
	Authorized  int64  `json:"authorized"`
	Refunded    int64  `json:"refunded"`
	Currency    string `json:"currency"`
}

const PriceSnapshotVersion = 1

var ErrInvalidPriceSnapshot = errors.New("invalid price snapshot")

// PriceSnapshot is the immutable price breakdown captured when a payment is
// created. Invoices, credit notes and refund effects are computed from it.
type PriceSnapshot struct {
	Version            int             `json:"version"`
	Base               int64           `json:"base"`
	Discount           int64           `json:"discount"`
	PlatformFee        int64           `json:"platform_fee"`
	PlatformFeePercent decimal.Decimal `json:"platform_fee_percent"`
	VAT                VAT             `json:"vat"`
	Total              int64           `json:"total"`
	Currency           string          `json:"currency"`
	CapturedAt         time.Time       `json:"captured_at"`
}

func (p PriceSnapshot) Validate() error {
	if p.Version != PriceSnapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidPriceSnapshot, p.Version)
	}
	if p.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidPriceSnapshot)
	}
	if p.Base < 0 || p.Discount < 0 || p.PlatformFee < 0 || p.VAT.Amount < 0 {
		return fmt.Errorf("%w: negative component", ErrInvalidPriceSnapshot)
	}
	if p.Discount > p.Base {
		return fmt.Errorf("%w: discount exceeds base", ErrInvalidPriceSnapshot)
	}

	expected := p.Base - p.Discount + p.PlatformFee
	if !p.VAT.Included {
		expected += p.VAT.Amount
	}
	if expected != p.Total {
		return fmt.Errorf("%w: total %d does not match components %d", ErrInvalidPriceSnapshot, p.Total, expected)
	}
	return nil
}

// Amount projects the snapshot onto a payment amount.
func (p PriceSnapshot) Amount() Amount {
	return Amount{
		Base:        p.Base,
		Discount:    p.Discount,
		PlatformFee: p.PlatformFee,
		VAT:         p.VAT,
		Total:       p.Total,
		Currency:    p.Currency,
	}
}

type Payment struct {
	ID                   int64          `json:"id"`
	PayerID              int64          `json:"payer_id"`
	RecipientID          int64          `json:"recipient_id"`
	BookingID            *int64         `json:"booking_id,omitempty"`
	ProgramID            *int64         `json:"program_id,omitempty"`
	LiveSessionID        *int64         `json:"live_session_id,omitempty"`
	PurchaseKind         PurchaseKind   `json:"purchase_kind"`
	Type                 PaymentType    `json:"type"`
	Status               PaymentStatus  `json:"status"`
	Amount               Amount         `json:"amount"`
	PriceSnapshot        *PriceSnapshot `json:"price_snapshot,omitempty"`
	PaymentIntentID      string         `json:"payment_intent_id"`
	ChargeID             *string        `json:"charge_id,omitempty"`
	ClientSecret         *string        `json:"-"`
	CustomerID           *string        `json:"customer_id,omitempty"`
	CoachPayoutInvoiceID *string        `json:"coach_payout_invoice_id,omitempty"`
	FailureReason        *string        `json:"failure_reason,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func (p *Payment) Remaining() int64 {
	return p.Amount.Total - p.Amount.Refunded
}

// Snapshot returns the stored price snapshot, or one rebuilt from the amount
// columns for rows written before snapshots existed.
func (p *Payment) Snapshot() PriceSnapshot {
	if p.PriceSnapshot != nil {
		return *p.PriceSnapshot
	}
	return PriceSnapshot{
		Version:     PriceSnapshotVersion,
		Base:        p.Amount.Base,
		Discount:    p.Amount.Discount,
		PlatformFee: p.Amount.PlatformFee,
		VAT:         p.Amount.VAT,
		Total:       p.Amount.Total,
		Currency:    p.Amount.Currency,
	}
}

type PurchaseKind string

const (
	PurchaseKindStandard    PurchaseKind = "standard"
	PurchaseKindGroup       PurchaseKind = "group"
	PurchaseKindWebinar     PurchaseKind = "webinar_registration"
	PurchaseKindLiveSession PurchaseKind = "live_session"
	PurchaseKindProgram     PurchaseKind = "program_purchase"
	PurchaseKindOvertime    PurchaseKind = "overtime_authorization"
)

// PurchaseKinds lists every kind a reconciler must exist for.
var PurchaseKinds = []PurchaseKind{
	PurchaseKindStandard,
	PurchaseKindGroup,
	PurchaseKindWebinar,
	PurchaseKindLiveSession,
	PurchaseKindProgram,
	PurchaseKindOvertime,
}

// LookupPurchaseKind maps processor metadata onto a kind. ok is false for
// empty and unknown values.
func LookupPurchaseKind(value string) (PurchaseKind, bool) {
	switch PurchaseKind(value) {
	case PurchaseKindStandard, PurchaseKindGroup, PurchaseKindWebinar, PurchaseKindLiveSession, PurchaseKindProgram, PurchaseKindOvertime:
		return PurchaseKind(value), true
	}
	switch value {
	case "live", "live_session_payment":
		return PurchaseKindLiveSession, true
	}
	return "", false
}
