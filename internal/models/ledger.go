package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeCharge TransactionType = "charge"
	TransactionTypeRefund TransactionType = "refund"
	TransactionTypePayout TransactionType = "payout"
	TransactionTypeFee    TransactionType = "fee"
)

// FinancialEffects records how a refund moves money between platform and coach.
type FinancialEffects struct {
	RefundRatio           decimal.Decimal `json:"refund_ratio"`
	PlatformFeePercent    decimal.Decimal `json:"platform_fee_percent"`
	PlatformFeeAdjustment int64           `json:"platform_fee_adjustment"`
	VATAdjustment         int64           `json:"vat_adjustment"`
	CoachPayoutAdjustment int64           `json:"coach_payout_adjustment"`
}

// Transaction is an append-only ledger row. (ProcessorTransactionID, Type) is unique.
type Transaction struct {
	ID                     int64             `json:"id"`
	PaymentID              int64             `json:"payment_id"`
	Type                   TransactionType   `json:"type"`
	Amount                 int64             `json:"amount"`
	Currency               string            `json:"currency"`
	Status                 string            `json:"status"`
	ProcessorTransactionID string            `json:"processor_transaction_id"`
	ChargeID               *string           `json:"charge_id,omitempty"`
	FinancialEffects       *FinancialEffects `json:"financial_effects,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
}

type InvoiceType string

const (
	InvoiceTypeInvoice    InvoiceType = "invoice"
	InvoiceTypeCreditNote InvoiceType = "credit_note"
)

type InvoiceParty string

const (
	InvoicePartyPlatformToClient InvoiceParty = "platform_to_client"
	InvoicePartyCoachToPlatform  InvoiceParty = "coach_to_platform"
)

// Invoice points at an immutable document hosted by the processor.
type Invoice struct {
	ID                int64        `json:"id"`
	PaymentID         int64        `json:"payment_id"`
	Type              InvoiceType  `json:"type"`
	Party             InvoiceParty `json:"invoice_party"`
	ExternalID        string       `json:"external_id"`
	Number            *string      `json:"number,omitempty"`
	HostedURL         *string      `json:"hosted_url,omitempty"`
	PDFURL            *string      `json:"pdf_url,omitempty"`
	AmountPaid        int64        `json:"amount_paid"`
	Currency          string       `json:"currency"`
	OriginalInvoiceID *int64       `json:"original_invoice_id,omitempty"`
	RefundID          *string      `json:"refund_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

type WebhookLog struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Payload   []byte    `json:"-"`
	Outcome   string    `json:"outcome"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
