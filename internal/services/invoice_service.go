package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/pkg/cache"
	"github.com/saeid-a/CoachLedger/pkg/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrNoOriginalInvoice = errors.New("payment has no invoice to credit")

// InvoiceService issues the client-facing invoice for a payment and the
// credit notes that correct it after refunds. Documents live at the
// processor; only pointers are stored locally.
type InvoiceService struct {
	uow      UnitOfWork
	client   processor.Client
	taxRates cache.PriceStore[string]
	logger   *zap.Logger
}

func NewInvoiceService(
	uow UnitOfWork,
	client processor.Client,
	taxRates cache.PriceStore[string],
	logger *zap.Logger,
) *InvoiceService {
	return &InvoiceService{
		uow:      uow,
		client:   client,
		taxRates: taxRates,
		logger:   logger,
	}
}

// IssueInvoice is a no-op returning the stored invoice when the payment
// already has one.
func (s *InvoiceService) IssueInvoice(ctx context.Context, payment *models.Payment) (*models.Invoice, error) {
	stores := s.uow.Stores()

	existing, err := stores.Invoices.GetForPayment(ctx, payment.ID, models.InvoicePartyPlatformToClient)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	snapshot := payment.Snapshot()
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("invoice for payment %d: %w", payment.ID, err)
	}

	customerID := ""
	if payment.CustomerID != nil {
		customerID = *payment.CustomerID
	}
	if customerID == "" {
		customerID, err = ensureCustomer(ctx, s.client, stores.Users, payment.PayerID)
		if err != nil {
			return nil, fmt.Errorf("resolve customer for payment %d: %w", payment.ID, err)
		}
	}

	taxRateID := ""
	if snapshot.VAT.Rate.IsPositive() {
		taxRateID, err = s.resolveTaxRate(ctx, snapshot.VAT.Rate, snapshot.VAT.Included)
		if err != nil {
			return nil, err
		}
	}

	lines := []processor.InvoiceLineParams{{
		Description: purchaseDescription(payment.PurchaseKind),
		Amount:      snapshot.Base,
		TaxRateID:   taxRateID,
	}}
	if snapshot.Discount > 0 {
		lines = append(lines, processor.InvoiceLineParams{
			Description: "Discount",
			Amount:      -snapshot.Discount,
			TaxRateID:   taxRateID,
		})
	}
	if snapshot.PlatformFee > 0 {
		lines = append(lines, processor.InvoiceLineParams{
			Description: "Platform service fee",
			Amount:      snapshot.PlatformFee,
		})
	}

	draft, err := s.client.CreateInvoice(ctx, processor.InvoiceParams{
		CustomerID:     customerID,
		Currency:       snapshot.Currency,
		Description:    purchaseDescription(payment.PurchaseKind),
		Lines:          lines,
		Metadata:       paymentMetadata(payment),
		IdempotencyKey: "invoice-" + payment.PaymentIntentID,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.client.FinalizeInvoice(ctx, draft.ID); err != nil {
		return nil, err
	}
	paid, err := s.client.PayInvoiceOutOfBand(ctx, draft.ID)
	if err != nil {
		return nil, err
	}

	invoice, created, err := stores.Invoices.Create(ctx, &models.Invoice{
		PaymentID:  payment.ID,
		Type:       models.InvoiceTypeInvoice,
		Party:      models.InvoicePartyPlatformToClient,
		ExternalID: paid.ID,
		Number:     optionalString(paid.Number),
		HostedURL:  optionalString(paid.HostedURL),
		PDFURL:     optionalString(paid.PDFURL),
		AmountPaid: snapshot.Total,
		Currency:   snapshot.Currency,
	})
	if err != nil {
		return nil, err
	}
	if created && paid.Total != snapshot.Total {
		s.logger.Error("invoice total differs from price snapshot, manual reconciliation required",
			zap.Int64("payment_id", payment.ID),
			zap.String("payment_intent_id", payment.PaymentIntentID),
			zap.String("invoice_id", paid.ID),
			zap.Int64("invoice_total", paid.Total),
			zap.Int64("snapshot_total", snapshot.Total),
		)
	}
	return invoice, nil
}

// IssueCreditNote credits refundAmount against the payment's invoice, one
// line per original line, so that the lines sum exactly to the refund.
func (s *InvoiceService) IssueCreditNote(
	ctx context.Context,
	payment *models.Payment,
	refundID string,
	refundAmount int64,
	reason string,
) (*models.Invoice, error) {
	stores := s.uow.Stores()

	existing, err := stores.Invoices.GetByRefundID(ctx, refundID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	original, err := stores.Invoices.GetForPayment(ctx, payment.ID, models.InvoicePartyPlatformToClient)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOriginalInvoice
		}
		return nil, err
	}

	external, err := s.client.GetInvoice(ctx, original.ExternalID)
	if err != nil {
		return nil, err
	}

	lines, err := CreditNoteLines(external, refundAmount)
	if err != nil {
		return nil, fmt.Errorf("credit note for refund %s: %w", refundID, err)
	}

	note, err := s.client.CreateCreditNote(ctx, processor.CreditNoteParams{
		InvoiceID: original.ExternalID,
		Reason:    reason,
		Lines:     lines,
		Memo:      "Refund " + money.Format(refundAmount, original.Currency),
		Metadata: map[string]string{
			processor.MetaPaymentID: strconv.FormatInt(payment.ID, 10),
			"refund_id":             refundID,
		},
		IdempotencyKey: "credit-note-" + refundID,
	})
	if err != nil {
		return nil, err
	}

	originalID := original.ID
	invoice, _, err := stores.Invoices.Create(ctx, &models.Invoice{
		PaymentID:         payment.ID,
		Type:              models.InvoiceTypeCreditNote,
		Party:             models.InvoicePartyPlatformToClient,
		ExternalID:        note.ID,
		Number:            optionalString(note.Number),
		PDFURL:            optionalString(note.PDFURL),
		AmountPaid:        -refundAmount,
		Currency:          original.Currency,
		OriginalInvoiceID: &originalID,
		RefundID:          &refundID,
	})
	return invoice, err
}

// CreditNoteLines scales every line of the original invoice by
// refundAmount/total. Rounding drift lands on the largest line.
func CreditNoteLines(original *processor.Invoice, refundAmount int64) ([]processor.CreditNoteLineParams, error) {
	// Discount lines are netted into the charged lines in proportion, so
	// every credited line stays positive.
	charged := make([]processor.InvoiceLine, 0, len(original.Lines))
	amounts := make([]int64, 0, len(original.Lines))
	for _, line := range original.Lines {
		if line.Amount <= 0 {
			continue
		}
		charged = append(charged, line)
		amounts = append(amounts, line.Amount)
	}
	if len(charged) == 0 {
		return nil, fmt.Errorf("invoice %s has no charged lines", original.ID)
	}

	allocated, err := money.Allocate(amounts, refundAmount, money.Sum(amounts))
	if err != nil {
		return nil, err
	}

	lines := make([]processor.CreditNoteLineParams, 0, len(allocated))
	for i, amount := range allocated {
		if amount == 0 {
			continue
		}
		lines = append(lines, processor.CreditNoteLineParams{
			Description: "Refund: " + charged[i].Description,
			Amount:      amount,
		})
	}
	return lines, nil
}

func (s *InvoiceService) resolveTaxRate(ctx context.Context, rate decimal.Decimal, inclusive bool) (string, error) {
	key := fmt.Sprintf("%s:%t", rate.String(), inclusive)
	if id, ok := s.taxRates.Get(key); ok {
		return id, nil
	}

	rates, err := s.client.ListTaxRates(ctx, inclusive)
	if err != nil {
		return "", err
	}
	for _, candidate := range rates {
		if candidate.Active && candidate.Inclusive == inclusive && decimal.NewFromFloat(candidate.Percentage).Equal(rate) {
			s.taxRates.Set(key, candidate.ID)
			return candidate.ID, nil
		}
	}

	created, err := s.client.CreateTaxRate(ctx, rate.InexactFloat64(), inclusive, "VAT")
	if err != nil {
		return "", err
	}
	s.taxRates.Set(key, created.ID)
	return created.ID, nil
}

func purchaseDescription(kind models.PurchaseKind) string {
	switch kind {
	case models.PurchaseKindGroup:
		return "Group coaching session"
	case models.PurchaseKindWebinar:
		return "Webinar registration"
	case models.PurchaseKindLiveSession:
		return "Live coaching session"
	case models.PurchaseKindProgram:
		return "Coaching program"
	case models.PurchaseKindOvertime:
		return "Session overtime"
	default:
		return "Coaching session"
	}
}

func paymentMetadata(payment *models.Payment) map[string]string {
	metadata := map[string]string{
		processor.MetaPaymentID: strconv.FormatInt(payment.ID, 10),
		processor.MetaType:      string(payment.PurchaseKind),
	}
	if payment.BookingID != nil {
		metadata[processor.MetaBookingID] = strconv.FormatInt(*payment.BookingID, 10)
	}
	if payment.ProgramID != nil {
		metadata[processor.MetaProgramID] = strconv.FormatInt(*payment.ProgramID, 10)
	}
	if payment.LiveSessionID != nil {
		metadata[processor.MetaLiveSession] = strconv.FormatInt(*payment.LiveSessionID, 10)
	}
	return metadata
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
