package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/pkg/money"
	"go.uber.org/zap"
)

// PayoutStatementService issues the self-billed statement a coach receives
// for each paid-out payment.
type PayoutStatementService struct {
	uow      UnitOfWork
	client   processor.Client
	notifier Notifier
	logger   *zap.Logger
}

func NewPayoutStatementService(
	uow UnitOfWork,
	client processor.Client,
	notifier Notifier,
	logger *zap.Logger,
) *PayoutStatementService {
	return &PayoutStatementService{
		uow:      uow,
		client:   client,
		notifier: notifier,
		logger:   logger,
	}
}

// StatementLines lists every concept of the settlement as a signed line.
// The net payout is left for the processor to total.
func StatementLines(snapshot models.PriceSnapshot, processingFee int64) []processor.InvoiceLineParams {
	lines := []processor.InvoiceLineParams{{
		Description: "Gross client payment",
		Amount:      snapshot.Total,
	}}
	if snapshot.VAT.Amount > 0 {
		lines = append(lines, processor.InvoiceLineParams{
			Description: fmt.Sprintf("VAT withheld (%s%%)", snapshot.VAT.Rate.String()),
			Amount:      -snapshot.VAT.Amount,
		})
	}
	if snapshot.PlatformFee > 0 {
		lines = append(lines, processor.InvoiceLineParams{
			Description: fmt.Sprintf("Platform fee (%s%%)", snapshot.PlatformFeePercent.String()),
			Amount:      -snapshot.PlatformFee,
		})
	}
	if processingFee > 0 {
		lines = append(lines, processor.InvoiceLineParams{
			Description: "Payment processing fee",
			Amount:      -processingFee,
		})
	}
	return lines
}

// GenerateStatement does nothing when the payment already carries a
// statement id.
func (s *PayoutStatementService) GenerateStatement(
	ctx context.Context,
	payment *models.Payment,
	processingFee int64,
) (*models.Invoice, error) {
	stores := s.uow.Stores()

	if payment.CoachPayoutInvoiceID != nil {
		s.logger.Info("payout statement already issued",
			zap.Int64("payment_id", payment.ID),
			zap.String("statement_id", *payment.CoachPayoutInvoiceID),
		)
		return stores.Invoices.GetForPayment(ctx, payment.ID, models.InvoicePartyCoachToPlatform)
	}

	customerID, err := ensureCustomer(ctx, s.client, stores.Users, payment.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("resolve coach customer for payment %d: %w", payment.ID, err)
	}

	snapshot := payment.Snapshot()
	draft, err := s.client.CreateInvoice(ctx, processor.InvoiceParams{
		CustomerID:     customerID,
		Currency:       snapshot.Currency,
		Description:    "Payout statement: " + purchaseDescription(payment.PurchaseKind),
		Lines:          StatementLines(snapshot, processingFee),
		Metadata:       paymentMetadata(payment),
		IdempotencyKey: "payout-statement-" + payment.PaymentIntentID,
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

	if _, err := stores.Payments.SetCoachPayoutInvoiceID(ctx, payment.ID, paid.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Info("payout statement recorded by a concurrent delivery",
				zap.Int64("payment_id", payment.ID),
				zap.String("statement_id", paid.ID),
			)
			return stores.Invoices.GetForPayment(ctx, payment.ID, models.InvoicePartyCoachToPlatform)
		}
		return nil, err
	}

	invoice, _, err := stores.Invoices.Create(ctx, &models.Invoice{
		PaymentID:  payment.ID,
		Type:       models.InvoiceTypeInvoice,
		Party:      models.InvoicePartyCoachToPlatform,
		ExternalID: paid.ID,
		Number:     optionalString(paid.Number),
		HostedURL:  optionalString(paid.HostedURL),
		PDFURL:     optionalString(paid.PDFURL),
		AmountPaid: paid.Total,
		Currency:   snapshot.Currency,
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Send(ctx, Notification{
		UserID:   payment.RecipientID,
		Type:     NotificationPayoutStatement,
		Priority: PriorityNormal,
		Title:    "Payout statement available",
		Message:  "Your payout of " + money.Format(paid.Total, snapshot.Currency) + " has been settled.",
		Data: map[string]any{
			"payment_id":   payment.ID,
			"statement_id": paid.ID,
			"net_amount":   paid.Total,
		},
	}); err != nil {
		s.logger.Error("payout statement notification failed",
			zap.Int64("payment_id", payment.ID),
			zap.Error(err),
		)
	}
	return invoice, nil
}
