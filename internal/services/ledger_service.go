package services

import (
	"context"
	"fmt"

	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/pkg/money"
	"go.uber.org/zap"
)

const (
	TransactionStatusSucceeded = "succeeded"
	TransactionStatusPending   = "pending"
)

// LedgerService appends ledger rows. Every entry point is an idempotent
// upsert on (processor transaction id, type).
type LedgerService struct {
	logger *zap.Logger
}

func NewLedgerService(logger *zap.Logger) *LedgerService {
	return &LedgerService{logger: logger}
}

// EnsureChargeTransaction records the money received for a payment.
func (s *LedgerService) EnsureChargeTransaction(
	ctx context.Context,
	txns TransactionStore,
	payment *models.Payment,
	processorTransactionID string,
) (*models.Transaction, bool, error) {
	if processorTransactionID == "" {
		processorTransactionID = payment.PaymentIntentID
	}
	return s.ensure(ctx, txns, &models.Transaction{
		PaymentID:              payment.ID,
		Type:                   models.TransactionTypeCharge,
		Amount:                 payment.Amount.Total,
		Currency:               payment.Amount.Currency,
		Status:                 TransactionStatusSucceeded,
		ProcessorTransactionID: processorTransactionID,
		ChargeID:               payment.ChargeID,
	})
}

// EnsureRefundTransaction records a refund with its effect on the platform
// fee, VAT and coach payout.
func (s *LedgerService) EnsureRefundTransaction(
	ctx context.Context,
	txns TransactionStore,
	payment *models.Payment,
	refundID string,
	amount int64,
	status string,
) (*models.Transaction, bool, error) {
	effects := RefundEffects(payment.Snapshot(), amount)
	return s.ensure(ctx, txns, &models.Transaction{
		PaymentID:              payment.ID,
		Type:                   models.TransactionTypeRefund,
		Amount:                 amount,
		Currency:               payment.Amount.Currency,
		Status:                 status,
		ProcessorTransactionID: refundID,
		ChargeID:               payment.ChargeID,
		FinancialEffects:       &effects,
	})
}

func (s *LedgerService) EnsurePayoutTransaction(
	ctx context.Context,
	txns TransactionStore,
	payment *models.Payment,
	transferID string,
	amount int64,
) (*models.Transaction, bool, error) {
	return s.ensure(ctx, txns, &models.Transaction{
		PaymentID:              payment.ID,
		Type:                   models.TransactionTypePayout,
		Amount:                 amount,
		Currency:               payment.Amount.Currency,
		Status:                 TransactionStatusSucceeded,
		ProcessorTransactionID: transferID,
		ChargeID:               payment.ChargeID,
	})
}

// EnsureFeeTransaction records the processor's fee on a charge.
func (s *LedgerService) EnsureFeeTransaction(
	ctx context.Context,
	txns TransactionStore,
	payment *models.Payment,
	chargeID string,
	fee int64,
) (*models.Transaction, bool, error) {
	return s.ensure(ctx, txns, &models.Transaction{
		PaymentID:              payment.ID,
		Type:                   models.TransactionTypeFee,
		Amount:                 fee,
		Currency:               payment.Amount.Currency,
		Status:                 TransactionStatusSucceeded,
		ProcessorTransactionID: chargeID,
		ChargeID:               &chargeID,
	})
}

func (s *LedgerService) ensure(
	ctx context.Context,
	txns TransactionStore,
	txn *models.Transaction,
) (*models.Transaction, bool, error) {
	if txn.ProcessorTransactionID == "" {
		return nil, false, fmt.Errorf("%w: %s transaction without processor id", ErrInvalidInput, txn.Type)
	}

	stored, created, err := txns.Ensure(ctx, txn)
	if err != nil {
		return nil, false, fmt.Errorf("ensure %s transaction %s: %w", txn.Type, txn.ProcessorTransactionID, err)
	}
	if !created {
		s.logger.Info("ledger row already recorded",
			zap.Int64("payment_id", txn.PaymentID),
			zap.String("type", string(txn.Type)),
			zap.String("processor_transaction_id", txn.ProcessorTransactionID),
		)
	}
	return stored, created, nil
}

// RefundEffects splits a refund between platform fee, VAT and coach payout.
// Each component is rounded on its own; the coach share absorbs the
// remainder so the three adjustments always sum to the refund.
func RefundEffects(snapshot models.PriceSnapshot, refundAmount int64) models.FinancialEffects {
	ratio := money.Ratio(refundAmount, snapshot.Total)
	feeAdjustment := money.Scale(snapshot.PlatformFee, ratio)
	vatAdjustment := money.Scale(snapshot.VAT.Amount, ratio)
	return models.FinancialEffects{
		RefundRatio:           ratio,
		PlatformFeePercent:    snapshot.PlatformFeePercent,
		PlatformFeeAdjustment: feeAdjustment,
		VATAdjustment:         vatAdjustment,
		CoachPayoutAdjustment: refundAmount - feeAdjustment - vatAdjustment,
	}
}
