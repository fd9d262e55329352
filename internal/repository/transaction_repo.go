package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
)

type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, payment_id, type, amount_minor, currency, status, processor_transaction_id, charge_id, financial_effects, created_at`

// Ensure inserts the ledger row once per (processor transaction id, type).
// Replays get the stored row back with created=false and nothing is written.
func (r *TransactionRepository) Ensure(ctx context.Context, txn *models.Transaction) (*models.Transaction, bool, error) {
	query := `
		INSERT INTO transactions (payment_id, type, amount_minor, currency, status, processor_transaction_id, charge_id, financial_effects)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (processor_transaction_id, type) DO NOTHING
		RETURNING ` + transactionColumns

	inserted, err := scanTransaction(r.db.QueryRow(
		ctx,
		query,
		txn.PaymentID,
		txn.Type,
		txn.Amount,
		txn.Currency,
		txn.Status,
		txn.ProcessorTransactionID,
		txn.ChargeID,
		txn.FinancialEffects,
	))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	existing, err := r.GetByProcessorID(ctx, txn.ProcessorTransactionID, txn.Type)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *TransactionRepository) GetByProcessorID(
	ctx context.Context,
	processorTransactionID string,
	txnType models.TransactionType,
) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE processor_transaction_id = $1 AND type = $2
	`
	return scanTransaction(r.db.QueryRow(ctx, query, processorTransactionID, txnType))
}

func (r *TransactionRepository) ListByPayment(ctx context.Context, paymentID int64) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE payment_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]models.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txns, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var txn models.Transaction
	err := row.Scan(
		&txn.ID,
		&txn.PaymentID,
		&txn.Type,
		&txn.Amount,
		&txn.Currency,
		&txn.Status,
		&txn.ProcessorTransactionID,
		&txn.ChargeID,
		&txn.FinancialEffects,
		&txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
