package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
)

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, payer_id, recipient_id, booking_id, program_id, live_session_id, purchase_kind, type, status,
	base_minor, discount_minor, platform_fee_minor, vat_rate, vat_minor, vat_included, total_minor,
	authorized_minor, refunded_minor, currency, price_snapshot, payment_intent_id, charge_id,
	client_secret, customer_id, coach_payout_invoice_id, failure_reason, created_at, updated_at`

// Upsert inserts the payment unless a row for the same intent exists, in
// which case the stored row is returned with created=false.
func (r *PaymentRepository) Upsert(ctx context.Context, payment *models.Payment) (*models.Payment, bool, error) {
	query := `
		INSERT INTO payments (
			payer_id, recipient_id, booking_id, program_id, live_session_id, purchase_kind, type, status,
			base_minor, discount_minor, platform_fee_minor, vat_rate, vat_minor, vat_included, total_minor,
			authorized_minor, currency, price_snapshot, payment_intent_id, charge_id, client_secret, customer_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (payment_intent_id) DO NOTHING
		RETURNING ` + paymentColumns

	created, err := scanPayment(r.db.QueryRow(
		ctx,
		query,
		payment.PayerID,
		payment.RecipientID,
		payment.BookingID,
		payment.ProgramID,
		payment.LiveSessionID,
		payment.PurchaseKind,
		payment.Type,
		payment.Status,
		payment.Amount.Base,
		payment.Amount.Discount,
		payment.Amount.PlatformFee,
		payment.Amount.VAT.Rate,
		payment.Amount.VAT.Amount,
		payment.Amount.VAT.Included,
		payment.Amount.Total,
		payment.Amount.Authorized,
		payment.Amount.Currency,
		payment.PriceSnapshot,
		payment.PaymentIntentID,
		payment.ChargeID,
		payment.ClientSecret,
		payment.CustomerID,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	existing, err := r.GetByIntentID(ctx, payment.PaymentIntentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, paymentID int64) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, paymentID))
}

func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_intent_id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, intentID))
}

func (r *PaymentRepository) GetByIntentIDForUpdate(ctx context.Context, intentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_intent_id = $1 FOR UPDATE`
	return scanPayment(r.db.QueryRow(ctx, query, intentID))
}

func (r *PaymentRepository) GetByChargeID(ctx context.Context, chargeID string) (*models.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE charge_id = $1
		ORDER BY id DESC
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, chargeID))
}

func (r *PaymentRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	paymentID int64,
	currentStatus models.PaymentStatus,
	nextStatus models.PaymentStatus,
) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + paymentColumns
	return scanPayment(r.db.QueryRow(ctx, query, paymentID, currentStatus, nextStatus))
}

// MarkCompleted settles a payment. Rows that are already settled are left
// untouched and pgx.ErrNoRows is returned.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, paymentID int64, chargeID, customerID *string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'completed',
			charge_id = COALESCE($2, charge_id),
			customer_id = COALESCE($3, customer_id),
			failure_reason = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'partially_refunded', 'refunded')
		RETURNING ` + paymentColumns
	return scanPayment(r.db.QueryRow(ctx, query, paymentID, chargeID, customerID))
}

// MarkFailed never overwrites a settled payment.
func (r *PaymentRepository) MarkFailed(ctx context.Context, paymentID int64, reason string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'partially_refunded', 'refunded', 'failed')
		RETURNING ` + paymentColumns
	return scanPayment(r.db.QueryRow(ctx, query, paymentID, reason))
}

func (r *PaymentRepository) MarkAuthorized(ctx context.Context, paymentID int64, authorized int64) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'authorized', authorized_minor = $2, updated_at = NOW()
		WHERE id = $1 AND type = 'authorization' AND status IN ('pending', 'pending_confirmation')
		RETURNING ` + paymentColumns
	return scanPayment(r.db.QueryRow(ctx, query, paymentID, authorized))
}

// MarkCaptured turns an authorization into an overtime charge for the
// captured amount. The amount breakdown comes from the caller's snapshot.
func (r *PaymentRepository) MarkCaptured(
	ctx context.Context,
	paymentID int64,
	snapshot models.PriceSnapshot,
	chargeID *string,
) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET type = 'overtime_charge',
			status = 'completed',
			base_minor = $2,
			discount_minor = $3,
			platform_fee_minor = $4,
			vat_rate = $5,
			vat_minor = $6,
			vat_included = $7,
			total_minor = $8,
			price_snapshot = $9,
			charge_id = COALESCE($10, charge_id),
			updated_at = NOW()
		WHERE id = $1 AND type = 'authorization' AND status = 'authorized' AND $8 <= authorized_minor
		RETURNING ` + paymentColumns
	return scanPayment(r.db.QueryRow(
		ctx,
		query,
		paymentID,
		snapshot.Base,
		snapshot.Discount,
		snapshot.PlatformFee,
		snapshot.VAT.Rate,
		snapshot.VAT.Amount,
		snapshot.VAT.Included,
		snapshot.Total,
		snapshot,
		chargeID,
	))
}

func (r *PaymentRepository) MarkCanceled(ctx context.Context, paymentID int64, reason string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'canceled', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'pending_confirmation', 'authorized')
		RETURNING ` + paymentColumns
	return scanPayment(r.db.QueryRow(ctx, query, paymentID, reason))
}

// ApplyRefund adds amount to the refunded total. The update only applies
// while the remaining balance covers the refund.
func (r *PaymentRepository) ApplyRefund(ctx context.Context, paymentID int64, amount int64) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET refunded_minor = refunded_minor + $2,
			status = CASE WHEN refunded_minor + $2 >= total_minor THEN 'refunded' ELSE 'partially_refunded' END,
			updated_at = NOW()
		WHERE id = $1
			AND status IN ('completed', 'partially_refunded')
			AND refunded_minor + $2 <= total_minor
		RETURNING ` + paymentColumns
	return scanPayment(r.db.QueryRow(ctx, query, paymentID, amount))
}

// SetCoachPayoutInvoiceID can succeed only once per payment.
func (r *PaymentRepository) SetCoachPayoutInvoiceID(ctx context.Context, paymentID int64, invoiceID string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET coach_payout_invoice_id = $2, updated_at = NOW()
		WHERE id = $1 AND coach_payout_invoice_id IS NULL
		RETURNING ` + paymentColumns
	return scanPayment(r.db.QueryRow(ctx, query, paymentID, invoiceID))
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var payment models.Payment
	err := row.Scan(
		&payment.ID,
		&payment.PayerID,
		&payment.RecipientID,
		&payment.BookingID,
		&payment.ProgramID,
		&payment.LiveSessionID,
		&payment.PurchaseKind,
		&payment.Type,
		&payment.Status,
		&payment.Amount.Base,
		&payment.Amount.Discount,
		&payment.Amount.PlatformFee,
		&payment.Amount.VAT.Rate,
		&payment.Amount.VAT.Amount,
		&payment.Amount.VAT.Included,
		&payment.Amount.Total,
		&payment.Amount.Authorized,
		&payment.Amount.Refunded,
		&payment.Amount.Currency,
		&payment.PriceSnapshot,
		&payment.PaymentIntentID,
		&payment.ChargeID,
		&payment.ClientSecret,
		&payment.CustomerID,
		&payment.CoachPayoutInvoiceID,
		&payment.FailureReason,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
