package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
)

type InvoiceRepository struct {
	db DBTX
}

func NewInvoiceRepository(db DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `
	id, payment_id, type, invoice_party, external_id, number, hosted_url, pdf_url,
	amount_paid_minor, currency, original_invoice_id, refund_id, created_at`

// Create stores the pointer row. When a row for the same document already
// exists it is returned with created=false.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *models.Invoice) (*models.Invoice, bool, error) {
	query := `
		INSERT INTO invoices (
			payment_id, type, invoice_party, external_id, number, hosted_url, pdf_url,
			amount_paid_minor, currency, original_invoice_id, refund_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
		RETURNING ` + invoiceColumns

	inserted, err := scanInvoice(r.db.QueryRow(
		ctx,
		query,
		invoice.PaymentID,
		invoice.Type,
		invoice.Party,
		invoice.ExternalID,
		invoice.Number,
		invoice.HostedURL,
		invoice.PDFURL,
		invoice.AmountPaid,
		invoice.Currency,
		invoice.OriginalInvoiceID,
		invoice.RefundID,
	))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	var existing *models.Invoice
	switch {
	case invoice.Type == models.InvoiceTypeCreditNote && invoice.RefundID != nil:
		existing, err = r.GetByRefundID(ctx, *invoice.RefundID)
	case invoice.Type == models.InvoiceTypeInvoice:
		existing, err = r.GetForPayment(ctx, invoice.PaymentID, invoice.Party)
	default:
		existing, err = r.GetByExternalID(ctx, invoice.ExternalID)
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetForPayment returns the single invoice (not credit note) issued for a
// payment by the given party.
func (r *InvoiceRepository) GetForPayment(
	ctx context.Context,
	paymentID int64,
	party models.InvoiceParty,
) (*models.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE payment_id = $1 AND invoice_party = $2 AND type = 'invoice'
	`
	return scanInvoice(r.db.QueryRow(ctx, query, paymentID, party))
}

func (r *InvoiceRepository) GetByRefundID(ctx context.Context, refundID string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE refund_id = $1`
	return scanInvoice(r.db.QueryRow(ctx, query, refundID))
}

func (r *InvoiceRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE external_id = $1`
	return scanInvoice(r.db.QueryRow(ctx, query, externalID))
}

func (r *InvoiceRepository) ListByPayment(ctx context.Context, paymentID int64) ([]models.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE payment_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]models.Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var invoice models.Invoice
	err := row.Scan(
		&invoice.ID,
		&invoice.PaymentID,
		&invoice.Type,
		&invoice.Party,
		&invoice.ExternalID,
		&invoice.Number,
		&invoice.HostedURL,
		&invoice.PDFURL,
		&invoice.AmountPaid,
		&invoice.Currency,
		&invoice.OriginalInvoiceID,
		&invoice.RefundID,
		&invoice.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}
