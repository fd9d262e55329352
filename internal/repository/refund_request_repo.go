package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
)

type CreateRefundRequestInput struct {
	PaymentID   int64
	RequesterID int64
	CoachID     int64
	AmountMinor int64
	Currency    string
	Reason      string
}

type RefundRequestFilter struct {
	ActorID int64
	Role    string
	Status  string
	Limit   int
	Offset  int
}

type RefundRequestRepository struct {
	db DBTX
}

func NewRefundRequestRepository(db DBTX) *RefundRequestRepository {
	return &RefundRequestRepository{db: db}
}

const refundRequestColumns = `
	id, payment_id, requester_id, coach_id, amount_minor, currency, reason, status,
	response_note, refund_id, created_at, updated_at`

func (r *RefundRequestRepository) Create(ctx context.Context, input CreateRefundRequestInput) (*models.RefundRequest, error) {
	query := `
		INSERT INTO refund_requests (payment_id, requester_id, coach_id, amount_minor, currency, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + refundRequestColumns
	return scanRefundRequest(r.db.QueryRow(
		ctx,
		query,
		input.PaymentID,
		input.RequesterID,
		input.CoachID,
		input.AmountMinor,
		input.Currency,
		input.Reason,
	))
}

func (r *RefundRequestRepository) GetByID(ctx context.Context, id int64) (*models.RefundRequest, error) {
	query := `SELECT ` + refundRequestColumns + ` FROM refund_requests WHERE id = $1`
	return scanRefundRequest(r.db.QueryRow(ctx, query, id))
}

// Resolve closes an open ticket. pgx.ErrNoRows means it was already answered.
func (r *RefundRequestRepository) Resolve(
	ctx context.Context,
	id int64,
	status string,
	note *string,
	refundID *string,
) (*models.RefundRequest, error) {
	query := `
		UPDATE refund_requests
		SET status = $2, response_note = $3, refund_id = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + refundRequestColumns
	return scanRefundRequest(r.db.QueryRow(ctx, query, id, status, note, refundID))
}

func (r *RefundRequestRepository) List(ctx context.Context, filter RefundRequestFilter) ([]models.RefundRequest, int, error) {
	actorColumn := "requester_id"
	if filter.Role == "coach" {
		actorColumn = "coach_id"
	}

	where := actorColumn + ` = $1 AND ($2 = '' OR status = $2)`

	var total int
	countQuery := `SELECT COUNT(*) FROM refund_requests WHERE ` + where
	if err := r.db.QueryRow(ctx, countQuery, filter.ActorID, filter.Status).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + refundRequestColumns + `
		FROM refund_requests
		WHERE ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, filter.ActorID, filter.Status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	requests := make([]models.RefundRequest, 0)
	for rows.Next() {
		request, err := scanRefundRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, *request)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

func scanRefundRequest(row pgx.Row) (*models.RefundRequest, error) {
	var request models.RefundRequest
	err := row.Scan(
		&request.ID,
		&request.PaymentID,
		&request.RequesterID,
		&request.CoachID,
		&request.AmountMinor,
		&request.Currency,
		&request.Reason,
		&request.Status,
		&request.ResponseNote,
		&request.RefundID,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &request, nil
}
