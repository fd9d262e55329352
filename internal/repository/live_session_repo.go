package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
)

type LiveSessionRepository struct {
	db DBTX
}

func NewLiveSessionRepository(db DBTX) *LiveSessionRepository {
	return &LiveSessionRepository{db: db}
}

const liveSessionColumns = `
	id, user_id, coach_id, status, price_per_minute_minor, billed_minutes, currency,
	started_at, ended_at, created_at, updated_at`

func (r *LiveSessionRepository) GetByID(ctx context.Context, liveSessionID int64) (*models.LiveSession, error) {
	query := `SELECT ` + liveSessionColumns + ` FROM live_sessions WHERE id = $1`
	return scanLiveSession(r.db.QueryRow(ctx, query, liveSessionID))
}

func (r *LiveSessionRepository) GetByIDForUpdate(ctx context.Context, liveSessionID int64) (*models.LiveSession, error) {
	query := `SELECT ` + liveSessionColumns + ` FROM live_sessions WHERE id = $1 FOR UPDATE`
	return scanLiveSession(r.db.QueryRow(ctx, query, liveSessionID))
}

func (r *LiveSessionRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	liveSessionID int64,
	currentStatuses []string,
	nextStatus string,
) (*models.LiveSession, error) {
	query := `
		UPDATE live_sessions
		SET status = $3,
			ended_at = CASE WHEN $3 IN ('completed', 'completed_payment_failed') THEN COALESCE(ended_at, NOW()) ELSE ended_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + liveSessionColumns
	return scanLiveSession(r.db.QueryRow(ctx, query, liveSessionID, currentStatuses, nextStatus))
}

func scanLiveSession(row pgx.Row) (*models.LiveSession, error) {
	var live models.LiveSession
	err := row.Scan(
		&live.ID,
		&live.UserID,
		&live.CoachID,
		&live.Status,
		&live.PricePerMinuteMinor,
		&live.BilledMinutes,
		&live.Currency,
		&live.StartedAt,
		&live.EndedAt,
		&live.CreatedAt,
		&live.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &live, nil
}
