package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
)

type CreateSegmentInput struct {
	SessionID          int64
	RequestedMinutes   int
	CalculatedMaxPrice int64
	Currency           string
}

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, booking_id, state, created_at, updated_at`

const segmentColumns = `
	id, session_id, status, requested_minutes, calculated_max_price, currency,
	payment_intent_id, payment_id, capture_result, requested_at, updated_at`

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return r.withSegments(ctx, r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	return r.withSegments(ctx, r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) GetByBookingID(ctx context.Context, bookingID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE booking_id = $1`
	return r.withSegments(ctx, r.db.QueryRow(ctx, query, bookingID))
}

func (r *SessionRepository) UpdateStateIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStates []string,
	nextState string,
) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET state = $3, updated_at = NOW()
		WHERE id = $1 AND state = ANY($2)
		RETURNING ` + sessionColumns
	return scanSession(r.db.QueryRow(ctx, query, sessionID, currentStates, nextState))
}

func (r *SessionRepository) CreateSegment(ctx context.Context, input CreateSegmentInput) (*models.OvertimeSegment, error) {
	query := `
		INSERT INTO overtime_segments (session_id, status, requested_minutes, calculated_max_price, currency)
		VALUES ($1, 'requested', $2, $3, $4)
		RETURNING ` + segmentColumns
	return scanSegment(r.db.QueryRow(
		ctx,
		query,
		input.SessionID,
		input.RequestedMinutes,
		input.CalculatedMaxPrice,
		input.Currency,
	))
}

func (r *SessionRepository) GetSegment(ctx context.Context, segmentID int64) (*models.OvertimeSegment, error) {
	query := `SELECT ` + segmentColumns + ` FROM overtime_segments WHERE id = $1`
	return scanSegment(r.db.QueryRow(ctx, query, segmentID))
}

func (r *SessionRepository) GetSegmentByIntentIDForUpdate(ctx context.Context, intentID string) (*models.OvertimeSegment, error) {
	query := `SELECT ` + segmentColumns + ` FROM overtime_segments WHERE payment_intent_id = $1 FOR UPDATE`
	return scanSegment(r.db.QueryRow(ctx, query, intentID))
}

// ClaimSegment binds an intent to the oldest requested segment of the session
// with the given max price that has no intent yet. pgx.ErrNoRows means no
// segment was unclaimed.
func (r *SessionRepository) ClaimSegment(
	ctx context.Context,
	sessionID int64,
	maxPrice int64,
	intentID string,
) (*models.OvertimeSegment, error) {
	query := `
		UPDATE overtime_segments
		SET status = 'pending_confirmation', payment_intent_id = $3, updated_at = NOW()
		WHERE id = (
			SELECT id
			FROM overtime_segments
			WHERE session_id = $1
				AND status = 'requested'
				AND calculated_max_price = $2
				AND payment_intent_id IS NULL
			ORDER BY id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + segmentColumns
	return scanSegment(r.db.QueryRow(ctx, query, sessionID, maxPrice, intentID))
}

func (r *SessionRepository) AttachSegmentPayment(ctx context.Context, segmentID, paymentID int64) error {
	query := `
		UPDATE overtime_segments
		SET payment_id = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, segmentID, paymentID)
	return err
}

func (r *SessionRepository) UpdateSegmentStatusIfCurrent(
	ctx context.Context,
	segmentID int64,
	currentStatuses []models.OvertimeStatus,
	nextStatus models.OvertimeStatus,
	result *models.CaptureResult,
) (*models.OvertimeSegment, error) {
	current := make([]string, 0, len(currentStatuses))
	for _, status := range currentStatuses {
		current = append(current, string(status))
	}
	query := `
		UPDATE overtime_segments
		SET status = $3, capture_result = COALESCE($4, capture_result), updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + segmentColumns
	return scanSegment(r.db.QueryRow(ctx, query, segmentID, current, nextStatus, result))
}

// ListSegmentsOlderThan returns segments in the given status whose last
// update is before the cutoff.
func (r *SessionRepository) ListSegmentsOlderThan(
	ctx context.Context,
	status models.OvertimeStatus,
	cutoff time.Time,
	limit int,
) ([]models.OvertimeSegment, error) {
	query := `
		SELECT ` + segmentColumns + `
		FROM overtime_segments
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC, id ASC
		LIMIT $3
	`
	return r.listSegments(ctx, query, status, cutoff, limit)
}

func (r *SessionRepository) withSegments(ctx context.Context, row pgx.Row) (*models.Session, error) {
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + segmentColumns + `
		FROM overtime_segments
		WHERE session_id = $1
		ORDER BY id ASC
	`
	segments, err := r.listSegments(ctx, query, session.ID)
	if err != nil {
		return nil, err
	}
	session.OvertimeSegments = segments
	return session, nil
}

func (r *SessionRepository) listSegments(ctx context.Context, query string, args ...any) ([]models.OvertimeSegment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segments := make([]models.OvertimeSegment, 0)
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, *segment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return segments, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.BookingID,
		&session.State,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func scanSegment(row pgx.Row) (*models.OvertimeSegment, error) {
	var segment models.OvertimeSegment
	err := row.Scan(
		&segment.ID,
		&segment.SessionID,
		&segment.Status,
		&segment.RequestedMinutes,
		&segment.CalculatedMaxPrice,
		&segment.Currency,
		&segment.PaymentIntentID,
		&segment.PaymentID,
		&segment.CaptureResult,
		&segment.RequestedAt,
		&segment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &segment, nil
}
