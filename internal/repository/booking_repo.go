package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
)

type BookingRepository struct {
	db DBTX
}

func NewBookingRepository(db DBTX) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, user_id, coach_id, booking_type, status, scheduled_at, duration_min, price_minor,
	overtime_rate_minor, currency, max_attendees, min_attendees, payment_status, payment_id,
	payment_intent_id, created_at, updated_at`

func (r *BookingRepository) GetByID(ctx context.Context, bookingID int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return r.withAttendees(ctx, r.db.QueryRow(ctx, query, bookingID))
}

// GetByIDForUpdate locks the booking row. Attendee rows are only written
// while this lock is held, so the roster read with it is stable.
func (r *BookingRepository) GetByIDForUpdate(ctx context.Context, bookingID int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	return r.withAttendees(ctx, r.db.QueryRow(ctx, query, bookingID))
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, bookingID int64, status string) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + bookingColumns
	return scanBooking(r.db.QueryRow(ctx, query, bookingID, status))
}

func (r *BookingRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	bookingID int64,
	currentStatus string,
	nextStatus string,
) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + bookingColumns
	return scanBooking(r.db.QueryRow(ctx, query, bookingID, currentStatus, nextStatus))
}

// UpdatePayment writes the booking's payment sub-document.
func (r *BookingRepository) UpdatePayment(
	ctx context.Context,
	bookingID int64,
	payment models.BookingPayment,
) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET payment_status = $2,
			payment_id = COALESCE($3, payment_id),
			payment_intent_id = COALESCE($4, payment_intent_id),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + bookingColumns
	return scanBooking(r.db.QueryRow(ctx, query, bookingID, payment.Status, payment.PaymentID, payment.PaymentIntentID))
}

// UpsertAttendee writes the payer's roster entry, replacing a cancelled,
// refunded or failed one. A row that is already confirmed is left as is.
func (r *BookingRepository) UpsertAttendee(ctx context.Context, bookingID int64, attendee models.Attendee) error {
	query := `
		INSERT INTO booking_attendees (booking_id, user_id, status, payment_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (booking_id, user_id) DO UPDATE
		SET status = EXCLUDED.status, payment_id = EXCLUDED.payment_id, joined_at = NOW()
		WHERE booking_attendees.status <> 'confirmed'
	`
	_, err := r.db.Exec(ctx, query, bookingID, attendee.UserID, attendee.Status, attendee.PaymentID)
	return err
}

func (r *BookingRepository) UpdateAttendeeStatus(ctx context.Context, bookingID, userID int64, status string) error {
	query := `
		UPDATE booking_attendees
		SET status = $3
		WHERE booking_id = $1 AND user_id = $2
	`
	tag, err := r.db.Exec(ctx, query, bookingID, userID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *BookingRepository) ListAttendees(ctx context.Context, bookingID int64) ([]models.Attendee, error) {
	query := `
		SELECT user_id, status, payment_id, joined_at
		FROM booking_attendees
		WHERE booking_id = $1
		ORDER BY joined_at ASC, user_id ASC
	`
	rows, err := r.db.Query(ctx, query, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attendees := make([]models.Attendee, 0)
	for rows.Next() {
		var attendee models.Attendee
		if err := rows.Scan(&attendee.UserID, &attendee.Status, &attendee.PaymentID, &attendee.JoinedAt); err != nil {
			return nil, err
		}
		attendees = append(attendees, attendee)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attendees, nil
}

func (r *BookingRepository) withAttendees(ctx context.Context, row pgx.Row) (*models.Booking, error) {
	booking, err := scanBooking(row)
	if err != nil {
		return nil, err
	}
	if booking.Type == models.BookingTypeStandard {
		return booking, nil
	}
	attendees, err := r.ListAttendees(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	booking.Attendees = attendees
	return booking, nil
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var booking models.Booking
	err := row.Scan(
		&booking.ID,
		&booking.UserID,
		&booking.CoachID,
		&booking.Type,
		&booking.Status,
		&booking.ScheduledAt,
		&booking.DurationMinutes,
		&booking.PriceMinor,
		&booking.OvertimeRateMinor,
		&booking.Currency,
		&booking.MaxAttendees,
		&booking.MinAttendees,
		&booking.Payment.Status,
		&booking.Payment.PaymentID,
		&booking.Payment.PaymentIntentID,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}
