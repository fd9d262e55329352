package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
)

type ProgramRepository struct {
	db DBTX
}

func NewProgramRepository(db DBTX) *ProgramRepository {
	return &ProgramRepository{db: db}
}

const enrollmentColumns = `id, program_id, user_id, status, payment_id, activated_at, created_at`

func (r *ProgramRepository) GetByID(ctx context.Context, programID int64) (*models.Program, error) {
	query := `
		SELECT id, coach_id, title, price_minor, currency, enrollments_count, created_at
		FROM programs
		WHERE id = $1
	`
	var program models.Program
	err := r.db.QueryRow(ctx, query, programID).Scan(
		&program.ID,
		&program.CoachID,
		&program.Title,
		&program.PriceMinor,
		&program.Currency,
		&program.EnrollmentsCount,
		&program.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &program, nil
}

// AdjustEnrollmentsCount never lets the counter drop below zero.
func (r *ProgramRepository) AdjustEnrollmentsCount(ctx context.Context, programID int64, delta int) error {
	query := `
		UPDATE programs
		SET enrollments_count = GREATEST(enrollments_count + $2, 0)
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, programID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ProgramRepository) GetEnrollment(ctx context.Context, programID, userID int64) (*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE program_id = $1 AND user_id = $2
	`
	return scanEnrollment(r.db.QueryRow(ctx, query, programID, userID))
}

// UpdateEnrollmentStatusIfCurrent returns pgx.ErrNoRows when the enrollment
// was not in currentStatus, which callers treat as "already transitioned".
func (r *ProgramRepository) UpdateEnrollmentStatusIfCurrent(
	ctx context.Context,
	enrollmentID int64,
	currentStatus string,
	nextStatus string,
	paymentID *int64,
) (*models.Enrollment, error) {
	query := `
		UPDATE enrollments
		SET status = $3,
			payment_id = COALESCE($4, payment_id),
			activated_at = CASE WHEN $3 = 'active' THEN NOW() ELSE activated_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + enrollmentColumns
	return scanEnrollment(r.db.QueryRow(ctx, query, enrollmentID, currentStatus, nextStatus, paymentID))
}

func scanEnrollment(row pgx.Row) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := row.Scan(
		&enrollment.ID,
		&enrollment.ProgramID,
		&enrollment.UserID,
		&enrollment.Status,
		&enrollment.PaymentID,
		&enrollment.ActivatedAt,
		&enrollment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}
