package models

import "time"

const (
	LiveSessionStatusPending                = "pending"
	LiveSessionStatusActive                 = "active"
	LiveSessionStatusCompleted              = "completed"
	LiveSessionStatusCompletedPaymentFailed = "completed_payment_failed"
	LiveSessionStatusRefunded               = "refunded"
)

// LiveSession is billed per minute and settled by one payment at the end.
type LiveSession struct {
	ID                  int64      `json:"id"`
	UserID              int64      `json:"user_id"`
	CoachID             int64      `json:"coach_id"`
	Status              string     `json:"status"`
	PricePerMinuteMinor int64      `json:"price_per_minute"`
	BilledMinutes       int        `json:"billed_minutes"`
	Currency            string     `json:"currency"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type Program struct {
	ID               int64     `json:"id"`
	CoachID          int64     `json:"coach_id"`
	Title            string    `json:"title"`
	PriceMinor       int64     `json:"price"`
	Currency         string    `json:"currency"`
	EnrollmentsCount int       `json:"enrollments_count"`
	CreatedAt        time.Time `json:"created_at"`
}

const (
	EnrollmentStatusPendingPayment = "pending_payment"
	EnrollmentStatusActive         = "active"
	EnrollmentStatusPaymentFailed  = "payment_failed"
	EnrollmentStatusCancelled      = "cancelled"
)

type Enrollment struct {
	ID          int64      `json:"id"`
	ProgramID   int64      `json:"program_id"`
	UserID      int64      `json:"user_id"`
	Status      string     `json:"status"`
	PaymentID   *int64     `json:"payment_id,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
