package services

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/repository"
)

type PaymentStore interface {
	Upsert(ctx context.Context, payment *models.Payment) (*models.Payment, bool, error)
	GetByID(ctx context.Context, paymentID int64) (*models.Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	GetByIntentIDForUpdate(ctx context.Context, intentID string) (*models.Payment, error)
	GetByChargeID(ctx context.Context, chargeID string) (*models.Payment, error)
	UpdateStatusIfCurrent(ctx context.Context, paymentID int64, current, next models.PaymentStatus) (*models.Payment, error)
	MarkCompleted(ctx context.Context, paymentID int64, chargeID, customerID *string) (*models.Payment, error)
	MarkFailed(ctx context.Context, paymentID int64, reason string) (*models.Payment, error)
	MarkAuthorized(ctx context.Context, paymentID int64, authorized int64) (*models.Payment, error)
	MarkCaptured(ctx context.Context, paymentID int64, snapshot models.PriceSnapshot, chargeID *string) (*models.Payment, error)
	MarkCanceled(ctx context.Context, paymentID int64, reason string) (*models.Payment, error)
	ApplyRefund(ctx context.Context, paymentID int64, amount int64) (*models.Payment, error)
	SetCoachPayoutInvoiceID(ctx context.Context, paymentID int64, invoiceID string) (*models.Payment, error)
}

type TransactionStore interface {
	Ensure(ctx context.Context, txn *models.Transaction) (*models.Transaction, bool, error)
	ListByPayment(ctx context.Context, paymentID int64) ([]models.Transaction, error)
}

type InvoiceStore interface {
	Create(ctx context.Context, invoice *models.Invoice) (*models.Invoice, bool, error)
	GetForPayment(ctx context.Context, paymentID int64, party models.InvoiceParty) (*models.Invoice, error)
	GetByRefundID(ctx context.Context, refundID string) (*models.Invoice, error)
	ListByPayment(ctx context.Context, paymentID int64) ([]models.Invoice, error)
}

type BookingStore interface {
	GetByID(ctx context.Context, bookingID int64) (*models.Booking, error)
	GetByIDForUpdate(ctx context.Context, bookingID int64) (*models.Booking, error)
	UpdateStatus(ctx context.Context, bookingID int64, status string) (*models.Booking, error)
	UpdateStatusIfCurrent(ctx context.Context, bookingID int64, current, next string) (*models.Booking, error)
	UpdatePayment(ctx context.Context, bookingID int64, payment models.BookingPayment) (*models.Booking, error)
	UpsertAttendee(ctx context.Context, bookingID int64, attendee models.Attendee) error
	UpdateAttendeeStatus(ctx context.Context, bookingID, userID int64, status string) error
}

type SessionStore interface {
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
	GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error)
	GetByBookingID(ctx context.Context, bookingID int64) (*models.Session, error)
	UpdateStateIfCurrent(ctx context.Context, sessionID int64, current []string, next string) (*models.Session, error)
	CreateSegment(ctx context.Context, input repository.CreateSegmentInput) (*models.OvertimeSegment, error)
	GetSegment(ctx context.Context, segmentID int64) (*models.OvertimeSegment, error)
	GetSegmentByIntentIDForUpdate(ctx context.Context, intentID string) (*models.OvertimeSegment, error)
	ClaimSegment(ctx context.Context, sessionID int64, maxPrice int64, intentID string) (*models.OvertimeSegment, error)
	AttachSegmentPayment(ctx context.Context, segmentID, paymentID int64) error
	UpdateSegmentStatusIfCurrent(
		ctx context.Context,
		segmentID int64,
		current []models.OvertimeStatus,
		next models.OvertimeStatus,
		result *models.CaptureResult,
	) (*models.OvertimeSegment, error)
	ListSegmentsOlderThan(ctx context.Context, status models.OvertimeStatus, cutoff time.Time, limit int) ([]models.OvertimeSegment, error)
}

type LiveSessionStore interface {
	GetByID(ctx context.Context, liveSessionID int64) (*models.LiveSession, error)
	GetByIDForUpdate(ctx context.Context, liveSessionID int64) (*models.LiveSession, error)
	UpdateStatusIfCurrent(ctx context.Context, liveSessionID int64, current []string, next string) (*models.LiveSession, error)
}

type ProgramStore interface {
	GetByID(ctx context.Context, programID int64) (*models.Program, error)
	AdjustEnrollmentsCount(ctx context.Context, programID int64, delta int) error
	GetEnrollment(ctx context.Context, programID, userID int64) (*models.Enrollment, error)
	UpdateEnrollmentStatusIfCurrent(ctx context.Context, enrollmentID int64, current, next string, paymentID *int64) (*models.Enrollment, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	SetStripeCustomerID(ctx context.Context, id int64, customerID string) (*models.User, error)
}

type WebhookLogStore interface {
	Create(ctx context.Context, entry *models.WebhookLog) error
	GetByID(ctx context.Context, id string) (*models.WebhookLog, error)
}

type RefundRequestStore interface {
	Create(ctx context.Context, input repository.CreateRefundRequestInput) (*models.RefundRequest, error)
	GetByID(ctx context.Context, id int64) (*models.RefundRequest, error)
	Resolve(ctx context.Context, id int64, status string, note, refundID *string) (*models.RefundRequest, error)
	List(ctx context.Context, filter repository.RefundRequestFilter) ([]models.RefundRequest, int, error)
}

// Stores groups the repositories that share one connection or transaction.
type Stores struct {
	Payments       PaymentStore
	Transactions   TransactionStore
	Invoices       InvoiceStore
	Bookings       BookingStore
	Sessions       SessionStore
	LiveSessions   LiveSessionStore
	Programs       ProgramStore
	Users          UserStore
	WebhookLogs    WebhookLogStore
	RefundRequests RefundRequestStore
}

// UnitOfWork hands out stores bound to the pool, or to a transaction that is
// committed only when fn returns nil.
type UnitOfWork interface {
	Stores() Stores
	WithTx(ctx context.Context, fn func(Stores) error) error
}

type PgUnitOfWork struct {
	db *pgxpool.Pool
}

func NewPgUnitOfWork(db *pgxpool.Pool) *PgUnitOfWork {
	return &PgUnitOfWork{db: db}
}

func (u *PgUnitOfWork) Stores() Stores {
	return newStores(u.db)
}

func (u *PgUnitOfWork) WithTx(ctx context.Context, fn func(Stores) error) error {
	tx, err := u.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(newStores(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func newStores(db repository.DBTX) Stores {
	return Stores{
		Payments:       repository.NewPaymentRepository(db),
		Transactions:   repository.NewTransactionRepository(db),
		Invoices:       repository.NewInvoiceRepository(db),
		Bookings:       repository.NewBookingRepository(db),
		Sessions:       repository.NewSessionRepository(db),
		LiveSessions:   repository.NewLiveSessionRepository(db),
		Programs:       repository.NewProgramRepository(db),
		Users:          repository.NewUserRepository(db),
		WebhookLogs:    repository.NewWebhookLogRepository(db),
		RefundRequests: repository.NewRefundRequestRepository(db),
	}
}
