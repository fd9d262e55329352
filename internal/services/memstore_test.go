package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/repository"
)

// memDB is an in-memory stand-in for the Postgres schema. Rows are stored
// by value, so a shallow copy of every map is a consistent snapshot.
type memDB struct {
	seq            int64
	now            time.Time
	users          map[int64]models.User
	payments       map[int64]models.Payment
	transactions   []models.Transaction
	invoices       []models.Invoice
	bookings       map[int64]models.Booking
	attendees      map[int64][]models.Attendee
	sessions       map[int64]models.Session
	segments       map[int64]models.OvertimeSegment
	liveSessions   map[int64]models.LiveSession
	programs       map[int64]models.Program
	enrollments    map[int64]models.Enrollment
	webhookLogs    []models.WebhookLog
	refundRequests map[int64]models.RefundRequest
}

func newMemDB() *memDB {
	return &memDB{
		seq:            100,
		now:            time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC),
		users:          map[int64]models.User{},
		payments:       map[int64]models.Payment{},
		bookings:       map[int64]models.Booking{},
		attendees:      map[int64][]models.Attendee{},
		sessions:       map[int64]models.Session{},
		segments:       map[int64]models.OvertimeSegment{},
		liveSessions:   map[int64]models.LiveSession{},
		programs:       map[int64]models.Program{},
		enrollments:    map[int64]models.Enrollment{},
		refundRequests: map[int64]models.RefundRequest{},
	}
}

func (db *memDB) nextID() int64 {
	db.seq++
	return db.seq
}

func (db *memDB) clone() *memDB {
	copied := *db
	copied.users = cloneMap(db.users)
	copied.payments = cloneMap(db.payments)
	copied.transactions = append([]models.Transaction(nil), db.transactions...)
	copied.invoices = append([]models.Invoice(nil), db.invoices...)
	copied.bookings = cloneMap(db.bookings)
	copied.attendees = make(map[int64][]models.Attendee, len(db.attendees))
	for id, list := range db.attendees {
		copied.attendees[id] = append([]models.Attendee(nil), list...)
	}
	copied.sessions = cloneMap(db.sessions)
	copied.segments = cloneMap(db.segments)
	copied.liveSessions = cloneMap(db.liveSessions)
	copied.programs = cloneMap(db.programs)
	copied.enrollments = cloneMap(db.enrollments)
	copied.webhookLogs = append([]models.WebhookLog(nil), db.webhookLogs...)
	copied.refundRequests = cloneMap(db.refundRequests)
	return &copied
}

func cloneMap[V any](src map[int64]V) map[int64]V {
	dst := make(map[int64]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// memUnitOfWork commits a transaction by swapping the cloned state in, and
// rolls back by dropping it.
type memUnitOfWork struct {
	mu sync.Mutex
	db *memDB
	// failCommit makes the next WithTx fail after fn succeeded.
	failCommit error
}

func newMemUnitOfWork() *memUnitOfWork {
	return &memUnitOfWork{db: newMemDB()}
}

func (u *memUnitOfWork) Stores() Stores {
	return memStores(u.db)
}

func (u *memUnitOfWork) WithTx(_ context.Context, fn func(Stores) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	tx := u.db.clone()
	if err := fn(memStores(tx)); err != nil {
		return err
	}
	if u.failCommit != nil {
		err := u.failCommit
		u.failCommit = nil
		return err
	}
	*u.db = *tx
	return nil
}

func memStores(db *memDB) Stores {
	return Stores{
		Payments:       memPayments{db},
		Transactions:   memTransactions{db},
		Invoices:       memInvoices{db},
		Bookings:       memBookings{db},
		Sessions:       memSessions{db},
		LiveSessions:   memLiveSessions{db},
		Programs:       memPrograms{db},
		Users:          memUsers{db},
		WebhookLogs:    memWebhookLogs{db},
		RefundRequests: memRefundRequests{db},
	}
}

type memPayments struct{ db *memDB }

func (s memPayments) Upsert(_ context.Context, payment *models.Payment) (*models.Payment, bool, error) {
	for _, existing := range s.db.payments {
		if existing.PaymentIntentID == payment.PaymentIntentID {
			return &existing, false, nil
		}
	}
	row := *payment
	row.ID = s.db.nextID()
	row.CreatedAt = s.db.now
	row.UpdatedAt = s.db.now
	s.db.payments[row.ID] = row
	return &row, true, nil
}

func (s memPayments) GetByID(_ context.Context, paymentID int64) (*models.Payment, error) {
	row, ok := s.db.payments[paymentID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &row, nil
}

func (s memPayments) GetByIntentID(_ context.Context, intentID string) (*models.Payment, error) {
	for _, row := range s.db.payments {
		if row.PaymentIntentID == intentID {
			return &row, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s memPayments) GetByIntentIDForUpdate(ctx context.Context, intentID string) (*models.Payment, error) {
	return s.GetByIntentID(ctx, intentID)
}

func (s memPayments) GetByChargeID(_ context.Context, chargeID string) (*models.Payment, error) {
	for _, row := range s.db.payments {
		if row.ChargeID != nil && *row.ChargeID == chargeID {
			return &row, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s memPayments) update(paymentID int64, guard func(models.Payment) bool, apply func(*models.Payment)) (*models.Payment, error) {
	row, ok := s.db.payments[paymentID]
	if !ok || !guard(row) {
		return nil, pgx.ErrNoRows
	}
	apply(&row)
	row.UpdatedAt = s.db.now
	s.db.payments[paymentID] = row
	return &row, nil
}

func (s memPayments) UpdateStatusIfCurrent(_ context.Context, paymentID int64, current, next models.PaymentStatus) (*models.Payment, error) {
	return s.update(paymentID,
		func(p models.Payment) bool { return p.Status == current },
		func(p *models.Payment) { p.Status = next },
	)
}

func (s memPayments) MarkCompleted(_ context.Context, paymentID int64, chargeID, customerID *string) (*models.Payment, error) {
	return s.update(paymentID,
		func(p models.Payment) bool { return !p.Status.Settled() },
		func(p *models.Payment) {
			p.Status = models.PaymentStatusCompleted
			if chargeID != nil {
				p.ChargeID = chargeID
			}
			if customerID != nil {
				p.CustomerID = customerID
			}
			p.FailureReason = nil
		},
	)
}

func (s memPayments) MarkFailed(_ context.Context, paymentID int64, reason string) (*models.Payment, error) {
	return s.update(paymentID,
		func(p models.Payment) bool { return !p.Status.Settled() && p.Status != models.PaymentStatusFailed },
		func(p *models.Payment) {
			p.Status = models.PaymentStatusFailed
			p.FailureReason = &reason
		},
	)
}

func (s memPayments) MarkAuthorized(_ context.Context, paymentID int64, authorized int64) (*models.Payment, error) {
	return s.update(paymentID,
		func(p models.Payment) bool {
			return p.Type == models.PaymentTypeAuthorization &&
				(p.Status == models.PaymentStatusPending || p.Status == models.PaymentStatusPendingConfirmation)
		},
		func(p *models.Payment) {
			p.Status = models.PaymentStatusAuthorized
			p.Amount.Authorized = authorized
		},
	)
}

func (s memPayments) MarkCaptured(_ context.Context, paymentID int64, snapshot models.PriceSnapshot, chargeID *string) (*models.Payment, error) {
	return s.update(paymentID,
		func(p models.Payment) bool {
			return p.Type == models.PaymentTypeAuthorization &&
				p.Status == models.PaymentStatusAuthorized &&
				snapshot.Total <= p.Amount.Authorized
		},
		func(p *models.Payment) {
			authorized, refunded := p.Amount.Authorized, p.Amount.Refunded
			p.Type = models.PaymentTypeOvertimeCharge
			p.Status = models.PaymentStatusCompleted
			p.Amount = snapshot.Amount()
			p.Amount.Authorized = authorized
			p.Amount.Refunded = refunded
			p.PriceSnapshot = &snapshot
			if chargeID != nil {
				p.ChargeID = chargeID
			}
		},
	)
}

func (s memPayments) MarkCanceled(_ context.Context, paymentID int64, reason string) (*models.Payment, error) {
	return s.update(paymentID,
		func(p models.Payment) bool {
			return p.Status == models.PaymentStatusPending ||
				p.Status == models.PaymentStatusPendingConfirmation ||
				p.Status == models.PaymentStatusAuthorized
		},
		func(p *models.Payment) {
			p.Status = models.PaymentStatusCanceled
			p.FailureReason = &reason
		},
	)
}

func (s memPayments) ApplyRefund(_ context.Context, paymentID int64, amount int64) (*models.Payment, error) {
	return s.update(paymentID,
		func(p models.Payment) bool {
			return (p.Status == models.PaymentStatusCompleted || p.Status == models.PaymentStatusPartiallyRefunded) &&
				p.Amount.Refunded+amount <= p.Amount.Total
		},
		func(p *models.Payment) {
			p.Amount.Refunded += amount
			if p.Amount.Refunded >= p.Amount.Total {
				p.Status = models.PaymentStatusRefunded
			} else {
				p.Status = models.PaymentStatusPartiallyRefunded
			}
		},
	)
}

func (s memPayments) SetCoachPayoutInvoiceID(_ context.Context, paymentID int64, invoiceID string) (*models.Payment, error) {
	return s.update(paymentID,
		func(p models.Payment) bool { return p.CoachPayoutInvoiceID == nil },
		func(p *models.Payment) { p.CoachPayoutInvoiceID = &invoiceID },
	)
}

type memTransactions struct{ db *memDB }

func (s memTransactions) Ensure(_ context.Context, txn *models.Transaction) (*models.Transaction, bool, error) {
	for _, existing := range s.db.transactions {
		if existing.ProcessorTransactionID == txn.ProcessorTransactionID && existing.Type == txn.Type {
			return &existing, false, nil
		}
	}
	row := *txn
	row.ID = s.db.nextID()
	row.CreatedAt = s.db.now
	s.db.transactions = append(s.db.transactions, row)
	return &row, true, nil
}

func (s memTransactions) ListByPayment(_ context.Context, paymentID int64) ([]models.Transaction, error) {
	rows := make([]models.Transaction, 0)
	for _, row := range s.db.transactions {
		if row.PaymentID == paymentID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

type memInvoices struct{ db *memDB }

func (s memInvoices) Create(ctx context.Context, invoice *models.Invoice) (*models.Invoice, bool, error) {
	for _, existing := range s.db.invoices {
		conflict := existing.ExternalID == invoice.ExternalID ||
			(invoice.RefundID != nil && existing.RefundID != nil && *existing.RefundID == *invoice.RefundID) ||
			(invoice.Type == models.InvoiceTypeInvoice && existing.Type == models.InvoiceTypeInvoice &&
				existing.PaymentID == invoice.PaymentID && existing.Party == invoice.Party)
		if conflict {
			return &existing, false, nil
		}
	}
	row := *invoice
	row.ID = s.db.nextID()
	row.CreatedAt = s.db.now
	s.db.invoices = append(s.db.invoices, row)
	return &row, true, nil
}

func (s memInvoices) GetForPayment(_ context.Context, paymentID int64, party models.InvoiceParty) (*models.Invoice, error) {
	for _, row := range s.db.invoices {
		if row.PaymentID == paymentID && row.Party == party && row.Type == models.InvoiceTypeInvoice {
			return &row, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s memInvoices) GetByRefundID(_ context.Context, refundID string) (*models.Invoice, error) {
	for _, row := range s.db.invoices {
		if row.RefundID != nil && *row.RefundID == refundID {
			return &row, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s memInvoices) ListByPayment(_ context.Context, paymentID int64) ([]models.Invoice, error) {
	rows := make([]models.Invoice, 0)
	for _, row := range s.db.invoices {
		if row.PaymentID == paymentID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

type memBookings struct{ db *memDB }

func (s memBookings) GetByID(_ context.Context, bookingID int64) (*models.Booking, error) {
	row, ok := s.db.bookings[bookingID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	row.Attendees = append([]models.Attendee(nil), s.db.attendees[bookingID]...)
	return &row, nil
}

func (s memBookings) GetByIDForUpdate(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.GetByID(ctx, bookingID)
}

func (s memBookings) UpdateStatus(ctx context.Context, bookingID int64, status string) (*models.Booking, error) {
	row, ok := s.db.bookings[bookingID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	row.Status = status
	s.db.bookings[bookingID] = row
	return s.GetByID(ctx, bookingID)
}

func (s memBookings) UpdateStatusIfCurrent(ctx context.Context, bookingID int64, current, next string) (*models.Booking, error) {
	row, ok := s.db.bookings[bookingID]
	if !ok || row.Status != current {
		return nil, pgx.ErrNoRows
	}
	return s.UpdateStatus(ctx, bookingID, next)
}

func (s memBookings) UpdatePayment(ctx context.Context, bookingID int64, payment models.BookingPayment) (*models.Booking, error) {
	row, ok := s.db.bookings[bookingID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	row.Payment.Status = payment.Status
	if payment.PaymentID != nil {
		row.Payment.PaymentID = payment.PaymentID
	}
	if payment.PaymentIntentID != nil {
		row.Payment.PaymentIntentID = payment.PaymentIntentID
	}
	s.db.bookings[bookingID] = row
	return s.GetByID(ctx, bookingID)
}

func (s memBookings) UpsertAttendee(_ context.Context, bookingID int64, attendee models.Attendee) error {
	list := s.db.attendees[bookingID]
	for i := range list {
		if list[i].UserID == attendee.UserID {
			if list[i].Status != models.AttendeeStatusConfirmed {
				list[i].Status = attendee.Status
				list[i].PaymentID = attendee.PaymentID
			}
			return nil
		}
	}
	attendee.JoinedAt = s.db.now
	s.db.attendees[bookingID] = append(list, attendee)
	return nil
}

func (s memBookings) UpdateAttendeeStatus(_ context.Context, bookingID, userID int64, status string) error {
	list := s.db.attendees[bookingID]
	for i := range list {
		if list[i].UserID == userID {
			list[i].Status = status
			return nil
		}
	}
	return pgx.ErrNoRows
}

type memSessions struct{ db *memDB }

func (s memSessions) withSegments(row models.Session) *models.Session {
	row.OvertimeSegments = nil
	for _, segment := range s.db.segments {
		if segment.SessionID == row.ID {
			row.OvertimeSegments = append(row.OvertimeSegments, segment)
		}
	}
	sort.Slice(row.OvertimeSegments, func(i, j int) bool {
		return row.OvertimeSegments[i].ID < row.OvertimeSegments[j].ID
	})
	return &row
}

func (s memSessions) GetByID(_ context.Context, sessionID int64) (*models.Session, error) {
	row, ok := s.db.sessions[sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s.withSegments(row), nil
}

func (s memSessions) GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error) {
	return s.GetByID(ctx, sessionID)
}

func (s memSessions) GetByBookingID(_ context.Context, bookingID int64) (*models.Session, error) {
	for _, row := range s.db.sessions {
		if row.BookingID == bookingID {
			return s.withSegments(row), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s memSessions) UpdateStateIfCurrent(_ context.Context, sessionID int64, current []string, next string) (*models.Session, error) {
	row, ok := s.db.sessions[sessionID]
	if !ok || !containsString(current, row.State) {
		return nil, pgx.ErrNoRows
	}
	row.State = next
	row.UpdatedAt = s.db.now
	s.db.sessions[sessionID] = row
	return s.withSegments(row), nil
}

func (s memSessions) CreateSegment(_ context.Context, input repository.CreateSegmentInput) (*models.OvertimeSegment, error) {
	segment := models.OvertimeSegment{
		ID:                 s.db.nextID(),
		SessionID:          input.SessionID,
		Status:             models.OvertimeStatusRequested,
		RequestedMinutes:   input.RequestedMinutes,
		CalculatedMaxPrice: input.CalculatedMaxPrice,
		Currency:           input.Currency,
		RequestedAt:        s.db.now,
		UpdatedAt:          s.db.now,
	}
	s.db.segments[segment.ID] = segment
	return &segment, nil
}

func (s memSessions) GetSegment(_ context.Context, segmentID int64) (*models.OvertimeSegment, error) {
	row, ok := s.db.segments[segmentID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &row, nil
}

func (s memSessions) GetSegmentByIntentIDForUpdate(_ context.Context, intentID string) (*models.OvertimeSegment, error) {
	for _, row := range s.db.segments {
		if row.PaymentIntentID != nil && *row.PaymentIntentID == intentID {
			return &row, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s memSessions) ClaimSegment(_ context.Context, sessionID int64, maxPrice int64, intentID string) (*models.OvertimeSegment, error) {
	var claimed *models.OvertimeSegment
	for _, row := range s.db.segments {
		if row.SessionID != sessionID || row.Status != models.OvertimeStatusRequested ||
			row.CalculatedMaxPrice != maxPrice || row.PaymentIntentID != nil {
			continue
		}
		if claimed == nil || row.ID < claimed.ID {
			candidate := row
			claimed = &candidate
		}
	}
	if claimed == nil {
		return nil, pgx.ErrNoRows
	}
	claimed.Status = models.OvertimeStatusPendingConfirmation
	claimed.PaymentIntentID = &intentID
	claimed.UpdatedAt = s.db.now
	s.db.segments[claimed.ID] = *claimed
	return claimed, nil
}

func (s memSessions) AttachSegmentPayment(_ context.Context, segmentID, paymentID int64) error {
	row, ok := s.db.segments[segmentID]
	if !ok {
		return pgx.ErrNoRows
	}
	row.PaymentID = &paymentID
	s.db.segments[segmentID] = row
	return nil
}

func (s memSessions) UpdateSegmentStatusIfCurrent(
	_ context.Context,
	segmentID int64,
	current []models.OvertimeStatus,
	next models.OvertimeStatus,
	result *models.CaptureResult,
) (*models.OvertimeSegment, error) {
	row, ok := s.db.segments[segmentID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	matched := false
	for _, status := range current {
		if row.Status == status {
			matched = true
		}
	}
	if !matched {
		return nil, pgx.ErrNoRows
	}
	row.Status = next
	if result != nil {
		row.CaptureResult = result
	}
	row.UpdatedAt = s.db.now
	s.db.segments[segmentID] = row
	return &row, nil
}

func (s memSessions) ListSegmentsOlderThan(_ context.Context, status models.OvertimeStatus, cutoff time.Time, limit int) ([]models.OvertimeSegment, error) {
	rows := make([]models.OvertimeSegment, 0)
	for _, row := range s.db.segments {
		if row.Status == status && row.UpdatedAt.Before(cutoff) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

type memLiveSessions struct{ db *memDB }

func (s memLiveSessions) GetByID(_ context.Context, liveSessionID int64) (*models.LiveSession, error) {
	row, ok := s.db.liveSessions[liveSessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &row, nil
}

func (s memLiveSessions) GetByIDForUpdate(ctx context.Context, liveSessionID int64) (*models.LiveSession, error) {
	return s.GetByID(ctx, liveSessionID)
}

func (s memLiveSessions) UpdateStatusIfCurrent(_ context.Context, liveSessionID int64, current []string, next string) (*models.LiveSession, error) {
	row, ok := s.db.liveSessions[liveSessionID]
	if !ok || !containsString(current, row.Status) {
		return nil, pgx.ErrNoRows
	}
	row.Status = next
	s.db.liveSessions[liveSessionID] = row
	return &row, nil
}

type memPrograms struct{ db *memDB }

func (s memPrograms) GetByID(_ context.Context, programID int64) (*models.Program, error) {
	row, ok := s.db.programs[programID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &row, nil
}

func (s memPrograms) AdjustEnrollmentsCount(_ context.Context, programID int64, delta int) error {
	row, ok := s.db.programs[programID]
	if !ok {
		return pgx.ErrNoRows
	}
	row.EnrollmentsCount = max(row.EnrollmentsCount+delta, 0)
	s.db.programs[programID] = row
	return nil
}

func (s memPrograms) GetEnrollment(_ context.Context, programID, userID int64) (*models.Enrollment, error) {
	for _, row := range s.db.enrollments {
		if row.ProgramID == programID && row.UserID == userID {
			return &row, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s memPrograms) UpdateEnrollmentStatusIfCurrent(_ context.Context, enrollmentID int64, current, next string, paymentID *int64) (*models.Enrollment, error) {
	row, ok := s.db.enrollments[enrollmentID]
	if !ok || row.Status != current {
		return nil, pgx.ErrNoRows
	}
	row.Status = next
	if paymentID != nil {
		row.PaymentID = paymentID
	}
	s.db.enrollments[enrollmentID] = row
	return &row, nil
}

type memUsers struct{ db *memDB }

func (s memUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	row, ok := s.db.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &row, nil
}

func (s memUsers) SetStripeCustomerID(_ context.Context, id int64, customerID string) (*models.User, error) {
	row, ok := s.db.users[id]
	if !ok || row.StripeCustomerID != nil {
		return nil, pgx.ErrNoRows
	}
	row.StripeCustomerID = &customerID
	s.db.users[id] = row
	return &row, nil
}

type memWebhookLogs struct{ db *memDB }

func (s memWebhookLogs) Create(_ context.Context, entry *models.WebhookLog) error {
	entry.CreatedAt = s.db.now
	s.db.webhookLogs = append(s.db.webhookLogs, *entry)
	return nil
}

func (s memWebhookLogs) GetByID(_ context.Context, id string) (*models.WebhookLog, error) {
	for _, row := range s.db.webhookLogs {
		if row.ID == id {
			return &row, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type memRefundRequests struct{ db *memDB }

func (s memRefundRequests) Create(_ context.Context, input repository.CreateRefundRequestInput) (*models.RefundRequest, error) {
	row := models.RefundRequest{
		ID:          s.db.nextID(),
		PaymentID:   input.PaymentID,
		RequesterID: input.RequesterID,
		CoachID:     input.CoachID,
		AmountMinor: input.AmountMinor,
		Currency:    input.Currency,
		Reason:      input.Reason,
		Status:      models.RefundRequestStatusOpen,
		CreatedAt:   s.db.now,
		UpdatedAt:   s.db.now,
	}
	s.db.refundRequests[row.ID] = row
	return &row, nil
}

func (s memRefundRequests) GetByID(_ context.Context, id int64) (*models.RefundRequest, error) {
	row, ok := s.db.refundRequests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &row, nil
}

func (s memRefundRequests) Resolve(_ context.Context, id int64, status string, note, refundID *string) (*models.RefundRequest, error) {
	row, ok := s.db.refundRequests[id]
	if !ok || row.Status != models.RefundRequestStatusOpen {
		return nil, pgx.ErrNoRows
	}
	row.Status = status
	row.ResponseNote = note
	row.RefundID = refundID
	s.db.refundRequests[id] = row
	return &row, nil
}

func (s memRefundRequests) List(_ context.Context, filter repository.RefundRequestFilter) ([]models.RefundRequest, int, error) {
	matched := make([]models.RefundRequest, 0)
	for _, row := range s.db.refundRequests {
		actor := row.RequesterID
		if filter.Role == models.RoleCoach {
			actor = row.CoachID
		}
		if actor != filter.ActorID || (filter.Status != "" && row.Status != filter.Status) {
			continue
		}
		matched = append(matched, row)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if filter.Offset >= total {
		return []models.RefundRequest{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}

func containsString(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
