package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/pkg/cache"
	"github.com/saeid-a/CoachLedger/pkg/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeProcessor keeps intents, refunds and invoices in memory and applies
// tax the way the processor does: exclusive rates are added per line.
type fakeProcessor struct {
	mu sync.Mutex

	seq         int
	intents     map[string]*processor.Intent
	refunds     map[string]*processor.Refund
	refundKeys  map[string]string
	invoices    map[string]*processor.Invoice
	invoiceKeys map[string]string
	taxRates    map[string]processor.TaxRate
	creditNotes []processor.CreditNoteParams
	customers   int

	processingFee int64
	// confirmStatus is the status CreatePaymentIntent reports for confirmed
	// manual-capture intents.
	confirmStatus string

	createIntentErr error
	captureErr      error
	refundErr       error
	invoiceErr      error
	canceled        []string
	captured        map[string]int64
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		intents:       map[string]*processor.Intent{},
		refunds:       map[string]*processor.Refund{},
		refundKeys:    map[string]string{},
		invoices:      map[string]*processor.Invoice{},
		invoiceKeys:   map[string]string{},
		taxRates:      map[string]processor.TaxRate{},
		captured:      map[string]int64{},
		confirmStatus: processor.IntentStatusRequiresCapture,
	}
}

func (f *fakeProcessor) id(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%03d", prefix, f.seq)
}

func (f *fakeProcessor) CreatePaymentIntent(_ context.Context, params processor.IntentParams) (*processor.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createIntentErr != nil {
		return nil, f.createIntentErr
	}

	intent := &processor.Intent{
		ID:           f.id("pi"),
		Status:       processor.IntentStatusRequiresPaymentMethod,
		Amount:       params.Amount,
		Currency:     params.Currency,
		CustomerID:   params.CustomerID,
		ClientSecret: "secret",
		Metadata:     params.Metadata,
	}
	if params.Confirm && params.ManualCapture {
		intent.Status = f.confirmStatus
		if intent.Status == processor.IntentStatusRequiresCapture {
			intent.AmountCapturable = params.Amount
		}
	}
	f.intents[intent.ID] = intent
	copied := *intent
	return &copied, nil
}

func (f *fakeProcessor) ConfirmPaymentIntent(_ context.Context, intentID string) (*processor.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, errors.New("no such intent")
	}
	intent.Status = processor.IntentStatusSucceeded
	intent.AmountReceived = intent.Amount
	intent.ChargeID = "ch_" + intentID
	copied := *intent
	return &copied, nil
}

func (f *fakeProcessor) GetPaymentIntent(_ context.Context, intentID string) (*processor.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, errors.New("no such intent")
	}
	copied := *intent
	return &copied, nil
}

func (f *fakeProcessor) CapturePaymentIntent(_ context.Context, intentID string, amount int64) (*processor.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, errors.New("no such intent")
	}
	if amount > intent.AmountCapturable {
		return nil, errors.New("amount exceeds capturable")
	}
	intent.Status = processor.IntentStatusSucceeded
	intent.AmountReceived = amount
	intent.AmountCapturable = 0
	intent.ChargeID = "ch_" + intentID
	f.captured[intentID] = amount
	copied := *intent
	return &copied, nil
}

func (f *fakeProcessor) CancelPaymentIntent(_ context.Context, intentID string) (*processor.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, intentID)
	intent, ok := f.intents[intentID]
	if !ok {
		return &processor.Intent{ID: intentID, Status: processor.IntentStatusCanceled}, nil
	}
	intent.Status = processor.IntentStatusCanceled
	intent.AmountCapturable = 0
	copied := *intent
	return &copied, nil
}

func (f *fakeProcessor) CreateRefund(_ context.Context, params processor.RefundParams) (*processor.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	if id, ok := f.refundKeys[params.IdempotencyKey]; ok {
		copied := *f.refunds[id]
		return &copied, nil
	}
	refund := &processor.Refund{
		ID:              f.id("re"),
		PaymentIntentID: params.PaymentIntentID,
		Amount:          params.Amount,
		Status:          "succeeded",
		Reason:          params.Reason,
		Metadata:        params.Metadata,
	}
	f.refunds[refund.ID] = refund
	f.refundKeys[params.IdempotencyKey] = refund.ID
	copied := *refund
	return &copied, nil
}

func (f *fakeProcessor) CreateCustomer(_ context.Context, _ processor.CustomerParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers++
	return f.id("cus"), nil
}

func (f *fakeProcessor) ListTaxRates(_ context.Context, inclusive bool) ([]processor.TaxRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rates := make([]processor.TaxRate, 0, len(f.taxRates))
	for _, rate := range f.taxRates {
		if rate.Inclusive == inclusive {
			rates = append(rates, rate)
		}
	}
	return rates, nil
}

func (f *fakeProcessor) CreateTaxRate(_ context.Context, percentage float64, inclusive bool, _ string) (*processor.TaxRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rate := processor.TaxRate{ID: f.id("txr"), Percentage: percentage, Inclusive: inclusive, Active: true}
	f.taxRates[rate.ID] = rate
	return &rate, nil
}

func (f *fakeProcessor) CreateInvoice(_ context.Context, params processor.InvoiceParams) (*processor.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	if id, ok := f.invoiceKeys[params.IdempotencyKey]; ok {
		copied := *f.invoices[id]
		return &copied, nil
	}

	invoice := &processor.Invoice{ID: f.id("in"), Status: "draft", Number: fmt.Sprintf("INV-%d", f.seq)}
	for _, line := range params.Lines {
		amount := line.Amount
		if rate, ok := f.taxRates[line.TaxRateID]; ok && !rate.Inclusive {
			amount += money.PercentOf(line.Amount, decimal.NewFromFloat(rate.Percentage))
		}
		invoice.Lines = append(invoice.Lines, processor.InvoiceLine{
			ID:          f.id("il"),
			Description: line.Description,
			Amount:      amount,
		})
		invoice.Total += amount
	}
	f.invoices[invoice.ID] = invoice
	f.invoiceKeys[params.IdempotencyKey] = invoice.ID
	copied := *invoice
	return &copied, nil
}

func (f *fakeProcessor) FinalizeInvoice(_ context.Context, invoiceID string) (*processor.Invoice, error) {
	return f.setInvoiceStatus(invoiceID, "open")
}

func (f *fakeProcessor) PayInvoiceOutOfBand(_ context.Context, invoiceID string) (*processor.Invoice, error) {
	return f.setInvoiceStatus(invoiceID, "paid")
}

func (f *fakeProcessor) GetInvoice(_ context.Context, invoiceID string) (*processor.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice, ok := f.invoices[invoiceID]
	if !ok {
		return nil, errors.New("no such invoice")
	}
	copied := *invoice
	return &copied, nil
}

func (f *fakeProcessor) setInvoiceStatus(invoiceID, status string) (*processor.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice, ok := f.invoices[invoiceID]
	if !ok {
		return nil, errors.New("no such invoice")
	}
	invoice.Status = status
	copied := *invoice
	return &copied, nil
}

func (f *fakeProcessor) CreateCreditNote(_ context.Context, params processor.CreditNoteParams) (*processor.CreditNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creditNotes = append(f.creditNotes, params)
	total := int64(0)
	for _, line := range params.Lines {
		total += line.Amount
	}
	return &processor.CreditNote{ID: f.id("cn"), Number: fmt.Sprintf("CN-%d", f.seq), Total: total}, nil
}

func (f *fakeProcessor) ChargeProcessingFee(_ context.Context, _ string) (int64, error) {
	return f.processingFee, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Send(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) ofType(kind string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var matched []Notification
	for _, notification := range n.sent {
		if notification.Type == kind {
			matched = append(matched, notification)
		}
	}
	return matched
}

type publishedEvent struct {
	channel string
	event   string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(channel string, event string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{channel: channel, event: event})
	return nil
}

func (p *recordingPublisher) has(channel, event string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, published := range p.events {
		if published.channel == channel && published.event == event {
			return true
		}
	}
	return false
}

// harness wires every service over the in-memory stores, configured with a
// 15% platform fee and 7.7% exclusive VAT.
type harness struct {
	uow        *memUnitOfWork
	client     *fakeProcessor
	notifier   *recordingNotifier
	realtime   *recordingPublisher
	pricer     *Pricer
	ledger     *LedgerService
	invoices   *InvoiceService
	refunds    *RefundService
	statements *PayoutStatementService
	overtime   *OvertimeService
	webhooks   *WebhookService
	payments   *PaymentService
	requests   *RefundRequestService
	logs       *observer.ObservedLogs
}

const (
	testPayerID = 42
	testCoachID = 7
)

func newHarness(t *testing.T) *harness {
	t.Helper()

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	h := &harness{
		uow:      newMemUnitOfWork(),
		client:   newFakeProcessor(),
		notifier: &recordingNotifier{},
		realtime: &recordingPublisher{},
		logs:     logs,
	}
	h.pricer = NewPricer(PricingConfig{
		PlatformFeePercent: decimal.NewFromInt(15),
		VATRatePercent:     decimal.RequireFromString("7.7"),
	}, cache.NewTTLCache[models.PriceSnapshot](time.Minute, 64))
	h.ledger = NewLedgerService(logger)
	h.invoices = NewInvoiceService(h.uow, h.client, cache.NewTTLCache[string](time.Minute, 16), logger)
	h.refunds = NewRefundService(h.uow, h.client, h.ledger, h.invoices, h.notifier, logger)
	h.statements = NewPayoutStatementService(h.uow, h.client, h.notifier, logger)
	h.overtime = NewOvertimeService(h.uow, h.client, h.pricer, h.ledger, h.invoices, h.notifier, h.realtime, OvertimeConfig{
		ConfirmationTTL: 30 * time.Minute,
		HoldLimit:       6 * 24 * time.Hour,
	}, logger)
	h.webhooks = NewWebhookService(h.uow, h.client, nil, h.ledger, h.invoices, h.refunds, h.statements, h.overtime, h.notifier, h.realtime, logger)
	h.payments = NewPaymentService(h.uow, h.client, h.pricer, h.webhooks, h.refunds, h.overtime, logger)
	h.requests = NewRefundRequestService(h.uow, h.refunds, h.notifier, logger)

	pm := "pm_card_visa"
	account := "acct_coach"
	h.uow.db.users[testPayerID] = models.User{ID: testPayerID, Email: "client@example.com", Role: models.RoleUser, DefaultPaymentMethodID: &pm}
	h.uow.db.users[testCoachID] = models.User{ID: testCoachID, Email: "coach@example.com", Role: models.RoleCoach, StripeAccountID: &account}
	return h
}

func (h *harness) addUser(id int64) {
	pm := fmt.Sprintf("pm_%d", id)
	h.uow.db.users[id] = models.User{ID: id, Email: fmt.Sprintf("user%d@example.com", id), Role: models.RoleUser, DefaultPaymentMethodID: &pm}
}

func (h *harness) addBooking(booking models.Booking) models.Booking {
	if booking.ID == 0 {
		booking.ID = h.uow.db.nextID()
	}
	if booking.CoachID == 0 {
		booking.CoachID = testCoachID
	}
	if booking.Currency == "" {
		booking.Currency = "CHF"
	}
	h.uow.db.bookings[booking.ID] = booking
	return booking
}

func (h *harness) addSession(bookingID int64, state string) models.Session {
	session := models.Session{ID: h.uow.db.nextID(), BookingID: bookingID, State: state}
	h.uow.db.sessions[session.ID] = session
	return session
}

// createIntent creates a payment through the API and returns the stored row.
func (h *harness) createIntent(t *testing.T, payerID int64, input CreatePaymentInput) *models.Payment {
	t.Helper()
	result, err := h.payments.CreatePaymentIntent(context.Background(), payerID, input)
	if err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}
	return result.Payment
}

// succeededEvent simulates the processor settling an intent.
func (h *harness) succeededEvent(t *testing.T, intentID string) *processor.Event {
	t.Helper()
	intent, err := h.client.ConfirmPaymentIntent(context.Background(), intentID)
	if err != nil {
		t.Fatalf("confirm intent: %v", err)
	}
	return &processor.Event{ID: "evt_" + intentID, Type: processor.EventIntentSucceeded, Intent: intent}
}

func (h *harness) payment(t *testing.T, paymentID int64) models.Payment {
	t.Helper()
	payment, ok := h.uow.db.payments[paymentID]
	if !ok {
		t.Fatalf("payment %d not found", paymentID)
	}
	return payment
}

func (h *harness) transactionsOf(paymentID int64, kind models.TransactionType) []models.Transaction {
	var rows []models.Transaction
	for _, row := range h.uow.db.transactions {
		if row.PaymentID == paymentID && row.Type == kind {
			rows = append(rows, row)
		}
	}
	return rows
}

func (h *harness) invoicesOf(paymentID int64, kind models.InvoiceType) []models.Invoice {
	var rows []models.Invoice
	for _, row := range h.uow.db.invoices {
		if row.PaymentID == paymentID && row.Type == kind {
			rows = append(rows, row)
		}
	}
	return rows
}

// logged returns the levels of every entry logged with message.
func (h *harness) logged(message string) []zapcore.Level {
	var levels []zapcore.Level
	for _, entry := range h.logs.FilterMessage(message).All() {
		levels = append(levels, entry.Level)
	}
	return levels
}

func int64Ptr(value int64) *int64 {
	return &value
}
