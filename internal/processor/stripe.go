package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// StripeClient implements Client on top of stripe-go.
type StripeClient struct {
	api *client.API
}

func NewStripeClient(secretKey string) *StripeClient {
	return &StripeClient{api: client.New(secretKey, nil)}
}

func (s *StripeClient) CreatePaymentIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(strings.ToLower(p.Currency)),
	}
	params.Context = ctx
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	if p.ManualCapture {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	}
	if p.Confirm {
		params.Confirm = stripe.Bool(true)
		params.OffSession = stripe.Bool(true)
		params.PaymentMethod = stripe.String(p.PaymentMethodID)
	} else {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	}
	if p.ApplicationFee > 0 {
		params.ApplicationFeeAmount = stripe.Int64(p.ApplicationFee)
	}
	if p.DestinationAccount != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(p.DestinationAccount),
		}
	}
	for key, value := range p.Metadata {
		params.AddMetadata(key, value)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return intentFromStripe(pi), nil
}

func (s *StripeClient) ConfirmPaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("confirm payment intent %s: %w", intentID, err)
	}
	return intentFromStripe(pi), nil
}

func (s *StripeClient) GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", intentID, err)
	}
	return intentFromStripe(pi), nil
}

func (s *StripeClient) CapturePaymentIntent(ctx context.Context, intentID string, amount int64) (*Intent, error) {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey("capture-" + intentID)
	pi, err := s.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("capture payment intent %s: %w", intentID, err)
	}
	return intentFromStripe(pi), nil
}

func (s *StripeClient) CancelPaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("cancel payment intent %s: %w", intentID, err)
	}
	return intentFromStripe(pi), nil
}

func (s *StripeClient) CreateRefund(ctx context.Context, p RefundParams) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(p.PaymentIntentID),
		Amount:        stripe.Int64(p.Amount),
		Reason:        stripe.String(stripeRefundReason(p.Reason)),
	}
	params.Context = ctx
	for key, value := range p.Metadata {
		params.AddMetadata(key, value)
	}
	if p.Reason != "" {
		params.AddMetadata("reason", p.Reason)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("create refund for %s: %w", p.PaymentIntentID, err)
	}
	return refundFromStripe(r), nil
}

func (s *StripeClient) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if p.Email != "" {
		params.Email = stripe.String(p.Email)
	}
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	for key, value := range p.Metadata {
		params.AddMetadata(key, value)
	}

	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

func (s *StripeClient) ListTaxRates(ctx context.Context, inclusive bool) ([]TaxRate, error) {
	params := &stripe.TaxRateListParams{
		Active:    stripe.Bool(true),
		Inclusive: stripe.Bool(inclusive),
	}
	params.Context = ctx

	rates := make([]TaxRate, 0)
	it := s.api.TaxRates.List(params)
	for it.Next() {
		rates = append(rates, taxRateFromStripe(it.TaxRate()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list tax rates: %w", err)
	}
	return rates, nil
}

func (s *StripeClient) CreateTaxRate(ctx context.Context, percentage float64, inclusive bool, displayName string) (*TaxRate, error) {
	params := &stripe.TaxRateParams{
		DisplayName: stripe.String(displayName),
		Percentage:  stripe.Float64(percentage),
		Inclusive:   stripe.Bool(inclusive),
	}
	params.Context = ctx

	tr, err := s.api.TaxRates.New(params)
	if err != nil {
		return nil, fmt.Errorf("create tax rate: %w", err)
	}
	rate := taxRateFromStripe(tr)
	return &rate, nil
}

// CreateInvoice creates a draft invoice that only contains the given lines.
func (s *StripeClient) CreateInvoice(ctx context.Context, p InvoiceParams) (*Invoice, error) {
	params := &stripe.InvoiceParams{
		Customer:                    stripe.String(p.CustomerID),
		AutoAdvance:                 stripe.Bool(false),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodChargeAutomatically)),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
	}
	params.Context = ctx
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	for key, value := range p.Metadata {
		params.AddMetadata(key, value)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	inv, err := s.api.Invoices.New(params)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	for i, line := range p.Lines {
		itemParams := &stripe.InvoiceItemParams{
			Customer:    stripe.String(p.CustomerID),
			Invoice:     stripe.String(inv.ID),
			Amount:      stripe.Int64(line.Amount),
			Currency:    stripe.String(strings.ToLower(p.Currency)),
			Description: stripe.String(line.Description),
		}
		itemParams.Context = ctx
		if line.TaxRateID != "" {
			itemParams.TaxRates = []*string{stripe.String(line.TaxRateID)}
		}
		if p.IdempotencyKey != "" {
			itemParams.SetIdempotencyKey(fmt.Sprintf("%s-line-%d", p.IdempotencyKey, i))
		}
		if _, err := s.api.InvoiceItems.New(itemParams); err != nil {
			return nil, fmt.Errorf("add invoice line %d to %s: %w", i, inv.ID, err)
		}
	}

	return s.GetInvoice(ctx, inv.ID)
}

func (s *StripeClient) FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	params := &stripe.InvoiceFinalizeInvoiceParams{AutoAdvance: stripe.Bool(false)}
	params.Context = ctx
	inv, err := s.api.Invoices.FinalizeInvoice(invoiceID, params)
	if err != nil {
		return nil, fmt.Errorf("finalize invoice %s: %w", invoiceID, err)
	}
	return invoiceFromStripe(inv), nil
}

func (s *StripeClient) PayInvoiceOutOfBand(ctx context.Context, invoiceID string) (*Invoice, error) {
	params := &stripe.InvoicePayParams{PaidOutOfBand: stripe.Bool(true)}
	params.Context = ctx
	inv, err := s.api.Invoices.Pay(invoiceID, params)
	if err != nil {
		return nil, fmt.Errorf("mark invoice %s paid out of band: %w", invoiceID, err)
	}
	return invoiceFromStripe(inv), nil
}

func (s *StripeClient) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := s.api.Invoices.Get(invoiceID, params)
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", invoiceID, err)
	}
	out := invoiceFromStripe(inv)

	lineParams := &stripe.InvoiceListLinesParams{Invoice: stripe.String(invoiceID)}
	lineParams.Context = ctx
	out.Lines = make([]InvoiceLine, 0)
	it := s.api.Invoices.ListLines(lineParams)
	for it.Next() {
		out.Lines = append(out.Lines, invoiceLineFromStripe(it.InvoiceLineItem()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list lines of invoice %s: %w", invoiceID, err)
	}
	return out, nil
}

func (s *StripeClient) CreateCreditNote(ctx context.Context, p CreditNoteParams) (*CreditNote, error) {
	params := &stripe.CreditNoteParams{Invoice: stripe.String(p.InvoiceID)}
	params.Context = ctx
	if reason := stripeCreditNoteReason(p.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if p.Memo != "" {
		params.Memo = stripe.String(p.Memo)
	}

	var total int64
	for _, line := range p.Lines {
		if line.Amount <= 0 {
			return nil, fmt.Errorf("credit note for %s: line %q has non-positive amount %d", p.InvoiceID, line.Description, line.Amount)
		}
		params.Lines = append(params.Lines, &stripe.CreditNoteLineParams{
			Type:        stripe.String("custom_line_item"),
			Description: stripe.String(line.Description),
			Quantity:    stripe.Int64(1),
			UnitAmount:  stripe.Int64(line.Amount),
		})
		total += line.Amount
	}
	// The original invoice was settled out of band, so the credit is too.
	params.OutOfBandAmount = stripe.Int64(total)
	for key, value := range p.Metadata {
		params.AddMetadata(key, value)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	cn, err := s.api.CreditNotes.New(params)
	if err != nil {
		return nil, fmt.Errorf("create credit note for %s: %w", p.InvoiceID, err)
	}
	return &CreditNote{ID: cn.ID, Number: cn.Number, Total: cn.Total, PDFURL: cn.PDF}, nil
}

func (s *StripeClient) ChargeProcessingFee(ctx context.Context, chargeID string) (int64, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx
	params.AddExpand("balance_transaction")
	ch, err := s.api.Charges.Get(chargeID, params)
	if err != nil {
		return 0, fmt.Errorf("get charge %s: %w", chargeID, err)
	}
	if ch.BalanceTransaction == nil {
		return 0, nil
	}
	return ch.BalanceTransaction.Fee, nil
}

// StripeEventVerifier checks the Stripe-Signature header against the endpoint secret.
type StripeEventVerifier struct {
	secret string
}

func NewStripeEventVerifier(secret string) *StripeEventVerifier {
	return &StripeEventVerifier{secret: secret}
}

func (v *StripeEventVerifier) ConstructEvent(payload []byte, signatureHeader string) (*Event, error) {
	if err := webhook.ValidatePayload(payload, signatureHeader, v.secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return v.DecodeEvent(payload)
}

func (v *StripeEventVerifier) DecodeEvent(payload []byte) (*Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type), Raw: payload}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: payment intent: %v", ErrInvalidEvent, err)
		}
		out.Intent = intentFromStripe(&pi)
	case out.Type == EventChargeRefundUpdated:
		var r stripe.Refund
		if err := json.Unmarshal(evt.Data.Raw, &r); err != nil {
			return nil, fmt.Errorf("%w: refund: %v", ErrInvalidEvent, err)
		}
		out.Refund = refundFromStripe(&r)
	case out.Type == EventTransferCreated:
		var t stripe.Transfer
		if err := json.Unmarshal(evt.Data.Raw, &t); err != nil {
			return nil, fmt.Errorf("%w: transfer: %v", ErrInvalidEvent, err)
		}
		out.Transfer = transferFromStripe(&t)
	}
	return out, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	in := &Intent{
		ID:               pi.ID,
		Status:           string(pi.Status),
		Amount:           pi.Amount,
		AmountCapturable: pi.AmountCapturable,
		AmountReceived:   pi.AmountReceived,
		Currency:         strings.ToUpper(string(pi.Currency)),
		ClientSecret:     pi.ClientSecret,
		Metadata:         pi.Metadata,
	}
	if pi.Customer != nil {
		in.CustomerID = pi.Customer.ID
	}
	if pi.LatestCharge != nil {
		in.ChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		in.FailureMessage = pi.LastPaymentError.Msg
	}
	return in
}

func refundFromStripe(r *stripe.Refund) *Refund {
	out := &Refund{
		ID:       r.ID,
		Amount:   r.Amount,
		Currency: strings.ToUpper(string(r.Currency)),
		Status:   string(r.Status),
		Reason:   string(r.Reason),
		Metadata: r.Metadata,
	}
	if r.PaymentIntent != nil {
		out.PaymentIntentID = r.PaymentIntent.ID
	}
	if r.Charge != nil {
		out.ChargeID = r.Charge.ID
	}
	if reason, ok := r.Metadata["reason"]; ok && reason != "" {
		out.Reason = reason
	}
	return out
}

func transferFromStripe(t *stripe.Transfer) *Transfer {
	out := &Transfer{
		ID:       t.ID,
		Amount:   t.Amount,
		Currency: strings.ToUpper(string(t.Currency)),
		Metadata: t.Metadata,
	}
	if t.Destination != nil {
		out.DestinationID = t.Destination.ID
	}
	if t.SourceTransaction != nil {
		out.SourceChargeID = t.SourceTransaction.ID
	}
	return out
}

func taxRateFromStripe(tr *stripe.TaxRate) TaxRate {
	return TaxRate{ID: tr.ID, Percentage: tr.Percentage, Inclusive: tr.Inclusive, Active: tr.Active}
}

func invoiceFromStripe(inv *stripe.Invoice) *Invoice {
	return &Invoice{
		ID:        inv.ID,
		Number:    inv.Number,
		Status:    string(inv.Status),
		Total:     inv.Total,
		HostedURL: inv.HostedInvoiceURL,
		PDFURL:    inv.InvoicePDF,
	}
}

func invoiceLineFromStripe(li *stripe.InvoiceLineItem) InvoiceLine {
	amount := li.Amount
	for _, tax := range li.TaxAmounts {
		if tax != nil && !tax.Inclusive {
			amount += tax.Amount
		}
	}
	return InvoiceLine{ID: li.ID, Description: li.Description, Amount: amount}
}

func stripeRefundReason(reason string) string {
	switch reason {
	case "duplicate", "fraudulent", "requested_by_customer":
		return reason
	default:
		return "requested_by_customer"
	}
}

func stripeCreditNoteReason(reason string) string {
	switch reason {
	case "duplicate", "fraudulent", "order_change", "product_unsatisfactory":
		return reason
	default:
		return ""
	}
}
