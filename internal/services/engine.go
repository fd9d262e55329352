package services

import (
	"time"

	"github.com/saeid-a/CoachLedger/internal/config"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/pkg/cache"
	"go.uber.org/zap"
)

type EngineConfig struct {
	Pricing              PricingConfig
	Overtime             OvertimeConfig
	PriceCacheTTL        time.Duration
	PriceCacheMaxEntries int
}

func EngineConfigFrom(cfg *config.Config) EngineConfig {
	return EngineConfig{
		Pricing: PricingConfig{
			PlatformFeePercent: cfg.PlatformFeePercent,
			VATRatePercent:     cfg.VATRatePercent,
			VATIncluded:        cfg.VATIncluded,
			DefaultCurrency:    cfg.DefaultCurrency,
		},
		Overtime: OvertimeConfig{
			ConfirmationTTL: cfg.OvertimeConfirmationTTL,
			HoldLimit:       cfg.OvertimeHoldLimit,
		},
		PriceCacheTTL:        cfg.PriceCacheTTL,
		PriceCacheMaxEntries: cfg.PriceCacheMaxEntries,
	}
}

// Engine holds every service of the reconciliation engine, wired once and
// shared by the HTTP server and the operator CLI.
type Engine struct {
	Pricer         *Pricer
	Ledger         *LedgerService
	Invoices       *InvoiceService
	Refunds        *RefundService
	Statements     *PayoutStatementService
	Overtime       *OvertimeService
	Webhooks       *WebhookService
	Payments       *PaymentService
	RefundRequests *RefundRequestService
	Channels       *ChannelAccess
}

func NewEngine(
	cfg EngineConfig,
	uow UnitOfWork,
	client processor.Client,
	verifier processor.EventVerifier,
	realtime RealtimePublisher,
	logger *zap.Logger,
) *Engine {
	if realtime == nil {
		realtime = noopPublisher{}
	}
	notifier := NewLogNotifier(logger, realtime)

	pricer := NewPricer(cfg.Pricing, cache.NewTTLCache[models.PriceSnapshot](cfg.PriceCacheTTL, cfg.PriceCacheMaxEntries))
	ledger := NewLedgerService(logger)
	invoices := NewInvoiceService(uow, client, cache.NewTTLCache[string](24*time.Hour, 64), logger)
	refunds := NewRefundService(uow, client, ledger, invoices, notifier, logger)
	statements := NewPayoutStatementService(uow, client, notifier, logger)
	overtime := NewOvertimeService(uow, client, pricer, ledger, invoices, notifier, realtime, cfg.Overtime, logger)
	webhooks := NewWebhookService(uow, client, verifier, ledger, invoices, refunds, statements, overtime, notifier, realtime, logger)

	return &Engine{
		Pricer:         pricer,
		Ledger:         ledger,
		Invoices:       invoices,
		Refunds:        refunds,
		Statements:     statements,
		Overtime:       overtime,
		Webhooks:       webhooks,
		Payments:       NewPaymentService(uow, client, pricer, webhooks, refunds, overtime, logger),
		RefundRequests: NewRefundRequestService(uow, refunds, notifier, logger),
		Channels:       NewChannelAccess(uow),
	}
}
