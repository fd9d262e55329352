package services

import (
	"fmt"
	"time"

	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/pkg/cache"
	"github.com/saeid-a/CoachLedger/pkg/money"
	"github.com/shopspring/decimal"
)

type PricingConfig struct {
	PlatformFeePercent decimal.Decimal
	VATRatePercent     decimal.Decimal
	VATIncluded        bool
	// DefaultCurrency prices purchasables that carry no currency of their own.
	DefaultCurrency string
}

// Pricer produces price snapshots. Quotes are cached by everything that
// feeds the calculation, so a cached snapshot is always still correct.
type Pricer struct {
	cfg    PricingConfig
	quotes cache.PriceStore[models.PriceSnapshot]
	now    func() time.Time
}

func NewPricer(cfg PricingConfig, quotes cache.PriceStore[models.PriceSnapshot]) *Pricer {
	return &Pricer{cfg: cfg, quotes: quotes, now: time.Now}
}

// Quote prices a purchase from its base amount. The platform fee is charged
// on top of the discounted base; VAT is computed on the discounted base.
func (p *Pricer) Quote(kind models.PurchaseKind, entityID int64, base, discount int64, currency string) (models.PriceSnapshot, error) {
	currency = p.currency(currency)
	key := fmt.Sprintf("%s:%d:%d:%d:%s", kind, entityID, base, discount, currency)
	if cached, ok := p.quotes.Get(key); ok {
		return p.stamp(cached), nil
	}

	if base <= 0 || discount < 0 || discount > base || currency == "" {
		return models.PriceSnapshot{}, ErrInvalidInput
	}

	net := base - discount
	fee := money.PercentOf(net, p.cfg.PlatformFeePercent)
	vat := p.vatOn(net)

	total := net + fee
	if !p.cfg.VATIncluded {
		total += vat
	}

	snapshot := models.PriceSnapshot{
		Version:            models.PriceSnapshotVersion,
		Base:               base,
		Discount:           discount,
		PlatformFee:        fee,
		PlatformFeePercent: p.cfg.PlatformFeePercent,
		VAT: models.VAT{
			Rate:     p.cfg.VATRatePercent,
			Amount:   vat,
			Included: p.cfg.VATIncluded,
		},
		Total:    total,
		Currency: currency,
	}
	if err := snapshot.Validate(); err != nil {
		return models.PriceSnapshot{}, err
	}

	p.quotes.Set(key, snapshot)
	return p.stamp(snapshot), nil
}

// FromGross splits an amount the payer is charged as a whole, as for
// overtime, into fee and VAT-inclusive base.
func (p *Pricer) FromGross(gross int64, currency string) (models.PriceSnapshot, error) {
	currency = p.currency(currency)
	if gross < 0 || currency == "" {
		return models.PriceSnapshot{}, ErrInvalidInput
	}

	fee := money.PercentOf(gross, p.cfg.PlatformFeePercent)
	base := gross - fee
	rate := p.cfg.VATRatePercent
	vat := base - money.Scale(base, decimal.NewFromInt(100).DivRound(decimal.NewFromInt(100).Add(rate), 16))

	snapshot := models.PriceSnapshot{
		Version:            models.PriceSnapshotVersion,
		Base:               base,
		PlatformFee:        fee,
		PlatformFeePercent: p.cfg.PlatformFeePercent,
		VAT:                models.VAT{Rate: rate, Amount: vat, Included: true},
		Total:              gross,
		Currency:           currency,
		CapturedAt:         p.now().UTC(),
	}
	if err := snapshot.Validate(); err != nil {
		return models.PriceSnapshot{}, err
	}
	return snapshot, nil
}

func (p *Pricer) currency(currency string) string {
	if normalized := money.NormalizeCurrency(currency); normalized != "" {
		return normalized
	}
	return money.NormalizeCurrency(p.cfg.DefaultCurrency)
}

func (p *Pricer) vatOn(net int64) int64 {
	if p.cfg.VATRatePercent.IsZero() {
		return 0
	}
	if !p.cfg.VATIncluded {
		return money.PercentOf(net, p.cfg.VATRatePercent)
	}
	divisor := decimal.NewFromInt(100).Add(p.cfg.VATRatePercent)
	exclusive := money.Scale(net, decimal.NewFromInt(100).DivRound(divisor, 16))
	return net - exclusive
}

func (p *Pricer) stamp(snapshot models.PriceSnapshot) models.PriceSnapshot {
	snapshot.CapturedAt = p.now().UTC()
	return snapshot
}
