// Package money converts between major and minor currency units and holds the
// proportional allocation used for credit notes and refund effects.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAllocation = errors.New("allocation needs at least one line")
	ErrZeroTotal       = errors.New("original total must be positive")
	ErrExceedsTotal    = errors.New("allocated amount exceeds original total")
	ErrNegativeAmount  = errors.New("amount must not be negative")
)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// proportionPrecision is the number of decimal places kept on ratios before
// they are applied to a line amount.
const proportionPrecision = 16

func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Exponent returns the number of minor-unit digits for an ISO 4217 code.
func Exponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[NormalizeCurrency(currency)]; ok {
		return 0
	}
	return 2
}

// ToMinor converts a major-unit amount to minor units, rounding half away from zero.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(Exponent(currency)).Round(0).IntPart()
}

func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// ParseMinor parses a major-unit string such as "122.70" into minor units.
func ParseMinor(value string, currency string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	return ToMinor(amount, currency), nil
}

func Format(minor int64, currency string) string {
	return FromMinor(minor, currency).StringFixed(Exponent(currency)) + " " + NormalizeCurrency(currency)
}

// PercentOf returns percent% of minor, rounded to a whole minor unit.
func PercentOf(minor int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(minor).Mul(percent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Ratio returns part/whole. A zero whole yields zero.
func Ratio(part, whole int64) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).DivRound(decimal.NewFromInt(whole), proportionPrecision)
}

// Scale applies ratio to minor and rounds the result to a whole minor unit.
func Scale(minor int64, ratio decimal.Decimal) int64 {
	return decimal.NewFromInt(minor).Mul(ratio).Round(0).IntPart()
}

// Allocate splits target across lines in proportion target/originalTotal.
// Each line is rounded on its own; the rounding residual is added to the
// line with the largest magnitude so the result always sums to target.
func Allocate(lines []int64, target int64, originalTotal int64) ([]int64, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyAllocation
	}
	if originalTotal <= 0 {
		return nil, ErrZeroTotal
	}
	if target < 0 {
		return nil, ErrNegativeAmount
	}
	if target > originalTotal {
		return nil, ErrExceedsTotal
	}

	proportion := Ratio(target, originalTotal)
	allocated := make([]int64, len(lines))
	var sum int64
	largest := 0
	for i, line := range lines {
		allocated[i] = Scale(line, proportion)
		sum += allocated[i]
		if abs(line) > abs(lines[largest]) {
			largest = i
		}
	}

	allocated[largest] += target - sum
	return allocated, nil
}

func Sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
