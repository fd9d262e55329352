package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestToMinorRoundsToCurrencyPrecision(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"122.7", "CHF", 12270},
		{"61.35", "chf", 6135},
		{"0.005", "EUR", 1},
		{"1999", "JPY", 1999},
		{"10.5", "JPY", 11},
	}

	for _, tc := range cases {
		got := ToMinor(decimal.RequireFromString(tc.amount), tc.currency)
		if got != tc.want {
			t.Fatalf("ToMinor(%s %s): expected %d, got %d", tc.amount, tc.currency, tc.want, got)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(12270, "chf"); got != "122.70 CHF" {
		t.Fatalf("expected 122.70 CHF, got %q", got)
	}
	if got := Format(500, "JPY"); got != "500 JPY" {
		t.Fatalf("expected 500 JPY, got %q", got)
	}
}

func TestPercentOf(t *testing.T) {
	if got := PercentOf(10000, decimal.RequireFromString("7.7")); got != 770 {
		t.Fatalf("expected 770, got %d", got)
	}
	if got := PercentOf(333, decimal.NewFromInt(15)); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}

func TestAllocateHalfRefundOfStandardBooking(t *testing.T) {
	lines := []int64{10000, 1500, 770}

	got, err := Allocate(lines, 6135, 12270)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if Sum(got) != 6135 {
		t.Fatalf("expected credit lines to sum to 6135, got %d (%v)", Sum(got), got)
	}
	if got[0] != 5000 || got[1] != 750 || got[2] != 385 {
		t.Fatalf("unexpected split %v", got)
	}
}

func TestAllocateCorrectsDriftOnLargestLine(t *testing.T) {
	lines := []int64{333, 333, 334}

	got, err := Allocate(lines, 100, 1000)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if Sum(got) != 100 {
		t.Fatalf("expected 100, got %d (%v)", Sum(got), got)
	}
	if got[0] != 33 || got[1] != 33 || got[2] != 34 {
		t.Fatalf("expected residual on the largest line, got %v", got)
	}
}

func TestAllocateNeverDriftsAcrossOddProportions(t *testing.T) {
	lineSets := [][]int64{
		{10000, 1500, 770},
		{333, 333, 333},
		{1, 1, 1, 1, 1, 1, 1},
		{9999, -1250, 4321, 17},
		{12345},
		{701, 299, 1003, 97, 13},
	}

	for _, lines := range lineSets {
		total := Sum(lines)
		for target := int64(0); target <= total; target += 1 + total/97 {
			got, err := Allocate(lines, target, total)
			if err != nil {
				t.Fatalf("Allocate(%v, %d): %v", lines, target, err)
			}
			if Sum(got) != target {
				t.Fatalf("Allocate(%v, %d): lines sum to %d", lines, target, Sum(got))
			}
		}
		full, err := Allocate(lines, total, total)
		if err != nil {
			t.Fatalf("full Allocate(%v): %v", lines, err)
		}
		for i := range lines {
			if full[i] != lines[i] {
				t.Fatalf("full refund must mirror original lines, got %v want %v", full, lines)
			}
		}
	}
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	if _, err := Allocate(nil, 10, 10); !errors.Is(err, ErrEmptyAllocation) {
		t.Fatalf("expected ErrEmptyAllocation, got %v", err)
	}
	if _, err := Allocate([]int64{10}, 10, 0); !errors.Is(err, ErrZeroTotal) {
		t.Fatalf("expected ErrZeroTotal, got %v", err)
	}
	if _, err := Allocate([]int64{10}, 11, 10); !errors.Is(err, ErrExceedsTotal) {
		t.Fatalf("expected ErrExceedsTotal, got %v", err)
	}
	if _, err := Allocate([]int64{10}, -1, 10); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}
