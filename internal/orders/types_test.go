package orders

import (
	"testing"
	"time"

	"bourse/internal/market"
)

func TestValidateCombination(t *testing.T) {
	tests := []struct {
		name string
		ot   OrderType
		ct   ConditionType
		want error
	}{
		{"sell above", OrderSell, CondPriceAbove, nil},
		{"sell below", OrderSell, CondPriceBelow, nil},
		{"sell profit rate", OrderSell, CondProfitRate, nil},
		{"buy below", OrderBuy, CondPriceBelow, nil},
		{"buy above rejected", OrderBuy, CondPriceAbove, ErrForbiddenCombination},
		{"buy profit rate rejected", OrderBuy, CondProfitRate, ErrForbiddenCombination},
		{"bad side", OrderType("short"), CondPriceBelow, ErrInvalidSide},
		{"bad condition", OrderSell, ConditionType("volume_above"), ErrInvalidCondition},
	}
	for _, tc := range tests {
		if got := ValidateCombination(tc.ot, tc.ct); got != tc.want {
			t.Fatalf("%s: ValidateCombination(%s, %s) = %v, want %v", tc.name, tc.ot, tc.ct, got, tc.want)
		}
	}
}

func TestConditionMet(t *testing.T) {
	tests := []struct {
		name  string
		order PendingOrder
		price int64
		want  bool
	}{
		{"above met at target", PendingOrder{ConditionType: CondPriceAbove, TargetPriceMicros: 100 * market.MicrosPerPoint}, 100 * market.MicrosPerPoint, true},
		{"above not met below target", PendingOrder{ConditionType: CondPriceAbove, TargetPriceMicros: 100 * market.MicrosPerPoint}, 99 * market.MicrosPerPoint, false},
		{"below met at target", PendingOrder{ConditionType: CondPriceBelow, TargetPriceMicros: 50 * market.MicrosPerPoint}, 50 * market.MicrosPerPoint, true},
		{"below not met above target", PendingOrder{ConditionType: CondPriceBelow, TargetPriceMicros: 50 * market.MicrosPerPoint}, 51 * market.MicrosPerPoint, false},
		// basis 100, price 110 => +10% = 1000 bps
		{"profit rate met", PendingOrder{ConditionType: CondProfitRate, TargetRateBps: 1_000, BasisPriceMicros: 100 * market.MicrosPerPoint}, 110 * market.MicrosPerPoint, true},
		{"profit rate not met", PendingOrder{ConditionType: CondProfitRate, TargetRateBps: 1_000, BasisPriceMicros: 100 * market.MicrosPerPoint}, 109 * market.MicrosPerPoint, false},
		{"profit rate ignores loss", PendingOrder{ConditionType: CondProfitRate, TargetRateBps: 500, BasisPriceMicros: 100 * market.MicrosPerPoint}, 90 * market.MicrosPerPoint, false},
	}
	for _, tc := range tests {
		if got := conditionMet(tc.order, tc.price); got != tc.want {
			t.Fatalf("%s: conditionMet = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExpiryAt(t *testing.T) {
	loc := time.UTC
	const closeHour, closeMinute = 15, 30

	morning := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	if got := expiryAt(morning, 0, closeHour, closeMinute, loc); !got.Equal(time.Date(2026, 3, 2, 15, 30, 0, 0, loc)) {
		t.Fatalf("0-day order before close: expiry = %v, want same-day close", got)
	}

	// Placed after close, a 0-day order rolls to the next close.
	evening := time.Date(2026, 3, 2, 16, 0, 0, 0, loc)
	if got := expiryAt(evening, 0, closeHour, closeMinute, loc); !got.Equal(time.Date(2026, 3, 3, 15, 30, 0, 0, loc)) {
		t.Fatalf("0-day order after close: expiry = %v, want next-day close", got)
	}

	if got := expiryAt(morning, 7, closeHour, closeMinute, loc); !got.Equal(time.Date(2026, 3, 9, 15, 30, 0, 0, loc)) {
		t.Fatalf("7-day order: expiry = %v, want close a week out", got)
	}

	// Exactly at close counts as after it.
	atClose := time.Date(2026, 3, 2, 15, 30, 0, 0, loc)
	if got := expiryAt(atClose, 0, closeHour, closeMinute, loc); !got.Equal(time.Date(2026, 3, 3, 15, 30, 0, 0, loc)) {
		t.Fatalf("at-close order: expiry = %v, want next-day close", got)
	}
}

func TestValidateCreate(t *testing.T) {
	base := CreateInput{
		UserID:            "u1",
		SeasonID:          1,
		Ticker:            "HELIOS",
		OrderType:         OrderSell,
		ConditionType:     CondPriceAbove,
		TargetPriceMicros: 120 * market.MicrosPerPoint,
		QuantityUnits:     3 * market.ShareScale,
		ExpiresInDays:     5,
	}
	if err := validateCreate(base); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	in := base
	in.QuantityUnits = 0
	if err := validateCreate(in); err != ErrInvalidQuantity {
		t.Fatalf("zero quantity: err = %v, want ErrInvalidQuantity", err)
	}

	in = base
	in.ExpiresInDays = 31
	if err := validateCreate(in); err != ErrInvalidExpiry {
		t.Fatalf("31-day expiry: err = %v, want ErrInvalidExpiry", err)
	}

	in = base
	in.TargetPriceMicros = 0
	if err := validateCreate(in); err != ErrInvalidTarget {
		t.Fatalf("zero target price: err = %v, want ErrInvalidTarget", err)
	}

	in = base
	in.ConditionType = CondProfitRate
	in.TargetRateBps = 0
	if err := validateCreate(in); err != ErrInvalidTarget {
		t.Fatalf("zero target rate: err = %v, want ErrInvalidTarget", err)
	}

	in = base
	in.Ticker = "hel"
	if err := validateCreate(in); err != market.ErrInvalidTicker {
		t.Fatalf("bad ticker: err = %v, want ErrInvalidTicker", err)
	}
}
