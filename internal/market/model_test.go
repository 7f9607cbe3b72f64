package market

import "testing"

func TestValidateTicker(t *testing.T) {
	valid := []string{"HELIOS", "VOLTIC", "KUIPER"}
	for _, s := range valid {
		if err := ValidateTicker(s); err != nil {
			t.Fatalf("expected ticker %q to be valid: %v", s, err)
		}
	}

	invalid := []string{"helios", "HEL", "TOOLONG7", "HEL1OS", "HE LOS", ""}
	for _, s := range invalid {
		if err := ValidateTicker(s); err == nil {
			t.Fatalf("expected ticker %q to fail", s)
		}
	}
}

func TestNotionalMicros(t *testing.T) {
	price := int64(150 * MicrosPerPoint)
	qty := int64(25 * ShareScale / 10) // 2.5 shares
	got, err := NotionalMicros(price, qty)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := int64(375 * MicrosPerPoint)
	if got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}

func TestDivideMicrosInvertsNotional(t *testing.T) {
	price := int64(840 * MicrosPerPoint)
	qty := int64(4 * ShareScale)
	total, err := NotionalMicros(price, qty)
	if err != nil {
		t.Fatalf("notional: %v", err)
	}
	got, err := DivideMicros(total, qty)
	if err != nil {
		t.Fatalf("divide: %v", err)
	}
	if got != price {
		t.Fatalf("got %d want %d", got, price)
	}
}

func TestProfitRateBps(t *testing.T) {
	tests := []struct {
		price int64
		basis int64
		want  int64
	}{
		{110 * MicrosPerPoint, 100 * MicrosPerPoint, 1_000},
		{90 * MicrosPerPoint, 100 * MicrosPerPoint, -1_000},
		{100 * MicrosPerPoint, 100 * MicrosPerPoint, 0},
		{100 * MicrosPerPoint, 0, 0}, // no basis, no rate
	}
	for _, tc := range tests {
		if got := ProfitRateBps(tc.price, tc.basis); got != tc.want {
			t.Fatalf("ProfitRateBps(%d, %d) = %d, want %d", tc.price, tc.basis, got, tc.want)
		}
	}
}

func TestSharesToUnitsRejectsNonPositive(t *testing.T) {
	if _, err := SharesToUnits(0); err == nil {
		t.Fatal("expected zero shares to fail")
	}
	if _, err := SharesToUnits(-1); err == nil {
		t.Fatal("expected negative shares to fail")
	}
	units, err := SharesToUnits(2.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if units != 25_000 {
		t.Fatalf("got %d units, want 25000", units)
	}
}
