package market

import (
	mathrand "math/rand"
	"testing"
	"time"
)

func TestNextPriceStaysPositiveUnderHeavyNegativeImpact(t *testing.T) {
	sim := DefaultSimulator()
	rng := mathrand.New(mathrand.NewSource(1)).Float64

	price := int64(5 * MicrosPerPoint)
	// -99% impact per tick, repeatedly: the floor must hold.
	for i := 0; i < 50; i++ {
		price = sim.NextPrice(price, -0.99, rng)
		if price < minPriceMicros {
			t.Fatalf("tick %d: price %d below floor %d", i, price, minPriceMicros)
		}
	}
}

func TestNextPriceJitterIsBounded(t *testing.T) {
	sim := DefaultSimulator()
	rng := mathrand.New(mathrand.NewSource(42)).Float64

	start := int64(100 * MicrosPerPoint)
	for i := 0; i < 1_000; i++ {
		got := sim.NextPrice(start, 0, rng)
		lo := scale(start, 1-sim.TickJitter) - 1
		hi := scale(start, 1+sim.TickJitter) + 1
		if got < lo || got > hi {
			t.Fatalf("iteration %d: price %d outside [%d, %d]", i, got, lo, hi)
		}
	}
}

func TestNextPriceClampsAtCeiling(t *testing.T) {
	sim := DefaultSimulator()
	rng := func() float64 { return 0.999 }
	if got := sim.NextPrice(maxPriceMicros, 0.5, rng); got != maxPriceMicros {
		t.Fatalf("price %d exceeded ceiling %d", got, maxPriceMicros)
	}
}

func TestOpeningPriceDriftIsBounded(t *testing.T) {
	sim := DefaultSimulator()
	rng := mathrand.New(mathrand.NewSource(7)).Float64

	lastClose := int64(250 * MicrosPerPoint)
	for i := 0; i < 1_000; i++ {
		got := sim.OpeningPrice(lastClose, rng)
		lo := scale(lastClose, 1-sim.OvernightDrift) - 1
		hi := scale(lastClose, 1+sim.OvernightDrift) + 1
		if got < lo || got > hi {
			t.Fatalf("iteration %d: opening price %d outside [%d, %d]", i, got, lo, hi)
		}
	}
}

func TestSumImpact(t *testing.T) {
	now := time.Now()
	events := []Event{
		{ImpactBps: 100, Sectors: []string{SectorTech}, EffectiveAt: now, DurationMinutes: 60},
		{ImpactBps: -40, Sectors: []string{SectorTech}, EffectiveAt: now, DurationMinutes: 60},
		{ImpactBps: 75, Sectors: []string{SectorEnergy}, EffectiveAt: now, DurationMinutes: 60},
		{ImpactBps: 10, EffectiveAt: now, DurationMinutes: 60}, // market-wide
	}

	if got := SumImpact(events, SectorTech); got != 0.007 {
		t.Fatalf("tech impact = %v, want 0.007", got)
	}
	if got := SumImpact(events, SectorEnergy); got != 0.0085 {
		t.Fatalf("energy impact = %v, want 0.0085", got)
	}
	if got := SumImpact(events, SectorHealth); got != 0.001 {
		t.Fatalf("health impact = %v, want 0.001 (market-wide only)", got)
	}
}

func TestEventActivityWindow(t *testing.T) {
	now := time.Now()
	e := Event{EffectiveAt: now, DurationMinutes: 60}

	if e.ActiveAt(now.Add(-time.Second)) {
		t.Fatal("event must not be active before effective_at")
	}
	if !e.ActiveAt(now) {
		t.Fatal("event must be active at effective_at")
	}
	if !e.ActiveAt(now.Add(59 * time.Minute)) {
		t.Fatal("event must be active inside its window")
	}
	if e.ActiveAt(now.Add(60 * time.Minute)) {
		t.Fatal("event must lapse at the end of its window")
	}
}
