package market

import "math"

// Price bounds. The floor keeps prices strictly positive no matter how
// much negative event impact accumulates.
const (
	minPriceMicros = int64(10_000)                // 0.01 points
	maxPriceMicros = int64(2_000_000_000_000_000) // 2 billion points
)

// Simulator computes new instrument prices. It is pure: all randomness
// comes in through the rng argument, a uniform source over [0, 1).
type Simulator struct {
	// TickJitter bounds the random per-tick perturbation.
	TickJitter float64
	// OvernightDrift bounds the opening-price drift applied to the
	// last closing price when the market opens.
	OvernightDrift float64
}

func DefaultSimulator() Simulator {
	return Simulator{
		TickJitter:     0.005,
		OvernightDrift: 0.010,
	}
}

// NextPrice applies the tick model:
//
//	new = current × (1 + eventImpact + uniform(−jitter, +jitter))
//
// eventImpact is the summed fractional influence of the active events
// for the instrument's sector.
func (s Simulator) NextPrice(priceMicros int64, eventImpact float64, rng func() float64) int64 {
	mult := 1 + eventImpact + uniform(rng, s.TickJitter)
	return clampPrice(scale(priceMicros, mult))
}

// OpeningPrice derives the session's opening price from the last close.
func (s Simulator) OpeningPrice(lastCloseMicros int64, rng func() float64) int64 {
	mult := 1 + uniform(rng, s.OvernightDrift)
	return clampPrice(scale(lastCloseMicros, mult))
}

// SumImpact folds the active-event snapshot into one fractional
// influence for a sector. Impacts are stored in basis points.
func SumImpact(events []Event, sector string) float64 {
	var bps int64
	for _, e := range events {
		if e.AffectsSector(sector) {
			bps += int64(e.ImpactBps)
		}
	}
	return float64(bps) / 10_000
}

func uniform(rng func() float64, bound float64) float64 {
	return (2*rng() - 1) * bound
}

func scale(priceMicros int64, mult float64) int64 {
	if priceMicros <= 0 {
		return minPriceMicros
	}
	return int64(math.Round(float64(priceMicros) * mult))
}

func clampPrice(v int64) int64 {
	if v < minPriceMicros {
		return minPriceMicros
	}
	if v > maxPriceMicros {
		return maxPriceMicros
	}
	return v
}
