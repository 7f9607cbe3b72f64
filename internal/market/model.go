package market

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"
)

const (
	// All money is integer micros of the in-game point currency.
	MicrosPerPoint = int64(1_000_000)

	StarterBalanceMicros = int64(50_000) * MicrosPerPoint

	// ShareScale lets players hold fractional shares.
	ShareScale = int64(10_000) // 1 share = 10_000 units
)

var (
	ErrInvalidTicker        = errors.New("ticker must be exactly 6 uppercase letters")
	ErrCompanyNotFound      = errors.New("company not found")
	ErrCompanyDelisted      = errors.New("company is delisted")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, retry")
)

var tickerRE = regexp.MustCompile(`^[A-Z]{6}$`)

func ValidateTicker(ticker string) error {
	if !tickerRE.MatchString(strings.TrimSpace(ticker)) {
		return ErrInvalidTicker
	}
	return nil
}

// Sectors a company can belong to; market events target these.
const (
	SectorTech     = "tech"
	SectorFinance  = "finance"
	SectorEnergy   = "energy"
	SectorHealth   = "health"
	SectorIndustry = "industry"
	SectorConsumer = "consumer"
	SectorSpace    = "space"
)

var Sectors = []string{
	SectorTech,
	SectorFinance,
	SectorEnergy,
	SectorHealth,
	SectorIndustry,
	SectorConsumer,
	SectorSpace,
}

func PointsToMicros(v float64) int64 {
	return int64(math.Round(v * float64(MicrosPerPoint)))
}

func MicrosToPoints(v int64) float64 {
	return float64(v) / float64(MicrosPerPoint)
}

func SharesToUnits(v float64) (int64, error) {
	if v <= 0 {
		return 0, fmt.Errorf("shares must be > 0")
	}
	return int64(math.Round(v * float64(ShareScale))), nil
}

func UnitsToShares(v int64) float64 {
	return float64(v) / float64(ShareScale)
}

// NotionalMicros is price × quantity with overflow detection; money
// math never goes through float64.
func NotionalMicros(priceMicros, qtyUnits int64) (int64, error) {
	p := big.NewInt(priceMicros)
	q := big.NewInt(qtyUnits)
	v := new(big.Int).Mul(p, q)
	v = v.Div(v, big.NewInt(ShareScale))
	if !v.IsInt64() {
		return 0, fmt.Errorf("notional overflow")
	}
	return v.Int64(), nil
}

// DivideMicros is the inverse: total cost back to a per-share price.
func DivideMicros(totalMicros, qtyUnits int64) (int64, error) {
	if qtyUnits <= 0 {
		return 0, fmt.Errorf("qty must be > 0")
	}
	v := new(big.Int).Mul(big.NewInt(totalMicros), big.NewInt(ShareScale))
	v = v.Div(v, big.NewInt(qtyUnits))
	if !v.IsInt64() {
		return 0, fmt.Errorf("avg price overflow")
	}
	return v.Int64(), nil
}

// ProfitRateBps computes the realized return of a fill against its
// cost basis, in basis points.
func ProfitRateBps(priceMicros, basisMicros int64) int64 {
	if basisMicros <= 0 {
		return 0
	}
	diff := new(big.Int).Sub(big.NewInt(priceMicros), big.NewInt(basisMicros))
	diff.Mul(diff, big.NewInt(10_000))
	diff.Div(diff, big.NewInt(basisMicros))
	if !diff.IsInt64() {
		if diff.Sign() < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return diff.Int64()
}
