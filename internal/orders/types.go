// Package orders owns conditional (pending) orders: creation with
// escrow, evaluation against price ticks, expiry and cancellation with
// exact refunds.
package orders

import (
	"errors"
	"time"

	"bourse/internal/market"
)

type OrderType string

const (
	OrderBuy  OrderType = "buy"
	OrderSell OrderType = "sell"
)

type ConditionType string

const (
	CondPriceAbove ConditionType = "price_above"
	CondPriceBelow ConditionType = "price_below"
	CondProfitRate ConditionType = "profit_rate"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var (
	ErrInvalidSide          = errors.New("order type must be buy or sell")
	ErrInvalidCondition     = errors.New("condition type must be price_above, price_below or profit_rate")
	ErrForbiddenCombination = errors.New("invalid condition for buy order: buying only triggers on a price floor")
	ErrInvalidTarget        = errors.New("target value must be > 0")
	ErrInvalidQuantity      = errors.New("quantity must be > 0")
	ErrInvalidExpiry        = errors.New("expiry must be between 0 and 30 days")
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrOrderNotFound        = errors.New("order not found")
	ErrEscrowViolation      = errors.New("order is not pending")
)

// PendingOrder mirrors a market.pending_orders row. Exactly one of the
// escrow fields is meaningful: buy orders escrow points, sell orders
// escrow shares (with the cost basis they were carved out at).
type PendingOrder struct {
	ID                int64         `json:"id"`
	UserID            string        `json:"-"`
	SeasonID          int64         `json:"season_id"`
	CompanyID         int64         `json:"-"`
	Ticker            string        `json:"ticker"`
	OrderType         OrderType     `json:"order_type"`
	ConditionType     ConditionType `json:"condition_type"`
	TargetPriceMicros int64         `json:"target_price_micros,omitempty"`
	TargetRateBps     int64         `json:"target_rate_bps,omitempty"`
	QuantityUnits     int64         `json:"quantity_units"`
	EscrowMicros      int64         `json:"escrow_micros,omitempty"`
	EscrowUnits       int64         `json:"escrow_units,omitempty"`
	BasisPriceMicros  int64         `json:"basis_price_micros,omitempty"`
	Status            Status        `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	ExpiresAt         time.Time     `json:"expires_at"`
}

type CreateInput struct {
	UserID            string
	SeasonID          int64
	Ticker            string
	OrderType         OrderType
	ConditionType     ConditionType
	TargetPriceMicros int64
	TargetRateBps     int64
	QuantityUnits     int64
	ExpiresInDays     int
	IdempotencyKey    string
}

// ValidateCombination enforces the structural rule: a buy order only
// makes sense against a price floor, so price_above and profit_rate
// are rejected at creation.
func ValidateCombination(ot OrderType, ct ConditionType) error {
	switch ot {
	case OrderBuy, OrderSell:
	default:
		return ErrInvalidSide
	}
	switch ct {
	case CondPriceAbove, CondPriceBelow, CondProfitRate:
	default:
		return ErrInvalidCondition
	}
	if ot == OrderBuy && ct != CondPriceBelow {
		return ErrForbiddenCombination
	}
	return nil
}

// conditionMet tests an order against a freshly computed price.
func conditionMet(o PendingOrder, priceMicros int64) bool {
	switch o.ConditionType {
	case CondPriceAbove:
		return priceMicros >= o.TargetPriceMicros
	case CondPriceBelow:
		return priceMicros <= o.TargetPriceMicros
	case CondProfitRate:
		return market.ProfitRateBps(priceMicros, o.BasisPriceMicros) >= o.TargetRateBps
	default:
		return false
	}
}

// expiryAt fixes the order's expiry instant at creation time: the
// market close of the trading day `days` days out. A 0-day order
// expires at the next close.
func expiryAt(now time.Time, days, closeHour, closeMinute int, loc *time.Location) time.Time {
	local := now.In(loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), closeHour, closeMinute, 0, 0, loc)
	if !local.Before(cutoff) {
		cutoff = cutoff.AddDate(0, 0, 1)
	}
	return cutoff.AddDate(0, 0, days)
}
