package orders

import (
	"fmt"

	"bourse/internal/market"
)

// escrowDelta is the value moved by one order event, from the owner's
// point of view: positive means the account gains. Wallet and escrow
// amounts are points in micros; position and escrow units are share
// units. PositionPriceMicros is the price credited position units are
// booked at.
type escrowDelta struct {
	WalletMicros        int64
	PositionUnits       int64
	PositionPriceMicros int64
	EscrowMicros        int64
	EscrowUnits         int64
	Entries             []ledgerEntry
}

// creationDelta carves the escrow out when an order is accepted: a buy
// locks target x quantity points, a sell locks the shares themselves.
func creationDelta(o PendingOrder) escrowDelta {
	switch o.OrderType {
	case OrderBuy:
		return escrowDelta{
			WalletMicros: -o.EscrowMicros,
			EscrowMicros: o.EscrowMicros,
			Entries: []ledgerEntry{
				{account: "wallet", delta: -o.EscrowMicros},
				{account: "order_escrow", delta: o.EscrowMicros},
			},
		}
	case OrderSell:
		return escrowDelta{
			PositionUnits: -o.EscrowUnits,
			EscrowUnits:   o.EscrowUnits,
		}
	}
	return escrowDelta{}
}

// settlementDelta consumes the whole escrow at the fill price. A buy
// pays the actual cost out of the escrow and returns the unspent
// remainder to the wallet; a sell converts the escrowed shares into
// proceeds.
func settlementDelta(o PendingOrder, priceMicros int64) (escrowDelta, error) {
	switch o.OrderType {
	case OrderBuy:
		cost, err := market.NotionalMicros(priceMicros, o.QuantityUnits)
		if err != nil {
			return escrowDelta{}, err
		}
		if cost > o.EscrowMicros {
			return escrowDelta{}, ErrEscrowViolation
		}
		remainder := o.EscrowMicros - cost
		return escrowDelta{
			WalletMicros:        remainder,
			PositionUnits:       o.QuantityUnits,
			PositionPriceMicros: priceMicros,
			EscrowMicros:        -o.EscrowMicros,
			Entries: []ledgerEntry{
				{account: "order_escrow", delta: -o.EscrowMicros},
				{account: "counterparty", delta: cost},
				{account: "wallet", delta: remainder},
			},
		}, nil
	case OrderSell:
		proceeds, err := market.NotionalMicros(priceMicros, o.EscrowUnits)
		if err != nil {
			return escrowDelta{}, err
		}
		return escrowDelta{
			WalletMicros: proceeds,
			EscrowUnits:  -o.EscrowUnits,
			Entries: []ledgerEntry{
				{account: "counterparty", delta: -proceeds},
				{account: "wallet", delta: proceeds},
			},
		}, nil
	}
	return escrowDelta{}, fmt.Errorf("unknown order type %q", o.OrderType)
}

// refundDelta gives back exactly what creationDelta took: points for a
// buy, shares restored at their recorded basis for a sell.
func refundDelta(o PendingOrder) (escrowDelta, error) {
	switch o.OrderType {
	case OrderBuy:
		return escrowDelta{
			WalletMicros: o.EscrowMicros,
			EscrowMicros: -o.EscrowMicros,
			Entries: []ledgerEntry{
				{account: "order_escrow", delta: -o.EscrowMicros},
				{account: "wallet", delta: o.EscrowMicros},
			},
		}, nil
	case OrderSell:
		return escrowDelta{
			PositionUnits:       o.EscrowUnits,
			PositionPriceMicros: o.BasisPriceMicros,
			EscrowUnits:         -o.EscrowUnits,
		}, nil
	}
	return escrowDelta{}, fmt.Errorf("unknown order type %q", o.OrderType)
}
