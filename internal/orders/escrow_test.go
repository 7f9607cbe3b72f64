package orders

import (
	"testing"

	"bourse/internal/market"
)

func buyOrderFixture(t *testing.T, targetPoints, qtyUnits int64) PendingOrder {
	t.Helper()
	o := PendingOrder{
		OrderType:         OrderBuy,
		ConditionType:     CondPriceBelow,
		TargetPriceMicros: targetPoints * market.MicrosPerPoint,
		QuantityUnits:     qtyUnits,
		Status:            StatusPending,
	}
	escrow, err := market.NotionalMicros(o.TargetPriceMicros, qtyUnits)
	if err != nil {
		t.Fatalf("NotionalMicros: %v", err)
	}
	o.EscrowMicros = escrow
	return o
}

func sellOrderFixture(basisPoints, qtyUnits int64) PendingOrder {
	return PendingOrder{
		OrderType:        OrderSell,
		ConditionType:    CondPriceAbove,
		QuantityUnits:    qtyUnits,
		EscrowUnits:      qtyUnits,
		BasisPriceMicros: basisPoints * market.MicrosPerPoint,
		Status:           StatusPending,
	}
}

func entriesSum(entries []ledgerEntry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.delta
	}
	return sum
}

// Every order resolution must consume the escrow exactly once: the
// amount locked at creation nets to zero against the single settle,
// cancel or expire that follows, for points and share units alike.
func TestEscrowConsumedExactlyOnce(t *testing.T) {
	buy := buyOrderFixture(t, 120, 25_000) // 2.5 shares at 120 pts
	sell := sellOrderFixture(80, 15_000)

	resolve := map[string]func(o PendingOrder) (escrowDelta, error){
		"settle": func(o PendingOrder) (escrowDelta, error) {
			price := o.TargetPriceMicros
			if o.OrderType == OrderSell {
				price = 95 * market.MicrosPerPoint
			}
			return settlementDelta(o, price)
		},
		"refund": refundDelta,
	}

	for _, o := range []PendingOrder{buy, sell} {
		created := creationDelta(o)
		for name, fn := range resolve {
			resolved, err := fn(o)
			if err != nil {
				t.Fatalf("%s %s: %v", o.OrderType, name, err)
			}
			if got := created.EscrowMicros + resolved.EscrowMicros; got != 0 {
				t.Fatalf("%s %s: escrow points leak %d micros", o.OrderType, name, got)
			}
			if got := created.EscrowUnits + resolved.EscrowUnits; got != 0 {
				t.Fatalf("%s %s: escrow units leak %d", o.OrderType, name, got)
			}
		}
	}
}

func TestBuySettlementReturnsUnspentRemainder(t *testing.T) {
	o := buyOrderFixture(t, 120, 25_000) // escrow 300 pts
	fill := int64(110) * market.MicrosPerPoint

	created := creationDelta(o)
	settled, err := settlementDelta(o, fill)
	if err != nil {
		t.Fatalf("settlementDelta: %v", err)
	}

	cost, err := market.NotionalMicros(fill, o.QuantityUnits)
	if err != nil {
		t.Fatalf("NotionalMicros: %v", err)
	}
	if got := created.WalletMicros + settled.WalletMicros; got != -cost {
		t.Fatalf("net wallet change = %d, want -cost %d", got, -cost)
	}
	if settled.WalletMicros != o.EscrowMicros-cost {
		t.Fatalf("remainder = %d, want %d", settled.WalletMicros, o.EscrowMicros-cost)
	}
	if settled.PositionUnits != o.QuantityUnits {
		t.Fatalf("position credit = %d units, want %d", settled.PositionUnits, o.QuantityUnits)
	}
	if settled.PositionPriceMicros != fill {
		t.Fatalf("position booked at %d, want fill price %d", settled.PositionPriceMicros, fill)
	}
}

func TestBuySettlementAtTargetLeavesNoRemainder(t *testing.T) {
	o := buyOrderFixture(t, 120, 25_000)
	settled, err := settlementDelta(o, o.TargetPriceMicros)
	if err != nil {
		t.Fatalf("settlementDelta: %v", err)
	}
	if settled.WalletMicros != 0 {
		t.Fatalf("remainder = %d, want 0", settled.WalletMicros)
	}
}

func TestBuySettlementAboveEscrowRejected(t *testing.T) {
	o := buyOrderFixture(t, 120, 25_000)
	if _, err := settlementDelta(o, o.TargetPriceMicros+1); err != ErrEscrowViolation {
		t.Fatalf("err = %v, want ErrEscrowViolation", err)
	}
}

func TestSellSettlementProceedsMatchFill(t *testing.T) {
	o := sellOrderFixture(80, 15_000) // 1.5 shares, basis 80 pts
	fill := int64(95) * market.MicrosPerPoint

	settled, err := settlementDelta(o, fill)
	if err != nil {
		t.Fatalf("settlementDelta: %v", err)
	}
	proceeds, err := market.NotionalMicros(fill, o.EscrowUnits)
	if err != nil {
		t.Fatalf("NotionalMicros: %v", err)
	}
	if settled.WalletMicros != proceeds {
		t.Fatalf("wallet credit = %d, want proceeds %d", settled.WalletMicros, proceeds)
	}
	if settled.PositionUnits != 0 {
		t.Fatalf("settled sell must not credit the position, got %d units", settled.PositionUnits)
	}
}

func TestSellRefundRestoresSharesAtBasis(t *testing.T) {
	o := sellOrderFixture(80, 15_000)
	refunded, err := refundDelta(o)
	if err != nil {
		t.Fatalf("refundDelta: %v", err)
	}
	if refunded.PositionUnits != o.EscrowUnits {
		t.Fatalf("position credit = %d units, want %d", refunded.PositionUnits, o.EscrowUnits)
	}
	if refunded.PositionPriceMicros != o.BasisPriceMicros {
		t.Fatalf("refund booked at %d, want basis %d", refunded.PositionPriceMicros, o.BasisPriceMicros)
	}
	if refunded.WalletMicros != 0 {
		t.Fatalf("sell refund must not touch the wallet, got %d", refunded.WalletMicros)
	}
}

// Ledger rows are double-entry: each event's deltas sum to zero, so
// value only ever moves between accounts.
func TestLedgerEntriesBalancePerEvent(t *testing.T) {
	buy := buyOrderFixture(t, 120, 25_000)
	fill := int64(110) * market.MicrosPerPoint

	buySettled, err := settlementDelta(buy, fill)
	if err != nil {
		t.Fatalf("settlementDelta: %v", err)
	}
	buyRefunded, err := refundDelta(buy)
	if err != nil {
		t.Fatalf("refundDelta: %v", err)
	}
	sell := sellOrderFixture(80, 15_000)
	sellSettled, err := settlementDelta(sell, 95*market.MicrosPerPoint)
	if err != nil {
		t.Fatalf("settlementDelta: %v", err)
	}

	events := map[string][]ledgerEntry{
		"buy creation":    creationDelta(buy).Entries,
		"buy settlement":  buySettled.Entries,
		"buy refund":      buyRefunded.Entries,
		"sell settlement": sellSettled.Entries,
	}
	for name, entries := range events {
		if len(entries) == 0 {
			t.Fatalf("%s: no ledger entries", name)
		}
		if sum := entriesSum(entries); sum != 0 {
			t.Fatalf("%s: ledger entries sum to %d, want 0", name, sum)
		}
	}
}
