package orders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"bourse/internal/market"
	"bourse/internal/notify"
)

// Evaluate runs after every committed tick: each pending order whose
// condition is satisfied by the fresh snapshot settles in its own
// transaction. One bad order never blocks the rest.
func (s *Service) Evaluate(ctx context.Context, seasonID int64, snap market.PriceSnapshot) (int, error) {
	pending, err := s.pendingForSeason(ctx, seasonID)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, o := range pending {
		quote, ok := snap[o.CompanyID]
		if !ok {
			continue
		}
		if !conditionMet(o, quote.PriceMicros) {
			continue
		}
		if err := s.settle(ctx, o, quote.PriceMicros); err != nil {
			// Next tick re-evaluates; serialization conflicts and
			// races with a concurrent cancel land here.
			s.log.Error("order settlement failed",
				"order_id", o.ID, "ticker", o.Ticker, "err", err)
			continue
		}
		settled++
	}
	return settled, nil
}

// ExpireOrders refunds every pending order whose expiry has passed.
// Runs as part of market close.
func (s *Service) ExpireOrders(ctx context.Context, seasonID int64, now time.Time) (int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM market.pending_orders
		WHERE season_id = $1 AND status = 'pending' AND expires_at <= $2
		ORDER BY id
	`, seasonID, now)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, 0, 16)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		o, err := s.expireOne(ctx, id, now)
		if err != nil {
			s.log.Error("order expiry failed", "order_id", id, "err", err)
			continue
		}
		if o == nil {
			continue
		}
		expired++
		s.notify.OrderExpired(ctx, notify.OrderEvent{
			OrderID:   o.ID,
			UserID:    o.UserID,
			SeasonID:  o.SeasonID,
			Ticker:    o.Ticker,
			OrderType: string(o.OrderType),
			At:        now,
		})
	}
	return expired, nil
}

// settle consumes the escrow exactly once. The row lock plus the
// status guard make settle, cancel and expire mutually exclusive.
func (s *Service) settle(ctx context.Context, o PendingOrder, priceMicros int64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback(ctx)
		}
	}()

	locked, err := lockOrderTx(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	if locked.Status != StatusPending {
		// Cancelled or expired since the snapshot was taken.
		return nil
	}
	o = locked

	// price_below guarantees cost <= escrow at the target, so a buy
	// fill always fits inside the escrow.
	d, err := settlementDelta(o, priceMicros)
	if err != nil {
		return err
	}
	action := "order_buy_settled"
	if o.OrderType == OrderSell {
		action = "order_sell_settled"
	}
	if err := applyResolutionTx(ctx, tx, o, d, action); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE market.pending_orders
		SET status = 'executed', executed_price_micros = $1, resolved_at = now()
		WHERE id = $2
	`, priceMicros, o.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true

	now := time.Now()
	s.notify.OrderSettled(ctx, notify.OrderEvent{
		OrderID:     o.ID,
		UserID:      o.UserID,
		SeasonID:    o.SeasonID,
		Ticker:      o.Ticker,
		OrderType:   string(o.OrderType),
		PriceMicros: priceMicros,
		At:          now,
	})

	// A settled sell is a realized outcome; feed it to the ladder.
	// Rank is derived state, so a failure here is logged, not rolled
	// back.
	if o.OrderType == OrderSell && s.rank != nil {
		bps := market.ProfitRateBps(priceMicros, o.BasisPriceMicros)
		if _, err := s.rank.ApplyTradeOutcome(ctx, o.UserID, o.SeasonID, bps); err != nil {
			s.log.Error("rank update failed after settlement",
				"order_id", o.ID, "user_id", o.UserID, "err", err)
		}
	}
	return nil
}

// expireOne flips a single order to expired, refunding its escrow. A
// nil order with nil error means it was resolved concurrently.
func (s *Service) expireOne(ctx context.Context, orderID int64, now time.Time) (*PendingOrder, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending || o.ExpiresAt.After(now) {
		return nil, nil
	}
	if err := refundOrderTx(ctx, tx, o, "order_expired"); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE market.pending_orders
		SET status = 'expired', resolved_at = now()
		WHERE id = $1
	`, orderID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Service) pendingForSeason(ctx context.Context, seasonID int64) ([]PendingOrder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT o.id, o.user_id, o.season_id, o.company_id, c.ticker,
		       o.order_type, o.condition_type, o.target_price_micros, o.target_rate_bps,
		       o.quantity_units, o.escrow_micros, o.escrow_units, o.basis_price_micros,
		       o.status, o.created_at, o.expires_at
		FROM market.pending_orders o
		JOIN market.companies c ON c.id = o.company_id
		WHERE o.season_id = $1 AND o.status = 'pending'
		ORDER BY o.id
	`, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
