package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bourse/internal/market"
	"bourse/internal/notify"
	"bourse/internal/rank"
)

const maxExpiryDays = 30

// Service is the conditional-order executor: it escrows at creation,
// settles when a tick satisfies a condition, and refunds on cancel or
// expiry. Every mutation runs in a serializable transaction.
type Service struct {
	db     *pgxpool.Pool
	log    *slog.Logger
	rank   *rank.Service
	notify notify.Notifier

	closeHour   int
	closeMinute int
	loc         *time.Location
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, rankSvc *rank.Service, notifier notify.Notifier, closeHour, closeMinute int, loc *time.Location) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:          db,
		log:         logger,
		rank:        rankSvc,
		notify:      notifier,
		closeHour:   closeHour,
		closeMinute: closeMinute,
		loc:         loc,
	}
}

func validateCreate(in CreateInput) error {
	if err := market.ValidateTicker(in.Ticker); err != nil {
		return err
	}
	if err := ValidateCombination(in.OrderType, in.ConditionType); err != nil {
		return err
	}
	if in.QuantityUnits <= 0 {
		return ErrInvalidQuantity
	}
	if in.ExpiresInDays < 0 || in.ExpiresInDays > maxExpiryDays {
		return ErrInvalidExpiry
	}
	switch in.ConditionType {
	case CondProfitRate:
		if in.TargetRateBps <= 0 {
			return ErrInvalidTarget
		}
	default:
		if in.TargetPriceMicros <= 0 {
			return ErrInvalidTarget
		}
	}
	return nil
}

// Create validates, escrows and inserts a pending order. Buy orders
// escrow target_price x quantity from the wallet; sell orders carve the
// shares out of the position, remembering their average cost basis.
func (s *Service) Create(ctx context.Context, in CreateInput) (PendingOrder, error) {
	var out PendingOrder
	if err := validateCreate(in); err != nil {
		return out, err
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return out, err
		}
		err = func() error {
			defer tx.Rollback(ctx)

			if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "conditional_order"); err != nil {
				return err
			}

			var companyID, currentPrice int64
			var delisted bool
			if err := tx.QueryRow(ctx, `
				SELECT id, current_price_micros, delisted
				FROM market.companies
				WHERE season_id = $1 AND ticker = $2
				FOR UPDATE
			`, in.SeasonID, in.Ticker).Scan(&companyID, &currentPrice, &delisted); err != nil {
				if err == pgx.ErrNoRows {
					return market.ErrCompanyNotFound
				}
				return err
			}
			if delisted {
				return market.ErrCompanyDelisted
			}

			now := time.Now()
			out = PendingOrder{
				UserID:            in.UserID,
				SeasonID:          in.SeasonID,
				CompanyID:         companyID,
				Ticker:            in.Ticker,
				OrderType:         in.OrderType,
				ConditionType:     in.ConditionType,
				TargetPriceMicros: in.TargetPriceMicros,
				TargetRateBps:     in.TargetRateBps,
				QuantityUnits:     in.QuantityUnits,
				Status:            StatusPending,
				CreatedAt:         now,
				ExpiresAt:         expiryAt(now, in.ExpiresInDays, s.closeHour, s.closeMinute, s.loc),
			}

			switch in.OrderType {
			case OrderBuy:
				escrow, err := market.NotionalMicros(in.TargetPriceMicros, in.QuantityUnits)
				if err != nil {
					return err
				}
				out.EscrowMicros = escrow
				d := creationDelta(out)
				if err := debitWalletTx(ctx, tx, in.UserID, in.SeasonID, -d.WalletMicros); err != nil {
					return err
				}
				if err := appendLedgerTx(ctx, tx, in.UserID, in.SeasonID, "order_escrow", d.Entries); err != nil {
					return err
				}
			case OrderSell:
				basis, err := debitPositionTx(ctx, tx, in.UserID, in.SeasonID, companyID, in.QuantityUnits)
				if err != nil {
					return err
				}
				out.EscrowUnits = in.QuantityUnits
				out.BasisPriceMicros = basis
			}

			err = tx.QueryRow(ctx, `
				INSERT INTO market.pending_orders
					(user_id, season_id, company_id, order_type, condition_type,
					 target_price_micros, target_rate_bps, quantity_units,
					 escrow_micros, escrow_units, basis_price_micros, status, expires_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', $12)
				RETURNING id, created_at
			`, out.UserID, out.SeasonID, out.CompanyID, out.OrderType, out.ConditionType,
				out.TargetPriceMicros, out.TargetRateBps, out.QuantityUnits,
				out.EscrowMicros, out.EscrowUnits, out.BasisPriceMicros, out.ExpiresAt,
			).Scan(&out.ID, &out.CreatedAt)
			if err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return out, nil
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			return out, market.ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return out, market.ErrTxConflict
}

// Cancel refunds the escrow and marks the order cancelled. Only the
// owner can cancel, and only while the order is still pending.
func (s *Service) Cancel(ctx context.Context, userID string, seasonID, orderID int64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if o.UserID != userID || o.SeasonID != seasonID {
		return ErrOrderNotFound
	}
	if o.Status != StatusPending {
		return ErrEscrowViolation
	}
	if err := refundOrderTx(ctx, tx, o, "order_cancel"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE market.pending_orders
		SET status = 'cancelled', resolved_at = now()
		WHERE id = $1
	`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// List returns the caller's orders for the season, newest first. An
// empty status means all.
func (s *Service) List(ctx context.Context, userID string, seasonID int64, status string) ([]PendingOrder, error) {
	q := `
		SELECT o.id, o.user_id, o.season_id, o.company_id, c.ticker,
		       o.order_type, o.condition_type, o.target_price_micros, o.target_rate_bps,
		       o.quantity_units, o.escrow_micros, o.escrow_units, o.basis_price_micros,
		       o.status, o.created_at, o.expires_at
		FROM market.pending_orders o
		JOIN market.companies c ON c.id = o.company_id
		WHERE o.user_id = $1 AND o.season_id = $2
	`
	args := []any{userID, seasonID}
	if status != "" {
		q += ` AND o.status = $3`
		args = append(args, status)
	}
	q += ` ORDER BY o.created_at DESC LIMIT 200`

	rows, err := s.db.Query(ctx, q, args...)
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

func lockOrderTx(ctx context.Context, tx pgx.Tx, orderID int64) (PendingOrder, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `
		SELECT o.id, o.user_id, o.season_id, o.company_id, c.ticker,
		       o.order_type, o.condition_type, o.target_price_micros, o.target_rate_bps,
		       o.quantity_units, o.escrow_micros, o.escrow_units, o.basis_price_micros,
		       o.status, o.created_at, o.expires_at
		FROM market.pending_orders o
		JOIN market.companies c ON c.id = o.company_id
		WHERE o.id = $1
		FOR UPDATE OF o
	`, orderID))
	if err == pgx.ErrNoRows {
		return o, ErrOrderNotFound
	}
	return o, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (PendingOrder, error) {
	var o PendingOrder
	err := r.Scan(&o.ID, &o.UserID, &o.SeasonID, &o.CompanyID, &o.Ticker,
		&o.OrderType, &o.ConditionType, &o.TargetPriceMicros, &o.TargetRateBps,
		&o.QuantityUnits, &o.EscrowMicros, &o.EscrowUnits, &o.BasisPriceMicros,
		&o.Status, &o.CreatedAt, &o.ExpiresAt)
	return o, err
}

// refundOrderTx returns exactly what was escrowed: points for a buy,
// shares (restored at their original basis) for a sell.
func refundOrderTx(ctx context.Context, tx pgx.Tx, o PendingOrder, action string) error {
	d, err := refundDelta(o)
	if err != nil {
		return err
	}
	return applyResolutionTx(ctx, tx, o, d, action)
}

// applyResolutionTx writes a settlement or refund delta: credits are
// applied to the position and wallet, ledger rows record the escrow
// movement. Debits never appear here; an order's escrow only flows
// back out.
func applyResolutionTx(ctx context.Context, tx pgx.Tx, o PendingOrder, d escrowDelta, action string) error {
	if d.PositionUnits > 0 {
		if err := creditPositionTx(ctx, tx, o.UserID, o.SeasonID, o.CompanyID, d.PositionUnits, d.PositionPriceMicros); err != nil {
			return err
		}
	}
	if d.WalletMicros > 0 {
		if err := creditWalletTx(ctx, tx, o.UserID, o.SeasonID, d.WalletMicros); err != nil {
			return err
		}
	}
	if len(d.Entries) == 0 {
		return nil
	}
	return appendLedgerTx(ctx, tx, o.UserID, o.SeasonID, action, d.Entries)
}

func debitWalletTx(ctx context.Context, tx pgx.Tx, userID string, seasonID, amountMicros int64) error {
	var balance int64
	if err := tx.QueryRow(ctx, `
		SELECT balance_micros
		FROM market.wallets
		WHERE user_id = $1 AND season_id = $2
		FOR UPDATE
	`, userID, seasonID).Scan(&balance); err != nil {
		if err == pgx.ErrNoRows {
			return ErrInsufficientFunds
		}
		return err
	}
	if balance < amountMicros {
		return ErrInsufficientFunds
	}
	_, err := tx.Exec(ctx, `
		UPDATE market.wallets
		SET balance_micros = balance_micros - $1, updated_at = now()
		WHERE user_id = $2 AND season_id = $3
	`, amountMicros, userID, seasonID)
	return err
}

func creditWalletTx(ctx context.Context, tx pgx.Tx, userID string, seasonID, amountMicros int64) error {
	if amountMicros == 0 {
		return nil
	}
	cmd, err := tx.Exec(ctx, `
		UPDATE market.wallets
		SET balance_micros = balance_micros + $1, updated_at = now()
		WHERE user_id = $2 AND season_id = $3
	`, amountMicros, userID, seasonID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("wallet missing for user %s season %d", userID, seasonID)
	}
	return nil
}

// creditPositionTx adds shares at the given price, rolling the average
// cost basis forward.
func creditPositionTx(ctx context.Context, tx pgx.Tx, userID string, seasonID, companyID, qtyUnits, priceMicros int64) error {
	var oldQty, oldAvg int64
	err := tx.QueryRow(ctx, `
		SELECT quantity_units, avg_price_micros
		FROM market.positions
		WHERE user_id = $1 AND season_id = $2 AND company_id = $3
		FOR UPDATE
	`, userID, seasonID, companyID).Scan(&oldQty, &oldAvg)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}

	if err == pgx.ErrNoRows {
		_, err = tx.Exec(ctx, `
			INSERT INTO market.positions (user_id, season_id, company_id, quantity_units, avg_price_micros)
			VALUES ($1, $2, $3, $4, $5)
		`, userID, seasonID, companyID, qtyUnits, priceMicros)
		return err
	}

	newQty := oldQty + qtyUnits
	if newQty <= 0 {
		return fmt.Errorf("invalid resulting quantity")
	}
	totalOld, err := market.NotionalMicros(oldAvg, oldQty)
	if err != nil {
		return err
	}
	totalNew, err := market.NotionalMicros(priceMicros, qtyUnits)
	if err != nil {
		return err
	}
	newAvg, err := market.DivideMicros(totalOld+totalNew, newQty)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE market.positions
		SET quantity_units = $1, avg_price_micros = $2, updated_at = now()
		WHERE user_id = $3 AND season_id = $4 AND company_id = $5
	`, newQty, newAvg, userID, seasonID, companyID)
	return err
}

// debitPositionTx removes shares from a position and reports the
// average cost basis they carried.
func debitPositionTx(ctx context.Context, tx pgx.Tx, userID string, seasonID, companyID, qtyUnits int64) (int64, error) {
	var oldQty, oldAvg int64
	if err := tx.QueryRow(ctx, `
		SELECT quantity_units, avg_price_micros
		FROM market.positions
		WHERE user_id = $1 AND season_id = $2 AND company_id = $3
		FOR UPDATE
	`, userID, seasonID, companyID).Scan(&oldQty, &oldAvg); err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrInsufficientShares
		}
		return 0, err
	}
	if oldQty < qtyUnits {
		return 0, ErrInsufficientShares
	}
	next := oldQty - qtyUnits
	if next == 0 {
		_, err := tx.Exec(ctx, `
			DELETE FROM market.positions
			WHERE user_id = $1 AND season_id = $2 AND company_id = $3
		`, userID, seasonID, companyID)
		return oldAvg, err
	}
	_, err := tx.Exec(ctx, `
		UPDATE market.positions
		SET quantity_units = $1, updated_at = now()
		WHERE user_id = $2 AND season_id = $3 AND company_id = $4
	`, next, userID, seasonID, companyID)
	return oldAvg, err
}

type ledgerEntry struct {
	account string
	delta   int64
}

func appendLedgerTx(ctx context.Context, tx pgx.Tx, userID string, seasonID int64, action string, entries []ledgerEntry) error {
	txID := uuid.NewString()
	meta, _ := json.Marshal(map[string]any{"action": action})
	for _, e := range entries {
		if e.delta == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO market.ledger_entries (tx_group_id, user_id, season_id, account, delta_micros, metadata)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		`, txID, userID, seasonID, e.account, e.delta, string(meta)); err != nil {
			return err
		}
	}
	return nil
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, userID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO market.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrDuplicateIdempotency
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
