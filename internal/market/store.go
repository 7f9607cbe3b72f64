package market

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store owns the market schema: seasons, companies, phase state,
// events, wallets and positions. The Scheduler drives mutations;
// the API reads through it.
type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewStore(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

func (s *Store) Pool() *pgxpool.Pool { return s.db }

func (s *Store) ActiveSeasonID(ctx context.Context) (int64, error) {
	var seasonID int64
	err := s.db.QueryRow(ctx, `
		SELECT id
		FROM market.seasons
		WHERE status = 'active'
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&seasonID)
	if err == nil {
		return seasonID, nil
	}
	if err != pgx.ErrNoRows {
		return 0, err
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO market.seasons (name, status, starts_at, ends_at)
		VALUES ($1, 'active', now(), now() + interval '90 days')
		RETURNING id
	`, "Season 1").Scan(&seasonID)
	if err != nil {
		return 0, err
	}
	return seasonID, nil
}

// EnsurePlayer creates the profile, wallet and rank rows for a user on
// first contact. Idempotent.
func (s *Store) EnsurePlayer(ctx context.Context, seasonID int64, userID, email, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		username = usernameFromEmail(email)
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO users.profiles (user_id, email, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, email, username); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO market.wallets (user_id, season_id, balance_micros, peak_portfolio_micros)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, season_id) DO NOTHING
	`, userID, seasonID, StarterBalanceMicros); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO market.ranks (user_id, season_id, tier, division, rank_points, peak_tier, peak_division, demotion_shield)
		VALUES ($1, $2, 0, 3, 0, 0, 3, 0)
		ON CONFLICT (user_id, season_id) DO NOTHING
	`, userID, seasonID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Phase state. One row per season; created lazily in the closed phase.

func (s *Store) PhaseState(ctx context.Context, seasonID int64) (Phase, time.Time, error) {
	var phase string
	var startedAt time.Time
	err := s.db.QueryRow(ctx, `
		SELECT phase, phase_started_at
		FROM market.market_state
		WHERE season_id = $1
	`, seasonID).Scan(&phase, &startedAt)
	if err == nil {
		return Phase(phase), startedAt, nil
	}
	if err != pgx.ErrNoRows {
		return "", time.Time{}, err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO market.market_state (season_id, phase, phase_started_at)
		VALUES ($1, $2, now())
		RETURNING phase_started_at
	`, seasonID, string(PhaseClosed)).Scan(&startedAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return PhaseClosed, startedAt, nil
}

// SetPhase transitions the season's phase only when the current phase
// is one of the expected values. Returns the phase actually observed
// and whether the transition applied.
func (s *Store) SetPhase(ctx context.Context, seasonID int64, to Phase, from ...Phase) (Phase, bool, error) {
	current, _, err := s.PhaseState(ctx, seasonID)
	if err != nil {
		return "", false, err
	}
	allowed := false
	for _, f := range from {
		if current == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return current, false, nil
	}
	cmd, err := s.db.Exec(ctx, `
		UPDATE market.market_state
		SET phase = $1, phase_started_at = now(), updated_at = now()
		WHERE season_id = $2 AND phase = $3
	`, string(to), seasonID, string(current))
	if err != nil {
		return current, false, err
	}
	return current, cmd.RowsAffected() == 1, nil
}

// Companies.

func (s *Store) ListCompanies(ctx context.Context, seasonID int64, includeDelisted bool) ([]Company, error) {
	query := `
		SELECT id, ticker, display_name, sector, current_price_micros, last_close_micros, market_cap_micros, delisted
		FROM market.companies
		WHERE season_id = $1
	`
	if !includeDelisted {
		query += " AND NOT delisted"
	}
	query += " ORDER BY ticker"
	rows, err := s.db.Query(ctx, query, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.Ticker, &c.DisplayName, &c.Sector, &c.PriceMicros, &c.LastCloseMicros, &c.MarketCapMicros, &c.Delisted); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CompanyDetail(ctx context.Context, seasonID int64, ticker string) (CompanyDetail, error) {
	var out CompanyDetail
	err := s.db.QueryRow(ctx, `
		SELECT id, ticker, display_name, sector, current_price_micros, last_close_micros, market_cap_micros, delisted
		FROM market.companies
		WHERE season_id = $1 AND ticker = $2
	`, seasonID, strings.ToUpper(strings.TrimSpace(ticker))).Scan(
		&out.ID, &out.Ticker, &out.DisplayName, &out.Sector, &out.PriceMicros, &out.LastCloseMicros, &out.MarketCapMicros, &out.Delisted)
	if err == pgx.ErrNoRows {
		return out, ErrCompanyNotFound
	}
	if err != nil {
		return out, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT tick_at, price_micros
		FROM market.company_prices
		WHERE company_id = $1
		ORDER BY tick_at DESC
		LIMIT 64
	`, out.ID)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.TickAt, &p.PriceMicros); err != nil {
			return out, err
		}
		out.Series = append(out.Series, p)
	}
	return out, rows.Err()
}

// WritePrice persists one instrument's new price and its history row.
// Each instrument commits independently: a failure here never rolls
// back sibling updates within the same tick.
func (s *Store) WritePrice(ctx context.Context, companyID, priceMicros int64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `
		UPDATE market.companies
		SET current_price_micros = $1, updated_at = now()
		WHERE id = $2
	`, priceMicros, companyID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO market.company_prices (company_id, tick_at, price_micros)
		VALUES ($1, now(), $2)
	`, companyID, priceMicros); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SnapshotCloses copies current prices into last_close for every
// company of the season. Safe to repeat while no ticks run in between.
func (s *Store) SnapshotCloses(ctx context.Context, seasonID int64) (int, error) {
	cmd, err := s.db.Exec(ctx, `
		UPDATE market.companies
		SET last_close_micros = current_price_micros, updated_at = now()
		WHERE season_id = $1
	`, seasonID)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

// Events.

func (s *Store) InsertEvent(ctx context.Context, seasonID int64, e Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO market.events (season_id, headline, sentiment, impact_bps, sectors, effective_at, duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, seasonID, e.Headline, e.Sentiment, e.ImpactBps, e.Sectors, e.EffectiveAt, e.DurationMinutes)
	return err
}

// ActiveEvents reads the event snapshot for one tick. Every instrument
// in that tick sees this same slice.
func (s *Store) ActiveEvents(ctx context.Context, seasonID int64, now time.Time) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, headline, sentiment, impact_bps, sectors, effective_at, duration_minutes
		FROM market.events
		WHERE season_id = $1
		  AND effective_at <= $2
		  AND effective_at + (duration_minutes * interval '1 minute') > $2
		ORDER BY effective_at
	`, seasonID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Headline, &e.Sentiment, &e.ImpactBps, &e.Sectors, &e.EffectiveAt, &e.DurationMinutes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Dashboard aggregates a player's wallet and positions at current
// prices.
func (s *Store) Dashboard(ctx context.Context, userID string, seasonID int64) (Dashboard, error) {
	out := Dashboard{SeasonID: seasonID}

	phase, _, err := s.PhaseState(ctx, seasonID)
	if err != nil {
		return out, err
	}
	out.Phase = phase

	if err := s.db.QueryRow(ctx, `
		SELECT balance_micros, peak_portfolio_micros
		FROM market.wallets
		WHERE user_id = $1 AND season_id = $2
	`, userID, seasonID).Scan(&out.BalanceMicros, &out.PeakPortfolioMicros); err != nil {
		return out, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT c.ticker, c.display_name, p.quantity_units, p.avg_price_micros, c.current_price_micros
		FROM market.positions p
		JOIN market.companies c ON c.id = p.company_id
		WHERE p.user_id = $1 AND p.season_id = $2
		ORDER BY c.ticker
	`, userID, seasonID)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	var holdings int64
	for rows.Next() {
		var pos PositionView
		if err := rows.Scan(&pos.Ticker, &pos.DisplayName, &pos.QuantityUnits, &pos.AvgPriceMicros, &pos.PriceMicros); err != nil {
			return out, err
		}
		marketValue, err := NotionalMicros(pos.PriceMicros, pos.QuantityUnits)
		if err != nil {
			return out, err
		}
		costValue, err := NotionalMicros(pos.AvgPriceMicros, pos.QuantityUnits)
		if err != nil {
			return out, err
		}
		pos.UnrealizedMicros = marketValue - costValue
		holdings += marketValue
		out.Positions = append(out.Positions, pos)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	out.PortfolioMicros = out.BalanceMicros + holdings
	return out, nil
}

// UpdatePeakPortfolios recomputes every wallet's peak portfolio value
// at current prices. Runs at market close.
func (s *Store) UpdatePeakPortfolios(ctx context.Context, seasonID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE market.wallets w
		SET peak_portfolio_micros = GREATEST(
		        w.peak_portfolio_micros,
		        w.balance_micros + COALESCE((
		            SELECT SUM((p.quantity_units * c.current_price_micros) / $2)
		            FROM market.positions p
		            JOIN market.companies c ON c.id = p.company_id
		            WHERE p.user_id = w.user_id
		              AND p.season_id = w.season_id
		        ), 0)
		    ),
		    updated_at = now()
		WHERE w.season_id = $1
	`, seasonID, ShareScale)
	return err
}

func usernameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "player"
	}
	out := make([]rune, 0, at)
	for _, r := range email[:at] {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	name := strings.Trim(string(out), "_")
	if len(name) < 3 {
		name = "player_" + name
	}
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}
