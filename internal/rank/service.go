package rank

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bourse/internal/notify"
)

// Service persists ladder state. It is the only writer of
// market.ranks rows.
type Service struct {
	db     *pgxpool.Pool
	log    *slog.Logger
	notify notify.Notifier
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, notifier notify.Notifier) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{db: db, log: logger, notify: notifier}
}

type View struct {
	Tier         string `json:"tier"`
	Division     int    `json:"division,omitempty"`
	RankPoints   int    `json:"rank_points"`
	PeakTier     string `json:"peak_tier"`
	PeakDivision int    `json:"peak_division,omitempty"`
	Shield       int    `json:"demotion_shield"`
}

func (s *Service) Get(ctx context.Context, userID string, seasonID int64) (View, error) {
	st, err := s.load(ctx, s.db, userID, seasonID)
	if err != nil {
		return View{}, err
	}
	return viewOf(st), nil
}

// ApplyTradeOutcome feeds one realized trade into the ladder and
// persists the normalized result. Called by the order executor after a
// sell settles.
func (s *Service) ApplyTradeOutcome(ctx context.Context, userID string, seasonID int64, profitRateBps int64) (Change, error) {
	return s.apply(ctx, userID, seasonID, OutcomeRP(profitRateBps))
}

// ApplyBonus adds reward RP (achievements, missions) without the trade
// clamp formula.
func (s *Service) ApplyBonus(ctx context.Context, userID string, seasonID int64, bonusRP int) (Change, error) {
	return s.apply(ctx, userID, seasonID, bonusRP)
}

func (s *Service) apply(ctx context.Context, userID string, seasonID int64, rpChange int) (Change, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Change{}, err
	}
	defer tx.Rollback(ctx)

	var st State
	err = tx.QueryRow(ctx, `
		SELECT tier, division, rank_points, peak_tier, peak_division, demotion_shield
		FROM market.ranks
		WHERE user_id = $1 AND season_id = $2
		FOR UPDATE
	`, userID, seasonID).Scan(&st.Tier, &st.Division, &st.RankPoints, &st.PeakTier, &st.PeakDivision, &st.Shield)
	if err == pgx.ErrNoRows {
		st = NewState()
		if _, err := tx.Exec(ctx, `
			INSERT INTO market.ranks (user_id, season_id, tier, division, rank_points, peak_tier, peak_division, demotion_shield)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, userID, seasonID, st.Tier, st.Division, st.RankPoints, st.PeakTier, st.PeakDivision, st.Shield); err != nil {
			return Change{}, err
		}
	} else if err != nil {
		return Change{}, err
	}

	next, ch := Apply(st, rpChange)
	if _, err := tx.Exec(ctx, `
		UPDATE market.ranks
		SET tier = $1, division = $2, rank_points = $3,
		    peak_tier = $4, peak_division = $5, demotion_shield = $6,
		    updated_at = now()
		WHERE user_id = $7 AND season_id = $8
	`, next.Tier, next.Division, next.RankPoints, next.PeakTier, next.PeakDivision, next.Shield, userID, seasonID); err != nil {
		return Change{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Change{}, err
	}

	if ch.RPChange != 0 || ch.Promoted || ch.Demoted {
		s.notify.RankChanged(ctx, notify.RankEvent{
			UserID:     userID,
			SeasonID:   seasonID,
			RPChange:   ch.RPChange,
			Promoted:   ch.Promoted,
			Demoted:    ch.Demoted,
			Tier:       ch.Tier.String(),
			Division:   ch.Division,
			RankPoints: ch.RankPoints,
		})
	}
	return ch, nil
}

type LeaderboardRow struct {
	Rank       int64  `json:"rank"`
	Username   string `json:"username"`
	Tier       string `json:"tier"`
	Division   int    `json:"division,omitempty"`
	RankPoints int    `json:"rank_points"`
}

// Leaderboard orders players by ladder score (tier, then division,
// then RP).
func (s *Service) Leaderboard(ctx context.Context, seasonID int64, limit int) ([]LeaderboardRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT pr.username, r.tier, r.division, r.rank_points
		FROM market.ranks r
		JOIN users.profiles pr ON pr.user_id = r.user_id
		WHERE r.season_id = $1
		ORDER BY r.tier DESC, r.division ASC, r.rank_points DESC
		LIMIT $2
	`, seasonID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaderboardRow
	var pos int64 = 1
	for rows.Next() {
		var row LeaderboardRow
		var tier Tier
		if err := rows.Scan(&row.Username, &tier, &row.Division, &row.RankPoints); err != nil {
			return nil, err
		}
		row.Tier = tier.String()
		row.Rank = pos
		pos++
		out = append(out, row)
	}
	return out, rows.Err()
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Service) load(ctx context.Context, q queryRower, userID string, seasonID int64) (State, error) {
	var st State
	err := q.QueryRow(ctx, `
		SELECT tier, division, rank_points, peak_tier, peak_division, demotion_shield
		FROM market.ranks
		WHERE user_id = $1 AND season_id = $2
	`, userID, seasonID).Scan(&st.Tier, &st.Division, &st.RankPoints, &st.PeakTier, &st.PeakDivision, &st.Shield)
	if err == pgx.ErrNoRows {
		return NewState(), nil
	}
	return st, err
}

func viewOf(st State) View {
	return View{
		Tier:         st.Tier.String(),
		Division:     st.Division,
		RankPoints:   st.RankPoints,
		PeakTier:     st.PeakTier.String(),
		PeakDivision: st.PeakDivision,
		Shield:       st.Shield,
	}
}
