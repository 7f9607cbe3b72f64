package market

import "time"

// Phase is the engine-wide trading-session state. Exactly one phase is
// active per season; the Scheduler is its only writer.
type Phase string

const (
	PhaseClosed  Phase = "closed"
	PhaseOpen    Phase = "open"
	PhaseClosing Phase = "closing"
)

func (p Phase) CanOpen() bool  { return p == PhaseClosed }
func (p Phase) CanTick() bool  { return p == PhaseOpen }
func (p Phase) CanClose() bool { return p == PhaseOpen || p == PhaseClosing }

// Result reports what a scheduler entry point did. Wrong-phase calls
// come back as skipped rather than as errors so duplicate triggers are
// harmless.
type Result struct {
	Status  string `json:"status"` // "applied" or "skipped"
	Reason  string `json:"reason,omitempty"`
	Updated int    `json:"updated,omitempty"`
}

func applied(updated int) Result {
	return Result{Status: "applied", Updated: updated}
}

func skipped(reason string) Result {
	return Result{Status: "skipped", Reason: reason}
}

// Company is an instrument row.
type Company struct {
	ID              int64  `json:"id"`
	Ticker          string `json:"ticker"`
	DisplayName     string `json:"display_name"`
	Sector          string `json:"sector"`
	PriceMicros     int64  `json:"price_micros"`
	LastCloseMicros int64  `json:"last_close_micros"`
	MarketCapMicros int64  `json:"market_cap_micros"`
	Delisted        bool   `json:"delisted"`
}

type CompanyDetail struct {
	Company
	Series []PricePoint `json:"series"`
}

type PricePoint struct {
	TickAt      time.Time `json:"tick_at"`
	PriceMicros int64     `json:"price_micros"`
}

// Event is a news-driven price influence. It is active while
// effective_at <= now < effective_at + duration.
type Event struct {
	ID              int64     `json:"id"`
	Headline        string    `json:"headline"`
	Sentiment       string    `json:"sentiment"` // positive / negative / neutral
	ImpactBps       int32     `json:"impact_bps"`
	Sectors         []string  `json:"sectors"` // empty = market-wide
	EffectiveAt     time.Time `json:"effective_at"`
	DurationMinutes int32     `json:"duration_minutes"`
}

func (e Event) ActiveAt(now time.Time) bool {
	if now.Before(e.EffectiveAt) {
		return false
	}
	return now.Before(e.EffectiveAt.Add(time.Duration(e.DurationMinutes) * time.Minute))
}

func (e Event) AffectsSector(sector string) bool {
	if len(e.Sectors) == 0 {
		return true
	}
	for _, s := range e.Sectors {
		if s == sector {
			return true
		}
	}
	return false
}

// Quote is one entry of a tick's price snapshot. Every consumer of a
// tick (order evaluation, cache invalidation) sees the same snapshot.
type Quote struct {
	CompanyID   int64
	Ticker      string
	Sector      string
	PriceMicros int64
}

type PriceSnapshot map[int64]Quote

func (s PriceSnapshot) Tickers() []string {
	out := make([]string, 0, len(s))
	for _, q := range s {
		out = append(out, q.Ticker)
	}
	return out
}

type PositionView struct {
	Ticker           string `json:"ticker"`
	DisplayName      string `json:"display_name"`
	QuantityUnits    int64  `json:"quantity_units"`
	AvgPriceMicros   int64  `json:"avg_price_micros"`
	PriceMicros      int64  `json:"price_micros"`
	UnrealizedMicros int64  `json:"unrealized_micros"`
}

type Dashboard struct {
	SeasonID            int64          `json:"season_id"`
	Phase               Phase          `json:"phase"`
	BalanceMicros       int64          `json:"balance_micros"`
	PortfolioMicros     int64          `json:"portfolio_micros"`
	PeakPortfolioMicros int64          `json:"peak_portfolio_micros"`
	Positions           []PositionView `json:"positions"`
}
