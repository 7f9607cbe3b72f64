// Package notify broadcasts engine events to downstream collaborators
// (stats, missions, UI toasts) over redis pub/sub. Delivery is best
// effort: a failed publish is logged, never propagated.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ChannelPrices       = "bourse.prices"
	ChannelOrderSettled = "bourse.orders.settled"
	ChannelOrderExpired = "bourse.orders.expired"
	ChannelRankChanged  = "bourse.rank.changed"
)

type PriceEvent struct {
	SeasonID int64     `json:"season_id"`
	Tickers  []string  `json:"tickers"`
	At       time.Time `json:"at"`
}

type OrderEvent struct {
	OrderID     int64     `json:"order_id"`
	UserID      string    `json:"user_id"`
	SeasonID    int64     `json:"season_id"`
	Ticker      string    `json:"ticker"`
	OrderType   string    `json:"order_type"`
	PriceMicros int64     `json:"price_micros,omitempty"`
	At          time.Time `json:"at"`
}

type RankEvent struct {
	UserID     string `json:"user_id"`
	SeasonID   int64  `json:"season_id"`
	RPChange   int    `json:"rp_change"`
	Promoted   bool   `json:"promoted"`
	Demoted    bool   `json:"demoted"`
	Tier       string `json:"tier"`
	Division   int    `json:"division"`
	RankPoints int    `json:"rank_points"`
}

// Notifier is everything the engine emits. Collaborators are external
// to the core; tests plug in Nop.
type Notifier interface {
	PricesChanged(ctx context.Context, seasonID int64, tickers []string)
	OrderSettled(ctx context.Context, evt OrderEvent)
	OrderExpired(ctx context.Context, evt OrderEvent)
	RankChanged(ctx context.Context, evt RankEvent)
}

type Redis struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, log: logger}
}

func (n *Redis) PricesChanged(ctx context.Context, seasonID int64, tickers []string) {
	n.publish(ctx, ChannelPrices, PriceEvent{SeasonID: seasonID, Tickers: tickers, At: time.Now()})
}

func (n *Redis) OrderSettled(ctx context.Context, evt OrderEvent) {
	n.publish(ctx, ChannelOrderSettled, evt)
}

func (n *Redis) OrderExpired(ctx context.Context, evt OrderEvent) {
	n.publish(ctx, ChannelOrderExpired, evt)
}

func (n *Redis) RankChanged(ctx context.Context, evt RankEvent) {
	n.publish(ctx, ChannelRankChanged, evt)
}

func (n *Redis) publish(ctx context.Context, channel string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		n.log.Error("notify marshal failed", "channel", channel, "err", err)
		return
	}
	if err := n.client.Publish(ctx, channel, raw).Err(); err != nil {
		n.log.Error("notify publish failed", "channel", channel, "err", err)
	}
}

// Nop drops every event; used when redis is not configured and in
// tests.
type Nop struct{}

func (Nop) PricesChanged(context.Context, int64, []string) {}
func (Nop) OrderSettled(context.Context, OrderEvent)       {}
func (Nop) OrderExpired(context.Context, OrderEvent)       {}
func (Nop) RankChanged(context.Context, RankEvent)         {}
