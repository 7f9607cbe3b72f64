// Package cache is the read-through price cache. The engine only
// promises one thing about it: cached prices are invalidated whenever
// a tick commits new ones.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Prices struct {
	client *redis.Client
	log    *slog.Logger
	ttl    time.Duration
}

func NewPrices(client *redis.Client, logger *slog.Logger, ttl time.Duration) *Prices {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Prices{client: client, log: logger, ttl: ttl}
}

func key(seasonID int64, ticker string) string {
	return fmt.Sprintf("bourse:price:%d:%s", seasonID, ticker)
}

func (p *Prices) Get(ctx context.Context, seasonID int64, ticker string) ([]byte, bool, error) {
	b, err := p.client.Get(ctx, key(seasonID, ticker)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Prices) Set(ctx context.Context, seasonID int64, ticker string, value []byte) error {
	return p.client.Set(ctx, key(seasonID, ticker), value, p.ttl).Err()
}

// Invalidate drops the cached entries for the given tickers. Failures
// are logged only: a stale entry ages out via TTL.
func (p *Prices) Invalidate(ctx context.Context, seasonID int64, tickers []string) {
	if len(tickers) == 0 {
		return
	}
	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = key(seasonID, t)
	}
	if err := p.client.Del(ctx, keys...).Err(); err != nil {
		p.log.Error("price cache invalidation failed", "keys", len(keys), "err", err)
	}
}
