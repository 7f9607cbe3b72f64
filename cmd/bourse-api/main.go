package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bourse/internal/api"
	"bourse/internal/auth"
	"bourse/internal/cache"
	"bourse/internal/config"
	"bourse/internal/db"
	"bourse/internal/market"
	"bourse/internal/notify"
	"bourse/internal/orders"
	"bourse/internal/rank"
	"bourse/internal/taskq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var notifier notify.Notifier = notify.Nop{}
	var prices *cache.Prices
	var invalidator market.PriceInvalidator
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("redis url invalid", "err", err)
			os.Exit(1)
		}
		client := redis.NewClient(opt)
		defer client.Close()
		notifier = notify.NewRedis(client, logger)
		prices = cache.NewPrices(client, logger, cfg.PriceCacheTTL)
		invalidator = prices
	}

	store := market.NewStore(pool, logger)
	seasonID, err := store.ActiveSeasonID(ctx)
	if err != nil {
		logger.Error("active season init failed", "err", err)
		os.Exit(1)
	}
	if cfg.StartupSeed {
		if err := store.SeedDefaults(ctx, seasonID); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}

	loc := config.Location(cfg.MarketTZ)
	rankSvc := rank.NewService(pool, logger, notifier)
	orderSvc := orders.NewService(pool, logger, rankSvc, notifier, cfg.CloseHour, cfg.CloseMinute, loc)

	queue := taskq.New(ctx, logger)
	sched := market.NewScheduler(store, logger, queue, orderSvc, invalidator, notifier)

	identity := auth.NewIdentityClient(cfg.IdentityURL, cfg.IdentityKey)
	server := api.New(cfg, logger, identity, store, sched, orderSvc, rankSvc, prices)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("bourse api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}

	// Let queued market work finish before exiting.
	queue.Close()
	logger.Info("bourse api stopped")
}
