package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

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

	cfg, err := config.LoadWorkerFromEnv()
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
		invalidator = cache.NewPrices(client, logger, 0)
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

	if once := strings.ToLower(strings.TrimSpace(cfg.RunOnce)); once != "" {
		if err := runOnce(ctx, sched, once); err != nil {
			logger.Error("run-once failed", "trigger", once, "err", err)
			os.Exit(1)
		}
		queue.Wait()
		logger.Info("worker run-once completed", "trigger", once)
		return
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(loc))
	jobs := []struct {
		spec    string
		enqueue func() error
	}{
		{cfg.OpenCron, sched.EnqueueOpen},
		{cfg.TickCron, sched.EnqueueTick},
		{cfg.NewsCron, sched.EnqueueNews},
		{cfg.CloseCron, sched.EnqueueClose},
	}
	for _, j := range jobs {
		enqueue := j.enqueue
		if _, err := c.AddFunc(j.spec, func() {
			if err := enqueue(); err != nil {
				logger.Error("enqueue failed", "err", err)
			}
		}); err != nil {
			logger.Error("invalid cron spec", "spec", j.spec, "err", err)
			os.Exit(1)
		}
	}

	c.Start()
	logger.Info("bourse worker started",
		"tz", loc.String(),
		"open", cfg.OpenCron, "tick", cfg.TickCron,
		"news", cfg.NewsCron, "close", cfg.CloseCron)

	<-ctx.Done()
	<-c.Stop().Done()
	queue.Close()
	logger.Info("bourse worker stopped")
}

// runOnce fires a single trigger synchronously, for deploy hooks and
// manual operation.
func runOnce(ctx context.Context, sched *market.Scheduler, trigger string) error {
	switch trigger {
	case "market-open":
		_, err := sched.OpenMarket(ctx)
		return err
	case "market-update":
		_, err := sched.Tick(ctx)
		return err
	case "news-update":
		_, err := sched.UpdateNews(ctx)
		return err
	case "market-close":
		_, err := sched.CloseMarket(ctx)
		return err
	default:
		return errUnknownTrigger(trigger)
	}
}

type errUnknownTrigger string

func (e errUnknownTrigger) Error() string {
	return "unknown trigger " + string(e) + " (want market-open, market-update, news-update or market-close)"
}
