package market

import (
	"context"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"bourse/internal/taskq"
)

// Executor settles pending conditional orders against a tick's price
// snapshot. Implemented by the orders package.
type Executor interface {
	Evaluate(ctx context.Context, seasonID int64, snap PriceSnapshot) (int, error)
	ExpireOrders(ctx context.Context, seasonID int64, now time.Time) (int, error)
}

// PriceInvalidator drops cached prices after a tick commits.
type PriceInvalidator interface {
	Invalidate(ctx context.Context, seasonID int64, tickers []string)
}

// TickNotifier broadcasts price changes to downstream collaborators.
type TickNotifier interface {
	PricesChanged(ctx context.Context, seasonID int64, tickers []string)
}

// taskTimeout bounds each unit of work; a hung task would otherwise
// block the whole queue.
const taskTimeout = 2 * time.Minute

// Scheduler owns the market phase and orchestrates phase transitions,
// price ticks and news generation. All entry points are serialized
// through the task queue; exactly one scheduler instance may run per
// deployment.
type Scheduler struct {
	store  *Store
	log    *slog.Logger
	queue  *taskq.Queue
	sim    Simulator
	exec   Executor
	cache  PriceInvalidator
	notify TickNotifier

	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewScheduler(store *Store, logger *slog.Logger, queue *taskq.Queue, exec Executor, cache PriceInvalidator, notifier TickNotifier) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		log:    logger,
		queue:  queue,
		sim:    DefaultSimulator(),
		exec:   exec,
		cache:  cache,
		notify: notifier,
		rand:   mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

// Enqueue wrappers. The HTTP trigger surface and the worker cron both
// go through these; phase transitions outrank everything else.

func (s *Scheduler) EnqueueOpen() error {
	return s.queue.Submit(taskq.KindMarketOpen, taskq.PriorityPhase, s.wrap("market open", s.OpenMarket))
}

func (s *Scheduler) EnqueueTick() error {
	return s.queue.Submit(taskq.KindPriceTick, taskq.PriorityTick, s.wrap("price tick", s.Tick))
}

func (s *Scheduler) EnqueueNews() error {
	return s.queue.Submit(taskq.KindNewsTick, taskq.PriorityNews, s.wrap("news tick", s.UpdateNews))
}

func (s *Scheduler) EnqueueClose() error {
	return s.queue.Submit(taskq.KindMarketClose, taskq.PriorityPhase, s.wrap("market close", s.CloseMarket))
}

func (s *Scheduler) wrap(name string, fn func(context.Context) (Result, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, taskTimeout)
		defer cancel()
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		s.log.Info(name, "status", res.Status, "reason", res.Reason, "updated", res.Updated)
		return nil
	}
}

// OpenMarket transitions Closed → Open and computes opening prices by
// applying overnight drift to each instrument's last close.
func (s *Scheduler) OpenMarket(ctx context.Context) (Result, error) {
	seasonID, err := s.store.ActiveSeasonID(ctx)
	if err != nil {
		return Result{}, err
	}
	current, ok, err := s.store.SetPhase(ctx, seasonID, PhaseOpen, PhaseClosed)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return skipped("market is " + string(current)), nil
	}

	companies, err := s.store.ListCompanies(ctx, seasonID, false)
	if err != nil {
		return Result{}, err
	}
	snap := make(PriceSnapshot, len(companies))
	for _, c := range companies {
		base := c.LastCloseMicros
		if base <= 0 {
			base = c.PriceMicros
		}
		opening := s.sim.OpeningPrice(base, s.nextFloat)
		if err := s.store.WritePrice(ctx, c.ID, opening); err != nil {
			s.log.Error("opening price write failed", "ticker", c.Ticker, "err", err)
			continue
		}
		snap[c.ID] = Quote{CompanyID: c.ID, Ticker: c.Ticker, Sector: c.Sector, PriceMicros: opening}
	}
	s.broadcast(ctx, seasonID, snap)
	return applied(len(snap)), nil
}

// Tick recomputes every listed instrument's price against a single
// snapshot of active events, then lets the executor settle pending
// orders against the fresh prices. Per-instrument persistence is
// independent: a failed write is logged and recomputed next tick.
func (s *Scheduler) Tick(ctx context.Context) (Result, error) {
	seasonID, err := s.store.ActiveSeasonID(ctx)
	if err != nil {
		return Result{}, err
	}
	phase, _, err := s.store.PhaseState(ctx, seasonID)
	if err != nil {
		return Result{}, err
	}
	if !phase.CanTick() {
		return skipped("market is " + string(phase)), nil
	}

	events, err := s.store.ActiveEvents(ctx, seasonID, time.Now())
	if err != nil {
		return Result{}, err
	}
	companies, err := s.store.ListCompanies(ctx, seasonID, false)
	if err != nil {
		return Result{}, err
	}

	snap := make(PriceSnapshot, len(companies))
	for _, c := range companies {
		impact := SumImpact(events, c.Sector)
		next := s.sim.NextPrice(c.PriceMicros, impact, s.nextFloat)
		if err := s.store.WritePrice(ctx, c.ID, next); err != nil {
			s.log.Error("price write failed", "ticker", c.Ticker, "err", err)
			continue
		}
		snap[c.ID] = Quote{CompanyID: c.ID, Ticker: c.Ticker, Sector: c.Sector, PriceMicros: next}
	}

	if s.exec != nil && len(snap) > 0 {
		settled, err := s.exec.Evaluate(ctx, seasonID, snap)
		if err != nil {
			s.log.Error("order evaluation failed", "err", err)
		} else if settled > 0 {
			s.log.Info("orders settled", "count", settled)
		}
	}
	s.broadcast(ctx, seasonID, snap)
	return applied(len(snap)), nil
}

// UpdateNews publishes a headline, usually with an attached sector
// impact the next ticks will price in.
func (s *Scheduler) UpdateNews(ctx context.Context) (Result, error) {
	seasonID, err := s.store.ActiveSeasonID(ctx)
	if err != nil {
		return Result{}, err
	}
	phase, _, err := s.store.PhaseState(ctx, seasonID)
	if err != nil {
		return Result{}, err
	}
	if !phase.CanTick() {
		return skipped("market is " + string(phase)), nil
	}

	evt := GenerateEvent(time.Now(), s.nextFloat)
	if err := s.store.InsertEvent(ctx, seasonID, evt); err != nil {
		return Result{}, err
	}
	s.log.Info("news published", "headline", evt.Headline, "sentiment", evt.Sentiment, "impact_bps", evt.ImpactBps)
	return applied(1), nil
}

// CloseMarket snapshots closing prices, recomputes peak portfolio
// values, expires stale conditional orders and parks the market in
// Closed. Valid from Open or Closing, so a crash mid-close can be
// retried safely; prices cannot move between attempts, which keeps the
// snapshot idempotent.
func (s *Scheduler) CloseMarket(ctx context.Context) (Result, error) {
	seasonID, err := s.store.ActiveSeasonID(ctx)
	if err != nil {
		return Result{}, err
	}
	phase, _, err := s.store.PhaseState(ctx, seasonID)
	if err != nil {
		return Result{}, err
	}
	if !phase.CanClose() {
		return skipped("market is " + string(phase)), nil
	}
	if phase == PhaseOpen {
		if _, _, err := s.store.SetPhase(ctx, seasonID, PhaseClosing, PhaseOpen); err != nil {
			return Result{}, err
		}
	}

	snapshotted, err := s.store.SnapshotCloses(ctx, seasonID)
	if err != nil {
		return Result{}, err
	}
	if err := s.store.UpdatePeakPortfolios(ctx, seasonID); err != nil {
		return Result{}, err
	}
	if s.exec != nil {
		expired, err := s.exec.ExpireOrders(ctx, seasonID, time.Now())
		if err != nil {
			s.log.Error("order expiry failed", "err", err)
		} else if expired > 0 {
			s.log.Info("orders expired", "count", expired)
		}
	}
	if _, _, err := s.store.SetPhase(ctx, seasonID, PhaseClosed, PhaseClosing); err != nil {
		return Result{}, err
	}
	return applied(snapshotted), nil
}

func (s *Scheduler) broadcast(ctx context.Context, seasonID int64, snap PriceSnapshot) {
	if len(snap) == 0 {
		return
	}
	tickers := snap.Tickers()
	if s.cache != nil {
		s.cache.Invalidate(ctx, seasonID, tickers)
	}
	if s.notify != nil {
		s.notify.PricesChanged(ctx, seasonID, tickers)
	}
}

func (s *Scheduler) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}
