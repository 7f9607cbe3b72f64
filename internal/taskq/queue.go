// Package taskq is the in-process scheduler queue. Market work is
// serialized through a single drain loop so phase transitions, price
// ticks and settlement never interleave.
package taskq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Kind string

const (
	KindMarketOpen  Kind = "market_open"
	KindMarketClose Kind = "market_close"
	KindPriceTick   Kind = "price_tick"
	KindNewsTick    Kind = "news_tick"
)

// Priorities: phase transitions must never be starved by a backlog of
// price ticks.
const (
	PriorityPhase = 3
	PriorityNews  = 2
	PriorityTick  = 1
)

var ErrClosed = errors.New("task queue closed")

type task struct {
	kind       Kind
	priority   int
	enqueuedAt time.Time
	seq        uint64
	run        func(context.Context) error
}

// Queue admits tasks with a priority and FIFO tie-break and executes
// them one at a time. A failing task is logged and discarded; the
// drain loop continues with the next task.
type Queue struct {
	log     *slog.Logger
	baseCtx context.Context

	mu       sync.Mutex
	idle     *sync.Cond
	tasks    []*task
	seq      uint64
	draining bool
	closed   bool
}

func New(ctx context.Context, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	q := &Queue{log: logger, baseCtx: ctx}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Submit appends a task and kicks the drain loop if it is not already
// running. Ordering invariant: higher priority first, equal priority
// in arrival order.
func (q *Queue) Submit(kind Kind, priority int, run func(context.Context) error) error {
	if run == nil {
		return fmt.Errorf("submit %s: nil unit of work", kind)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.seq++
	q.tasks = append(q.tasks, &task{
		kind:       kind,
		priority:   priority,
		enqueuedAt: time.Now(),
		seq:        q.seq,
		run:        run,
	})
	sort.SliceStable(q.tasks, func(i, j int) bool {
		a, b := q.tasks[i], q.tasks[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if !a.enqueuedAt.Equal(b.enqueuedAt) {
			return a.enqueuedAt.Before(b.enqueuedAt)
		}
		return a.seq < b.seq
	})
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()
	if start {
		go q.drain()
	}
	return nil
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.draining = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.runTask(t)
	}
}

func (q *Queue) runTask(t *task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task panicked", "kind", t.kind, "panic", r)
		}
	}()
	started := time.Now()
	if err := t.run(q.baseCtx); err != nil {
		q.log.Error("task failed", "kind", t.kind, "err", err, "waited", started.Sub(t.enqueuedAt).String())
		return
	}
	q.log.Debug("task done", "kind", t.kind, "took", time.Since(started).String())
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Wait blocks until the queue is empty and no task is executing.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.draining || len(q.tasks) > 0 {
		q.idle.Wait()
	}
}

// Close rejects further submissions and waits for the backlog to
// drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Wait()
}
