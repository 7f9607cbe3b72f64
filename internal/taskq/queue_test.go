package taskq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmitOrdersByPriorityThenArrival(t *testing.T) {
	q := New(context.Background(), nil)

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string

	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// First task holds the drain loop so the rest queue up behind it.
	if err := q.Submit(KindPriceTick, PriorityTick, func(context.Context) error {
		<-gate
		return nil
	}); err != nil {
		t.Fatalf("submit gate: %v", err)
	}

	submits := []struct {
		name     string
		priority int
	}{
		{"p1", 1},
		{"p3-first", 3},
		{"p2", 2},
		{"p3-second", 3},
	}
	for _, s := range submits {
		if err := q.Submit(KindPriceTick, s.priority, record(s.name)); err != nil {
			t.Fatalf("submit %s: %v", s.name, err)
		}
	}

	close(gate)
	q.Wait()

	want := []string{"p3-first", "p3-second", "p2", "p1"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("executed %d tasks, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestFailingTaskDoesNotStopDrain(t *testing.T) {
	q := New(context.Background(), nil)

	ran := make(chan struct{})
	if err := q.Submit(KindNewsTick, PriorityNews, func(context.Context) error {
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("submit failing: %v", err)
	}
	if err := q.Submit(KindPriceTick, PriorityTick, func(context.Context) error {
		close(ran)
		return nil
	}); err != nil {
		t.Fatalf("submit follower: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task after a failure never ran")
	}
	q.Wait()
}

func TestPanickingTaskIsContained(t *testing.T) {
	q := New(context.Background(), nil)

	ran := make(chan struct{})
	_ = q.Submit(KindMarketOpen, PriorityPhase, func(context.Context) error {
		panic("unexpected")
	})
	_ = q.Submit(KindPriceTick, PriorityTick, func(context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task after a panic never ran")
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	q := New(context.Background(), nil)
	q.Close()
	if err := q.Submit(KindPriceTick, PriorityTick, func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after close = %v, want ErrClosed", err)
	}
}

func TestTasksRunOneAtATime(t *testing.T) {
	q := New(context.Background(), nil)

	var mu sync.Mutex
	running, maxRunning := 0, 0
	work := func(context.Context) error {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}
	for i := 0; i < 8; i++ {
		if err := q.Submit(KindPriceTick, PriorityTick, work); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxRunning != 1 {
		t.Fatalf("observed %d concurrent tasks, want 1", maxRunning)
	}
}
