package mcp

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestHealthWatcher_EvictsAfterBudget(t *testing.T) {
	var probes, evictions atomic.Int32

	w := newHealthWatcher(context.Background(), "test",
		5*time.Millisecond, time.Second, 3,
		func(ctx context.Context) bool {
			probes.Add(1)
			return false
		},
		func() { evictions.Add(1) },
		discardLogger(),
	)
	defer w.stop()

	if !waitFor(t, 2*time.Second, func() bool { return evictions.Load() == 1 }) {
		t.Fatalf("evictions = %d, want 1", evictions.Load())
	}
	if got := probes.Load(); got != 3 {
		t.Errorf("probes before eviction = %d, want 3", got)
	}

	// The watcher stopped at eviction; no further probes or evictions.
	time.Sleep(50 * time.Millisecond)
	if got := probes.Load(); got != 3 {
		t.Errorf("probes after eviction = %d, want 3", got)
	}
	if got := evictions.Load(); got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
}

func TestHealthWatcher_SuccessResetsStreak(t *testing.T) {
	var probes atomic.Int32
	var evicted atomic.Bool

	// Fail twice, succeed, repeat. Budget 3 is never reached.
	w := newHealthWatcher(context.Background(), "test",
		5*time.Millisecond, time.Second, 3,
		func(ctx context.Context) bool {
			return probes.Add(1)%3 == 0
		},
		func() { evicted.Store(true) },
		discardLogger(),
	)
	defer w.stop()

	waitFor(t, time.Second, func() bool { return probes.Load() >= 9 })

	if evicted.Load() {
		t.Error("server evicted despite streak resets")
	}
	if got := w.consecutiveFailures(); got >= 3 {
		t.Errorf("consecutiveFailures = %d, want < 3", got)
	}
}

func TestHealthWatcher_StopHaltsProbing(t *testing.T) {
	var probes atomic.Int32

	w := newHealthWatcher(context.Background(), "test",
		5*time.Millisecond, time.Second, 100,
		func(ctx context.Context) bool {
			probes.Add(1)
			return true
		},
		func() {},
		discardLogger(),
	)

	waitFor(t, time.Second, func() bool { return probes.Load() >= 2 })
	w.stop()

	after := probes.Load()
	time.Sleep(50 * time.Millisecond)
	if got := probes.Load(); got != after {
		t.Errorf("probes continued after stop: %d -> %d", after, got)
	}
}

func TestHealthWatcher_ProbeTimeoutBoundsCheck(t *testing.T) {
	var evicted atomic.Bool

	// Probe honors its context; a hung probe counts as a failure.
	w := newHealthWatcher(context.Background(), "test",
		5*time.Millisecond, 10*time.Millisecond, 1,
		func(ctx context.Context) bool {
			<-ctx.Done()
			return false
		},
		func() { evicted.Store(true) },
		discardLogger(),
	)
	defer w.stop()

	if !waitFor(t, 2*time.Second, func() bool { return evicted.Load() }) {
		t.Error("hung probe did not lead to eviction")
	}
}
