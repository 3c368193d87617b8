package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// healthWatcher probes one server's transport on a fixed interval and
// counts consecutive failures. Exhausting the failure budget invokes the
// eviction callback exactly once and stops the watcher; there is no
// automatic reconnect — restarting an evicted server is an explicit
// manager call.
//
// Probe outcomes are never surfaced to callers as errors; they only drive
// the eviction transition.
type healthWatcher struct {
	server       string
	interval     time.Duration
	probeTimeout time.Duration
	budget       int
	probe        func(ctx context.Context) bool
	onEvict      func()
	logger       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	failures int
}

// newHealthWatcher starts the watcher goroutine. Stop it with stop().
func newHealthWatcher(ctx context.Context, server string, interval, probeTimeout time.Duration, budget int, probe func(ctx context.Context) bool, onEvict func(), logger *slog.Logger) *healthWatcher {
	watchCtx, cancel := context.WithCancel(ctx)
	w := &healthWatcher{
		server:       server,
		interval:     interval,
		probeTimeout: probeTimeout,
		budget:       budget,
		probe:        probe,
		onEvict:      onEvict,
		logger:       logger,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go w.run(watchCtx)
	return w
}

// stop cancels the watcher and waits for its goroutine to exit.
func (w *healthWatcher) stop() {
	w.cancel()
	<-w.done
}

// consecutiveFailures returns the current failure streak.
func (w *healthWatcher) consecutiveFailures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

func (w *healthWatcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.check(ctx) {
				w.mu.Lock()
				recovered := w.failures > 0
				w.failures = 0
				w.mu.Unlock()

				if recovered {
					w.logger.Info("health check recovered", "server", w.server)
				}
				continue
			}

			w.mu.Lock()
			w.failures++
			failures := w.failures
			w.mu.Unlock()

			w.logger.Warn("health check failed",
				"server", w.server,
				"consecutive", failures,
				"budget", w.budget,
			)

			if failures >= w.budget {
				w.logger.Error("health check budget exhausted, evicting server",
					"server", w.server,
				)
				w.onEvict()
				return
			}
		}
	}
}

// check runs one probe bounded by the per-probe timeout.
func (w *healthWatcher) check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.probeTimeout)
	defer cancel()
	return w.probe(probeCtx)
}
