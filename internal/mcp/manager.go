package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brindle/mcprelay/internal/tools"
)

// ServerHandle tracks one running server: its client, the registry names it
// contributed, its health watcher, and how many startup retries it consumed.
type ServerHandle struct {
	// ID is a unique instance id, minted per successful start. A server
	// stopped and started again gets a fresh handle and id.
	ID string

	// Name is the configured server name.
	Name string

	// Client is the MCP client for this server.
	Client *Client

	// Tools are the registry names bridged from this server.
	Tools []string

	// Restarts counts the startup retry attempts consumed before the
	// handshake succeeded.
	Restarts int

	health *healthWatcher
}

// Manager supervises a set of named MCP servers: it merges their
// configuration, starts them with retry/backoff, bridges discovered tools
// into the registry, and evicts servers whose health checks exhaust their
// failure budget. Callers hold a Manager value explicitly; there is no
// process-wide instance.
type Manager struct {
	registry *tools.Registry
	logger   *slog.Logger

	mu      sync.RWMutex
	configs map[string]ServerConfig
	servers map[string]*ServerHandle

	// sleep waits between startup retry attempts. Swapped in tests to
	// observe the delay sequence without waiting it out.
	sleep func(ctx context.Context, d time.Duration) bool

	// newTransport constructs a transport for a server config. Swapped in
	// tests to inject fakes.
	newTransport func(cfg ServerConfig, logger *slog.Logger) (Transport, error)
}

// NewManager creates a manager that registers bridged tools on registry.
func NewManager(registry *tools.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:     registry,
		logger:       logger,
		configs:      make(map[string]ServerConfig),
		servers:      make(map[string]*ServerHandle),
		sleep:        sleepCtx,
		newTransport: newTransport,
	}
}

// AddServers merges a source of named server configs into the manager.
// Later sources override same-named servers from earlier ones; call order
// establishes precedence (explicit file, then directory scan, then any map
// handed over by the host).
func (m *Manager) AddServers(src map[string]ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cfg := range src {
		m.configs[name] = cfg
	}
}

// ServerNames returns the names of currently running servers, sorted.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle returns the running handle for name, or nil.
func (m *Manager) Handle(name string) *ServerHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.servers[name]
}

// StartServers starts the named servers, or every enabled configured server
// when names is empty. Individual failures are logged and tolerated as long
// as at least one server starts; zero servers starting is an error. A name
// already running is a warning, not an error.
func (m *Manager) StartServers(ctx context.Context, names []string) error {
	m.mu.RLock()
	configs := make(map[string]ServerConfig, len(m.configs))
	for name, cfg := range m.configs {
		configs[name] = cfg
	}
	m.mu.RUnlock()

	enabled, err := EnabledServers(configs)
	if err != nil {
		return err
	}

	targets := names
	if len(targets) == 0 {
		targets = make([]string, 0, len(enabled))
		for name := range enabled {
			targets = append(targets, name)
		}
		sort.Strings(targets)
	}

	started := 0
	var lastErr error
	for _, name := range targets {
		cfg, ok := enabled[name]
		if !ok {
			lastErr = fmt.Errorf("server %s is not configured or is disabled", name)
			m.logger.Error("cannot start server", "server", name, "error", lastErr)
			continue
		}

		if m.Handle(name) != nil {
			m.logger.Warn("server already running, skipping", "server", name)
			started++
			continue
		}

		if err := m.startServer(ctx, name, cfg); err != nil {
			lastErr = err
			m.logger.Error("server failed to start", "server", name, "error", err)
			continue
		}
		started++
	}

	if started == 0 && len(targets) > 0 {
		return fmt.Errorf("no servers started: %w", lastErr)
	}
	return nil
}

// startServer runs the startup sequence with the server's restart policy:
// construct transport, handshake, discover and bridge tools, record the
// handle, and begin health watching. Each failed attempt waits the current
// backoff delay before retrying.
func (m *Manager) startServer(ctx context.Context, name string, cfg ServerConfig) error {
	policy := cfg.RestartPolicy()
	delay := policy.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			m.logger.Info("retrying server start",
				"server", name,
				"attempt", attempt,
				"max_retries", policy.MaxRetries,
				"delay", delay.String(),
			)
			if !m.sleep(ctx, delay) {
				return ctx.Err()
			}
			delay = policy.NextDelay(delay)
		}

		handle, err := m.startOnce(ctx, name, cfg)
		if err != nil {
			lastErr = err
			m.logger.Warn("server start attempt failed",
				"server", name,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		handle.Restarts = attempt
		m.mu.Lock()
		m.servers[name] = handle
		m.mu.Unlock()

		m.logger.Info("MCP server started",
			"server", name,
			"handle", handle.ID,
			"tools", len(handle.Tools),
			"retries", attempt,
		)
		return nil
	}

	return fmt.Errorf("start server %s: %w", name, lastErr)
}

// startOnce performs a single startup attempt.
func (m *Manager) startOnce(ctx context.Context, name string, cfg ServerConfig) (*ServerHandle, error) {
	logger := m.logger.With("mcp_server", name)

	transport, err := m.newTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	client := NewClient(name, transport, cfg.Timeout(), m.logger)

	if err := client.Initialize(ctx); err != nil {
		_ = transport.Close()
		return nil, err
	}

	registered, err := BridgeTools(ctx, client, name, m.registry, cfg, logger)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	handle := &ServerHandle{
		ID:     uuid.New().String(),
		Name:   name,
		Client: client,
		Tools:  registered,
	}

	if cfg.HealthCheck != nil {
		policy := *cfg.HealthCheck
		handle.health = newHealthWatcher(ctx, name,
			policy.Interval(), policy.ProbeTimeout(), policy.FailureBudget(),
			func(context.Context) bool { return transport.Connected() },
			func() { m.evict(name, handle) },
			logger,
		)
	}

	return handle, nil
}

// evict removes a server whose health checks exhausted their budget. Its
// bridged tools are unregistered so they are no longer invocable; the
// server is not reconnected automatically — a later explicit StartServers
// call may bring it back.
func (m *Manager) evict(name string, handle *ServerHandle) {
	m.mu.Lock()
	if m.servers[name] != handle {
		// A newer handle replaced this one; nothing to do.
		m.mu.Unlock()
		return
	}
	delete(m.servers, name)
	m.mu.Unlock()

	for _, tool := range handle.Tools {
		m.registry.Unregister(tool)
	}
	_ = handle.Client.Close()

	m.logger.Warn("server evicted after failed health checks", "server", name)
}

// StopServer stops a running server: its health watcher is cancelled and
// its transport closed. Bridged tools stay registered; invoking one after
// the stop fails at call time. Stopping an unknown name is an error.
func (m *Manager) StopServer(name string) error {
	m.mu.Lock()
	handle, ok := m.servers[name]
	if ok {
		delete(m.servers, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("server %s is not running", name)
	}

	if handle.health != nil {
		handle.health.stop()
	}
	err := handle.Client.Close()

	m.logger.Info("MCP server stopped", "server", name, "handle", handle.ID)
	return err
}

// Shutdown stops every running server and waits for all health watchers to
// exit. The first close error is returned; shutdown always completes.
func (m *Manager) Shutdown() error {
	var firstErr error
	for _, name := range m.ServerNames() {
		if err := m.StopServer(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newTransport builds the transport for a server config's form.
func newTransport(cfg ServerConfig, logger *slog.Logger) (Transport, error) {
	pc, sc := cfg.Descriptor()
	if cfg.IsProcess() {
		pc.Logger = logger
		return NewProcessTransport(pc)
	}
	sc.Logger = logger
	return NewStreamTransport(sc)
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
