package mcp

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultTimeout is applied when a server config omits timeout_ms.
const defaultTimeout = 30 * time.Second

// Backoff selects how the delay between startup retry attempts grows.
type Backoff string

// Supported backoff growth kinds.
const (
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// HealthCheckPolicy configures periodic connectivity probing for a running
// server. A server whose transport reports disconnected MaxFailures times in
// a row is evicted from the manager's running set.
type HealthCheckPolicy struct {
	// IntervalSec is the probe period in seconds.
	IntervalSec int `yaml:"interval_s" json:"interval_s"`

	// TimeoutSec bounds a single probe in seconds.
	TimeoutSec int `yaml:"timeout_s" json:"timeout_s"`

	// MaxFailures is the consecutive-failure budget before eviction.
	MaxFailures int `yaml:"max_failures" json:"max_failures"`
}

// Interval returns the probe period as a duration, defaulting to 30s.
func (p HealthCheckPolicy) Interval() time.Duration {
	if p.IntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.IntervalSec) * time.Second
}

// ProbeTimeout returns the per-probe bound as a duration, defaulting to 10s.
func (p HealthCheckPolicy) ProbeTimeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

// FailureBudget returns MaxFailures, defaulting to 3.
func (p HealthCheckPolicy) FailureBudget() int {
	if p.MaxFailures <= 0 {
		return 3
	}
	return p.MaxFailures
}

// RestartPolicy configures retry behavior for server startup failures.
// It applies only to startup (handshake and discovery); per-call failures
// during normal operation are never retried by this layer.
type RestartPolicy struct {
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps delay growth for linear and exponential backoff.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Kind selects the delay growth rule. Defaults to exponential.
	Kind Backoff `yaml:"backoff" json:"backoff"`
}

// UnmarshalYAML decodes delays from human-readable duration strings
// ("500ms", "2s"), which yaml.v3 does not do for time.Duration on its own.
func (p *RestartPolicy) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		MaxRetries   int     `yaml:"max_retries"`
		InitialDelay string  `yaml:"initial_delay"`
		MaxDelay     string  `yaml:"max_delay"`
		Kind         Backoff `yaml:"backoff"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}

	p.MaxRetries = aux.MaxRetries
	p.Kind = aux.Kind

	if aux.InitialDelay != "" {
		d, err := time.ParseDuration(aux.InitialDelay)
		if err != nil {
			return fmt.Errorf("restart_policy initial_delay: %w", err)
		}
		p.InitialDelay = d
	}
	if aux.MaxDelay != "" {
		d, err := time.ParseDuration(aux.MaxDelay)
		if err != nil {
			return fmt.Errorf("restart_policy max_delay: %w", err)
		}
		p.MaxDelay = d
	}
	return nil
}

// DefaultRestartPolicy is used when a server config omits restart_policy.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Kind:         BackoffExponential,
	}
}

// NextDelay returns the delay to wait after current, applying the policy's
// growth rule and MaxDelay cap.
func (p RestartPolicy) NextDelay(current time.Duration) time.Duration {
	next := current
	switch p.Kind {
	case BackoffFixed:
		// Unchanged.
	case BackoffLinear:
		next = current + p.InitialDelay
	default: // exponential
		next = current * 2
	}
	if p.MaxDelay > 0 && next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}

// ServerConfig describes one MCP server. It is a tagged union selected by
// which fields are present: a command means a process (stdio) server, a URL
// means a stream (SSE) server. Setting both, or neither, is a configuration
// error.
type ServerConfig struct {
	// Process form.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Stream form.
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Common fields.
	TimeoutMS   int                `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Disabled    bool               `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	HealthCheck *HealthCheckPolicy `yaml:"health_check,omitempty" json:"health_check,omitempty"`
	Restart     *RestartPolicy     `yaml:"restart_policy,omitempty" json:"restart_policy,omitempty"`

	// MaxParseFailures, when positive, marks a process transport
	// disconnected after that many consecutive unparsable stdout lines.
	// Zero keeps the default behavior of dropping such lines forever.
	MaxParseFailures int `yaml:"max_parse_failures,omitempty" json:"max_parse_failures,omitempty"`

	// IncludeTools and ExcludeTools filter which discovered tools are
	// bridged into the registry. See BridgeTools.
	IncludeTools []string `yaml:"include_tools,omitempty" json:"include_tools,omitempty"`
	ExcludeTools []string `yaml:"exclude_tools,omitempty" json:"exclude_tools,omitempty"`

	// Namespaced prefixes registered tool names with the server name
	// (mcp_<server>_<tool>). Off by default: tools keep their bare names.
	Namespaced bool `yaml:"namespaced,omitempty" json:"namespaced,omitempty"`
}

// Validate checks that exactly one transport form is configured.
func (c ServerConfig) Validate() error {
	switch {
	case c.Command == "" && c.URL == "":
		return errors.New("server config needs either a command or a url")
	case c.Command != "" && c.URL != "":
		return errors.New("server config must not set both command and url")
	}
	return nil
}

// IsProcess reports whether this config describes a subprocess server.
func (c ServerConfig) IsProcess() bool {
	return c.Command != ""
}

// Timeout returns the per-request timeout, defaulting to 30s.
func (c ServerConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RestartPolicy returns the configured restart policy or the default.
func (c ServerConfig) RestartPolicy() RestartPolicy {
	if c.Restart == nil {
		return DefaultRestartPolicy()
	}
	p := *c.Restart
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.Kind == "" {
		p.Kind = BackoffExponential
	}
	return p
}

// Descriptor converts the config into the transport-construction descriptor
// for its form. The logger on the returned config must be set by the caller.
func (c ServerConfig) Descriptor() (ProcessConfig, StreamConfig) {
	if c.IsProcess() {
		return ProcessConfig{
			Command:          c.Command,
			Args:             c.Args,
			Env:              c.Env,
			MaxParseFailures: c.MaxParseFailures,
		}, StreamConfig{}
	}
	return ProcessConfig{}, StreamConfig{
		URL:     c.URL,
		Headers: c.Headers,
	}
}

// MergeServerConfigs overlays maps of named server configs, later sources
// overriding same-named servers from earlier ones.
func MergeServerConfigs(sources ...map[string]ServerConfig) map[string]ServerConfig {
	merged := make(map[string]ServerConfig)
	for _, src := range sources {
		for name, cfg := range src {
			merged[name] = cfg
		}
	}
	return merged
}

// EnabledServers returns the subset of servers not marked disabled,
// validating each. An invalid config fails the whole set: a typo'd server
// should be fixed, not silently dropped.
func EnabledServers(servers map[string]ServerConfig) (map[string]ServerConfig, error) {
	enabled := make(map[string]ServerConfig, len(servers))
	for name, cfg := range servers {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		if cfg.Disabled {
			continue
		}
		enabled[name] = cfg
	}
	return enabled, nil
}
