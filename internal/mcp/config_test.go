package mcp

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{name: "process form", cfg: ServerConfig{Command: "npx"}},
		{name: "stream form", cfg: ServerConfig{URL: "https://example.com/sse"}},
		{name: "neither", cfg: ServerConfig{}, wantErr: true},
		{name: "both", cfg: ServerConfig{Command: "npx", URL: "https://example.com"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Timeout(t *testing.T) {
	if got := (ServerConfig{}).Timeout(); got != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", got)
	}
	if got := (ServerConfig{TimeoutMS: 50}).Timeout(); got != 50*time.Millisecond {
		t.Errorf("timeout = %v, want 50ms", got)
	}
}

func TestServerConfig_UnionDecode(t *testing.T) {
	raw := `
fs:
  command: npx
  args: ["-y", "@modelcontextprotocol/server-filesystem"]
  env:
    HOME: /tmp
  timeout_ms: 5000
remote:
  url: https://api.example.com/sse
  headers:
    Authorization: Bearer ${API_KEY}
  disabled: true
  health_check:
    interval_s: 15
    timeout_s: 5
    max_failures: 2
  restart_policy:
    max_retries: 4
    initial_delay: 500ms
    max_delay: 10s
    backoff: linear
`
	var servers map[string]ServerConfig
	if err := yaml.Unmarshal([]byte(raw), &servers); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	fs := servers["fs"]
	if !fs.IsProcess() {
		t.Error("fs should decode as process form")
	}
	if fs.Timeout() != 5*time.Second {
		t.Errorf("fs timeout = %v, want 5s", fs.Timeout())
	}

	remote := servers["remote"]
	if remote.IsProcess() {
		t.Error("remote should decode as stream form")
	}
	if !remote.Disabled {
		t.Error("remote should be disabled")
	}
	if remote.HealthCheck == nil || remote.HealthCheck.MaxFailures != 2 {
		t.Errorf("health check = %+v", remote.HealthCheck)
	}
	if remote.Restart == nil || remote.Restart.Kind != BackoffLinear {
		t.Errorf("restart policy = %+v", remote.Restart)
	}
	if remote.Restart.InitialDelay != 500*time.Millisecond {
		t.Errorf("initial delay = %v, want 500ms", remote.Restart.InitialDelay)
	}
}

func TestRestartPolicy_NextDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  RestartPolicy
		current time.Duration
		want    time.Duration
	}{
		{
			name:    "fixed stays put",
			policy:  RestartPolicy{Kind: BackoffFixed, InitialDelay: time.Second, MaxDelay: 30 * time.Second},
			current: time.Second,
			want:    time.Second,
		},
		{
			name:    "linear adds initial",
			policy:  RestartPolicy{Kind: BackoffLinear, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
			current: 4 * time.Second,
			want:    6 * time.Second,
		},
		{
			name:    "linear capped",
			policy:  RestartPolicy{Kind: BackoffLinear, InitialDelay: 10 * time.Second, MaxDelay: 12 * time.Second},
			current: 10 * time.Second,
			want:    12 * time.Second,
		},
		{
			name:    "exponential doubles",
			policy:  RestartPolicy{Kind: BackoffExponential, InitialDelay: time.Second, MaxDelay: 30 * time.Second},
			current: 2 * time.Second,
			want:    4 * time.Second,
		},
		{
			name:    "exponential capped",
			policy:  RestartPolicy{Kind: BackoffExponential, InitialDelay: time.Second, MaxDelay: 3 * time.Second},
			current: 2 * time.Second,
			want:    3 * time.Second,
		},
		{
			name:    "empty kind defaults to exponential",
			policy:  RestartPolicy{InitialDelay: time.Second, MaxDelay: 30 * time.Second},
			current: time.Second,
			want:    2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.NextDelay(tt.current); got != tt.want {
				t.Errorf("NextDelay(%v) = %v, want %v", tt.current, got, tt.want)
			}
		})
	}
}

func TestHealthCheckPolicy_Defaults(t *testing.T) {
	p := HealthCheckPolicy{}
	if p.Interval() != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", p.Interval())
	}
	if p.ProbeTimeout() != 10*time.Second {
		t.Errorf("ProbeTimeout() = %v, want 10s", p.ProbeTimeout())
	}
	if p.FailureBudget() != 3 {
		t.Errorf("FailureBudget() = %d, want 3", p.FailureBudget())
	}

	p = HealthCheckPolicy{IntervalSec: 15, TimeoutSec: 5, MaxFailures: 2}
	if p.Interval() != 15*time.Second || p.ProbeTimeout() != 5*time.Second || p.FailureBudget() != 2 {
		t.Errorf("configured policy = %v/%v/%d", p.Interval(), p.ProbeTimeout(), p.FailureBudget())
	}
}

func TestMergeServerConfigs(t *testing.T) {
	merged := MergeServerConfigs(
		map[string]ServerConfig{
			"a": {Command: "first-a"},
			"b": {Command: "first-b"},
		},
		map[string]ServerConfig{
			"b": {Command: "second-b"},
			"c": {URL: "https://example.com"},
		},
	)

	if len(merged) != 3 {
		t.Fatalf("merged %d servers, want 3", len(merged))
	}
	if merged["a"].Command != "first-a" {
		t.Errorf("a = %q", merged["a"].Command)
	}
	if merged["b"].Command != "second-b" {
		t.Errorf("b = %q, later source should win", merged["b"].Command)
	}
}

func TestEnabledServers(t *testing.T) {
	enabled, err := EnabledServers(map[string]ServerConfig{
		"on":  {Command: "run"},
		"off": {Command: "run", Disabled: true},
	})
	if err != nil {
		t.Fatalf("EnabledServers: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("enabled %d servers, want 1", len(enabled))
	}
	if _, ok := enabled["on"]; !ok {
		t.Error("expected server 'on' in enabled set")
	}
}

func TestEnabledServers_InvalidConfig(t *testing.T) {
	_, err := EnabledServers(map[string]ServerConfig{
		"bad": {},
	})
	if err == nil {
		t.Fatal("expected error for config with neither command nor url")
	}
}
