package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// processStopWait bounds how long Close waits for the subprocess to exit
// after stdin is closed before force-killing it.
const processStopWait = 5 * time.Second

// ProcessConfig configures a process transport that communicates with a
// subprocess over stdin/stdout using newline-delimited JSON-RPC.
type ProcessConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess,
	// appended to the current process environment. Values pass through
	// the ${VAR} substitution patterns once, at spawn time.
	Env map[string]string

	// MaxParseFailures, when positive, marks the transport disconnected
	// after that many consecutive unparsable stdout lines. Zero disables
	// the threshold: bad lines are logged and dropped forever.
	MaxParseFailures int

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// ProcessTransport runs an MCP server as a subprocess. A background reader
// parses each stdout line as a JSON-RPC response into a bounded queue, and a
// second reader drains stderr for diagnostics. Requests and notifications
// are written one per line to stdin.
type ProcessTransport struct {
	logger *slog.Logger

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	responses chan *Response
	done      chan struct{}

	connected atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewProcessTransport spawns the configured subprocess and starts its
// reader goroutines. The returned transport is connected and ready for
// writes; a spawn failure is returned immediately.
func NewProcessTransport(cfg ProcessConfig) (*ProcessTransport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env, err := ExpandMap(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("expand env for %s: %w", cfg.Command, err)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	// Stderr is diagnostic only — never part of the protocol.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stderr.Close()
		stdout.Close()
		stdin.Close()
		return nil, fmt.Errorf("start subprocess %s: %w", cfg.Command, err)
	}

	t := &ProcessTransport{
		logger:    logger,
		cmd:       cmd,
		stdin:     stdin,
		responses: make(chan *Response, responseQueueSize),
		done:      make(chan struct{}),
	}
	t.connected.Store(true)

	go t.readResponses(stdout, cfg.MaxParseFailures)
	go t.drainStderr(stderr)

	logger.Info("MCP subprocess started",
		"command", cfg.Command,
		"pid", cmd.Process.Pid,
	)
	return t, nil
}

// readResponses parses stdout lines into the response queue until EOF or a
// read error, then flips the transport disconnected.
func (t *ProcessTransport) readResponses(stdout io.Reader, maxParseFailures int) {
	defer t.connected.Store(false)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20) // 1 MiB for large responses

	parseFailures := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			parseFailures++
			t.logger.Debug("dropping unparsable line from MCP subprocess",
				"line", string(line),
				"error", err,
			)
			if maxParseFailures > 0 && parseFailures >= maxParseFailures {
				t.logger.Warn("too many unparsable lines, marking transport disconnected",
					"failures", parseFailures,
				)
				return
			}
			continue
		}
		parseFailures = 0

		// A full queue blocks the reader rather than growing memory;
		// Close unblocks it via done.
		select {
		case t.responses <- &resp:
		case <-t.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug("MCP subprocess stdout closed", "error", err)
	}
}

// drainStderr logs stderr lines at debug level.
func (t *ProcessTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

// SendRequest writes a request as one line to the subprocess's stdin.
// The context is unused: a pipe write either completes promptly or fails.
func (t *ProcessTransport) SendRequest(_ context.Context, req *Request) error {
	return t.writeLine(req)
}

// SendNotification writes a notification as one line to stdin.
func (t *ProcessTransport) SendNotification(_ context.Context, notif *Notification) error {
	return t.writeLine(notif)
}

// writeLine serializes msg and writes it newline-terminated under the write
// lock, so concurrent senders never interleave partial messages.
func (t *ProcessTransport) writeLine(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.connected.Store(false)
		return fmt.Errorf("write to subprocess stdin: %w", err)
	}
	return nil
}

// TryReceive drains one parsed response if available, without blocking.
func (t *ProcessTransport) TryReceive() (*Response, bool) {
	select {
	case resp := <-t.responses:
		return resp, true
	default:
		return nil, false
	}
}

// Connected reports whether the subprocess's stdout is still open.
func (t *ProcessTransport) Connected() bool {
	return t.connected.Load()
}

// Close shuts down stdin and terminates the subprocess. It is idempotent,
// waits at most processStopWait for a graceful exit, and then kills.
func (t *ProcessTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.done)

		t.writeMu.Lock()
		_ = t.stdin.Close()
		t.writeMu.Unlock()

		done := make(chan error, 1)
		go func() { done <- t.cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(processStopWait):
			t.logger.Warn("MCP subprocess did not exit, killing",
				"pid", t.cmd.Process.Pid,
			)
			_ = t.cmd.Process.Kill()
			<-done
		}
	})
	return t.closeErr
}
