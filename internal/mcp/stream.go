package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/tmaxmax/go-sse"

	"github.com/brindle/mcprelay/internal/httpkit"
)

// defaultMessagePath is the POST fallback used until the server advertises
// its own write endpoint through an "endpoint" event.
const defaultMessagePath = "/messages"

// StreamConfig configures a stream transport that communicates with a remote
// MCP server over an HTTP Server-Sent-Events channel.
type StreamConfig struct {
	// URL is the SSE endpoint. Scheme must be http or https.
	URL string

	// Headers are sent with the SSE GET and every POST. Values pass
	// through the ${VAR} substitution patterns once, at connect time.
	Headers map[string]string

	// HTTPClient overrides the httpkit-constructed client. Intended for
	// tests; nil uses the shared defaults.
	HTTPClient *http.Client

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// StreamTransport talks to an MCP server over SSE. The server pushes
// responses as "message" events on a long-lived GET; the client posts
// requests to a write endpoint the server advertises in an "endpoint" event
// shortly after connecting.
type StreamTransport struct {
	baseURL    *url.URL
	headers    map[string]string
	postClient *http.Client
	logger     *slog.Logger

	responses chan *Response
	connected atomic.Bool
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu      sync.RWMutex
	postURL string
}

// NewStreamTransport opens the SSE connection and starts the event reader.
// It returns an error if the URL is not http(s), a header fails to expand,
// or the stream cannot be opened.
func NewStreamTransport(cfg StreamConfig) (*StreamTransport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stream URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("stream URL %s: scheme must be http or https", cfg.URL)
	}

	headers, err := ExpandMap(cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("expand headers for %s: %w", cfg.URL, err)
	}

	streamClient := cfg.HTTPClient
	postClient := cfg.HTTPClient
	if cfg.HTTPClient == nil {
		// The SSE read side must not carry an overall timeout.
		streamClient = httpkit.NewClient(httpkit.WithTimeout(0))
		postClient = httpkit.NewClient()
	}

	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open SSE stream %s: %w", cfg.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 1<<20)
		cancel()
		return nil, fmt.Errorf("SSE stream %s returned %d: %s", cfg.URL, resp.StatusCode, body)
	}

	t := &StreamTransport{
		baseURL:    base,
		headers:    headers,
		postClient: postClient,
		logger:     logger,
		responses:  make(chan *Response, responseQueueSize),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	t.connected.Store(true)

	go t.readEvents(resp)

	logger.Info("SSE stream opened", "url", cfg.URL)
	return t, nil
}

// readEvents consumes the SSE stream until it errors or closes, then flips
// the transport disconnected.
func (t *StreamTransport) readEvents(resp *http.Response) {
	defer func() {
		t.connected.Store(false)
		resp.Body.Close()
	}()

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.logger.Debug("SSE stream closed", "error", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			t.setEndpoint(ev.Data)
		case "message", "":
			var r Response
			if err := json.Unmarshal([]byte(ev.Data), &r); err != nil {
				t.logger.Debug("dropping unparsable SSE message",
					"data", ev.Data,
					"error", err,
				)
				continue
			}
			select {
			case t.responses <- &r:
			case <-t.done:
				return
			}
		default:
			t.logger.Debug("ignoring SSE event", "type", ev.Type)
		}
	}
}

// setEndpoint resolves the server-advertised write path against the base URL
// and routes all subsequent POSTs to it.
func (t *StreamTransport) setEndpoint(raw string) {
	ref, err := url.Parse(raw)
	if err != nil {
		t.logger.Warn("ignoring malformed endpoint event", "data", raw, "error", err)
		return
	}

	target := t.baseURL.ResolveReference(ref).String()
	t.mu.Lock()
	t.postURL = target
	t.mu.Unlock()

	t.logger.Debug("discovered message endpoint", "url", target)
}

// postTarget returns the discovered write endpoint, or the /messages
// fallback when the server has not advertised one yet.
func (t *StreamTransport) postTarget() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.postURL != "" {
		return t.postURL
	}
	return t.baseURL.ResolveReference(&url.URL{Path: defaultMessagePath}).String()
}

// SendRequest posts a request to the write endpoint.
func (t *StreamTransport) SendRequest(ctx context.Context, req *Request) error {
	return t.post(ctx, req)
}

// SendNotification posts a notification to the write endpoint.
func (t *StreamTransport) SendNotification(ctx context.Context, notif *Notification) error {
	return t.post(ctx, notif)
}

// post serializes msg and issues one HTTP POST. A non-2xx status is a
// transport-level error; the response body is only read for diagnostics.
func (t *StreamTransport) post(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	target := t.postTarget()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create POST request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.postClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("POST to %s: %w", target, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 1<<20)
		return fmt.Errorf("MCP server returned %d: %s", httpResp.StatusCode, errBody)
	}
	return nil
}

// TryReceive drains one parsed response if available, without blocking.
func (t *StreamTransport) TryReceive() (*Response, bool) {
	select {
	case resp := <-t.responses:
		return resp, true
	default:
		return nil, false
	}
}

// Connected reports whether the SSE stream is still open.
func (t *StreamTransport) Connected() bool {
	return t.connected.Load()
}

// Close cancels the SSE stream. Idempotent.
func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.done)
		t.cancel()
	})
	return nil
}
