package httpkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func uaRecordingServer(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	t.Cleanup(srv.Close)
	return srv, &ua
}

func TestNewClient_DefaultUserAgent(t *testing.T) {
	srv, ua := uaRecordingServer(t)

	resp, err := NewClient().Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if !strings.HasPrefix(*ua, "mcprelay/") {
		t.Errorf("User-Agent = %q, want mcprelay/ prefix", *ua)
	}
}

func TestNewClient_WithUserAgent(t *testing.T) {
	srv, ua := uaRecordingServer(t)

	resp, err := NewClient(WithUserAgent("custom/1.0")).Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if *ua != "custom/1.0" {
		t.Errorf("User-Agent = %q, want custom/1.0", *ua)
	}
}

func TestNewClient_ExplicitHeaderWins(t *testing.T) {
	srv, ua := uaRecordingServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "caller/2.0")
	resp, err := NewClient().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if *ua != "caller/2.0" {
		t.Errorf("User-Agent = %q, want caller/2.0", *ua)
	}
}

func TestNewClient_WithTimeout(t *testing.T) {
	c := NewClient(WithTimeout(0))
	if c.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0 (disabled for streaming)", c.Timeout)
	}

	c = NewClient(WithTimeout(5 * time.Second))
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", c.Timeout)
	}
}

func TestDrainAndClose_NilSafe(t *testing.T) {
	DrainAndClose(nil, 1024)
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("upstream exploded"))
	if got := ReadErrorBody(body, 1024); got != "upstream exploded" {
		t.Errorf("ReadErrorBody = %q", got)
	}

	if got := ReadErrorBody(nil, 1024); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}

	long := io.NopCloser(strings.NewReader(strings.Repeat("x", 100)))
	if got := ReadErrorBody(long, 10); len(got) != 10 {
		t.Errorf("limited read returned %d bytes, want 10", len(got))
	}
}
