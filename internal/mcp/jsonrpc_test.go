package mcp

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRequest_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{
			name: "with params",
			req:  NewRequest("1", "tools/call", map[string]any{"name": "echo"}),
		},
		{
			name: "without params",
			req:  NewRequest("2", "tools/list", nil),
		},
		{
			name: "null params",
			req:  &Request{JSONRPC: "2.0", ID: "3", Method: "initialize"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.req)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			var got Request
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			if got.JSONRPC != "2.0" {
				t.Errorf("jsonrpc = %q, want %q", got.JSONRPC, "2.0")
			}
			if got.ID != tt.req.ID {
				t.Errorf("id = %q, want %q", got.ID, tt.req.ID)
			}
			if got.Method != tt.req.Method {
				t.Errorf("method = %q, want %q", got.Method, tt.req.Method)
			}
		})
	}
}

func TestRequest_OmitsAbsentParams(t *testing.T) {
	data, err := json.Marshal(NewRequest("7", "tools/list", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := m["params"]; present {
		t.Errorf("params should be omitted when nil, got %s", data)
	}
}

func TestResponse_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "result",
			raw:  `{"jsonrpc":"2.0","id":"1","result":{"tools":[]}}`,
		},
		{
			name: "error",
			raw:  `{"jsonrpc":"2.0","id":"2","error":{"code":-32601,"message":"Method not found"}}`,
		},
		{
			name: "error with data",
			raw:  `{"jsonrpc":"2.0","id":"3","error":{"code":-32000,"message":"boom","data":{"detail":"stack"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			if err := json.Unmarshal([]byte(tt.raw), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			data, err := json.Marshal(&resp)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			var again Response
			if err := json.Unmarshal(data, &again); err != nil {
				t.Fatalf("re-unmarshal: %v", err)
			}

			if again.ID != resp.ID {
				t.Errorf("id = %q, want %q", again.ID, resp.ID)
			}
			if (again.Error == nil) != (resp.Error == nil) {
				t.Fatalf("error presence changed: %v vs %v", again.Error, resp.Error)
			}
			if resp.Error != nil && !reflect.DeepEqual(again.Error.Code, resp.Error.Code) {
				t.Errorf("error code = %d, want %d", again.Error.Code, resp.Error.Code)
			}
		})
	}
}

func TestNotification_HasNoID(t *testing.T) {
	data, err := json.Marshal(NewNotification("notifications/initialized", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := m["id"]; present {
		t.Errorf("notification must not carry an id, got %s", data)
	}
	if m["method"] != "notifications/initialized" {
		t.Errorf("method = %v", m["method"])
	}
}

func TestRPCError_Error(t *testing.T) {
	err := &RPCError{Code: -32601, Message: "Method not found"}
	want := "jsonrpc error -32601: Method not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
