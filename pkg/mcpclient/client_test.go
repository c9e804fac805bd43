package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallReturnsIntegerResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("server: bad request: %v", err)
		}
		if req.Method != "tools/call" {
			t.Fatalf("method = %q, want tools/call", req.Method)
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"text":"6"}]}}`, req.ID)
	}))
	defer srv.Close()

	c := New()
	got, err := c.Call(context.Background(), srv.URL, "multiply", map[string]any{"x": 2, "y": 3}, ReturnInt)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if got.(int64) != 6 {
		t.Fatalf("got %v, want 6", got)
	}
}

func TestCallFlattensSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message\nid: 1\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"content\":[{\"text\":\"\\\"ok\\\"\"}]}}\n\n")
	}))
	defer srv.Close()

	c := New()
	got, err := c.Call(context.Background(), srv.URL, "ping", nil, ReturnAny)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %v, want \"ok\"", got)
	}
}

func TestCallSurfacesJSONRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"boom"}}`)
	}))
	defer srv.Close()

	c := New()
	_, err := c.Call(context.Background(), srv.URL, "broken", nil, ReturnAny)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	tce, ok := err.(*ToolCallError)
	if !ok {
		t.Fatalf("got %T, want *ToolCallError", err)
	}
	if tce.Message != "boom" {
		t.Fatalf("message = %q, want boom", tce.Message)
	}
}

func TestCallSurfacesNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "kaboom")
	}))
	defer srv.Close()

	c := New()
	_, err := c.Call(context.Background(), srv.URL, "broken", nil, ReturnAny)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestListToolsParsesToolList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"search","description":"search docs"}]}}`)
	}))
	defer srv.Close()

	c := New()
	tools, err := c.ListTools(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("ListTools returned error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("got %+v", tools)
	}
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	var seen []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &req)
		seen = append(seen, req.ID)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"text":"\"ok\""}]}}`, req.ID)
	}))
	defer srv.Close()

	c := New()
	for i := 0; i < 3; i++ {
		if _, err := c.Call(context.Background(), srv.URL, "noop", nil, ReturnAny); err != nil {
			t.Fatalf("Call %d returned error: %v", i, err)
		}
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("ids not monotonic: %v", seen)
		}
	}
}
