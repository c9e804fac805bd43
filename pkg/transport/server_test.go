package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
	"github.com/mcpmesh/agent-sdk-go/pkg/tool"
	"github.com/mcpmesh/agent-sdk-go/pkg/wrapper"
)

type echoTool struct{}

func (echoTool) Name() string          { return "echo" }
func (echoTool) Description() string   { return "echoes input" }
func (echoTool) IsLongRunning() bool    { return false }
func (echoTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (echoTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	return args, nil
}

type fakeChecker struct{ running bool }

func (f fakeChecker) Running() bool { return f.running }

func newTestServer(t *testing.T, running bool) *Server {
	t.Helper()
	client := mcpclient.New()
	factory := proxy.NewFactory(client)
	wreg := wrapper.NewRegistry(client, factory)

	w := wrapper.New("calc.echo", "echo", "echoes input", map[string]any{"type": "object"}, echoTool{}, nil, 0)
	w.SetMetadata(wrapper.ToolMetadata{FunctionName: "echo", Version: "1.0.0", Tags: []string{"demo"}})
	if err := wreg.Register(w); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	return NewServer(Config{Host: "127.0.0.1", Port: 0}, "calc-agent-abcd1234", "calc-agent", wreg, fakeChecker{running: running})
}

func TestHealthReportsOKWhenRunning(t *testing.T) {
	s := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "healthy" || body["agent"] != "calc-agent" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestHealthReportsUnavailableWhenNotRunning(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHeadHealthReturnsNoBody(t *testing.T) {
	s := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodHead, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body for HEAD, got %q", rec.Body.String())
	}
}

func TestMetadataListsRegisteredCapability(t *testing.T) {
	s := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/metadata", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		AgentID      string                     `json:"agent_id"`
		Capabilities map[string]capabilityEntry `json:"capabilities"`
		Timestamp    string                     `json:"timestamp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.AgentID != "calc-agent-abcd1234" {
		t.Fatalf("unexpected agent_id: %q", body.AgentID)
	}
	entry, ok := body.Capabilities["echo"]
	if !ok {
		t.Fatal("expected \"echo\" capability in metadata")
	}
	if entry.FunctionName != "echo" || entry.Version != "1.0.0" {
		t.Fatalf("unexpected capability entry: %+v", entry)
	}
	if body.Timestamp == "" {
		t.Fatal("expected non-empty timestamp")
	}
}
