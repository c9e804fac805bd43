package llmagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/mesherr"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
)

func TestGenerateNoProviderReturnsError(t *testing.T) {
	a := New("calc.ask", mcpclient.New(), proxy.NewFactory(mcpclient.New()), nil, "", "", ModelParams{})
	_, err := a.NewRequest().User("hi").Generate(context.Background())
	if err != ErrNoProvider {
		t.Fatalf("got %v, want ErrNoProvider", err)
	}
}

func TestGenerateReturnsPlainContentWithNoToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"text":"{\"content\":\"X\",\"tool_calls\":[]}"}]}}`))
	}))
	defer srv.Close()

	client := mcpclient.New()
	a := New("calc.ask", client, proxy.NewFactory(client), nil, "", "", ModelParams{MaxIterations: 3}).(*agent)
	a.SetProvider(srv.URL, "generate", "gpt")

	got, err := a.NewRequest().User("hi").Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got != "X" {
		t.Fatalf("got %q, want X", got)
	}
}

func TestGenerateExecutesToolCallThenReturnsFinalText(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"text":"{\"tool_calls\":[{\"id\":\"1\",\"function\":{\"name\":\"search\",\"arguments\":\"{\\\"q\\\":\\\"X\\\"}\"}}]}"}]}}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":{"content":[{"text":"cannot search"}]}}`))
	}))
	defer srv.Close()

	client := mcpclient.New()
	factory := proxy.NewFactory(client)

	local := localFunc(func(ctx context.Context, name string, args map[string]any) (map[string]any, bool, error) {
		if name == "search" {
			return nil, true, &mesherr.ToolUnavailable{Capability: "search"}
		}
		return nil, false, nil
	})

	a := New("calc.ask", client, factory, local, "", "", ModelParams{MaxIterations: 3}).(*agent)
	a.SetProvider(srv.URL, "generate", "gpt")
	a.SetTools([]ToolInfo{{Name: "search", Description: "web search", Capability: "search"}})

	got, err := a.NewRequest().User("find X").Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got != "cannot search" {
		t.Fatalf("got %q, want %q", got, "cannot search")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

type localFunc func(ctx context.Context, name string, args map[string]any) (map[string]any, bool, error)

func (f localFunc) DispatchLocal(ctx context.Context, name string, args map[string]any) (map[string]any, bool, error) {
	return f(ctx, name, args)
}

func TestExtractJSONFindsFencedBlock(t *testing.T) {
	text := "here you go:\n```json\n{\"a\":1}\n```\nthanks"
	v, err := extractJSON(text)
	if err != nil {
		t.Fatalf("extractJSON returned error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["a"].(float64) != 1 {
		t.Fatalf("got %#v", v)
	}
}

func TestExtractJSONFindsLastBalancedObject(t *testing.T) {
	text := `some noise {"ignored":true} more noise {"a":2}`
	v, err := extractJSON(text)
	if err != nil {
		t.Fatalf("extractJSON returned error: %v", err)
	}
	m := v.(map[string]any)
	if m["a"].(float64) != 2 {
		t.Fatalf("got %#v, want last object", v)
	}
}

func TestParseToolCallsHandlesOpenAIStyleArguments(t *testing.T) {
	raw := []any{
		map[string]any{
			"id": "1",
			"function": map[string]any{
				"name":      "search",
				"arguments": `{"q":"X"}`,
			},
		},
	}
	calls, err := parseToolCalls(raw)
	if err != nil {
		t.Fatalf("parseToolCalls returned error: %v", err)
	}
	if len(calls) != 1 || calls[0].Args["q"] != "X" {
		t.Fatalf("got %#v", calls)
	}
}

func TestParseToolCallsHandlesAnthropicStyleInput(t *testing.T) {
	raw := []any{
		map[string]any{"id": "1", "name": "search", "input": map[string]any{"q": "X"}},
	}
	calls, err := parseToolCalls(raw)
	if err != nil {
		t.Fatalf("parseToolCalls returned error: %v", err)
	}
	if len(calls) != 1 || calls[0].Args["q"] != "X" {
		t.Fatalf("got %#v", calls)
	}
}

func TestParseToolCallsRejectsAmbiguousArguments(t *testing.T) {
	raw := []any{
		map[string]any{"id": "1", "function": map[string]any{"name": "search", "arguments": 42}},
	}
	if _, err := parseToolCalls(raw); err == nil {
		t.Fatal("expected error for non-string non-object arguments")
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
