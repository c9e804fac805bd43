package trace

import (
	"net/http"
	"testing"
)

func TestExtractFromArgsRoundTripsParentSpan(t *testing.T) {
	args := map[string]any{
		ArgTraceID:    "deadbeefdeadbeefdeadbeefdeadbeef",
		ArgParentSpan: "cafebabecafebabe",
		"name":        "alice",
	}

	tc, ok := ExtractFromArgs(args)
	if !ok {
		t.Fatal("expected a trace context to be extracted")
	}
	if tc.ParentSpan != "cafebabecafebabe" {
		t.Fatalf("ParentSpan = %q, want %q", tc.ParentSpan, "cafebabecafebabe")
	}
	if tc.TraceID != "deadbeefdeadbeefdeadbeefdeadbeef" {
		t.Fatalf("TraceID = %q, want the inbound trace id", tc.TraceID)
	}
}

func TestExtractFromArgsStripsMeshReservedKeys(t *testing.T) {
	args := map[string]any{
		ArgTraceID:    "deadbeefdeadbeefdeadbeefdeadbeef",
		ArgParentSpan: "cafebabecafebabe",
		ArgHeaders:    map[string]any{"X-Custom": "v"},
		"name":        "alice",
	}

	if _, ok := ExtractFromArgs(args); !ok {
		t.Fatal("expected a trace context to be extracted")
	}

	for _, key := range []string{ArgTraceID, ArgParentSpan, ArgHeaders} {
		if _, present := args[key]; present {
			t.Errorf("expected %q to be stripped from args", key)
		}
	}
	if args["name"] != "alice" {
		t.Error("expected user-supplied params to survive extraction")
	}
}

func TestExtractFromArgsNoTraceIDReturnsNotOK(t *testing.T) {
	args := map[string]any{"name": "alice"}

	_, ok := ExtractFromArgs(args)
	if ok {
		t.Fatal("expected ok=false when no trace id is present")
	}
}

func TestExtractFromHeadersCapturesParentSpan(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderTraceID, "deadbeefdeadbeefdeadbeefdeadbeef")
	h.Set(HeaderParentSpan, "cafebabecafebabe")

	tc, ok := ExtractFromHeaders(h)
	if !ok {
		t.Fatal("expected a trace context to be extracted")
	}
	if tc.ParentSpan != "cafebabecafebabe" {
		t.Fatalf("ParentSpan = %q, want %q", tc.ParentSpan, "cafebabecafebabe")
	}
}

func TestChildDerivesFromParentSpan(t *testing.T) {
	root := New()
	child := root.Child()

	if child.TraceID != root.TraceID {
		t.Error("expected child to keep the same trace id")
	}
	if child.ParentSpan != root.SpanID {
		t.Error("expected child's ParentSpan to be the root's span id")
	}
	if child.SpanID == root.SpanID {
		t.Error("expected child to get a fresh span id")
	}
}
