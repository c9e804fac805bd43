// Package trace implements the runtime's per-invocation trace context: a
// 128-bit trace id, a 64-bit span id, the parent span, start time, and the
// set of headers propagated across a mesh call. Carried on context.Context
// rather than a thread-local, since that is the idiomatic Go analogue of a
// "scoped container that is explicitly cleared on request boundaries" —
// the value simply falls out of scope when the request's context is done.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
)

// Header names used for inbound extraction and outbound propagation.
const (
	HeaderTraceID    = "X-Trace-ID"
	HeaderParentSpan = "X-Parent-Span"
)

// Argument keys used when a caller cannot inject HTTP headers (§6). All three
// are stripped from the argument map before user code sees it.
const (
	ArgTraceID    = "_trace_id"
	ArgParentSpan = "_parent_span"
	ArgHeaders    = "_mesh_headers"
)

// DefaultPropagationHeaders is the default set of header names captured at
// the request boundary and forwarded on outbound calls, beyond the trace
// headers themselves.
var DefaultPropagationHeaders = []string{HeaderTraceID, HeaderParentSpan}

// Context is the per-invocation trace context.
type Context struct {
	TraceID    string // 32 hex chars (128 bit)
	SpanID     string // 16 hex chars (64 bit)
	ParentSpan string
	Headers    map[string]string // propagated headers, captured at the boundary
}

type ctxKey struct{}

// New generates a fresh root trace context: a random trace id, a random
// span id, and no parent.
func New() *Context {
	return &Context{
		TraceID: randomHex(16),
		SpanID:  randomHex(8),
	}
}

// Child derives a new span under the same trace, with the current span as
// parent. Used each time a tool wrapper opens its own span within a call
// that already carries a trace context.
func (c *Context) Child() *Context {
	if c == nil {
		return New()
	}
	return &Context{
		TraceID:    c.TraceID,
		SpanID:     randomHex(8),
		ParentSpan: c.SpanID,
		Headers:    c.Headers,
	}
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// fixed but clearly-marked value rather than panicking mid-request.
		return fmt.Sprintf("%0*x", n*2, 0)
	}
	return hex.EncodeToString(buf)
}

// WithContext attaches tc to ctx, returning a derived context. This is the
// Go equivalent of "storing in a scoped container" — the value is discarded
// automatically when ctx goes out of scope at the end of the request.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext retrieves the trace context attached to ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(*Context)
	return tc, ok
}

// ExtractFromHeaders builds a trace context from inbound HTTP headers,
// capturing DefaultPropagationHeaders (plus any extra names given) into the
// context's Headers map. Returns ok=false when no trace header is present,
// so the caller can fall back to argument-map extraction.
func ExtractFromHeaders(h http.Header, extraPropagated ...string) (*Context, bool) {
	traceID := h.Get(HeaderTraceID)
	if traceID == "" {
		return nil, false
	}

	tc := &Context{
		TraceID:    traceID,
		SpanID:     randomHex(8),
		ParentSpan: h.Get(HeaderParentSpan),
		Headers:    map[string]string{},
	}

	names := append(append([]string{}, DefaultPropagationHeaders...), extraPropagated...)
	for _, name := range names {
		if v := h.Get(name); v != "" {
			tc.Headers[name] = v
		}
	}
	return tc, true
}

// ExtractFromArgs builds a trace context from the `_trace_id`/`_parent_span`
// argument-map fields the tool wrapper sees when the invoker could not
// inject headers. args-supplied IDs win over any already-inherited context,
// since goroutine/thread pools reuse workers. Mutates args to remove the
// three mesh-reserved keys (§4.5 step 1) before the caller reads user params.
func ExtractFromArgs(args map[string]any) (*Context, bool) {
	traceID, _ := args[ArgTraceID].(string)
	parentSpan, _ := args[ArgParentSpan].(string)

	var headers map[string]string
	if raw, ok := args[ArgHeaders].(map[string]any); ok {
		headers = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	delete(args, ArgTraceID)
	delete(args, ArgParentSpan)
	delete(args, ArgHeaders)

	if traceID == "" {
		return nil, false
	}

	return &Context{
		TraceID:    traceID,
		SpanID:     randomHex(8),
		ParentSpan: parentSpan,
		Headers:    headers,
	}, true
}

// OutboundHeaders returns the HTTP headers C2 should set on an outbound
// call so that the trace propagates to the callee: the trace/span ids
// themselves plus every captured propagation header. HTTP headers already
// present in Headers take precedence over nothing else here — they were
// already reconciled (HTTP taking precedence over `_mesh_headers`) during
// extraction.
func (c *Context) OutboundHeaders() http.Header {
	h := http.Header{}
	if c == nil {
		return h
	}
	h.Set(HeaderTraceID, c.TraceID)
	if c.SpanID != "" {
		h.Set(HeaderParentSpan, c.SpanID)
	}
	for k, v := range c.Headers {
		if h.Get(k) == "" {
			h.Set(k, v)
		}
	}
	return h
}
