// Package wrapper implements the wrapper registry (C4) and the tool
// wrapper's dispatch path (C5): the authoritative funcId -> ToolWrapper map,
// composite-key dependency/LLM-slot updates, and the invocation logic that
// marshals arguments, injects resolved proxies, and runs user code.
package wrapper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mcpmesh/agent-sdk-go/pkg/llmagent"
	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/mesherr"
	"github.com/mcpmesh/agent-sdk-go/pkg/observability"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
	"github.com/mcpmesh/agent-sdk-go/pkg/tool"
	meshtrace "github.com/mcpmesh/agent-sdk-go/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// dispatchTimeout bounds the async await in C5 (§4.5 step 4, §5).
const dispatchTimeout = 30 * time.Second

// ToolWrapper is one per @Tool method: immutable identity and schema, plus
// two fixed-length mutable slot arrays updated atomically by the event
// processor and read by Dispatch.
type ToolWrapper struct {
	FuncID      string
	Capability  string
	Description string
	Schema      map[string]any
	Metadata    ToolMetadata

	impl     tool.CallableTool
	depHints []mcpclient.ReturnType

	deps []atomic.Pointer[proxy.Proxy]
	llms []atomic.Pointer[llmagent.Agent]
}

// New builds a ToolWrapper. depHints has one entry per dependency slot (the
// return-type hint used when C4 asks C3 for that slot's proxy); numLLMs is
// the fixed size of the LLM-slot array.
func New(funcID, capability, description string, schema map[string]any, impl tool.CallableTool, depHints []mcpclient.ReturnType, numLLMs int) *ToolWrapper {
	w := &ToolWrapper{
		FuncID:      funcID,
		Capability:  capability,
		Description: description,
		Schema:      schema,
		impl:        impl,
		depHints:    depHints,
		deps:        make([]atomic.Pointer[proxy.Proxy], len(depHints)),
		llms:        make([]atomic.Pointer[llmagent.Agent], numLLMs),
	}
	return w
}

// DepHint returns the declared return-type hint for dependency slot i.
func (w *ToolWrapper) DepHint(i int) mcpclient.ReturnType {
	if i < 0 || i >= len(w.depHints) {
		return mcpclient.ReturnAny
	}
	return w.depHints[i]
}

// NumDeps and NumLLMs report the wrapper's fixed slot-array sizes.
func (w *ToolWrapper) NumDeps() int { return len(w.deps) }
func (w *ToolWrapper) NumLLMs() int { return len(w.llms) }

// UpdateDependency atomically writes a resolved proxy into slot i.
func (w *ToolWrapper) UpdateDependency(i int, p proxy.Proxy) {
	if i < 0 || i >= len(w.deps) {
		return
	}
	w.deps[i].Store(&p)
}

// ClearDependency resets slot i to null (unresolved or withdrawn). The
// invariant requires this to happen before the next dispatch observes the
// availability flip, which the atomic store guarantees.
func (w *ToolWrapper) ClearDependency(i int) {
	if i < 0 || i >= len(w.deps) {
		return
	}
	w.deps[i].Store(nil)
}

// UpdateLLM atomically writes a resolved LLM agent into slot j.
func (w *ToolWrapper) UpdateLLM(j int, a llmagent.Agent) {
	if j < 0 || j >= len(w.llms) {
		return
	}
	w.llms[j].Store(&a)
}

// Dependency returns the proxy currently bound to slot i, or nil if the
// slot is unresolved. Exposed for diagnostics and tests; dispatch reads
// the same state through snapshotDeps.
func (w *ToolWrapper) Dependency(i int) proxy.Proxy {
	if i < 0 || i >= len(w.deps) {
		return nil
	}
	if p := w.deps[i].Load(); p != nil {
		return *p
	}
	return nil
}

func (w *ToolWrapper) snapshotDeps() []proxy.Proxy {
	out := make([]proxy.Proxy, len(w.deps))
	for i := range w.deps {
		if p := w.deps[i].Load(); p != nil {
			out[i] = *p
		}
	}
	return out
}

func (w *ToolWrapper) snapshotLLMs() []llmagent.Agent {
	out := make([]llmagent.Agent, len(w.llms))
	for j := range w.llms {
		if a := w.llms[j].Load(); a != nil {
			out[j] = *a
		}
	}
	return out
}

// Dispatch is C5: the inbound MCP call path against this wrapper.
func (w *ToolWrapper) Dispatch(ctx context.Context, functionCallID string, args map[string]any) (result map[string]any, err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		observability.GetGlobalMetrics().RecordDispatch(w.Capability, outcome, time.Since(start))
	}()

	// Step 1: extract and reconcile trace context. Arg-supplied ids win
	// over anything already attached to ctx, since inbound worker threads
	// are reused across unrelated requests.
	tc, hadHeaders := meshtrace.FromContext(ctx)
	if argsTC, ok := meshtrace.ExtractFromArgs(args); ok {
		tc = argsTC
	} else if !hadHeaders {
		tc = meshtrace.New()
	}
	span := tc.Child()
	ctx = meshtrace.WithContext(ctx, span)

	tracer := observability.GetTracer("meshagent.wrapper")
	spanCtx, otelSpan := tracer.Start(ctx, observability.SpanToolDispatch)
	ctx = spanCtx
	defer otelSpan.End()

	deps := w.snapshotDeps()
	llms := w.snapshotLLMs()
	injected := 0
	for _, d := range deps {
		if d != nil {
			injected++
		}
	}

	otelSpan.SetAttributes(
		attribute.String(observability.AttrCapability, w.Capability),
		attribute.String(observability.AttrFuncID, w.FuncID),
		attribute.Int(observability.AttrArgCount, len(args)),
		attribute.Int(observability.AttrDepCount, injected),
	)

	toolCtx := tool.NewContext(ctx, functionCallID, w.Capability, deps, llms)

	type callResult struct {
		result map[string]any
		err    error
	}
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{nil, &mesherr.ToolCallFailed{Tool: w.Capability, Message: "panic in tool implementation"}}
			}
		}()
		res, callErr := w.impl.Call(toolCtx, args)
		done <- callResult{res, callErr}
	}()

	select {
	case r := <-done:
		result, err = r.result, r.err
	case <-time.After(dispatchTimeout):
		err = &mesherr.ToolCallFailed{Tool: w.Capability, Message: "dispatch timed out after 30s"}
	}

	if err != nil {
		outcome = "error"
		otelSpan.RecordError(err)
		otelSpan.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	otelSpan.SetStatus(codes.Ok, "")
	return result, nil
}
