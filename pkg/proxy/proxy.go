// Package proxy implements the typed proxy and factory (C3): a stable,
// cacheable reference to a remote tool function whose endpoint can be
// rebound in place without ever changing the reference callers hold.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/mesherr"
)

// Proxy is the contract a typed proxy exposes to tool wrappers and the LLM
// agentic loop. A call against an unavailable or nil proxy raises
// mesherr.ToolUnavailable.
type Proxy interface {
	Endpoint() string
	FunctionName() string
	Available() bool

	// Call invokes the remote function with no arguments.
	Call(ctx context.Context) (any, error)
	// CallWith invokes the remote function with a pre-built params map.
	CallWith(ctx context.Context, params map[string]any) (any, error)
	// CallStruct marshals a single non-string argument field-wise into a
	// params map (the "single record" calling form).
	CallStruct(ctx context.Context, v any) (any, error)
	// CallKV invokes the remote function with key/value pairs; kv must
	// have an even length.
	CallKV(ctx context.Context, kv ...any) (any, error)
}

// state is swapped atomically so a dispatch in flight always observes a
// consistent (endpoint, available) snapshot, never a torn value.
type state struct {
	endpoint  string
	available bool
}

type typedProxy struct {
	functionName string
	hint         mcpclient.ReturnType
	client       *mcpclient.Client

	st atomic.Pointer[state]
}

func (p *typedProxy) Endpoint() string      { return p.st.Load().endpoint }
func (p *typedProxy) FunctionName() string  { return p.functionName }
func (p *typedProxy) Available() bool       { return p.st.Load().available }

func (p *typedProxy) Call(ctx context.Context) (any, error) {
	return p.dispatch(ctx, map[string]any{})
}

func (p *typedProxy) CallWith(ctx context.Context, params map[string]any) (any, error) {
	return p.dispatch(ctx, params)
}

func (p *typedProxy) CallStruct(ctx context.Context, v any) (any, error) {
	if s, ok := v.(string); ok {
		return nil, &mesherr.InvalidArgument{Param: "argument", Message: fmt.Sprintf("expected a record, got string %q", s)}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &mesherr.InvalidArgument{Param: "argument", Message: fmt.Sprintf("cannot marshal argument: %v", err)}
	}
	var params map[string]any
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, &mesherr.InvalidArgument{Param: "argument", Message: fmt.Sprintf("argument is not field-convertible to a record: %v", err)}
	}
	return p.dispatch(ctx, params)
}

func (p *typedProxy) CallKV(ctx context.Context, kv ...any) (any, error) {
	if len(kv)%2 != 0 {
		return nil, &mesherr.InvalidArgument{Param: "kv", Message: "key/value varargs must have an even count"}
	}
	params := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, &mesherr.InvalidArgument{Param: "kv", Message: fmt.Sprintf("key at position %d is not a string", i)}
		}
		params[key] = kv[i+1]
	}
	return p.dispatch(ctx, params)
}

func (p *typedProxy) dispatch(ctx context.Context, params map[string]any) (any, error) {
	snapshot := p.st.Load()
	if snapshot == nil || !snapshot.available {
		return nil, &mesherr.ToolUnavailable{Capability: p.functionName}
	}
	result, err := p.client.Call(ctx, snapshot.endpoint, p.functionName, params, p.hint)
	if err != nil {
		return nil, &mesherr.ToolCallFailed{Tool: p.functionName, Message: err.Error()}
	}
	return result, nil
}

// key identifies a proxy by (endpoint, function) as the contract requires,
// but the endpoint component of the key is really "the slot's identity at
// creation time" — lookups thereafter are keyed purely on function name so
// that update() can rebind the endpoint in place without changing identity.
// See getOrCreate for the resolution rule.
type key struct {
	functionName string
}

// Factory is C3: the cache of (endpoint, function) -> typed proxy, with
// reference stability for the lifetime of the process.
type Factory struct {
	client *mcpclient.Client

	mu    sync.RWMutex
	byKey map[key]*typedProxy
}

// NewFactory builds a Factory that dispatches outbound calls through
// client.
func NewFactory(client *mcpclient.Client) *Factory {
	return &Factory{
		client: client,
		byKey:  make(map[key]*typedProxy),
	}
}

// GetOrCreate returns the cached proxy for (endpoint, functionName),
// creating it if this is the first sighting of this function name; a newly
// created proxy is available only when endpoint is non-empty. Subsequent calls for the same function name always return
// the same reference, even across endpoint rebinds.
func (f *Factory) GetOrCreate(endpoint, functionName string, hint mcpclient.ReturnType) Proxy {
	k := key{functionName: functionName}

	f.mu.RLock()
	p, ok := f.byKey[k]
	f.mu.RUnlock()
	if ok {
		return p
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byKey[k]; ok {
		return p
	}
	p = &typedProxy{functionName: functionName, hint: hint, client: f.client}
	p.st.Store(&state{endpoint: endpoint, available: endpoint != ""})
	f.byKey[k] = p
	return p
}

// Update marks the proxy for (endpoint, functionName) available and points
// it at endpoint, creating it if necessary.
func (f *Factory) Update(endpoint, functionName string) {
	p := f.getOrAllocate(functionName)
	p.st.Store(&state{endpoint: endpoint, available: true})
}

// MarkUnavailable flips the proxy for (endpoint, functionName) to
// unavailable without forgetting its endpoint, so reads that raced the
// update still see a consistent snapshot (old-available or new-unavailable,
// never torn).
func (f *Factory) MarkUnavailable(endpoint, functionName string) {
	p := f.getOrAllocate(functionName)
	prev := p.st.Load()
	next := &state{available: false}
	if prev != nil {
		next.endpoint = prev.endpoint
	} else {
		next.endpoint = endpoint
	}
	p.st.Store(next)
}

// Invalidate marks the proxy unavailable and removes the key from the
// cache. A subsequent GetOrCreate for the same function name allocates a
// new proxy reference.
func (f *Factory) Invalidate(endpoint, functionName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key{functionName: functionName}
	if p, ok := f.byKey[k]; ok {
		p.st.Store(&state{endpoint: p.st.Load().endpoint, available: false})
	}
	delete(f.byKey, k)
}

func (f *Factory) getOrAllocate(functionName string) *typedProxy {
	k := key{functionName: functionName}

	f.mu.RLock()
	p, ok := f.byKey[k]
	f.mu.RUnlock()
	if ok {
		return p
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byKey[k]; ok {
		return p
	}
	p = &typedProxy{functionName: functionName, client: f.client}
	p.st.Store(&state{})
	f.byKey[k] = p
	return p
}
