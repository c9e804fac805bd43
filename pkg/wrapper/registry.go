package wrapper

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mcpmesh/agent-sdk-go/pkg/llmagent"
	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/observability"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
	"github.com/mcpmesh/agent-sdk-go/pkg/registry"
)

// Registry is C4: the authoritative funcId -> ToolWrapper index, plus the
// capability and bare method-name fallback indexes the event processor uses
// to resolve a composite dependency key to the wrapper it targets.
type Registry struct {
	byFuncID     *registry.BaseRegistry[*ToolWrapper]
	byMethodName *registry.BaseRegistry[*ToolWrapper]
	byCapability *registry.BaseRegistry[*ToolWrapper]

	factory *proxy.Factory
	client  *mcpclient.Client
}

// NewRegistry builds an empty wrapper registry bound to the shared typed
// proxy factory (C3) used to resolve dependency slot updates.
func NewRegistry(client *mcpclient.Client, factory *proxy.Factory) *Registry {
	return &Registry{
		byFuncID:     registry.NewBaseRegistry[*ToolWrapper](),
		byMethodName: registry.NewBaseRegistry[*ToolWrapper](),
		byCapability: registry.NewBaseRegistry[*ToolWrapper](),
		factory:      factory,
		client:       client,
	}
}

// Register adds a wrapper, indexed by funcId, its bare method name (the
// segment after the last '.'), and its capability name.
func (r *Registry) Register(w *ToolWrapper) error {
	if err := r.byFuncID.Register(w.FuncID, w); err != nil {
		return err
	}
	_ = r.byMethodName.Register(methodName(w.FuncID), w)
	if w.Capability != "" {
		if err := r.byCapability.Register(w.Capability, w); err != nil {
			return err
		}
	}
	return nil
}

// Get resolves a wrapper by funcId.
func (r *Registry) Get(funcID string) (*ToolWrapper, bool) {
	return r.byFuncID.Get(funcID)
}

// GetByCapability resolves a wrapper by its exposed capability name, the
// identifier callers use against the public /mcp endpoint.
func (r *Registry) GetByCapability(capability string) (*ToolWrapper, bool) {
	return r.byCapability.Get(capability)
}

// List returns every registered wrapper.
func (r *Registry) List() []*ToolWrapper {
	return r.byFuncID.List()
}

func methodName(funcID string) string {
	if i := strings.LastIndexByte(funcID, '.'); i >= 0 {
		return funcID[i+1:]
	}
	return funcID
}

// resolve finds the wrapper a composite key's funcId prefix names, falling
// back to a bare method-name match when no funcId-qualified wrapper exists
// (spec.md §4.4: "resolve by funcId, falling back to method name").
func (r *Registry) resolve(funcID string) (*ToolWrapper, bool) {
	if w, ok := r.byFuncID.Get(funcID); ok {
		return w, true
	}
	return r.byMethodName.Get(funcID)
}

// slotKey is a parsed "<funcId>:dep_<i>" or "<funcId>:llm_<j>" composite
// dependency key (spec.md §4.1 Data Model, ToolWrapper.deps/llms).
type slotKey struct {
	funcID string
	kind   string // "dep" or "llm"
	index  int
}

func parseSlotKey(key string) (slotKey, error) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return slotKey{}, fmt.Errorf("wrapper: malformed dependency key %q: missing ':'", key)
	}
	funcID, suffix := key[:i], key[i+1:]

	var kind string
	switch {
	case strings.HasPrefix(suffix, "dep_"):
		kind = "dep"
		suffix = suffix[len("dep_"):]
	case strings.HasPrefix(suffix, "llm_"):
		kind = "llm"
		suffix = suffix[len("llm_"):]
	default:
		return slotKey{}, fmt.Errorf("wrapper: malformed dependency key %q: unknown slot kind", key)
	}

	idx, err := strconv.Atoi(suffix)
	if err != nil {
		return slotKey{}, fmt.Errorf("wrapper: malformed dependency key %q: non-integer slot index", key)
	}
	return slotKey{funcID: funcID, kind: kind, index: idx}, nil
}

// UpdateDependency handles a DependencyAvailable/Changed event: resolves the
// target wrapper and slot from the composite key, obtains a typed proxy from
// C3 using the slot's declared return-type hint, and writes it atomically.
// An unparseable or unresolvable key is logged and ignored, never fatal to
// the event processor (spec.md §4.4, §7).
func (r *Registry) UpdateDependency(key, endpoint, functionName string) error {
	sk, err := parseSlotKey(key)
	if err != nil {
		return err
	}
	w, ok := r.resolve(sk.funcID)
	if !ok {
		return fmt.Errorf("wrapper: no wrapper registered for funcId/method %q (key %q)", sk.funcID, key)
	}
	if sk.kind != "dep" {
		return fmt.Errorf("wrapper: key %q does not name a dependency slot", key)
	}

	hint := w.DepHint(sk.index)
	p := r.factory.GetOrCreate(endpoint, functionName, hint)
	w.UpdateDependency(sk.index, p)
	observability.GetGlobalMetrics().SetProxyAvailable(endpoint, functionName, true)
	return nil
}

// MarkDependencyUnavailable handles a DependencyUnavailable event, clearing
// the addressed slot so the next dispatch observes a null proxy rather than
// a stale one (the availability-flip invariant, spec.md §4.1, §5).
func (r *Registry) MarkDependencyUnavailable(key string) error {
	sk, err := parseSlotKey(key)
	if err != nil {
		return err
	}
	w, ok := r.resolve(sk.funcID)
	if !ok {
		return fmt.Errorf("wrapper: no wrapper registered for funcId/method %q (key %q)", sk.funcID, key)
	}
	if sk.kind != "dep" {
		return fmt.Errorf("wrapper: key %q does not name a dependency slot", key)
	}
	w.ClearDependency(sk.index)
	return nil
}

// UpdateLLMAgent handles an LlmProviderAvailable event, binding the resolved
// Agent (C6) into the wrapper's LLM slot array.
func (r *Registry) UpdateLLMAgent(key string, agent llmagent.Agent) error {
	sk, err := parseSlotKey(key)
	if err != nil {
		return err
	}
	w, ok := r.resolve(sk.funcID)
	if !ok {
		return fmt.Errorf("wrapper: no wrapper registered for funcId/method %q (key %q)", sk.funcID, key)
	}
	if sk.kind != "llm" {
		return fmt.Errorf("wrapper: key %q does not name an llm slot", key)
	}
	w.UpdateLLM(sk.index, agent)
	return nil
}

// Dispatch resolves a wrapper by capability (falling back to bare method
// name) and invokes C5 against it. This is the entry point the /mcp
// transport handler and LocalDispatcher callers both use.
func (r *Registry) Dispatch(ctx context.Context, capability, functionCallID string, args map[string]any) (map[string]any, error) {
	w, ok := r.byCapability.Get(capability)
	if !ok {
		w, ok = r.byMethodName.Get(capability)
	}
	if !ok {
		return nil, fmt.Errorf("wrapper: no tool registered for capability %q", capability)
	}
	return w.Dispatch(ctx, functionCallID, args)
}

// DispatchLocal implements llmagent.LocalDispatcher: an in-process tool call
// found here never round-trips through HTTP to itself (§4.6 step 4).
func (r *Registry) DispatchLocal(ctx context.Context, name string, args map[string]any) (map[string]any, bool, error) {
	w, ok := r.byCapability.Get(name)
	if !ok {
		w, ok = r.byMethodName.Get(name)
	}
	if !ok {
		return nil, false, nil
	}
	result, err := w.Dispatch(ctx, "", args)
	return result, true, err
}
