// Package llmagent implements the LLM agent proxy (C6): a fluent "generate"
// request builder plus the agentic loop that drives tool-call turns against
// a remote LLM provider reached like any other mesh dependency.
package llmagent

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
)

// ErrNoProvider is returned by Generate when the owning funcId has never
// been configured with an LLM provider at all.
var ErrNoProvider = errors.New("llmagent: no configured provider")

// ErrProviderUnavailable is returned by Generate when a provider is
// configured but its endpoint has no active binding.
var ErrProviderUnavailable = errors.New("llmagent: provider not available")

// ModelParams are the default generation parameters, overridable per request.
type ModelParams struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	Stop          []string
	MaxIterations int
}

// ToolInfo describes one tool the agent may call during its loop.
type ToolInfo struct {
	Name         string
	Description  string
	Capability   string
	FunctionName string
}

// LocalDispatcher lets the agentic loop prefer an in-process call over a
// round trip through the typed proxy when a tool call targets one of the
// current agent's own tools.
type LocalDispatcher interface {
	DispatchLocal(ctx context.Context, name string, args map[string]any) (result map[string]any, handled bool, err error)
}

// Agent is the contract a tool's LLM slot exposes to user code, plus the
// mutators the event processor (C7) uses to wire up a provider and its
// tool list as topology events arrive. User code only ever calls FuncID,
// Available, and NewRequest; SetProvider/SetTools/MarkToolUnavailable are
// exported for C7, not meant for tool implementations to call directly.
type Agent interface {
	FuncID() string
	Available() bool
	NewRequest() *RequestBuilder

	SetProvider(endpoint, functionName, model string)
	SetTools(tools []ToolInfo)
	MarkToolUnavailable(name string)
}

type providerState struct {
	endpoint     string
	functionName string
	model        string
	available    bool
}

type agent struct {
	funcID         string
	client         *mcpclient.Client
	factory        *proxy.Factory
	local          LocalDispatcher
	systemTemplate string
	contextParam   string
	defaults       ModelParams

	provider atomic.Pointer[providerState]
	tools    atomic.Pointer[[]ToolInfo]
}

// New creates an LLM agent proxy for funcID. It may exist with tools but no
// provider (callable state = unavailable); SetProvider never destroys it.
func New(funcID string, client *mcpclient.Client, factory *proxy.Factory, local LocalDispatcher, systemTemplate, contextParam string, defaults ModelParams) Agent {
	if defaults.MaxIterations <= 0 {
		defaults.MaxIterations = 5
	}
	a := &agent{
		funcID:         funcID,
		client:         client,
		factory:        factory,
		local:          local,
		systemTemplate: systemTemplate,
		contextParam:   contextParam,
		defaults:       defaults,
	}
	a.tools.Store(&[]ToolInfo{})
	return a
}

func (a *agent) FuncID() string { return a.funcID }

// Available reports whether a resolvable provider endpoint is bound.
func (a *agent) Available() bool {
	p := a.provider.Load()
	return p != nil && p.available
}

// SetProvider binds (or rebinds) the remote provider endpoint. Endpoint
// availability can be set before or after tools are learned; both paths
// converge to the same Agent reference (C7 guarantees this by construction).
func (a *agent) SetProvider(endpoint, functionName, model string) {
	a.provider.Store(&providerState{endpoint: endpoint, functionName: functionName, model: model, available: true})
}

// SetTools replaces the agent's advertised tool list (copy-on-write).
func (a *agent) SetTools(tools []ToolInfo) {
	cp := append([]ToolInfo(nil), tools...)
	a.tools.Store(&cp)
}

// MarkToolUnavailable removes a tool from the advertised list so the loop
// suppresses further attempts against it.
func (a *agent) MarkToolUnavailable(name string) {
	current := *a.tools.Load()
	next := make([]ToolInfo, 0, len(current))
	for _, t := range current {
		if t.Name != name {
			next = append(next, t)
		}
	}
	a.tools.Store(&next)
}

func (a *agent) toolsSnapshot() []ToolInfo {
	return *a.tools.Load()
}
