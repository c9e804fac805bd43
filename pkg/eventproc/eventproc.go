// Package eventproc implements the event processor (C7): the single
// dedicated worker that drains topology events from the mesh core and
// mutates the typed-proxy table (C3) and wrapper slot arrays (C4) to match.
package eventproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcpmesh/agent-sdk-go/pkg/llmagent"
	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/meshcore"
	"github.com/mcpmesh/agent-sdk-go/pkg/observability"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
	"github.com/mcpmesh/agent-sdk-go/pkg/registry"
	"github.com/mcpmesh/agent-sdk-go/pkg/wrapper"
)

// LLMConfig is the per-funcId configuration the manifest builder records
// for a tool's LLM slot: the system-prompt template, the named context
// parameter, and default model parameters. The event processor consults
// it the first time it has to create an Agent for that funcId (spec.md
// §4.7: "create it now ... using the configured template, context param,
// and max iterations").
type LLMConfig struct {
	SystemTemplate string
	ContextParam   string
	Defaults       llmagent.ModelParams
}

// Processor is C7: the single dedicated worker. One instance per agent
// process; Start launches its worker goroutine, Stop tears it down.
//
// Convention: wire topology events name an LLM proxy by a bare funcId, not
// the composite "<funcId>:llm_<j>" key the wrapper slot array uses. A tool
// with an LLM slot is assumed to have exactly one (slot index 0); this
// processor writes every LLM-proxy update to that slot.
type Processor struct {
	core     meshcore.Core
	wrappers *wrapper.Registry
	client   *mcpclient.Client
	factory  *proxy.Factory

	agents      *registry.BaseRegistry[llmagent.Agent]
	llmConfigs  map[string]LLMConfig
	directAgents []llmagent.DirectConfig

	pendingMu    sync.Mutex
	pendingTools map[string][]llmagent.ToolInfo

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Processor. llmConfigs and directAgents come from the
// manifest builder (C1): llmConfigs is keyed by the funcId of the tool
// owning the LLM slot; directAgents lists tools whose LLM provider
// endpoint is statically known and should be wired up on AgentRegistered
// rather than waiting for an LlmProviderAvailable event.
func New(core meshcore.Core, wrappers *wrapper.Registry, client *mcpclient.Client, factory *proxy.Factory, llmConfigs map[string]LLMConfig, directAgents []llmagent.DirectConfig) *Processor {
	if llmConfigs == nil {
		llmConfigs = map[string]LLMConfig{}
	}
	return &Processor{
		core:         core,
		wrappers:     wrappers,
		client:       client,
		factory:      factory,
		agents:       registry.NewBaseRegistry[llmagent.Agent](),
		llmConfigs:   llmConfigs,
		directAgents: directAgents,
		pendingTools: make(map[string][]llmagent.ToolInfo),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the single worker loop. It returns immediately; the loop
// runs until Stop is called or the mesh core emits a Shutdown event.
func (p *Processor) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop signals the worker to exit and blocks until it has.
func (p *Processor) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		event, ok := p.core.Poll(ctx)
		if !ok {
			continue
		}
		p.handleSafely(event)
		if event.Kind == meshcore.Shutdown {
			return
		}
	}
}

// handleSafely dispatches one event, recovering from a panicking handler
// so a single bad event never kills the worker (spec.md §7: "C7 never
// terminates on handler exceptions").
func (p *Processor) handleSafely(e meshcore.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("eventproc: handler panicked, continuing", "kind", e.Kind.String(), "panic", r)
		}
	}()

	switch e.Kind {
	case meshcore.AgentRegistered:
		p.handleAgentRegistered()
	case meshcore.DependencyAvailable:
		p.handleDependencyAvailable(e)
	case meshcore.DependencyUnavailable:
		p.handleDependencyUnavailable(e)
	case meshcore.DependencyChanged:
		if e.Endpoint != "" {
			p.handleDependencyAvailable(e)
		} else {
			p.handleDependencyUnavailable(e)
		}
	case meshcore.LlmToolsUpdated:
		p.handleLlmToolsUpdated(e)
	case meshcore.LlmProviderAvailable:
		p.handleLlmProviderAvailable(e)
	case meshcore.RegistrationFailed:
		slog.Warn("eventproc: registration failed, continuing in standalone mode", "reason", e.Reason)
	case meshcore.Shutdown:
		slog.Info("eventproc: shutdown event received", "reason", e.Reason)
	default:
		slog.Warn("eventproc: unknown event kind", "kind", int(e.Kind))
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordEvent(e.Kind.String())
	}
}

func (p *Processor) handleAgentRegistered() {
	for _, cfg := range p.directAgents {
		agent := llmagent.DirectProvider(cfg, p.client, p.factory, p.wrappers)
		p.bindAgent(cfg.FuncID, agent)
	}
}

func (p *Processor) handleDependencyAvailable(e meshcore.Event) {
	key := fmt.Sprintf("%s:dep_%d", e.RequesterFuncID, e.DepIndex)
	if err := p.wrappers.UpdateDependency(key, e.Endpoint, e.FunctionName); err != nil {
		slog.Warn("eventproc: failed to update dependency", "key", key, "error", err)
	}
}

func (p *Processor) handleDependencyUnavailable(e meshcore.Event) {
	key := fmt.Sprintf("%s:dep_%d", e.RequesterFuncID, e.DepIndex)
	if err := p.wrappers.MarkDependencyUnavailable(key); err != nil {
		slog.Warn("eventproc: failed to clear dependency", "key", key, "error", err)
	}
}

// handleLlmToolsUpdated implements the tools-first ordering case: tools
// can arrive before the provider endpoint is known.
func (p *Processor) handleLlmToolsUpdated(e meshcore.Event) {
	tools := toAgentToolInfo(e.Tools)

	if agent, ok := p.resolveAgent(e.FuncID); ok {
		agent.SetTools(tools)
		p.bindAgent(e.FuncID, agent)
		return
	}

	if cfg, ok := p.resolveConfig(e.FuncID); ok {
		agent := llmagent.New(e.FuncID, p.client, p.factory, p.wrappers, cfg.SystemTemplate, cfg.ContextParam, cfg.Defaults)
		agent.SetTools(tools)
		p.bindAgent(e.FuncID, agent)
		return
	}

	p.pendingMu.Lock()
	p.pendingTools[shortName(e.FuncID)] = tools
	p.pendingMu.Unlock()
	slog.Debug("eventproc: cached LLM tools for unresolved funcId", "func_id", e.FuncID)
}

// handleLlmProviderAvailable creates the agent if it doesn't exist yet,
// then drains any tools cached under its method-name suffix, the only key
// handleLlmToolsUpdated caches under (the provider-first ordering case).
func (p *Processor) handleLlmProviderAvailable(e meshcore.Event) {
	agent, ok := p.resolveAgent(e.FuncID)
	if !ok {
		cfg, _ := p.resolveConfig(e.FuncID)
		agent = llmagent.New(e.FuncID, p.client, p.factory, p.wrappers, cfg.SystemTemplate, cfg.ContextParam, cfg.Defaults)
	}

	agent.SetProvider(e.Endpoint, e.FunctionName, e.Model)

	p.pendingMu.Lock()
	pending, found := p.pendingTools[shortName(e.FuncID)]
	if found {
		delete(p.pendingTools, shortName(e.FuncID))
	}
	p.pendingMu.Unlock()
	if found {
		agent.SetTools(pending)
	}

	p.bindAgent(e.FuncID, agent)
}

func (p *Processor) resolveAgent(funcID string) (llmagent.Agent, bool) {
	if a, ok := p.agents.Get(funcID); ok {
		return a, true
	}
	return p.agents.Get(shortName(funcID))
}

func (p *Processor) resolveConfig(funcID string) (LLMConfig, bool) {
	if cfg, ok := p.llmConfigs[funcID]; ok {
		return cfg, true
	}
	cfg, ok := p.llmConfigs[shortName(funcID)]
	return cfg, ok
}

// bindAgent registers (or re-registers) the agent under the event
// processor's own funcId index and writes it into the owning wrapper's
// LLM slot 0.
func (p *Processor) bindAgent(funcID string, agent llmagent.Agent) {
	_ = p.agents.Remove(funcID)
	_ = p.agents.Register(funcID, agent)

	key := funcID + ":llm_0"
	if err := p.wrappers.UpdateLLMAgent(key, agent); err != nil {
		slog.Debug("eventproc: no wrapper slot for LLM agent yet", "func_id", funcID, "error", err)
	}
}

func shortName(funcID string) string {
	for i := len(funcID) - 1; i >= 0; i-- {
		if funcID[i] == '.' {
			return funcID[i+1:]
		}
	}
	return funcID
}

func toAgentToolInfo(tools []meshcore.LLMToolInfo) []llmagent.ToolInfo {
	out := make([]llmagent.ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, llmagent.ToolInfo{
			Name:         t.Name,
			Description:  t.Description,
			Capability:   t.Capability,
			FunctionName: t.FunctionName,
		})
	}
	return out
}
