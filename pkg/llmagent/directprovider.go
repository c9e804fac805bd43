package llmagent

import (
	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
)

// DirectConfig describes a direct-mode LLM agent: one whose provider
// endpoint is known at config time rather than discovered via a topology
// event. Spec.md §4.7 calls these out as instantiated on AgentRegistered;
// this is the reference adapter the runtime ships for that path.
type DirectConfig struct {
	FuncID         string
	Endpoint       string
	FunctionName   string
	Model          string
	SystemTemplate string
	ContextParam   string
	Defaults       ModelParams
}

// DirectProvider builds an Agent whose provider endpoint is bound
// immediately, skipping the LlmProviderAvailable event path entirely. Used
// by the event processor's AgentRegistered handler for agents the manifest
// declared with a statically-known endpoint.
func DirectProvider(cfg DirectConfig, client *mcpclient.Client, factory *proxy.Factory, local LocalDispatcher) Agent {
	a := New(cfg.FuncID, client, factory, local, cfg.SystemTemplate, cfg.ContextParam, cfg.Defaults).(*agent)
	a.SetProvider(cfg.Endpoint, cfg.FunctionName, cfg.Model)
	return a
}
