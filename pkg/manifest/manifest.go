// Package manifest implements the manifest builder (C1): it collects a
// user's tool, dependency, and LLM-slot declarations and produces the
// registration manifest, a populated wrapper registry, and the LLM
// configuration the event processor needs.
//
// Reflection-free design note: rather than scanning struct annotations at
// runtime, Build works from an explicit Builder the user populates with
// Tool/Dependency/LLMSlot/DirectLLM calls — design option (b) from the
// spec's dynamic-dispatch notes (a user-registered builder supplying a
// typed invoker and schema explicitly). A tool's CallableTool.Schema()
// (itself generated by github.com/invopop/jsonschema, see
// pkg/tool/functiontool) already supplies the JSON-Schema half of C1's
// job; Build's own responsibility is capability uniqueness, dependency
// index assignment, and agent-id generation.
package manifest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mcpmesh/agent-sdk-go/pkg/eventproc"
	"github.com/mcpmesh/agent-sdk-go/pkg/llmagent"
	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/meshcore"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
	"github.com/mcpmesh/agent-sdk-go/pkg/tool"
	"github.com/mcpmesh/agent-sdk-go/pkg/wrapper"
)

// DependencySpec is one declared dependency slot on a tool (spec.md §3):
// capability name, optional tag filters, and the return-type hint C3 uses
// when it creates the typed proxy for this slot.
type DependencySpec struct {
	Capability string
	Tags       []string
	ReturnHint mcpclient.ReturnType
}

// ToolSpec is one tool registration: its capability identity plus the
// dependency and LLM slots its implementation declared.
type ToolSpec struct {
	FuncID       string
	Capability   string
	Description  string
	Impl         tool.CallableTool
	Dependencies []DependencySpec
	LLMSlots     int
	LLMConfig    *eventproc.LLMConfig // non-nil if this tool owns LLM slot 0
	DirectLLM    *llmagent.DirectConfig
	Metadata     wrapper.ToolMetadata
}

// Builder accumulates ToolSpecs before Build assembles the manifest and
// wires a fresh wrapper registry.
type Builder struct {
	agentName string
	version   string
	host      string
	port      int
	namespace string
	heartbeat time.Duration
	registry  string

	tools []ToolSpec
}

// New starts a Builder for the given agent name (required; Build appends
// the 8-hex random agent-id suffix per spec.md §3).
func New(agentName string) *Builder {
	return &Builder{
		agentName: agentName,
		version:   "0.0.0",
		heartbeat: 5 * time.Second,
	}
}

func (b *Builder) Version(v string) *Builder           { b.version = v; return b }
func (b *Builder) Host(h string) *Builder              { b.host = h; return b }
func (b *Builder) Port(p int) *Builder                 { b.port = p; return b }
func (b *Builder) Namespace(n string) *Builder         { b.namespace = n; return b }
func (b *Builder) HeartbeatInterval(d time.Duration) *Builder { b.heartbeat = d; return b }
func (b *Builder) RegistryURL(url string) *Builder     { b.registry = url; return b }

// Tool registers one @Tool-equivalent method. funcID is the fully
// qualified "<component>.<method>" identity used in composite dependency
// keys; capability is the public name resolvable via the /mcp endpoint
// and must be unique across the whole manifest.
func (b *Builder) Tool(spec ToolSpec) *Builder {
	b.tools = append(b.tools, spec)
	return b
}

// Manifest is the fully built result of Build: the registration manifest
// plus everything the runtime needs to start the event processor and
// serve inbound calls.
type Manifest struct {
	AgentID      string
	Core         meshcore.Manifest
	Wrappers     *wrapper.Registry
	LLMConfigs   map[string]eventproc.LLMConfig
	DirectAgents []llmagent.DirectConfig
}

// Build validates capability uniqueness, assigns an 8-hex agent-id
// suffix, and populates a fresh wrapper registry from the accumulated
// ToolSpecs. It fails construction on a duplicate capability name
// (spec.md §4.1: "deterministic identity").
func Build(b *Builder, client *mcpclient.Client, factory *proxy.Factory) (*Manifest, error) {
	agentID, err := withRandomSuffix(b.agentName)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to generate agent id: %w", err)
	}

	wrappers := wrapper.NewRegistry(client, factory)
	seen := make(map[string]string, len(b.tools))
	coreTools := make([]meshcore.ToolManifestEntry, 0, len(b.tools))
	llmConfigs := make(map[string]eventproc.LLMConfig)
	var directAgents []llmagent.DirectConfig

	for _, spec := range b.tools {
		if spec.Capability == "" {
			return nil, fmt.Errorf("manifest: tool %q has no capability name", spec.FuncID)
		}
		if prior, dup := seen[spec.Capability]; dup {
			return nil, fmt.Errorf("manifest: duplicate capability %q declared by %q and %q", spec.Capability, prior, spec.FuncID)
		}
		seen[spec.Capability] = spec.FuncID

		hints := make([]mcpclient.ReturnType, len(spec.Dependencies))
		deps := make([]meshcore.DependencyEntry, len(spec.Dependencies))
		for i, d := range spec.Dependencies {
			hints[i] = d.ReturnHint
			deps[i] = meshcore.DependencyEntry{Capability: d.Capability, Tags: d.Tags}
		}

		w := wrapper.New(spec.FuncID, spec.Capability, spec.Description, spec.Impl.Schema(), spec.Impl, hints, spec.LLMSlots)
		w.SetMetadata(spec.Metadata)
		if err := wrappers.Register(w); err != nil {
			return nil, fmt.Errorf("manifest: failed to register wrapper for %q: %w", spec.FuncID, err)
		}

		coreTools = append(coreTools, meshcore.ToolManifestEntry{
			FuncID:       spec.FuncID,
			Capability:   spec.Capability,
			Description:  spec.Description,
			InputSchema:  spec.Impl.Schema(),
			Dependencies: deps,
			LLMSlots:     spec.LLMSlots,
		})

		if spec.LLMConfig != nil {
			llmConfigs[spec.FuncID] = *spec.LLMConfig
		}
		if spec.DirectLLM != nil {
			directAgents = append(directAgents, *spec.DirectLLM)
		}
	}

	return &Manifest{
		AgentID: agentID,
		Core: meshcore.Manifest{
			AgentID:           agentID,
			AgentName:         b.agentName,
			Version:           b.version,
			Host:              b.host,
			Port:              b.port,
			Namespace:         b.namespace,
			HeartbeatInterval: b.heartbeat,
			RegistryURL:       b.registry,
			Tools:             coreTools,
		},
		Wrappers:     wrappers,
		LLMConfigs:   llmConfigs,
		DirectAgents: directAgents,
	}, nil
}

func withRandomSuffix(name string) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", name, hex.EncodeToString(buf)), nil
}
