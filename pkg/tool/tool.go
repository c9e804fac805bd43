// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tool defines the interfaces a user's `@Tool` method implements
// and the Context the runtime injects into it at dispatch time.
//
// Reflection-free design note: rather than classifying a method's Go
// parameter list by static type (no runtime reflection over annotations),
// a tool's dependency slots and LLM slots are reached through Context by
// declaration index — the same index the manifest builder recorded when it
// registered the tool's DependencySpec/LLM-slot list. This is option (b)
// from the design notes: a user-registered builder supplies the typed
// invoker closure and schema explicitly; Context supplies the slots.
package tool

import (
	"context"
	"iter"

	"github.com/mcpmesh/agent-sdk-go/pkg/llmagent"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
)

// Tool defines the base interface for a callable tool.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	// Used by LLMs to decide when to use this tool.
	Description() string

	// IsLongRunning indicates whether this tool is a long-running async operation.
	IsLongRunning() bool
}

// CallableTool extends Tool with synchronous execution capability.
type CallableTool interface {
	Tool

	// Call executes the tool with the given arguments.
	Call(ctx Context, args map[string]any) (map[string]any, error)

	// Schema returns the JSON schema for the tool's exposed parameters.
	// Contains exactly the user-annotated parameters, never dependency or
	// LLM-slot parameters (§8 testable property).
	Schema() map[string]any
}

// StreamingTool extends Tool with incremental output capability.
type StreamingTool interface {
	Tool

	// CallStreaming executes the tool and yields incremental results.
	CallStreaming(ctx Context, args map[string]any) iter.Seq2[*Result, error]

	// Schema returns the JSON schema for tool parameters.
	Schema() map[string]any
}

// Result represents one chunk (or the final chunk) of a tool's output.
type Result struct {
	Content   any
	Streaming bool
	Error     string
	Metadata  map[string]any
}

// Context is the per-invocation execution context the tool wrapper (C5)
// builds and passes to user code. It carries the inbound Go context
// (cancellation, trace context attached via meshtrace.WithContext), the
// invocation's resolved dependency and LLM slots, and identifying metadata.
type Context interface {
	// Context returns the underlying context.Context, carrying the
	// invocation's trace context (see github.com/mcpmesh/agent-sdk-go/pkg/trace).
	Context() context.Context

	// FunctionCallID returns the unique id of this tool invocation.
	FunctionCallID() string

	// Capability returns the capability name this invocation was dispatched
	// under.
	Capability() string

	// Dependency returns the proxy bound to the dependency slot at
	// declaration index i, or nil if that slot is currently unresolved.
	// A nil return is not an error — user code decides whether to fall
	// back (the graceful-degradation principle, §4.5).
	Dependency(i int) proxy.Proxy

	// LLM returns the agent bound to the LLM slot at declaration index j,
	// or nil if no provider/tools have been wired to that slot yet.
	LLM(j int) llmagent.Agent
}

// baseContext is the runtime's Context implementation, built by the tool
// wrapper for each inbound call.
type baseContext struct {
	ctx            context.Context
	functionCallID string
	capability     string
	deps           []proxy.Proxy
	llms           []llmagent.Agent
}

// NewContext builds a Context for a single invocation. deps and llms are
// the wrapper's current slot snapshots, read atomically before dispatch.
func NewContext(ctx context.Context, functionCallID, capability string, deps []proxy.Proxy, llms []llmagent.Agent) Context {
	return &baseContext{
		ctx:            ctx,
		functionCallID: functionCallID,
		capability:     capability,
		deps:           deps,
		llms:           llms,
	}
}

func (c *baseContext) Context() context.Context  { return c.ctx }
func (c *baseContext) FunctionCallID() string    { return c.functionCallID }
func (c *baseContext) Capability() string        { return c.capability }

func (c *baseContext) Dependency(i int) proxy.Proxy {
	if i < 0 || i >= len(c.deps) {
		return nil
	}
	return c.deps[i]
}

func (c *baseContext) LLM(j int) llmagent.Agent {
	if j < 0 || j >= len(c.llms) {
		return nil
	}
	return c.llms[j]
}

// Toolset groups related tools and provides dynamic resolution.
type Toolset interface {
	Name() string
	Tools() ([]Tool, error)
}

// Predicate determines whether a tool should be available to the LLM.
type Predicate func(tool Tool) bool

// StringPredicate creates a Predicate that allows only named tools.
func StringPredicate(allowedTools []string) Predicate {
	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}
	return func(tool Tool) bool { return allowed[tool.Name()] }
}

// AllowAll returns a Predicate that allows all tools.
func AllowAll() Predicate { return func(Tool) bool { return true } }

// DenyAll returns a Predicate that denies all tools.
func DenyAll() Predicate { return func(Tool) bool { return false } }

// Combine combines multiple predicates with AND logic.
func Combine(predicates ...Predicate) Predicate {
	return func(t Tool) bool {
		for _, p := range predicates {
			if !p(t) {
				return false
			}
		}
		return true
	}
}

// Definition represents a tool definition for LLM function calling.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool to a Definition.
func ToDefinition(t Tool) Definition {
	def := Definition{Name: t.Name(), Description: t.Description()}
	if ct, ok := t.(CallableTool); ok {
		def.Parameters = ct.Schema()
	} else if st, ok := t.(StreamingTool); ok {
		def.Parameters = st.Schema()
	}
	return def
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult represents the result of a tool invocation, used to build the
// conversation history the LLM agentic loop feeds back to the provider.
type ToolResult struct {
	ToolCallID string
	Content    string
	Error      string
}
