package llmagent

import (
	"context"
	"regexp"
	"strings"
)

// ContextMode governs how a request's context map merges with the
// auto-injected template context (the tools list and any invocation context
// set by the tool wrapper from the named context parameter).
type ContextMode int

const (
	// ModeAppend (default): auto-injected context is the base; per-request
	// keys are layered on top and win on collision.
	ModeAppend ContextMode = iota
	// ModeReplace discards auto-injected context entirely.
	ModeReplace
	// ModePrepend treats per-request keys as defaults; auto-injected keys
	// win on collision.
	ModePrepend
)

// Message is one turn in the conversation sent to the provider.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
}

// RequestBuilder accumulates a single generate() call's messages, model
// parameters, template context, and optional structured-output type before
// Generate runs the agentic loop.
type RequestBuilder struct {
	agent *agent

	messages         []Message
	params           ModelParams
	contextVars      map[string]any
	contextMode      ContextMode
	responseSchema   map[string]any
	responseTypeName string
}

// NewRequest starts a fluent request against this agent.
func (a *agent) NewRequest() *RequestBuilder {
	return &RequestBuilder{
		agent:       a,
		params:      a.defaults,
		contextMode: ModeAppend,
	}
}

func (rb *RequestBuilder) System(content string) *RequestBuilder {
	rb.messages = append(rb.messages, Message{Role: "system", Content: content})
	return rb
}

func (rb *RequestBuilder) User(content string) *RequestBuilder {
	rb.messages = append(rb.messages, Message{Role: "user", Content: content})
	return rb
}

func (rb *RequestBuilder) Assistant(content string) *RequestBuilder {
	rb.messages = append(rb.messages, Message{Role: "assistant", Content: content})
	return rb
}

func (rb *RequestBuilder) Message(role, content string) *RequestBuilder {
	rb.messages = append(rb.messages, Message{Role: role, Content: content})
	return rb
}

func (rb *RequestBuilder) MaxTokens(n int) *RequestBuilder {
	rb.params.MaxTokens = n
	return rb
}

func (rb *RequestBuilder) Temperature(t float64) *RequestBuilder {
	rb.params.Temperature = t
	return rb
}

func (rb *RequestBuilder) TopP(p float64) *RequestBuilder {
	rb.params.TopP = p
	return rb
}

func (rb *RequestBuilder) Stop(words []string) *RequestBuilder {
	rb.params.Stop = words
	return rb
}

func (rb *RequestBuilder) MaxIterations(n int) *RequestBuilder {
	rb.params.MaxIterations = n
	return rb
}

// Context sets the per-request template context and merge mode.
func (rb *RequestBuilder) Context(vars map[string]any, mode ContextMode) *RequestBuilder {
	rb.contextVars = vars
	rb.contextMode = mode
	return rb
}

// ResponseType requests structured output: a JSON-Schema is attached to the
// provider request and GenerateStructured extracts a value matching it.
func (rb *RequestBuilder) ResponseType(schema map[string]any, typeName string) *RequestBuilder {
	rb.responseSchema = schema
	rb.responseTypeName = typeName
	return rb
}

// hasExplicitSystem reports whether the caller supplied an explicit system
// message, which suppresses template rendering.
func (rb *RequestBuilder) hasExplicitSystem() bool {
	for _, m := range rb.messages {
		if m.Role == "system" {
			return true
		}
	}
	return false
}

var templateDirective = regexp.MustCompile(`\$\{[^}]*\}|<#[^>]*>`)

// renderSystemTemplate renders the agent's configured system template
// against the effective context (auto-injected tools list plus whatever
// invocation/per-request context applies), per the configured mode. If the
// template contains no directives, it is used verbatim.
func renderSystemTemplate(tmpl string, effective map[string]any) string {
	if !templateDirective.MatchString(tmpl) {
		return tmpl
	}
	out := tmpl
	for k, v := range effective {
		placeholder := "${" + k + "}"
		out = strings.ReplaceAll(out, placeholder, toTemplateString(v))
	}
	return out
}

func toTemplateString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := jsonMarshalCompact(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// effectiveContext merges invocation-scoped context (set by the tool
// wrapper from the named context parameter) with the request's own context
// map according to mode, then injects the auto tools list.
func effectiveContext(invocation any, contextParam string, reqVars map[string]any, mode ContextMode, tools []ToolInfo) map[string]any {
	auto := map[string]any{}
	if contextParam != "" && invocation != nil {
		auto[contextParam] = invocation
	}
	auto["tools"] = toolSummaries(tools)

	if len(reqVars) == 0 && mode != ModeReplace {
		return auto
	}

	merged := map[string]any{}
	switch mode {
	case ModeReplace:
		for k, v := range reqVars {
			merged[k] = v
		}
	case ModePrepend:
		for k, v := range reqVars {
			merged[k] = v
		}
		for k, v := range auto {
			merged[k] = v
		}
	default: // ModeAppend
		for k, v := range auto {
			merged[k] = v
		}
		for k, v := range reqVars {
			merged[k] = v
		}
	}
	return merged
}

func toolSummaries(tools []ToolInfo) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"capability":  t.Capability,
		})
	}
	return out
}

// Generate runs the composed request through the agentic loop and returns
// the final textual content.
func (rb *RequestBuilder) Generate(ctx context.Context) (string, error) {
	return rb.agent.runLoop(ctx, rb, nil)
}

// GenerateStructured runs the agentic loop and parses the final content as
// JSON matching the configured response type.
func (rb *RequestBuilder) GenerateStructured(ctx context.Context) (any, error) {
	if rb.responseSchema == nil {
		return nil, errStructuredOutputNotConfigured
	}
	text, err := rb.agent.runLoop(ctx, rb, rb.responseSchema)
	if err != nil {
		return nil, err
	}
	return extractJSON(text)
}
