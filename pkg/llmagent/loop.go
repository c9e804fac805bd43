package llmagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/mesherr"
)

var errStructuredOutputNotConfigured = errors.New("llmagent: ResponseType was not set on this request")

func jsonMarshalCompact(v any) ([]byte, error) {
	return json.Marshal(v)
}

type rawToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// runLoop implements the agentic loop (§4.6 step 1-5). outputSchema, when
// non-nil, is sent to the provider as the structured-output schema. Any
// per-invocation template context is read by composeMessages from the
// request's "__invocation__" context entry.
func (a *agent) runLoop(ctx context.Context, rb *RequestBuilder, outputSchema map[string]any) (string, error) {
	provider := a.provider.Load()
	if provider == nil {
		return "", ErrNoProvider
	}
	if !provider.available {
		return "", ErrProviderUnavailable
	}

	tools := a.toolsSnapshot()
	messages := a.composeMessages(rb, tools)

	maxIter := rb.params.MaxIterations
	if maxIter <= 0 {
		maxIter = 5
	}

	var lastContent string
	for iter := 0; iter < maxIter; iter++ {
		modelParams := map[string]any{
			"max_tokens":  rb.params.MaxTokens,
			"temperature": rb.params.Temperature,
			"top_p":       rb.params.TopP,
			"stop":        rb.params.Stop,
		}
		if outputSchema != nil {
			modelParams["output_schema"] = outputSchema
			modelParams["output_type_name"] = rb.responseTypeName
		}

		result, err := a.client.Call(ctx, provider.endpoint, provider.functionName, map[string]any{
			"request": map[string]any{
				"messages":     messagesToWire(messages),
				"tools":        toolDefinitions(tools),
				"model_params": modelParams,
			},
		}, mcpclient.ReturnAny)
		if err != nil {
			return "", fmt.Errorf("llmagent: provider call failed: %w", err)
		}

		content, toolCalls, err := extractAssistant(result)
		if err != nil {
			return "", err
		}
		lastContent = content

		if len(toolCalls) == 0 {
			return content, nil
		}

		messages = append(messages, Message{Role: "assistant", Content: content})
		for _, tc := range toolCalls {
			messages = append(messages, a.executeToolCall(ctx, tc, &tools))
		}
	}

	return lastContent, nil
}

func (a *agent) composeMessages(rb *RequestBuilder, tools []ToolInfo) []Message {
	messages := append([]Message(nil), rb.messages...)
	if rb.hasExplicitSystem() || a.systemTemplate == "" {
		return messages
	}

	var invocation any // the per-invocation context value is threaded in via RequestBuilder.Context when set by the caller
	if v, ok := rb.contextVars["__invocation__"]; ok {
		invocation = v
	}
	effective := effectiveContext(invocation, a.contextParam, rb.contextVars, rb.contextMode, tools)
	rendered := renderSystemTemplate(a.systemTemplate, effective)

	return append([]Message{{Role: "system", Content: rendered}}, messages...)
}

func messagesToWire(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		entry := map[string]any{"role": m.Role, "content": m.Content}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		out = append(out, entry)
	}
	return out
}

func toolDefinitions(tools []ToolInfo) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
			},
		})
	}
	return out
}

// executeToolCall resolves and invokes one tool call, preferring local
// in-process dispatch, and always returns a tool-role message: errors are
// converted to JSON so the model can self-correct (§4.6 step 4, §7).
func (a *agent) executeToolCall(ctx context.Context, tc rawToolCall, tools *[]ToolInfo) Message {
	if a.local != nil {
		if result, handled, err := a.local.DispatchLocal(ctx, tc.Name, tc.Args); handled {
			return toolResultMessage(tc, result, err, a, tools)
		}
	}

	info, found := findTool(*tools, tc.Name)
	if !found {
		err := &mesherr.ToolUnavailable{Capability: tc.Name}
		return toolResultMessage(tc, nil, err, a, tools)
	}

	p := a.factory.GetOrCreate("", info.FunctionName, mcpclient.ReturnAny)
	result, err := p.CallWith(ctx, tc.Args)
	if err != nil {
		return toolResultMessage(tc, nil, err, a, tools)
	}
	resultMap, _ := result.(map[string]any)
	if resultMap == nil {
		resultMap = map[string]any{"result": result}
	}
	return toolResultMessage(tc, resultMap, nil, a, tools)
}

func toolResultMessage(tc rawToolCall, result map[string]any, err error, a *agent, tools *[]ToolInfo) Message {
	if err != nil {
		var unavailable *mesherr.ToolUnavailable
		if errors.As(err, &unavailable) {
			a.MarkToolUnavailable(tc.Name)
			*tools = a.toolsSnapshot()
		}
		b, _ := jsonMarshalCompact(mesherr.AsJSON(tc.Name, err))
		return Message{Role: "tool", Content: string(b), ToolCallID: tc.ID}
	}
	b, _ := jsonMarshalCompact(result)
	return Message{Role: "tool", Content: string(b), ToolCallID: tc.ID}
}

func findTool(tools []ToolInfo, name string) (ToolInfo, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolInfo{}, false
}
