package llmagent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mcpmesh/agent-sdk-go/pkg/mesherr"
)

// extractAssistant pulls the assistant's textual content and any tool calls
// out of a provider response, per §4.6 step 2: either an OpenAI-style
// message with a top-level tool_calls array, or an Anthropic-style
// structure with content blocks including tool_use entries. A string result
// is returned as plain text; a map carrying neither tool calls nor a content
// string or array yields empty content.
func extractAssistant(result any) (string, []rawToolCall, error) {
	switch v := result.(type) {
	case string:
		return v, nil, nil

	case map[string]any:
		if calls, ok := v["tool_calls"].([]any); ok && len(calls) > 0 {
			parsed, err := parseToolCalls(calls)
			if err != nil {
				return "", nil, err
			}
			content, _ := v["content"].(string)
			return content, parsed, nil
		}

		if blocks, ok := v["content"].([]any); ok {
			return extractFromBlocks(blocks)
		}

		if content, ok := v["content"].(string); ok {
			// §4.6 step 3: transparently unwrap a provider that returned
			// {"content": "X"} as a JSON wrapper with no tool calls.
			if inner, tc, ok := tryParseTextAsToolCalls(content); ok {
				return inner, tc, nil
			}
			return content, nil, nil
		}

		return "", nil, nil

	default:
		return "", nil, nil
	}
}

// extractFromBlocks handles an Anthropic-style content array: text blocks
// contribute to the returned content, tool_use blocks become tool calls.
func extractFromBlocks(blocks []any) (string, []rawToolCall, error) {
	var text strings.Builder
	var calls []rawToolCall

	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "tool_use":
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			args, _ := block["input"].(map[string]any)
			calls = append(calls, rawToolCall{ID: id, Name: name, Args: args})
		case "text", "":
			if s, ok := block["text"].(string); ok {
				if inner, tc, ok := tryParseTextAsToolCalls(s); ok && len(tc) > 0 {
					calls = append(calls, tc...)
					text.WriteString(inner)
					continue
				}
				text.WriteString(s)
			}
		}
	}
	return text.String(), calls, nil
}

// tryParseTextAsToolCalls handles the case where a content block's text is
// itself a JSON object carrying tool_calls (§4.6 step 2, last clause).
func tryParseTextAsToolCalls(text string) (string, []rawToolCall, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return "", nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return "", nil, false
	}
	calls, ok := m["tool_calls"].([]any)
	if !ok {
		return "", nil, false
	}
	parsed, err := parseToolCalls(calls)
	if err != nil {
		return "", nil, false
	}
	content, _ := m["content"].(string)
	return content, parsed, true
}

// parseToolCalls normalizes both OpenAI-style (function.arguments as a JSON
// string) and Anthropic-native (input as a pre-parsed object) tool calls. A
// call shaped as neither is an ambiguity raised as InvalidArgument rather
// than guessing empty arguments (Open Question, §9).
func parseToolCalls(raw []any) ([]rawToolCall, error) {
	out := make([]rawToolCall, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)

		if fn, ok := m["function"].(map[string]any); ok {
			name, _ := fn["name"].(string)
			args, err := parseArguments(fn["arguments"])
			if err != nil {
				return nil, err
			}
			out = append(out, rawToolCall{ID: id, Name: name, Args: args})
			continue
		}

		name, _ := m["name"].(string)
		args, err := parseArguments(m["input"])
		if err != nil {
			return nil, err
		}
		out = append(out, rawToolCall{ID: id, Name: name, Args: args})
	}
	return out, nil
}

func parseArguments(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, &mesherr.InvalidArgument{Param: "arguments", Message: fmt.Sprintf("tool-call arguments are not valid JSON: %v", err)}
		}
		return m, nil
	default:
		return nil, &mesherr.InvalidArgument{Param: "arguments", Message: "tool-call arguments are neither a JSON string nor a pre-parsed object"}
	}
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// extractJSON scans text for a fenced json block first, then the last
// balanced JSON object/array, permissive about commentary around it.
func extractJSON(text string) (any, error) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		var v any
		if err := json.Unmarshal([]byte(m[1]), &v); err == nil {
			return v, nil
		}
	}

	if span := lastBalancedJSON(text); span != "" {
		var v any
		if err := json.Unmarshal([]byte(span), &v); err == nil {
			return v, nil
		}
	}

	return nil, fmt.Errorf("llmagent: no JSON found in response: %q", text)
}

// lastBalancedJSON scans backward from the end of text for the last
// balanced {...} or [...] span.
func lastBalancedJSON(text string) string {
	for end := len(text); end > 0; end-- {
		if text[end-1] != '}' && text[end-1] != ']' {
			continue
		}
		open := byte('{')
		close := byte('}')
		if text[end-1] == ']' {
			open, close = '[', ']'
		}
		depth := 0
		for start := end - 1; start >= 0; start-- {
			switch text[start] {
			case close:
				depth++
			case open:
				depth--
				if depth == 0 {
					return text[start:end]
				}
			}
		}
	}
	return ""
}
