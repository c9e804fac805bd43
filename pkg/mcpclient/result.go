package mcpclient

import (
	"encoding/json"
	"fmt"
)

type contentItem struct {
	Text string `json:"text"`
}

// extractResult implements the §4.2 result-extraction rule: prefer
// result.content[0].text when present, coerce per hint; otherwise parse the
// result node directly.
func extractResult(raw json.RawMessage, hint ReturnType, functionName string) (any, error) {
	var withContent struct {
		Content []contentItem `json:"content"`
	}
	hasText := false
	if err := json.Unmarshal(raw, &withContent); err == nil && len(withContent.Content) > 0 {
		hasText = true
	}

	if hasText {
		return coerce([]byte(withContent.Content[0].Text), hint, functionName)
	}
	return coerce(raw, hint, functionName)
}

// coerce applies the return-type hint's primitive shortcut, falling back to
// a generic object parse and finally to the raw string for ReturnAny.
func coerce(data []byte, hint ReturnType, functionName string) (any, error) {
	switch hint {
	case ReturnString:
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return s, nil
		}
		return string(data), nil

	case ReturnInt:
		var i int64
		if err := json.Unmarshal(data, &i); err == nil {
			return i, nil
		}
		return nil, &ToolCallError{Tool: functionName, Message: fmt.Sprintf("cannot parse %q as integer", data)}

	case ReturnFloat:
		var f float64
		if err := json.Unmarshal(data, &f); err == nil {
			return f, nil
		}
		return nil, &ToolCallError{Tool: functionName, Message: fmt.Sprintf("cannot parse %q as float", data)}

	case ReturnBool:
		var b bool
		if err := json.Unmarshal(data, &b); err == nil {
			return b, nil
		}
		return nil, &ToolCallError{Tool: functionName, Message: fmt.Sprintf("cannot parse %q as boolean", data)}

	default: // ReturnAny: generic object parse, falling back to the raw string
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		return string(data), nil
	}
}
