package mcpclient

import "fmt"

// ToolCallError is raised for any outbound failure: non-2xx, empty body,
// a JSON-RPC error object, parse failure, or I/O failure.
type ToolCallError struct {
	Tool    string
	Message string
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("mcpclient: %s: %s", e.Tool, e.Message)
}
