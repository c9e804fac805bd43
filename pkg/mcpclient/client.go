// Package mcpclient is the hand-rolled outbound MCP JSON-RPC client named in
// the runtime's design: the in-scope counterpart to the out-of-scope inbound
// message-framing library. It issues tools/call and tools/list requests to
// peer agents, unwraps JSON or SSE framing, and performs no retries — retry
// policy, if any, belongs to a higher layer.
package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	meshtrace "github.com/mcpmesh/agent-sdk-go/pkg/trace"
)

const (
	connectTimeout = 30 * time.Second
	readTimeout    = 60 * time.Second
	writeTimeout   = 60 * time.Second
)

// ReturnType is a hint for how to coerce a peer's textual result.
type ReturnType int

const (
	ReturnAny ReturnType = iota
	ReturnString
	ReturnInt
	ReturnFloat
	ReturnBool
)

// ToolInfo describes one tool as advertised by a peer's tools/list.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Client is a single outbound MCP JSON-RPC client, safe for concurrent use.
// One Client is normally shared process-wide so that request ids stay
// monotonically unique, as the wire contract requires.
type Client struct {
	httpClient *http.Client
	nextID     atomic.Int64
}

// New builds a Client with the fixed connect/read/write timeouts the
// contract specifies.
func New() *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: readTimeout,
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   readTimeout + writeTimeout,
		},
	}
}

// Call issues a tools/call JSON-RPC request to <endpoint>/mcp and extracts
// the result according to hint.
func (c *Client) Call(ctx context.Context, endpoint, functionName string, params map[string]any, hint ReturnType) (any, error) {
	raw, err := c.do(ctx, endpoint, "tools/call", map[string]any{
		"name":      functionName,
		"arguments": params,
	})
	if err != nil {
		return nil, err
	}
	return extractResult(raw, hint, functionName)
}

// ListTools issues a tools/list JSON-RPC request and returns the advertised
// tool set.
func (c *Client) ListTools(ctx context.Context, endpoint string) ([]ToolInfo, error) {
	raw, err := c.do(ctx, endpoint, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var body struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &ToolCallError{Tool: "tools/list", Message: fmt.Sprintf("parse failure: %v", err)}
	}
	return body.Tools, nil
}

func (c *Client) do(ctx context.Context, endpoint, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, &ToolCallError{Tool: method, Message: fmt.Sprintf("encode failure: %v", err)}
	}

	url := strings.TrimRight(endpoint, "/") + "/mcp"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &ToolCallError{Tool: method, Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	if tc, ok := meshtrace.FromContext(ctx); ok {
		for k, v := range tc.OutboundHeaders() {
			if len(v) > 0 {
				httpReq.Header.Set(k, v[0])
			}
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ToolCallError{Tool: method, Message: fmt.Sprintf("i/o failure: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ToolCallError{Tool: method, Message: fmt.Sprintf("i/o failure reading body: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ToolCallError{Tool: method, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, trimBody(body))}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ToolCallError{Tool: method, Message: "empty response body"}
	}

	payload := body
	if looksLikeSSE(body) {
		payload = flattenSSE(body)
		if len(bytes.TrimSpace(payload)) == 0 {
			return nil, &ToolCallError{Tool: method, Message: "empty SSE payload"}
		}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return nil, &ToolCallError{Tool: method, Message: fmt.Sprintf("parse failure: %v", err)}
	}
	if rpcResp.Error != nil {
		return nil, &ToolCallError{Tool: method, Message: rpcResp.Error.Message}
	}
	return rpcResp.Result, nil
}

func trimBody(b []byte) string {
	const max = 256
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// looksLikeSSE reports whether the body is framed as server-sent events:
// it starts with "event:" or contains a "data:" line.
func looksLikeSSE(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("event:")) {
		return true
	}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), "data:") {
			return true
		}
	}
	return false
}

// flattenSSE concatenates every "data:" line's payload, in order, trimming
// the "data:" prefix, and returns the concatenation for JSON parsing.
func flattenSSE(body []byte) []byte {
	var buf bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "data:") {
			continue
		}
		payload := strings.TrimPrefix(trimmed, "data:")
		payload = strings.TrimPrefix(payload, " ")
		buf.WriteString(payload)
	}
	return buf.Bytes()
}
