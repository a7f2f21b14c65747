// ABOUTME: Streamable HTTP transport: a stateless JSON-RPC 2.0 endpoint at /mcp.
// ABOUTME: Handles initialize, ping, tools/list and tools/call; notifications are accepted with 202.

package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/2389/coven-tools/internal/auth"
	"github.com/2389/coven-tools/internal/tool"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-06-18"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []any `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// HTTPHandler returns the /mcp JSON-RPC endpoint, behind bearer auth when
// a verifier is configured.
func (b *Bridge) HTTPHandler() http.Handler {
	return b.protect(http.HandlerFunc(b.handleMCP))
}

// protect wraps h with bearer auth when a verifier is configured.
func (b *Bridge) protect(h http.Handler) http.Handler {
	if b.verifier == nil {
		return h
	}
	return auth.HTTPAuthMiddleware(b.verifier, b.logger)(h)
}

// handleMCP is the single endpoint; GET streams are not offered.
func (b *Bridge) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		b.handlePost(w, r)
	default:
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost processes one JSON-RPC message sent via HTTP POST.
func (b *Bridge) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		b.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		b.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large")
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		b.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		b.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
		return
	}

	if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && req.Method != "initialize" && !supportedProtocolVersions[v] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	isNotification := len(req.ID) == 0 || string(req.ID) == "null"
	b.logger.Debug("MCP request", "method", req.Method, "is_notification", isNotification)

	if isNotification {
		if !strings.HasPrefix(req.Method, "notifications/") {
			b.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		b.handleInitialize(w, req)
	case "ping":
		b.sendJSONRPCResult(w, req.ID, map[string]any{})
	case "tools/list":
		b.handleToolsList(w, req)
	case "tools/call":
		b.handleToolsCall(w, r, req)
	default:
		b.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found")
	}
}

// handleInitialize answers the handshake. No session is created.
func (b *Bridge) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	version := latestProtocolVersion
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(req.Params) > 0 && json.Unmarshal(req.Params, &params) == nil && supportedProtocolVersions[params.ProtocolVersion] {
		version = params.ProtocolVersion
	}

	b.sendJSONRPCResult(w, req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    b.name,
			"version": b.version,
		},
	})
}

// handleToolsList returns the current snapshot.
func (b *Bridge) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	snapshot := b.Snapshot()
	result := ListToolsResult{Tools: make([]any, len(snapshot))}
	for i, t := range snapshot {
		result.Tools[i] = t
	}

	b.logger.Debug("tools/list", "count", len(snapshot))
	b.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall dispatches tools/call through the bridge.
func (b *Bridge) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			b.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params")
			return
		}
	}
	if params.Name == "" {
		b.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required")
		return
	}

	args := map[string]any{}
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			b.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "arguments must be a JSON object")
			return
		}
	}

	text, failed, err := b.call(r.Context(), params.Name, args)
	if err != nil {
		if errors.Is(err, tool.ErrToolNotFound) {
			b.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool not found")
			return
		}
		b.logger.Warn("tools/call failed", "tool_name", params.Name, "error", err)
		b.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "tool execution failed")
		return
	}

	b.sendJSONRPCResult(w, req.ID, CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: failed,
	})
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (b *Bridge) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}); err != nil {
		b.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (b *Bridge) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		b.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
