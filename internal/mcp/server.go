package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const protocolVersion = "2024-11-05"

// --- JSON-RPC 2.0 types ---

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
)

// --- MCP protocol types ---

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callToolResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Server speaks MCP over newline-delimited JSON-RPC on a reader/writer
// pair, normally stdin/stdout.
type Server struct {
	client *Client
	logger *slog.Logger

	mu  sync.Mutex // serializes writes
	out io.Writer
}

// NewServer wires the gateway to an API client.
func NewServer(client *Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{client: client, logger: logger}
}

// Run reads requests line by line until in closes or ctx is cancelled.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.mu.Lock()
	s.out = out
	s.mu.Unlock()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(nil, codeParseError, "parse error")
			continue
		}
		s.dispatch(ctx, &req)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mcp server: read: %w", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req *jsonRPCRequest) {
	switch req.Method {
	case "initialize":
		s.writeResult(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]string{"name": "taskforce", "version": "1.0.0"},
		})

	case "notifications/initialized":
		// Notification, no response.

	case "ping":
		s.writeResult(req.ID, map[string]any{})

	case "tools/list":
		s.writeResult(req.ID, map[string]any{"tools": toolDefs})

	case "tools/call":
		var params callToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(req.ID, codeParseError, "invalid tools/call params")
			return
		}
		s.handleCall(ctx, req.ID, &params)

	default:
		// Notifications carry no ID and expect no reply.
		if req.ID != nil {
			s.writeError(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
		}
	}
}

func (s *Server) handleCall(ctx context.Context, id json.RawMessage, params *callToolParams) {
	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}

	raw, err := s.callTool(ctx, params.Name, args)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", params.Name, "error", err)
		s.writeResult(id, callToolResult{
			Content: []content{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		})
		return
	}

	s.writeResult(id, callToolResult{
		Content: []content{{Type: "text", Text: indented(raw)}},
	})
}

// indented re-renders raw JSON with two-space indent for readability in
// tool output; invalid JSON passes through untouched.
func indented(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	s.write(jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id json.RawMessage, code int, msg string) {
	s.write(jsonRPCResponse{JSONRPC: "2.0", ID: id, Error: &jsonRPCError{Code: code, Message: msg}})
}

func (s *Server) write(resp jsonRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Write(append(data, '\n'))
}
