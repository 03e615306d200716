package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/rules"
)

// ServerName and ServerVersion identify the server in initialize.
const (
	ServerName    = "Arbiter Rules"
	ServerVersion = "1.0.0"
)

const maxBodyBytes = 1 << 20

// Server answers MCP requests from the rules loaded in an engine.
type Server struct {
	engine *rules.Engine
	tools  []Tool
	logger *slog.Logger
}

// NewServer creates a server backed by engine.
func NewServer(engine *rules.Engine) *Server {
	return &Server{
		engine: engine,
		tools:  toolCatalog(),
		logger: slog.Default().With("component", "mcp"),
	}
}

// Tools returns the advertised tools.
func (s *Server) Tools() []Tool {
	return s.tools
}

// Handle dispatches one request. It returns nil for notifications.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request")
	}

	result, rpcErr := s.dispatch(ctx, req)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr.Code, rpcErr.Message)
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, *Error) {
	switch req.Method {
	case "initialize":
		var p initializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, &Error{Code: CodeInvalidParams, Message: "invalid initialize params: " + err.Error()}
			}
		}
		version := p.ProtocolVersion
		if version == "" {
			version = ProtocolVersion
		}
		return map[string]any{
			"protocolVersion": version,
			"capabilities": map[string]any{
				"tools":   map[string]any{},
				"logging": map[string]any{},
			},
			"serverInfo": map[string]string{
				"name":    ServerName,
				"version": ServerVersion,
			},
		}, nil

	case "ping":
		return map[string]any{}, nil

	case "tools/list":
		return map[string]any{"tools": s.tools}, nil

	case "tools/call":
		var p callParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: "invalid tools/call params: " + err.Error()}
		}
		return s.callTool(ctx, p.Name, p.Arguments)

	default:
		if strings.HasPrefix(req.Method, "notifications/") {
			return nil, nil
		}
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)}
	}
}

// ServeHTTP implements the stateless streamable HTTP transport: POST
// carries one JSON-RPC message, other methods are refused.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeResponse(w, http.StatusMethodNotAllowed,
			errorResponse(nil, CodeMethodNotFound, "Method not allowed. Use POST."))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeResponse(w, http.StatusBadRequest, errorResponse(nil, CodeParseError, "Parse error"))
		return
	}

	var req Request
	if err := json.Unmarshal(bytes.TrimSpace(body), &req); err != nil {
		writeResponse(w, http.StatusBadRequest, errorResponse(nil, CodeParseError, "Parse error"))
		return
	}

	resp := s.safeHandle(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeResponse(w, http.StatusOK, resp)
}

func (s *Server) safeHandle(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("mcp handler panic", "method", req.Method, "panic", rec)
			resp = errorResponse(req.ID, CodeInternalError, "Internal server error")
		}
	}()
	return s.Handle(ctx, req)
}

func writeResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode mcp response", "error", err)
	}
}

// asRPCError unwraps err into a JSON-RPC error, defaulting to internal.
func asRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// stringify renders v the way tool output is shown to clients: indented
// by two spaces, without HTML escaping.
func stringify(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func decodeFacts(raw json.RawMessage) (domain.FactMap, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.FactMap{}, nil
	}
	var facts domain.FactMap
	if err := json.Unmarshal(raw, &facts); err != nil {
		return nil, err
	}
	return facts, nil
}
