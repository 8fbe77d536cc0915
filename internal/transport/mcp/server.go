// Package mcp exposes the assembly commands as tools over a small
// JSON-RPC endpoint for agent runtimes.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/engine"
	"layerforge.ai/internal/sim/tuning"
)

const mcpProtocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailed     = -32000
)

var errBadArguments = errors.New("bad arguments")

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError carries the protocol error code of a failed tool call in Data
// so agents can branch on the same codes the ws clients see.
type rpcError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *errorData `json:"data,omitempty"`
}

type errorData struct {
	Code   string `json:"code,omitempty"`
	Tool   string `json:"tool,omitempty"`
	Method string `json:"method,omitempty"`
}

func decodeRequest(body []byte) (rpcRequest, error) {
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return rpcRequest{}, err
	}
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return rpcRequest{}, fmt.Errorf("unsupported jsonrpc version %q", req.JSONRPC)
	}
	if req.Method == "" {
		return rpcRequest{}, fmt.Errorf("missing method")
	}
	return req, nil
}

func result(id json.RawMessage, v any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: v}
}

func failure(id json.RawMessage, code int, msg string, data *errorData) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg, Data: data}}
}

// toolFailure maps a failed call onto the protocol error codes.
func toolFailure(id json.RawMessage, toolName string, err error) rpcResponse {
	code := protocol.ErrInternal
	switch {
	case errors.Is(err, errBadArguments):
		code = protocol.ErrBadRequest
	case errors.Is(err, engine.ErrBusy):
		code = protocol.ErrBusy
	}
	return failure(id, codeToolFailed, err.Error(), &errorData{Code: code, Tool: toolName})
}

// Submitter runs one command on the engine loop.
type Submitter interface {
	Submit(ctx context.Context, sessionID string, cmd protocol.CommandMsg) (engine.Reply, error)
}

type Config struct {
	Engine Submitter
	// HMACSecret enables signed requests. Without it the caller must keep
	// the endpoint on loopback.
	HMACSecret string
	Limits     tuning.Limits
	Logger     *log.Logger
}

type Server struct {
	engine Submitter
	secret []byte
	guard  *replayGuard
	limits tuning.Limits
	log    *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("mcp: nil engine")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		engine:   cfg.Engine,
		limits:   cfg.Limits,
		log:      logger,
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
	}
	if secret := strings.TrimSpace(cfg.HMACSecret); secret != "" {
		s.secret = []byte(secret)
		s.guard = newReplayGuard(0)
	}
	return s, nil
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
		if err != nil {
			http.Error(rw, "bad body", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		clientID := strings.TrimSpace(r.Header.Get(headerClientID))
		if s.secret != nil {
			ar := verifyHMAC(r, body, s.secret, s.now())
			if ar.Status != 0 {
				http.Error(rw, ar.Message, ar.Status)
				return
			}
			if !s.guard.allow(ar.ClientID, ar.Signature, s.now()) {
				http.Error(rw, "replayed request", http.StatusUnauthorized)
				return
			}
			clientID = ar.ClientID
		}
		if clientID == "" {
			clientID = "default"
		}

		req, err := decodeRequest(body)
		if err != nil {
			http.Error(rw, "bad jsonrpc request", http.StatusBadRequest)
			return
		}
		resp := s.dispatch(r.Context(), clientID, req)
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) dispatch(ctx context.Context, clientID string, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"serverInfo":      map[string]any{"name": "layerforge", "version": protocol.Version},
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
		})

	case "tools/list", "list_tools":
		out := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			out = append(out, t.descriptor())
		}
		return result(req.ID, map[string]any{"tools": out})

	case "tools/call", "call_tool":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return failure(req.ID, codeInvalidParams, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return failure(req.ID, codeInvalidParams, "bad params: "+err.Error(), nil)
		}
		t, ok := toolByName(p.Name)
		if !ok {
			return failure(req.ID, codeMethodNotFound, "tool not found", &errorData{Tool: p.Name})
		}
		if !s.limiter(clientID).Allow() {
			return failure(req.ID, codeToolFailed, "too many commands", &errorData{Code: protocol.ErrRateLimit, Tool: t.Name})
		}
		out, err := s.call(ctx, clientID, t, p.Arguments)
		if err != nil {
			return toolFailure(req.ID, t.Name, err)
		}
		return result(req.ID, out)

	default:
		return failure(req.ID, codeMethodNotFound, "method not found", &errorData{Method: req.Method})
	}
}

// ToolResult is what a tool call returns: the command's ack plus the
// payload some commands carry.
type ToolResult struct {
	Ack         protocol.AckMsg          `json:"ack"`
	Diagnostics *protocol.DiagnosticsMsg `json:"diagnostics,omitempty"`
	Diff        *protocol.DiffMsg        `json:"diff,omitempty"`
}

func (s *Server) call(ctx context.Context, clientID string, t tool, args json.RawMessage) (ToolResult, error) {
	var cmd protocol.CommandMsg
	if len(bytes.TrimSpace(args)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(args))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cmd); err != nil {
			return ToolResult{}, fmt.Errorf("%w: %v", errBadArguments, err)
		}
	}
	for _, name := range t.Required {
		if !hasArg(cmd, name) {
			return ToolResult{}, fmt.Errorf("%w: missing %s", errBadArguments, name)
		}
	}
	cmd.Type = protocol.TypeCommand
	cmd.ProtocolVersion = protocol.Version
	cmd.ReqID = uuid.NewString()
	cmd.Op = t.Op

	raw, err := json.Marshal(cmd)
	if err != nil {
		return ToolResult{}, err
	}
	if err := protocol.Validate(protocol.SchemaCommand, raw); err != nil {
		return ToolResult{}, fmt.Errorf("%w: %v", errBadArguments, err)
	}

	reply, err := s.engine.Submit(ctx, "mcp:"+clientID, cmd)
	if err != nil {
		return ToolResult{}, err
	}
	if !reply.Ack.Accepted {
		s.log.Printf("client=%s tool=%s rejected code=%s", clientID, t.Name, reply.Ack.Code)
	}
	return ToolResult{Ack: reply.Ack, Diagnostics: reply.Diagnostics, Diff: reply.Diff}, nil
}

func (s *Server) limiter(clientID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[clientID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Inf, 0)
	if s.limits.CommandsMax > 0 && s.limits.CommandsWindowMs > 0 {
		window := time.Duration(s.limits.CommandsWindowMs) * time.Millisecond
		l = rate.NewLimiter(rate.Every(window/time.Duration(s.limits.CommandsMax)), s.limits.CommandsMax)
	}
	s.limiters[clientID] = l
	return l
}
