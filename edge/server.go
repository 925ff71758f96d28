// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tracery-project/tracery/lib/clock"
	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lib/workertoken"
	"github.com/tracery-project/tracery/lineage"
)

// maxRequestBody bounds an RPC request body. The largest legitimate
// payloads are log chunks, which workers cap well below this.
const maxRequestBody = 1 << 20

// defaultGraphDepth bounds lineage.graph walks when the caller does
// not ask for a specific depth.
const defaultGraphDepth = 5

// methodHandler executes one RPC method. The token has passed
// signature, expiry, and audience checks; subject and queue checks are
// the handler's job.
type methodHandler func(ctx context.Context, token *workertoken.Token, params json.RawMessage) (any, *schema.RPCError)

// Server is the edge worker API server: a JSON-RPC 2.0 endpoint on a
// single POST path, plus an unauthenticated health endpoint.
type Server struct {
	config     ServerConfig
	store      *Store
	logs       *LogManager
	lineage    *lineage.Store
	forward    lineage.Backend
	clock      clock.Clock
	logger     *slog.Logger
	handlers   map[string]methodHandler
	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
}

// ServerConfig holds the parameters for creating an edge server.
type ServerConfig struct {
	// ListenAddress is the TCP address to serve on. Use "127.0.0.1:0"
	// in tests and read the bound address from [Server.Addr].
	ListenAddress string

	// PublicKey verifies worker tokens. Required.
	PublicKey ed25519.PublicKey

	// Store is the server state store. Required.
	Store *Store

	// Logs materializes pushed log chunks. Required.
	Logs *LogManager

	// Lineage is the lineage store serving lineage.graph. Required.
	Lineage *lineage.Store

	// Forward receives pushed lineage events after they are stored,
	// for delivery to external collectors. Optional; nil disables
	// forwarding.
	Forward lineage.Backend

	// HeartbeatInterval is relayed to workers at registration.
	HeartbeatInterval time.Duration

	// GraphDepthLimit caps lineage.graph depth. Zero means
	// defaultGraphDepth.
	GraphDepthLimit int

	// Clock provides time for token expiry and heartbeats. Required.
	Clock clock.Clock

	// Logger receives request and operational logs. Required.
	Logger *slog.Logger
}

// NewServer creates an edge server. Call [Server.Run] to serve.
func NewServer(cfg ServerConfig) (*Server, error) {
	if len(cfg.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("edge server: PublicKey is required")
	}
	if cfg.Store == nil || cfg.Logs == nil || cfg.Lineage == nil {
		return nil, fmt.Errorf("edge server: Store, Logs, and Lineage are required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("edge server: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("edge server: Logger is required")
	}
	if cfg.ListenAddress == "" {
		return nil, fmt.Errorf("edge server: ListenAddress is required")
	}
	if cfg.GraphDepthLimit <= 0 {
		cfg.GraphDepthLimit = defaultGraphDepth
	}

	server := &Server{
		config:  cfg,
		store:   cfg.Store,
		logs:    cfg.Logs,
		lineage: cfg.Lineage,
		forward: cfg.Forward,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		ready:   make(chan struct{}),
	}
	server.handlers = map[string]methodHandler{
		schema.MethodWorkerRegister:  server.handleWorkerRegister,
		schema.MethodWorkerSetState:  server.handleWorkerSetState,
		schema.MethodJobsFetch:       server.handleJobsFetch,
		schema.MethodJobsState:       server.handleJobsState,
		schema.MethodLogsLogfilePath: server.handleLogsLogfilePath,
		schema.MethodLogsPush:        server.handleLogsPush,
		schema.MethodLineagePush:     server.handleLineagePush,
		schema.MethodLineageGraph:    server.handleLineageGraph,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+schema.RPCPath, server.handleRPC)
	mux.HandleFunc("GET "+schema.HealthPath, server.handleHealth)

	server.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server, nil
}

// Run listens and serves until ctx is cancelled, then drains in-flight
// requests and returns.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("edge server: listening on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = listener
	s.logger.Info("edge server listening", "address", listener.Addr().String())
	close(s.ready)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("edge server: shutdown: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("edge server: %w", err)
	}
}

// Ready is closed once the server is listening. Addr is valid after.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`+"\n")
}

// handleRPC is the single JSON-RPC endpoint. Protocol errors (parse,
// envelope, unknown method, auth) ride HTTP 200 in the JSON-RPC error
// object; only transport-level failures produce non-200 statuses.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > maxRequestBody {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var request schema.RPCRequest
	if err := json.Unmarshal(body, &request); err != nil {
		s.writeResponse(w, nil, nil, &schema.RPCError{
			Code:    schema.CodeParseError,
			Message: "request body is not valid JSON",
		})
		return
	}

	if code, message := request.ValidateEnvelope(); code != 0 {
		s.writeResponse(w, request.ID, nil, &schema.RPCError{Code: code, Message: message})
		return
	}

	handler, known := s.handlers[request.Method]
	if !known {
		s.writeResponse(w, request.ID, nil, &schema.RPCError{
			Code:    schema.CodeMethodNotFound,
			Message: fmt.Sprintf("unknown method %q", request.Method),
		})
		return
	}

	token, authErr := authenticate(r, s.config.PublicKey, s.clock.Now())
	if authErr != nil {
		s.logger.Warn("rejected rpc call", "method", request.Method, "error", authErr.Message)
		s.writeResponse(w, request.ID, nil, authErr)
		return
	}

	// Any authenticated call proves the worker is alive.
	if err := s.store.TouchWorker(r.Context(), token.Subject); err != nil {
		s.logger.Warn("heartbeat touch failed", "worker", token.Subject, "error", err)
	}

	result, rpcErr := handler(r.Context(), token, request.Params)
	if rpcErr != nil {
		s.logger.Warn("rpc call failed",
			"method", request.Method, "worker", token.Subject,
			"code", rpcErr.Code, "error", rpcErr.Message)
		s.writeResponse(w, request.ID, nil, rpcErr)
		return
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		s.writeResponse(w, request.ID, nil, &schema.RPCError{
			Code:    schema.CodeInternalError,
			Message: "encoding result",
		})
		return
	}
	s.writeResponse(w, request.ID, encoded, nil)
}

func (s *Server) writeResponse(w http.ResponseWriter, id json.RawMessage, result json.RawMessage, rpcErr *schema.RPCError) {
	response := schema.RPCResponse{
		JSONRPC: schema.JSONRPCVersion,
		Result:  result,
		Error:   rpcErr,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("writing rpc response", "error", err)
	}
}

// decodeParams unmarshals method params with unknown fields rejected,
// so a typo'd field name fails loudly instead of silently defaulting.
func decodeParams(params json.RawMessage, v any) *schema.RPCError {
	decoder := json.NewDecoder(bytes.NewReader(params))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return &schema.RPCError{
			Code:    schema.CodeInvalidParams,
			Message: err.Error(),
		}
	}
	return nil
}

func internalError(err error) *schema.RPCError {
	return &schema.RPCError{Code: schema.CodeInternalError, Message: err.Error()}
}

func invalidParams(message string) *schema.RPCError {
	return &schema.RPCError{Code: schema.CodeInvalidParams, Message: message}
}
