// Package rpc provides the JSON-RPC 2.0 and WebSocket surface of the bridge
// daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/juiceswap/lds-bridge/internal/bridge"
	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/limits"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/storage"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// Swaps runs and inspects bridge flows. BridgeSwaps adapts *bridge.Bridge.
type Swaps interface {
	Start(ctx context.Context, dir bridge.Direction, observers ...bridge.Observer) (bridge.Swap, error)
	Swap(flowID string) (bridge.Swap, error)
	List() []bridge.Swap
	Refund(ctx context.Context, sw bridge.Swap, destination string) (string, error)
}

// SwapStore is the persisted swap history.
type SwapStore interface {
	GetSwap(id string) (*storage.SwapRecord, error)
	ListSwaps(limit int) ([]*storage.SwapRecord, error)
}

// LimitsResolver computes the amount bounds of a pair.
type LimitsResolver interface {
	Resolve(ctx context.Context, in, out config.Currency, side limits.Side) (*limits.Limits, bool)
}

// Currencies looks up a currency by symbol. *config.Config implements it.
type Currencies interface {
	Currency(symbol string) (config.Currency, bool)
}

// Deps are the collaborators of a Server. Store, Limits and Popups are
// optional.
type Deps struct {
	Swaps      Swaps
	Store      SwapStore
	Limits     LimitsResolver
	Currencies Currencies
	Popups     *notify.Registry
	Log        *logging.Logger
}

// Server is a JSON-RPC 2.0 server.
type Server struct {
	deps  Deps
	log   *logging.Logger
	wsHub *WSHub

	// ctx outlives requests; flows started over RPC run under it.
	ctx    context.Context
	cancel context.CancelFunc

	events *eventObserver

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Bridge error codes.
const (
	SwapNotFound   = -32001
	NotRefundable  = -32002
	LimitsNotFound = -32003
)

// NewServer creates a new JSON-RPC server.
func NewServer(deps Deps) (*Server, error) {
	if deps.Swaps == nil {
		return nil, errors.New("rpc: swaps are required")
	}
	if deps.Currencies == nil {
		return nil, errors.New("rpc: currencies are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:     deps,
		log:      logging.OrDefault(deps.Log, "rpc"),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
	}
	s.wsHub = NewWSHub(s.log)
	s.events = newEventObserver(s.wsHub)

	if deps.Popups != nil {
		deps.Popups.OnPopup(func(p notify.Popup) {
			s.wsHub.Broadcast(EventSwapPopup, p)
		})
	}

	s.registerHandlers()

	return s, nil
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	s.handlers["bridge_start"] = s.bridgeStart
	s.handlers["bridge_status"] = s.bridgeStatus
	s.handlers["bridge_list"] = s.bridgeList
	s.handlers["bridge_limits"] = s.bridgeLimits
	s.handlers["bridge_refund"] = s.bridgeRefund

	s.handlers["popups_list"] = s.popupsList
	s.handlers["popups_dismiss"] = s.popupsDismiss
}

// Observer returns the bridge observer that turns flow transitions into
// WebSocket events. Flows started over RPC are observed already.
func (s *Server) Observer() bridge.Observer {
	return s.events
}

// Handler returns the HTTP handler serving JSON-RPC on / and events on /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)
	return corsMiddleware(mux)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	go s.wsHub.Run()

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server and cancels the flows it started.
func (s *Server) Stop() error {
	s.cancel()
	defer s.wsHub.Close()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
		s.writeError(w, req.ID, InternalError, err.Error(), errorData(err))
		return
	}

	s.writeResult(w, req.ID, result)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// errorData attaches the bridge error class so clients can tell a refund
// case from a retry case.
func errorData(err error) interface{} {
	class := bridge.Classify(err)
	if class == bridge.ClassUnknown {
		return nil
	}
	return map[string]string{"class": string(class)}
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
