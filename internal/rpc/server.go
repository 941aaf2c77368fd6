// Package rpc serves the swap client to local frontends: a JSON-RPC 2.0
// endpoint for swap actions and a WebSocket feed of swap events.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/internal/claim"
	"github.com/klingon-exchange/swapclient/internal/coordinator"
	"github.com/klingon-exchange/swapclient/internal/quote"
	"github.com/klingon-exchange/swapclient/internal/refund"
	"github.com/klingon-exchange/swapclient/internal/secret"
	"github.com/klingon-exchange/swapclient/internal/service"
	"github.com/klingon-exchange/swapclient/internal/storage"
	"github.com/klingon-exchange/swapclient/internal/swap"
	"github.com/klingon-exchange/swapclient/pkg/logging"
)

// SwapService is the part of the swap client the server exposes.
type SwapService interface {
	Quote(ctx context.Context, source, target chain.Asset, side quote.Side, amount *big.Int) (*quote.Derivation, error)
	CreateSwap(ctx context.Context, req *service.CreateRequest) (*swap.Record, error)
	GetSwap(id string) (*swap.Record, error)
	ListSwaps(limit int, activeOnly bool) ([]*swap.Record, error)
	CheckRefund(ctx context.Context, id string) (*refund.Result, error)
	Refund(ctx context.Context, id, refundAddress string) (string, error)
	RetryClaim(id string) error
	ClaimState(id string) (claim.State, int)
	Watching(id string) bool
	OnEvent(handler service.EventHandler)
}

var _ SwapService = (*service.Service)(nil)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	svc   SwapService
	log   *logging.Logger
	wsHub *WSHub

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

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Application error codes.
const (
	// NotFound is returned for unknown swap ids.
	NotFound = -32001
	// Rejected is returned when the request is well-formed but cannot be
	// carried out in the swap's current state.
	Rejected = -32002
)

// invalidParams marks handler errors caused by the caller's input.
type invalidParams struct{ err error }

func (e *invalidParams) Error() string { return e.err.Error() }
func (e *invalidParams) Unwrap() error { return e.err }

func paramsError(format string, args ...interface{}) error {
	return &invalidParams{err: fmt.Errorf(format, args...)}
}

// NewServer creates a new JSON-RPC server and subscribes it to the swap
// events of svc.
func NewServer(svc SwapService) *Server {
	s := &Server{
		svc:      svc,
		log:      logging.GetDefault().Component("rpc"),
		wsHub:    NewWSHub(),
		handlers: make(map[string]Handler),
	}
	s.registerHandlers()
	svc.OnEvent(s.wsHub.BroadcastEvent)
	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	s.handlers["client_status"] = s.clientStatus

	s.handlers["swap_quote"] = s.swapQuote
	s.handlers["swap_create"] = s.swapCreate
	s.handlers["swap_get"] = s.swapGet
	s.handlers["swap_list"] = s.swapList
	s.handlers["swap_checkRefund"] = s.swapCheckRefund
	s.handlers["swap_refund"] = s.swapRefund
	s.handlers["swap_retryClaim"] = s.swapRetryClaim
}

// Handler returns the HTTP handler serving RPC and WebSocket requests.
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

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.wsHub.Stop()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
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
		code := errorCode(err)
		if code == InternalError {
			s.log.Warn("RPC call failed", "method", req.Method, "error", err)
		}
		s.writeError(w, req.ID, code, err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// errorCode maps service errors to JSON-RPC codes.
func errorCode(err error) int {
	var ip *invalidParams
	switch {
	case errors.As(err, &ip),
		errors.Is(err, service.ErrInvalidAddress),
		errors.Is(err, service.ErrMissingAmount),
		errors.Is(err, service.ErrMissingInvoice),
		errors.Is(err, service.ErrMissingRefundAddress),
		errors.Is(err, coordinator.ErrValidation),
		errors.Is(err, quote.ErrFeeTooHigh),
		errors.Is(err, quote.ErrUnsupported),
		errors.Is(err, quote.ErrNegativeAmount),
		errors.Is(err, swap.ErrUnknownDirection):
		return InvalidParams
	case errors.Is(err, storage.ErrSwapNotFound):
		return NotFound
	case errors.Is(err, service.ErrNoRefund),
		errors.Is(err, service.ErrNotRefundable),
		errors.Is(err, service.ErrSealed),
		errors.Is(err, secret.ErrWrongPassphrase),
		errors.Is(err, secret.ErrSealedKey),
		errors.Is(err, claim.ErrInFlight),
		errors.Is(err, claim.ErrMissingSecret),
		errors.Is(err, claim.ErrMissingAddress),
		errors.Is(err, claim.ErrNothingToClaim):
		return Rejected
	}
	return InternalError
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
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
	json.NewEncoder(w).Encode(resp)
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
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
