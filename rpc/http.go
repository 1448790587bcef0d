package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"counterchain/core/events"
	"counterchain/core/host"
	"counterchain/core/types"
	"counterchain/indexer"
	"counterchain/observability"
)

// ServerConfig wires the server to the deployed programs.
type ServerConfig struct {
	Counter      types.AccountID
	Token        types.AccountID
	TxGas        types.Gas
	RateLimit    RateLimit
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Option customises a Server.
type Option func(*Server)

// WithIndexer enables the tx_getReceipts and counter_recentActions methods.
func WithIndexer(idx *indexer.Indexer) Option {
	return func(s *Server) { s.indexer = idx }
}

// WithBroadcaster enables the /ws/events stream.
func WithBroadcaster(b *events.Broadcaster) Option {
	return func(s *Server) { s.events = b }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server exposes the runtime over JSON-RPC, a websocket event stream and
// prometheus metrics.
type Server struct {
	runtime *host.Runtime
	indexer *indexer.Indexer
	events  *events.Broadcaster
	cfg     ServerConfig
	limiter *RateLimiter
	logger  *slog.Logger
	tracer  trace.Tracer

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer constructs a server for runtime.
func NewServer(runtime *host.Runtime, cfg ServerConfig, opts ...Option) *Server {
	if cfg.TxGas == 0 {
		cfg.TxGas = host.DefaultTransactionGas
	}
	s := &Server{
		runtime: runtime,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  slog.Default(),
		tracer:  otel.Tracer("counterchain/rpc"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "rpc")
	return s
}

// Handler returns the HTTP routes served by the node.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"height": s.runtime.Height(),
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.With(s.traced("rpc")).Post("/rpc", s.handle)
	r.With(s.traced("ws.events")).Get("/ws/events", s.handleEvents)
	return r
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("JSON-RPC server listening", "addr", listener.Addr().String())
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops a running server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) traced(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := s.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			defer span.End()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes the connection through for websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("rpc: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		observability.RPC().Observe(req.Method, recorder.status >= http.StatusBadRequest, time.Since(start))
	}()
	w = recorder

	switch req.Method {
	case "counter_increment", "counter_decrement", "counter_random":
		if !s.limiter.Allow(r) {
			observability.RPC().RecordThrottle("rpc")
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "transaction rate limit exceeded", s.limiter.Source(r))
			return
		}
		s.handleCounterAction(w, r, req)
	case "counter_getValue":
		s.handleCounterView(w, r, req, "get_value")
	case "counter_getEntryFee":
		s.handleCounterView(w, r, req, "get_entry_fee")
	case "counter_getRecordsLength":
		s.handleCounterView(w, r, req, "get_records_length")
	case "counter_queryAllRecords":
		s.handleCounterView(w, r, req, "query_all_records")
	case "counter_queryRecords":
		s.handleCounterQueryRecords(w, r, req)
	case "counter_recentActions":
		s.handleRecentActions(w, r, req)
	case "token_balanceOf":
		s.handleTokenBalanceOf(w, r, req)
	case "token_totalSupply":
		s.handleTokenView(w, r, req, "ft_total_supply", nil)
	case "token_metadata":
		s.handleTokenView(w, r, req, "ft_metadata", nil)
	case "tx_getReceipts":
		s.handleGetReceipts(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// writeViewError maps a failed read-only call onto the JSON-RPC error space.
func writeViewError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case host.IsAbort(err):
		writeError(w, http.StatusBadRequest, id, codeExecution, err.Error(), nil)
	case errors.Is(err, host.ErrAccountNotFound), errors.Is(err, host.ErrMethodNotFound):
		writeError(w, http.StatusNotFound, id, codeServerError, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "view call failed", err.Error())
	}
}

// view runs a read-only call and writes its JSON return value verbatim.
func (s *Server) view(w http.ResponseWriter, r *http.Request, req *RPCRequest, account types.AccountID, method string, args interface{}) {
	var payload []byte
	if args != nil {
		encoded, err := json.Marshal(args)
		if err != nil {
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to encode arguments", err.Error())
			return
		}
		payload = encoded
	}
	ret, err := s.runtime.View(r.Context(), account, method, payload)
	if err != nil {
		writeViewError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, json.RawMessage(ret))
}
