package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rewardledger/core"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute

	rpcTokenEnv = "REWARD_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

type Server struct {
	ledger *core.Ledger
	log    *slog.Logger

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string

	trustProxyHeaders bool
	trustedProxies    map[string]struct{}
	mutationsPerMin   int
}

// ServerOption adjusts server construction.
type ServerOption func(*Server)

// WithLogger attaches a structured logger to the server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithTrustedProxies configures which peers may supply X-Forwarded-For. When
// trustHeaders is false the remote address is always used.
func WithTrustedProxies(proxies []string, trustHeaders bool) ServerOption {
	return func(s *Server) {
		s.trustProxyHeaders = trustHeaders
		s.trustedProxies = make(map[string]struct{}, len(proxies))
		for _, proxy := range proxies {
			trimmed := strings.TrimSpace(proxy)
			if trimmed != "" {
				s.trustedProxies[trimmed] = struct{}{}
			}
		}
	}
}

// WithMutationRateLimit caps the number of mutation calls accepted per client
// per minute.
func WithMutationRateLimit(perMinute int) ServerOption {
	return func(s *Server) {
		if perMinute > 0 {
			s.mutationsPerMin = perMinute
		}
	}
}

func NewServer(ledger *core.Ledger, opts ...ServerOption) *Server {
	token := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	s := &Server{
		ledger:          ledger,
		log:             slog.Default(),
		rateLimiters:    make(map[string]*rateLimiter),
		authToken:       token,
		mutationsPerMin: 120,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the HTTP surface: the JSON-RPC endpoint, the reward event
// stream, Prometheus metrics, and the health probe.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/rewards", s.handleRewardsWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
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

// handle is the main request handler that routes to method handlers.
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

	switch req.Method {
	case "rewards_mint":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleMint(w, r, req)
	case "rewards_mintBatch":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleMintBatch(w, r, req)
	case "rewards_burn":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleBurn(w, r, req)
	case "rewards_updatePoints":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleUpdatePoints(w, r, req)
	case "rewards_transfer":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleTransfer(w, r, req)
	case "rewards_get":
		s.handleGet(w, r, req)
	case "rewards_ownerOf":
		s.handleOwnerOf(w, r, req)
	case "rewards_pointsOf":
		s.handlePointsOf(w, r, req)
	case "rewards_isBurned":
		s.handleIsBurned(w, r, req)
	case "rewards_exists":
		s.handleExists(w, r, req)
	case "rewards_annotationOf":
		s.handleAnnotationOf(w, r, req)
	case "rewards_lastId":
		s.handleLastID(w, r, req)
	case "rewards_totalMinted":
		s.handleTotalMinted(w, r, req)
	case "rewards_isValid":
		s.handleIsValid(w, r, req)
	case "rewards_canTransfer":
		s.handleCanTransfer(w, r, req)
	case "rewards_canBurn":
		s.handleCanBurn(w, r, req)
	case "rewards_hasAtLeastPoints":
		s.handleHasAtLeastPoints(w, r, req)
	case "rewards_list":
		s.handleList(w, r, req)
	case "rewards_authority":
		s.handleAuthority(w, r, req)
	case "rewards_journal":
		s.handleJournal(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

// allowMutation enforces bearer auth and the per-client rate limit shared by
// every mutation method.
func (s *Server) allowMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	source := s.clientSource(r)
	if !s.allowSource(source, time.Now()) {
		s.log.Warn("mutation rate limited", "source", source, "method", req.Method)
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "mutation rate limit exceeded", nil)
		return false
	}
	return true
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= s.mutationsPerMin {
		return false
	}
	limiter.count++
	return true
}

// clientSource resolves the address rate limiting keys on. Forwarding headers
// are honored only when the peer is a configured trusted proxy.
func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.trustProxyHeaders {
		return host
	}
	if len(s.trustedProxies) > 0 {
		if _, ok := s.trustedProxies[host]; !ok {
			return host
		}
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return host
	}
	parts := strings.Split(forwarded, ",")
	candidate := strings.TrimSpace(parts[0])
	if candidate == "" {
		return host
	}
	return candidate
}
