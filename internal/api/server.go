package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/plagtech/spraay-solana-gateway/internal/circuitbreaker"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/plagtech/spraay-solana-gateway/internal/metrics"
	"github.com/plagtech/spraay-solana-gateway/internal/pipeline"
	"github.com/plagtech/spraay-solana-gateway/internal/store"
	storeredis "github.com/plagtech/spraay-solana-gateway/internal/store/redis"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serviceName = "spraay-solana-gateway"

	defaultMaxBodyBytes   = 1 << 20
	defaultIdempotencyTTL = 24 * time.Hour
	idempotencyHeader     = "Idempotency-Key"
)

// Payouts is the batch pipeline as seen by the HTTP layer.
type Payouts interface {
	SendNative(ctx context.Context, req model.NativeBatchRequest) (*model.BatchResult, error)
	SendToken(ctx context.Context, req model.TokenBatchRequest) (*model.BatchResult, error)
	Quote(recipients int, token string) model.Quote
	Status(ctx context.Context, signature string) (*model.TxStatusReport, error)
}

// MintResolver maps a registry symbol such as USDC to its mint address.
// Unknown input is returned unchanged.
type MintResolver interface {
	ResolveMint(symbolOrMint string) string
}

type Config struct {
	Network        model.Network
	Treasury       string
	Version        string
	MaxBodyBytes   int64
	IdempotencyTTL time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server exposes the payout pipeline over HTTP.
type Server struct {
	cfg      Config
	payouts  Payouts
	batches  store.BatchRepository
	guard    store.IdempotencyGuard
	mints    MintResolver
	rpcState func() circuitbreaker.State
	limiter  *RateLimitMiddleware
	logger   *slog.Logger
	nowFn    func() time.Time
}

// ServerOption configures optional dependencies.
type ServerOption func(*Server)

// WithBatchRepository enables GET /v1/batches/{id}.
func WithBatchRepository(repo store.BatchRepository) ServerOption {
	return func(s *Server) { s.batches = repo }
}

// WithIdempotencyGuard enables the Idempotency-Key header on batch endpoints.
func WithIdempotencyGuard(guard store.IdempotencyGuard) ServerOption {
	return func(s *Server) { s.guard = guard }
}

// WithMintResolver lets batch-send-token accept registry symbols.
func WithMintResolver(r MintResolver) ServerOption {
	return func(s *Server) { s.mints = r }
}

// WithRPCState reports the RPC circuit breaker on /health.
func WithRPCState(state func() circuitbreaker.State) ServerOption {
	return func(s *Server) { s.rpcState = state }
}

func NewServer(payouts Payouts, cfg Config, logger *slog.Logger, opts ...ServerOption) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	logger = logger.With("component", "api")
	s := &Server{
		cfg:     cfg,
		payouts: payouts,
		logger:  logger,
		nowFn:   time.Now,
		limiter: NewRateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with audit logging and rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/batch-send-sol", s.handleBatchSendSOL)
	mux.HandleFunc("POST /v1/batch-send-token", s.handleBatchSendToken)
	mux.HandleFunc("GET /v1/quote", s.handleQuote)
	mux.HandleFunc("GET /v1/status/{signature}", s.handleStatus)
	mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return AuditMiddleware(s.logger, s.limiter.Wrap(mux))
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Index   *int   `json:"index,omitempty"`
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps pipeline errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		if verr.Index >= 0 {
			idx := verr.Index
			resp.Index = &idx
		}
		resp.Field = verr.Field
	case errors.Is(err, pipeline.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, store.ErrBatchNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateRequest):
		status = http.StatusConflict
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, pipeline.ErrResolution):
		status = http.StatusBadGateway
	default:
		resp.Error = "internal error"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

// resultStatus is 200 for full success, 207 when some chunk confirmed and
// 502 when nothing did.
func resultStatus(result *model.BatchResult) int {
	switch result.Outcome {
	case model.BatchOutcomeSuccess:
		return http.StatusOK
	case model.BatchOutcomePartial:
		return http.StatusMultiStatus
	default:
		return http.StatusBadGateway
	}
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// claim takes the request's idempotency key, if any. The returned release
// must be called when the request ended without touching the chain.
func (s *Server) claim(w http.ResponseWriter, r *http.Request, scope string) (release func(), ok bool) {
	noop := func() {}
	key := r.Header.Get(idempotencyHeader)
	if key == "" || s.guard == nil {
		return noop, true
	}
	if !storeredis.ValidKey(key) {
		writeErrorMessage(w, http.StatusBadRequest, "Idempotency-Key must be 1 to 255 characters")
		return noop, false
	}

	scoped := scope + ":" + key
	acquired, err := s.guard.Acquire(r.Context(), scoped, s.cfg.IdempotencyTTL)
	if err != nil {
		s.logger.Error("idempotency guard unavailable", "error", err)
		writeErrorMessage(w, http.StatusServiceUnavailable, "idempotency store unavailable")
		return noop, false
	}
	if !acquired {
		metrics.IdempotencyRejections.Inc()
		s.writeError(w, r, fmt.Errorf("%w: %s", store.ErrDuplicateRequest, key))
		return noop, false
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if err := s.guard.Release(ctx, scoped); err != nil {
			s.logger.Warn("idempotency key release failed", "error", err)
		}
	}, true
}

func (s *Server) handleBatchSendSOL(w http.ResponseWriter, r *http.Request) {
	release, ok := s.claim(w, r, "sol")
	if !ok {
		return
	}

	var req model.NativeBatchRequest
	if !s.decodeJSONBody(w, r, &req) {
		release()
		return
	}

	result, err := s.payouts.SendNative(r.Context(), req)
	if err != nil {
		release()
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(result), result)
}

func (s *Server) handleBatchSendToken(w http.ResponseWriter, r *http.Request) {
	release, ok := s.claim(w, r, "token")
	if !ok {
		return
	}

	var req model.TokenBatchRequest
	if !s.decodeJSONBody(w, r, &req) {
		release()
		return
	}
	if s.mints != nil {
		req.Mint = s.mints.ResolveMint(req.Mint)
	}

	result, err := s.payouts.SendToken(r.Context(), req)
	if err != nil {
		release()
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(result), result)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	recipients := parseCount(r.URL.Query().Get("recipients"))
	writeJSON(w, http.StatusOK, s.payouts.Quote(recipients, r.URL.Query().Get("token")))
}

// parseCount reads the leading integer of raw. Missing, unparsable or
// non-positive counts become 1.
func parseCount(raw string) int {
	raw = strings.TrimSpace(raw)
	end := 0
	if end < len(raw) && (raw[end] == '+' || raw[end] == '-') {
		end++
	}
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(raw[:end])
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) && raw[0] != '-' {
			return math.MaxInt
		}
		return 1
	}
	if n < 1 {
		return 1
	}
	return n
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.payouts.Status(r.Context(), r.PathValue("signature"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "batch id must be a UUID")
		return
	}
	if s.batches == nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", store.ErrBatchNotFound, id))
		return
	}
	batch, err := s.batches.GetBatch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Network   string `json:"network"`
	Treasury  string `json:"treasury"`
	RPC       string `json:"rpc,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Service:   serviceName,
		Version:   s.cfg.Version,
		Network:   string(s.cfg.Network),
		Treasury:  s.cfg.Treasury,
		Timestamp: s.nowFn().UTC().Format(time.RFC3339),
	}
	if s.rpcState != nil {
		state := s.rpcState()
		resp.RPC = state.String()
		if state == circuitbreaker.StateOpen {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
