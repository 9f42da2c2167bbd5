// server.go - REST API for the shielded pool service.
//
// Exposes endpoints for commitment submission, withdrawal, batch
// absorption, record reclamation and the read surface wallets need to
// build inclusion proofs off-chain. Field elements travel hex-encoded;
// proofs are opaque byte blobs.
//
// The error mapping distinguishes the cases a client must treat
// differently: a stale root means regenerate the proof, an already spent
// nullifier is a hard conflict, and storage unavailability is retryable.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"shieldedpool/internal/pool"
)

// Server serves the pool REST API.
type Server struct {
	pool    *pool.Pool
	log     zerolog.Logger
	limiter *ClientRateLimiter
	health  *HealthChecker
	metrics *Metrics
	mux     *http.ServeMux
}

// NewServer wires the API around a pool instance. Metrics are registered
// on the given registerer; pass prometheus.DefaultRegisterer in production.
func NewServer(p *pool.Pool, log zerolog.Logger, reg prometheus.Registerer) *Server {
	s := &Server{
		pool:    p,
		log:     log.With().Str("component", "api").Logger(),
		limiter: NewClientRateLimiter(60, 60, time.Second),
		health:  NewHealthChecker("1.0.0"),
		metrics: NewMetrics(reg),
		mux:     http.NewServeMux(),
	}
	s.health.RegisterComponent("store", func() error {
		_, err := p.Leaves(0, 1)
		return err
	})

	s.mux.HandleFunc("GET /root", s.instrument("root", s.handleRoot))
	s.mux.HandleFunc("GET /roots", s.instrument("roots", s.handleRoots))
	s.mux.HandleFunc("GET /leaves", s.instrument("leaves", s.handleLeaves))
	s.mux.HandleFunc("GET /nullifier/{hash}", s.instrument("nullifier", s.handleNullifier))
	s.mux.HandleFunc("GET /status", s.instrument("status", s.handleStatus))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gathererFor(reg), promhttp.HandlerOpts{}))
	s.mux.HandleFunc("POST /deposit", s.instrument("deposit", s.limited(s.handleDeposit)))
	s.mux.HandleFunc("POST /withdraw", s.instrument("withdraw", s.limited(s.handleWithdraw)))
	s.mux.HandleFunc("POST /absorb", s.instrument("absorb", s.limited(s.handleAbsorb)))
	s.mux.HandleFunc("POST /reclaim", s.instrument("reclaim", s.limited(s.handleReclaim)))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		s.metrics.RequestSeconds.
			WithLabelValues(route, strconv.Itoa(rec.code)).
			Observe(time.Since(start).Seconds())
	}
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		if !s.limiter.Allow(client) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps pool errors onto HTTP status codes. Stale roots and
// spent nullifiers get distinct conflict codes so clients can react
// without parsing messages.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	code := http.StatusInternalServerError
	reason := "internal"
	switch {
	case errors.Is(err, pool.ErrUnknownRoot):
		code, reason = http.StatusGone, "stale_root"
	case errors.Is(err, pool.ErrNullifierAlreadySpent):
		code, reason = http.StatusConflict, "already_spent"
	case errors.Is(err, pool.ErrAbsorptionConflict):
		code, reason = http.StatusConflict, "absorption_conflict"
	case errors.Is(err, pool.ErrReclaimTooEarly):
		code, reason = http.StatusConflict, "reclaim_too_early"
	case errors.Is(err, pool.ErrStoreUnavailable):
		code, reason = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, pool.ErrPoolFull), errors.Is(err, pool.ErrAccumulatorFull):
		code, reason = http.StatusServiceUnavailable, "capacity"
	case errors.Is(err, pool.ErrInvalidProof),
		errors.Is(err, pool.ErrInvalidCommitment),
		errors.Is(err, pool.ErrInvalidDepositAmount),
		errors.Is(err, pool.ErrFeeExceedsAmount),
		errors.Is(err, pool.ErrRelayerFeeTooHigh),
		errors.Is(err, pool.ErrEpochOutOfRange),
		errors.Is(err, pool.ErrUnknownNullifier),
		errors.Is(err, pool.ErrLeafOutOfRange):
		code, reason = http.StatusBadRequest, "invalid_request"
	}
	s.metrics.Rejections.WithLabelValues(op, reason).Inc()
	s.log.Warn().Err(err).Str("op", op).Int("code", code).Msg("request rejected")
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func parseHex(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty field element")
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex field element %q", s)
	}
	return v, nil
}

func hexStrings(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.Text(16)
	}
	return out
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"root": s.pool.CurrentRoot().Text(16)})
}

func (s *Server) handleRoots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"roots": hexStrings(s.pool.RootHistory())})
}

func (s *Server) handleLeaves(w http.ResponseWriter, r *http.Request) {
	start, err := strconv.ParseUint(r.URL.Query().Get("start"), 10, 64)
	if err != nil && r.URL.Query().Get("start") != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid start"})
		return
	}
	end := s.pool.Size()
	if q := r.URL.Query().Get("end"); q != "" {
		end, err = strconv.ParseUint(q, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid end"})
			return
		}
	}
	leaves, err := s.pool.Leaves(start, end)
	if err != nil {
		s.writeError(w, "leaves", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start":  start,
		"leaves": hexStrings(leaves),
	})
}

func (s *Server) handleNullifier(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHex(r.PathValue("hash"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nullifier_hash": hash.Text(16),
		"spent":          s.pool.IsNullifierSpent(hash),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.metrics.PoolSize.Set(float64(s.pool.Size()))
	s.metrics.PendingRecords.Set(float64(s.pool.PendingRecords()))
	writeJSON(w, http.StatusOK, map[string]any{
		"size":                    s.pool.Size(),
		"root":                    s.pool.CurrentRoot().Text(16),
		"current_epoch":           s.pool.CurrentEpoch(),
		"earliest_provable_epoch": s.pool.EarliestProvableEpoch(),
		"pending_records":         s.pool.PendingRecords(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.Check()
	code := http.StatusOK
	if health.OverallStatus != Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

type depositRequest struct {
	Amount     uint64 `json:"amount"`
	Commitment string `json:"commitment"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	commitment, err := parseHex(req.Commitment)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	index, err := s.pool.Deposit(req.Amount, commitment)
	if err != nil {
		s.writeError(w, "deposit", err)
		return
	}
	s.metrics.Deposits.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"leaf_index": index,
		"root":       s.pool.CurrentRoot().Text(16),
	})
}

type withdrawRequest struct {
	Proof         []byte `json:"proof"`
	Root          string `json:"root"`
	NullifierHash string `json:"nullifier_hash"`
	Recipient     string `json:"recipient"`
	Relayer       string `json:"relayer,omitempty"`
	Fee           uint64 `json:"fee"`
	Amount        uint64 `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	inputs, err := req.publicInputs()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.pool.Withdraw(req.Proof, inputs); err != nil {
		s.writeError(w, "withdraw", err)
		return
	}
	s.metrics.Withdrawals.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (req *withdrawRequest) publicInputs() (pool.PublicInputs, error) {
	root, err := parseHex(req.Root)
	if err != nil {
		return pool.PublicInputs{}, fmt.Errorf("root: %w", err)
	}
	hash, err := parseHex(req.NullifierHash)
	if err != nil {
		return pool.PublicInputs{}, fmt.Errorf("nullifier_hash: %w", err)
	}
	recipient, err := parseHex(req.Recipient)
	if err != nil {
		return pool.PublicInputs{}, fmt.Errorf("recipient: %w", err)
	}
	relayer := new(big.Int)
	if req.Relayer != "" {
		relayer, err = parseHex(req.Relayer)
		if err != nil {
			return pool.PublicInputs{}, fmt.Errorf("relayer: %w", err)
		}
	}
	return pool.PublicInputs{
		Root:          root,
		NullifierHash: hash,
		Recipient:     recipient,
		Relayer:       relayer,
		Fee:           req.Fee,
		Amount:        req.Amount,
	}, nil
}

type absorbRequest struct {
	Proof     []byte `json:"proof"`
	UpToEpoch uint64 `json:"up_to_epoch"`
}

func (s *Server) handleAbsorb(w http.ResponseWriter, r *http.Request) {
	var req absorbRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	advanced, err := s.pool.AbsorbBatch(req.Proof, req.UpToEpoch)
	if err != nil {
		s.writeError(w, "absorb", err)
		return
	}
	if advanced {
		s.metrics.Absorptions.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"advanced":                advanced,
		"earliest_provable_epoch": s.pool.EarliestProvableEpoch(),
	})
}

type reclaimRequest struct {
	NullifierHash string `json:"nullifier_hash"`
	Reclaimer     string `json:"reclaimer,omitempty"`
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	var req reclaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	hash, err := parseHex(req.NullifierHash)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	reclaimer := new(big.Int)
	if req.Reclaimer != "" {
		reclaimer, err = parseHex(req.Reclaimer)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}
	refund, err := s.pool.Reclaim(hash, reclaimer)
	if err != nil {
		s.writeError(w, "reclaim", err)
		return
	}
	s.metrics.Reclaims.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"refund": refund})
}
