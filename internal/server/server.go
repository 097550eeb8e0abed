package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"vtvl/internal/chain"
	"vtvl/internal/config"
	"vtvl/internal/hmacauth"
	"vtvl/internal/schedule"
	"vtvl/internal/vaultstore"
	"vtvl/internal/workflow"

	"github.com/ethereum/go-ethereum/common"
)

type Server struct {
	cfg         *config.AppConfig
	flow        *workflow.Workflow
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, flow *workflow.Workflow, client chain.Client, store vaultstore.Store) *Server {
	metrics := newMetricsRegistry()

	s := &Server{
		cfg:  cfg,
		flow: flow,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: metrics,
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := client.(chain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/vault", s.hmac.Middleware(http.HandlerFunc(s.handleVault)))
	mux.Handle("/api/v1/vault/approve", s.hmac.Middleware(http.HandlerFunc(s.handleApprove)))
	mux.Handle("/api/v1/vault/fund", s.hmac.Middleware(http.HandlerFunc(s.handleFund)))
	mux.Handle("/api/v1/vault/schedules", s.hmac.Middleware(http.HandlerFunc(s.handleSchedule)))
	mux.HandleFunc("/api/v1/vault/balance", s.handleBalance)
	mux.Handle("/api/v1/metrics", metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.updateRecoveryDepth()
	return s
}

func (s *Server) Start() error {
	log.Printf("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type stateResponse struct {
	VaultAddress     string `json:"vaultAddress,omitempty"`
	FundTokenAddress string `json:"fundTokenAddress,omitempty"`
	Phase            string `json:"phase"`
	Busy             bool   `json:"busy"`
}

type createVaultRequest struct {
	FundTokenAddress string `json:"fundTokenAddress"`
}

type approveRequest struct {
	TokenAddress string `json:"tokenAddress"`
	Spender      string `json:"spender"`
	Amount       string `json:"amount"`
}

type fundRequest struct {
	VestingAddress string `json:"vestingAddress"`
	Amount         string `json:"amount"`
}

// scheduleRequest carries dates as unix milliseconds.
type scheduleRequest struct {
	VestingAddress   string `json:"vestingAddress"`
	Recipient        string `json:"recipient"`
	StartDate        int64  `json:"startDate"`
	EndDate          int64  `json:"endDate"`
	ReleaseFrequency int64  `json:"releaseFrequency"`
	LinearAmount     string `json:"linearAmount"`
	CliffAmount      string `json:"cliffAmount"`
	FractionalAmount string `json:"fractionalAmount,omitempty"`
}

func (r scheduleRequest) schedule() schedule.Schedule {
	return schedule.Schedule{
		Recipient:        r.Recipient,
		StartDate:        time.UnixMilli(r.StartDate),
		EndDate:          time.UnixMilli(r.EndDate),
		ReleaseFrequency: r.ReleaseFrequency,
		LinearAmount:     r.LinearAmount,
		CliffAmount:      r.CliffAmount,
		FractionalAmount: r.FractionalAmount,
	}
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.currentState())
	case http.MethodPost:
		s.handleCreateVault(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) currentState() stateResponse {
	st := s.flow.State()
	resp := stateResponse{Phase: string(st.Phase), Busy: s.flow.Busy()}
	if st.VaultAddress != nil {
		resp.VaultAddress = st.VaultAddress.Hex()
	}
	if st.FundTokenAddress != (common.Address{}) {
		resp.FundTokenAddress = st.FundTokenAddress.Hex()
	}
	return resp
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var payload createVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	res, err := s.flow.CreateVault(transitionContext(r), payload.FundTokenAddress)
	if err != nil {
		s.fail(w, "create_vault", started, res.TxResult, res.VaultAddress, err)
		return
	}

	s.metrics.observe("create_vault", "ok", started)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	var payload approveRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	res, err := s.flow.Approve(transitionContext(r), payload.TokenAddress, payload.Spender, payload.Amount)
	if err != nil {
		s.fail(w, "approve", started, res, common.Address{}, err)
		return
	}

	s.metrics.observe("approve", "ok", started)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	var payload fundRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	res, err := s.flow.Fund(transitionContext(r), payload.VestingAddress, payload.Amount)
	if err != nil {
		s.fail(w, "fund", started, res, common.Address{}, err)
		return
	}

	s.metrics.observe("fund", "ok", started)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	var payload scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	res, err := s.flow.CreateSchedule(transitionContext(r), payload.VestingAddress, payload.schedule())
	if err != nil {
		s.fail(w, "create_schedule", started, res, common.Address{}, err)
		return
	}

	s.metrics.observe("create_schedule", "ok", started)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bal, err := s.flow.Balance(r.Context(), r.URL.Query().Get("vestingAddress"))
	if err != nil {
		writeError(w, err, "", "")
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// transitionContext keeps request values but drops client cancellation: a
// broadcast transaction cannot be withdrawn, so waiting for it continues.
func transitionContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) fail(w http.ResponseWriter, transition string, started time.Time, res workflow.TxResult, vault common.Address, err error) {
	var txHash, vaultAddress string
	if res.TxHash != (common.Hash{}) {
		txHash = res.TxHash.Hex()
	}
	if vault != (common.Address{}) {
		vaultAddress = vault.Hex()
	}
	kind := writeError(w, err, txHash, vaultAddress)
	s.metrics.observe(transition, kind, started)
	log.Printf("[API] %s failed (%s): %v", transition, kind, err)

	if kind == kindEventMissing || kind == kindNotPersisted {
		s.writeRecovery(transition, res, vaultAddress, err)
	}
}

// writeRecovery records a confirmed transaction whose outcome could not be
// read back or saved, so an operator can resolve it by hand.
func (s *Server) writeRecovery(transition string, res workflow.TxResult, vaultAddress string, cause error) {
	if s.cfg.Service.RecoveryPath == "" {
		return
	}

	entry := struct {
		Timestamp    time.Time `json:"timestamp"`
		Transition   string    `json:"transition"`
		TxHash       string    `json:"txHash"`
		BlockNumber  uint64    `json:"blockNumber"`
		VaultAddress string    `json:"vaultAddress,omitempty"`
		Event        string    `json:"event"`
		Error        string    `json:"error"`
	}{
		Timestamp:    time.Now().UTC(),
		Transition:   transition,
		TxHash:       res.TxHash.Hex(),
		BlockNumber:  res.BlockNumber,
		VaultAddress: vaultAddress,
		Event:        s.cfg.Factory.EventSignature,
		Error:        cause.Error(),
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		log.Printf("recovery marshal error: %v", err)
		return
	}

	if err := os.MkdirAll(s.cfg.Service.RecoveryPath, 0o755); err != nil {
		log.Printf("recovery mkdir error: %v", err)
		return
	}

	filename := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), res.TxHash.Hex())
	path := filepath.Join(s.cfg.Service.RecoveryPath, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Printf("recovery write error: %v", err)
	}

	s.updateRecoveryDepth()
}

func (s *Server) updateRecoveryDepth() int {
	depth := s.currentRecoveryDepth()
	if s.metrics != nil {
		s.metrics.setRecoveryDepth(depth)
	}
	return depth
}

func (s *Server) currentRecoveryDepth() int {
	if s.cfg.Service.RecoveryPath == "" {
		return 0
	}
	entries, err := os.ReadDir(s.cfg.Service.RecoveryPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("recovery read error: %v", err)
		}
		return 0
	}
	return len(entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status        string        `json:"status"`
		RPC           interface{}   `json:"rpc"`
		Database      interface{}   `json:"database"`
		Vault         stateResponse `json:"vault"`
		RecoveryDepth int           `json:"recovery_depth"`
	}{
		Status:        status,
		RPC:           rpcInfo,
		Database:      dbInfo,
		Vault:         s.currentState(),
		RecoveryDepth: s.updateRecoveryDepth(),
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		next.ServeHTTP(w, r)
	})
}
