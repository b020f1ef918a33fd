package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/reikadev/reika-onchain/internal/agent"
	"github.com/reikadev/reika-onchain/internal/executor"
	"github.com/reikadev/reika-onchain/internal/ledger"
)

// Server 暴露只读的运维状态接口：智能体状态、交易历史与连接健康。
type Server struct {
	addr       string
	supervisor *agent.Supervisor
	history    *executor.History
	conn       *ledger.Manager
}

// NewServer 构造状态服务实例。
func NewServer(addr string, supervisor *agent.Supervisor, history *executor.History, conn *ledger.Manager) *Server {
	return &Server{addr: addr, supervisor: supervisor, history: history, conn: conn}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/state", s.handleState)
	mux.HandleFunc("/v1/history", s.handleHistory)
	mux.HandleFunc("/v1/events/recent", s.handleRecentEvents)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	health := s.conn.Health()
	status := http.StatusOK
	if !health.Healthy || s.supervisor.Phase() != agent.PhaseRunning {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"phase":            s.supervisor.Phase(),
		"ledger_healthy":   health.Healthy,
		"last_known_block": health.LastKnownBlock,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	state := s.supervisor.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"last_analysis_at":  state.LastAnalysisAt,
		"current_balance":   bigString(state.CurrentBalance),
		"initial_value":     bigString(state.Metrics.InitialValue),
		"current_value":     bigString(state.Metrics.CurrentValue),
		"roi_basis_points":  state.Metrics.ROIBasisPoints,
		"active_strategies": state.ActiveStrategies,
		"start_time":        state.Metrics.StartTime,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.history.Snapshot())
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.supervisor.RecentEvents())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
