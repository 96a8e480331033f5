package httpapi

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"polytrader/internal/domain"
	"polytrader/internal/ledger"
	"polytrader/internal/perf"
	"polytrader/internal/store"
)

// AgentState is the view of the running engine the API serves.
type AgentState interface {
	Ledger() *ledger.Ledger
	OpenOrders() []domain.Order
	RiskState() domain.RiskState
}

// Server serves the agent status HTTP API.
type Server struct {
	state       AgentState
	trades      store.TradeStore
	paperMode   bool
	initialCash float64
	log         *slog.Logger
}

// NewServer creates a status API server over the given agent state. trades
// may be nil, in which case the trade and metrics endpoints return empty
// results.
func NewServer(state AgentState, trades store.TradeStore, paperMode bool, initialCash float64, log *slog.Logger) *Server {
	return &Server{
		state:       state,
		trades:      trades,
		paperMode:   paperMode,
		initialCash: initialCash,
		log:         log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/risk", s.handleRisk)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	ledg := s.state.Ledger()
	st := s.state.RiskState()
	writeJSON(w, StatusJSON{
		PaperMode:     s.paperMode,
		Equity:        ledg.Equity(nil),
		Cash:          ledg.Cash(),
		OpenPositions: ledg.OpenPositionCount(),
		OpenOrders:    len(s.state.OpenOrders()),
		BreakerActive: st.BreakerActive,
		BreakerReason: st.BreakerReason,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.state.Ledger().Positions()
	out := make([]PositionJSON, 0, len(positions))
	for _, p := range positions {
		out = append(out, PositionJSON{
			TokenID:  p.TokenID,
			Quantity: p.Quantity,
			AvgEntry: p.AvgEntry,
			OpenedAt: p.OpenedAt.Format(time.RFC3339),
			Frozen:   p.Frozen,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	st := s.state.RiskState()
	out := RiskJSON{
		DailyPnL:          st.DailyPnL,
		WeeklyPnL:         st.WeeklyPnL,
		PeakEquity:        st.PeakEquity,
		Drawdown:          st.Drawdown,
		ConsecutiveLosses: st.ConsecutiveLosses,
		BreakerActive:     st.BreakerActive,
		BreakerReason:     st.BreakerReason,
	}
	if !st.BreakerTrippedAt.IsZero() {
		out.BreakerTrippedAt = st.BreakerTrippedAt.Format(time.RFC3339)
	}
	writeJSON(w, out)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	recs, err := s.listTrades(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]TradeJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, TradeJSON{
			TokenID:     rec.TokenID,
			EntryPrice:  rec.EntryPrice,
			ExitPrice:   rec.ExitPrice,
			Quantity:    rec.Quantity,
			RealizedPnL: rec.RealizedPnL,
			ClosedAt:    rec.ClosedAt.Format(time.RFC3339),
			ExitReason:  rec.ExitReason,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	recs, err := s.listTrades(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	m := perf.Compute(recs, s.initialCash)
	out := MetricsJSON{
		TotalTrades:  m.TotalTrades,
		Wins:         m.Wins,
		Losses:       m.Losses,
		WinRate:      m.WinRate,
		TotalPnL:     m.TotalPnL,
		ProfitFactor: m.ProfitFactor,
		Sharpe:       m.Sharpe,
		Sortino:      m.Sortino,
		MaxDrawdown:  m.MaxDrawdown,
	}
	// encoding/json cannot carry +Inf (all wins, no losses).
	if math.IsInf(out.ProfitFactor, 0) {
		out.ProfitFactor = 0
	}
	writeJSON(w, out)
}

func (s *Server) listTrades(r *http.Request) ([]domain.TradeRecord, error) {
	if s.trades == nil {
		return nil, nil
	}
	end := time.Now().UTC()
	return s.trades.ListTrades(r.Context(), end.AddDate(0, 0, -parseDays(r)), end)
}

// parseDays extracts the lookback window from the "days" query param.
func parseDays(r *http.Request) int {
	s := r.URL.Query().Get("days")
	if s == "" {
		return 30
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 3650 {
		return 30
	}
	return n
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
