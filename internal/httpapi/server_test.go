package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"polytrader/internal/domain"
	"polytrader/internal/ledger"
	"polytrader/internal/store"
)

type stubState struct {
	ledg   *ledger.Ledger
	orders []domain.Order
	risk   domain.RiskState
}

func (s *stubState) Ledger() *ledger.Ledger      { return s.ledg }
func (s *stubState) OpenOrders() []domain.Order  { return s.orders }
func (s *stubState) RiskState() domain.RiskState { return s.risk }

func testServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledg := ledger.New(1000, ledger.ExitParams{}, log)
	ledg.ApplyFill(domain.Fill{
		TokenID: "tok-1", Side: domain.SideBuy, Quantity: 100, Price: 0.50,
		Time: time.Now().UTC(),
	}, "")

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	state := &stubState{
		ledg:   ledg,
		orders: []domain.Order{{ID: "ord-1", TokenID: "tok-1", Status: domain.OrderStatusPending}},
		risk:   domain.RiskState{DailyPnL: -7, BreakerActive: true, BreakerReason: "5 consecutive losses"},
	}
	srv := httptest.NewServer(NewServer(state, db, true, 1000, log).Handler())
	t.Cleanup(srv.Close)
	return srv, db
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	var got StatusJSON
	getJSON(t, srv.URL+"/api/status", &got)

	if !got.PaperMode {
		t.Error("paperMode = false, want true")
	}
	if got.Cash != 950 {
		t.Errorf("cash = %v, want 950", got.Cash)
	}
	if got.OpenPositions != 1 || got.OpenOrders != 1 {
		t.Errorf("counts = %d positions / %d orders, want 1/1", got.OpenPositions, got.OpenOrders)
	}
	if !got.BreakerActive || got.BreakerReason == "" {
		t.Errorf("breaker = %+v", got)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	var got []PositionJSON
	getJSON(t, srv.URL+"/api/positions", &got)

	if len(got) != 1 {
		t.Fatalf("positions = %d, want 1", len(got))
	}
	if got[0].TokenID != "tok-1" || got[0].Quantity != 100 || got[0].AvgEntry != 0.50 {
		t.Errorf("position = %+v", got[0])
	}
}

func TestRiskEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	var got RiskJSON
	getJSON(t, srv.URL+"/api/risk", &got)

	if got.DailyPnL != -7 || !got.BreakerActive {
		t.Errorf("risk = %+v", got)
	}
}

func TestTradesAndMetricsEndpoints(t *testing.T) {
	srv, db := testServer(t)
	now := time.Now().UTC()
	trades := []domain.TradeRecord{
		{TokenID: "tok-1", EntryPrice: 0.50, ExitPrice: 0.58, Quantity: 100, RealizedPnL: 8, OpenedAt: now.Add(-time.Hour), ClosedAt: now, ExitReason: "take_profit"},
		{TokenID: "tok-2", EntryPrice: 0.40, ExitPrice: 0.44, Quantity: 50, RealizedPnL: 2, OpenedAt: now.Add(-time.Hour), ClosedAt: now, ExitReason: "close"},
	}
	for _, tr := range trades {
		if err := db.AppendTrade(context.Background(), tr); err != nil {
			t.Fatalf("AppendTrade: %v", err)
		}
	}

	var gotTrades []TradeJSON
	getJSON(t, srv.URL+"/api/trades?days=7", &gotTrades)
	if len(gotTrades) != 2 {
		t.Fatalf("trades = %d, want 2", len(gotTrades))
	}

	var m MetricsJSON
	getJSON(t, srv.URL+"/api/metrics", &m)
	if m.TotalTrades != 2 || m.Wins != 2 || m.TotalPnL != 10 {
		t.Errorf("metrics = %+v", m)
	}
	// All wins: the raw profit factor is +Inf, which JSON cannot carry.
	if m.ProfitFactor != 0 {
		t.Errorf("profit factor = %v, want 0 sentinel", m.ProfitFactor)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/api/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
