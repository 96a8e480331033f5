package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"polytrader/internal/domain"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteOrderRoundTrip(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	o := &domain.Order{
		ID:        "ord-1",
		TokenID:   "tok-1",
		Side:      domain.SideBuy,
		Price:     0.60,
		Quantity:  100,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(3 * time.Minute),
	}
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	o.FilledQty = 40
	o.AvgFill = 0.60
	o.Status = domain.OrderStatusPartiallyFilled
	if err := s.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	got, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got == nil {
		t.Fatal("order not found")
	}
	if got.FilledQty != 40 || got.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("order = %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, now)
	}
}

func TestSQLiteGetOrderMissing(t *testing.T) {
	s := newSQLite(t)
	got, err := s.GetOrder(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestSQLiteListOpenOrders(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	add := func(id string, status domain.OrderStatus) {
		t.Helper()
		err := s.SaveOrder(ctx, &domain.Order{
			ID: id, TokenID: "tok-1", Side: domain.SideBuy, Price: 0.5, Quantity: 10,
			Status: status, CreatedAt: now, ExpiresAt: now.Add(time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveOrder %s: %v", id, err)
		}
	}
	add("a", domain.OrderStatusPending)
	add("b", domain.OrderStatusPartiallyFilled)
	add("c", domain.OrderStatusFilled)
	add("d", domain.OrderStatusCancelled)

	open, err := s.ListOpenOrders(ctx)
	if err != nil {
		t.Fatalf("ListOpenOrders: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open orders = %d, want 2", len(open))
	}
}

func TestSQLiteTradeAppendAndList(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := s.AppendTrade(ctx, domain.TradeRecord{
			TokenID:     "tok-1",
			EntryPrice:  0.50,
			ExitPrice:   0.55,
			Quantity:    100,
			RealizedPnL: 5,
			OpenedAt:    base.Add(time.Duration(i) * time.Hour),
			ClosedAt:    base.Add(time.Duration(i+1) * time.Hour),
			ExitReason:  "close",
		})
		if err != nil {
			t.Fatalf("AppendTrade: %v", err)
		}
	}

	got, err := s.ListTrades(ctx, base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("trades = %d, want 2 inside the window", len(got))
	}
	if got[0].RealizedPnL != 5 || got[0].ExitReason != "close" {
		t.Errorf("trade = %+v", got[0])
	}
}

func TestSQLiteRiskStateRoundTrip(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	if _, ok, err := s.LoadRiskState(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	st := domain.RiskState{
		DailyPnL:          -12.5,
		WeeklyPnL:         -40,
		PeakEquity:        1100,
		Drawdown:          0.05,
		ConsecutiveLosses: 2,
		BreakerActive:     true,
		BreakerReason:     "5 consecutive losses",
		BreakerTrippedAt:  now,
		DayStart:          now.Truncate(24 * time.Hour),
		WeekStart:         now.Truncate(24 * time.Hour),
		LastTradeAt:       now,
	}
	if err := s.SaveRiskState(ctx, st); err != nil {
		t.Fatalf("SaveRiskState: %v", err)
	}
	// A second snapshot should win.
	st.DailyPnL = -20
	if err := s.SaveRiskState(ctx, st); err != nil {
		t.Fatalf("SaveRiskState: %v", err)
	}

	got, ok, err := s.LoadRiskState(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadRiskState: ok=%v err=%v", ok, err)
	}
	if got.DailyPnL != -20 {
		t.Errorf("daily pnl = %v, want latest snapshot", got.DailyPnL)
	}
	if !got.BreakerActive || got.BreakerReason != st.BreakerReason {
		t.Errorf("breaker = %+v", got)
	}
	if !got.BreakerTrippedAt.Equal(now) {
		t.Errorf("tripped at = %v, want %v", got.BreakerTrippedAt, now)
	}
}

func TestSQLiteReconEvents(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		err := s.SaveReconEvent(ctx, domain.ReconEvent{
			TokenID:  "tok-1",
			LocalQty: 100,
			VenueQty: 80,
			At:       now.Add(time.Duration(-i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("SaveReconEvent: %v", err)
		}
	}

	n, err := s.CountReconEvents(ctx, now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("CountReconEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2 within the window", n)
	}
}

func TestParquetPointsRoundTrip(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	var points []domain.PricePoint
	for i := 0; i < 5; i++ {
		points = append(points, domain.PricePoint{
			TokenID:   "tok-1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Mid:       0.50 + float64(i)*0.01,
			Spread:    0.02,
		})
	}
	if err := s.WritePoints(ctx, points); err != nil {
		t.Fatalf("WritePoints: %v", err)
	}

	got, err := s.ReadPoints(ctx, "tok-1", base, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ReadPoints: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("points = %d, want 3 inside window", len(got))
	}
	if math.Abs(got[1].Mid-0.51) > 1e-9 {
		t.Errorf("mid = %v, want 0.51", got[1].Mid)
	}

	tokens, err := s.ListTokens(ctx)
	if err != nil {
		t.Fatalf("ListTokens: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "tok-1" {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestParquetWriteMergesDuplicates(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()
	ts := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	p := domain.PricePoint{TokenID: "tok-1", Timestamp: ts, Mid: 0.50}
	if err := s.WritePoints(ctx, []domain.PricePoint{p}); err != nil {
		t.Fatalf("WritePoints: %v", err)
	}
	p.Mid = 0.52 // rewritten observation wins
	if err := s.WritePoints(ctx, []domain.PricePoint{p}); err != nil {
		t.Fatalf("WritePoints: %v", err)
	}

	got, err := s.ReadPoints(ctx, "tok-1", ts.Add(-time.Minute), ts.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReadPoints: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("points = %d, want deduplicated 1", len(got))
	}
	if got[0].Mid != 0.52 {
		t.Errorf("mid = %v, want the newer record", got[0].Mid)
	}
}

func TestParquetExportTrades(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	path, err := s.ExportTrades(ctx, []domain.TradeRecord{
		{TokenID: "tok-1", EntryPrice: 0.5, ExitPrice: 0.6, Quantity: 10, RealizedPnL: 1, ClosedAt: now},
	}, now)
	if err != nil {
		t.Fatalf("ExportTrades: %v", err)
	}
	records, err := readParquetFile[TradeExportRecord](path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if len(records) != 1 || records[0].RealizedPnL != 1 {
		t.Errorf("records = %+v", records)
	}
}
