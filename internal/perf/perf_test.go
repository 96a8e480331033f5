package perf

import (
	"math"
	"testing"
	"time"

	"polytrader/internal/domain"
)

func rec(pnl float64, closedAt time.Time) domain.TradeRecord {
	return domain.TradeRecord{TokenID: "tok-1", RealizedPnL: pnl, ClosedAt: closedAt}
}

func TestComputeEmpty(t *testing.T) {
	m := Compute(nil, 1000)
	if m.TotalTrades != 0 || m.WinRate != 0 || m.Sharpe != 0 {
		t.Errorf("empty metrics = %+v", m)
	}
}

func TestComputeWinRateAndPnL(t *testing.T) {
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	records := []domain.TradeRecord{
		rec(10, base),
		rec(-4, base.Add(time.Hour)),
		rec(6, base.Add(2*time.Hour)),
		rec(-2, base.Add(3*time.Hour)),
	}
	m := Compute(records, 1000)
	if m.TotalTrades != 4 || m.Wins != 2 || m.Losses != 2 {
		t.Errorf("counts = %+v", m)
	}
	if m.WinRate != 0.5 {
		t.Errorf("win rate = %v, want 0.5", m.WinRate)
	}
	if math.Abs(m.TotalPnL-10) > 1e-9 {
		t.Errorf("total pnl = %v, want 10", m.TotalPnL)
	}
	// Gross profit 16, gross loss 6.
	if math.Abs(m.ProfitFactor-16.0/6.0) > 1e-9 {
		t.Errorf("profit factor = %v", m.ProfitFactor)
	}
	if m.AvgWin != 8 || m.AvgLoss != 3 {
		t.Errorf("avg win/loss = %v/%v, want 8/3", m.AvgWin, m.AvgLoss)
	}
}

func TestComputeProfitFactorNoLosses(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	m := Compute([]domain.TradeRecord{rec(5, base), rec(3, base.Add(time.Hour))}, 1000)
	if !math.IsInf(m.ProfitFactor, 1) {
		t.Errorf("profit factor = %v, want +Inf", m.ProfitFactor)
	}
}

func TestSharpeSignAndScale(t *testing.T) {
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	var records []domain.TradeRecord
	// Alternating daily pnl: +10, +2, +10, +2 ... positive mean, positive Sharpe.
	for i := 0; i < 10; i++ {
		pnl := 10.0
		if i%2 == 1 {
			pnl = 2.0
		}
		records = append(records, rec(pnl, base.Add(time.Duration(i)*24*time.Hour)))
	}
	m := Compute(records, 1000)
	if m.Sharpe <= 0 {
		t.Errorf("sharpe = %v, want > 0 for all-positive days", m.Sharpe)
	}
	// All returns positive: no downside deviation, Sortino degenerates to 0.
	if m.Sortino != 0 {
		t.Errorf("sortino = %v, want 0 with no down days", m.Sortino)
	}
}

func TestSortinoPenalizesDownside(t *testing.T) {
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	var records []domain.TradeRecord
	pnls := []float64{10, -2, 8, -1, 12, -3, 9, -2}
	for i, p := range pnls {
		records = append(records, rec(p, base.Add(time.Duration(i)*24*time.Hour)))
	}
	m := Compute(records, 1000)
	if m.Sortino <= 0 {
		t.Errorf("sortino = %v, want > 0", m.Sortino)
	}
	if m.Sharpe <= 0 {
		t.Errorf("sharpe = %v, want > 0", m.Sharpe)
	}
}

func TestMaxDrawdown(t *testing.T) {
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	// Equity: 1000 -> 1100 -> 990 -> 1050. Peak 1100, trough 990.
	records := []domain.TradeRecord{
		rec(100, base),
		rec(-110, base.Add(time.Hour)),
		rec(60, base.Add(2*time.Hour)),
	}
	m := Compute(records, 1000)
	want := (1100.0 - 990.0) / 1100.0
	if math.Abs(m.MaxDrawdown-want) > 1e-9 {
		t.Errorf("max drawdown = %v, want %v", m.MaxDrawdown, want)
	}
}

func TestComputeOrdersRecordsByCloseTime(t *testing.T) {
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	// Same trades as TestMaxDrawdown, shuffled.
	records := []domain.TradeRecord{
		rec(60, base.Add(2 * time.Hour)),
		rec(100, base),
		rec(-110, base.Add(time.Hour)),
	}
	m := Compute(records, 1000)
	want := (1100.0 - 990.0) / 1100.0
	if math.Abs(m.MaxDrawdown-want) > 1e-9 {
		t.Errorf("max drawdown = %v, want %v regardless of input order", m.MaxDrawdown, want)
	}
}
