package backtest

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// trendingHistory builds two hours of one-minute points trending from 0.50
// to 0.70, enough momentum to cross the buy threshold mid-run.
func trendingHistory(start time.Time) ([]domain.MarketInfo, []domain.PricePoint) {
	infos := []domain.MarketInfo{{
		TokenID:    "tok-1",
		Question:   "Will the measure pass?",
		Category:   "politics",
		Resolution: start.Add(7 * 24 * time.Hour),
	}}
	var points []domain.PricePoint
	for i := 0; i <= 120; i++ {
		points = append(points, domain.PricePoint{
			TokenID:   "tok-1",
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Mid:       0.50 + float64(i)*(0.20/120),
			Spread:    0.01,
		})
	}
	return infos, points
}

func TestRunReplaysFullPipeline(t *testing.T) {
	start := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	infos, points := trendingHistory(start)

	r := NewRunner(config.Default(), testLogger())
	res, err := r.Run(context.Background(), infos, points)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Ticks != 121 {
		t.Errorf("ticks = %d, want 121", res.Ticks)
	}
	if !res.Start.Equal(start) || !res.End.Equal(start.Add(120*time.Minute)) {
		t.Errorf("window = %v .. %v", res.Start, res.End)
	}
	if res.Metrics.TotalTrades < 1 {
		t.Fatalf("total trades = %d, want at least one round trip", res.Metrics.TotalTrades)
	}
	if res.FinalEquity <= 0 {
		t.Errorf("final equity = %v", res.FinalEquity)
	}
	wantReturn := (res.FinalEquity - 1000) / 1000
	if math.Abs(res.TotalReturn-wantReturn) > 1e-9 {
		t.Errorf("total return = %v, want %v", res.TotalReturn, wantReturn)
	}
	if res.Metrics.WinRate < 0 || res.Metrics.WinRate > 1 {
		t.Errorf("win rate = %v", res.Metrics.WinRate)
	}
}

func TestRunRejectsEmptyHistory(t *testing.T) {
	r := NewRunner(config.Default(), testLogger())
	if _, err := r.Run(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for empty history")
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	start := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	infos, points := trendingHistory(start)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(config.Default(), testLogger())
	if _, err := r.Run(ctx, infos, points); err == nil {
		t.Fatal("expected context error")
	}
}
