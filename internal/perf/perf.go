// Package perf derives performance metrics from the realized trade ledger.
// It is a read-only consumer: it never mutates the ledger or risk state. The
// values are advisory inputs for tuning and reporting.
package perf

import (
	"math"
	"sort"
	"time"

	"polytrader/internal/domain"
)

const annualization = 252 // trading days per year for ratio scaling

// Metrics is a point-in-time summary computed from closed trades.
type Metrics struct {
	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	TotalPnL     float64
	ProfitFactor float64 // gross profit / gross loss; +Inf with no losses
	Sharpe       float64
	Sortino      float64
	MaxDrawdown  float64 // largest peak-to-trough fraction of the equity curve
	AvgWin       float64
	AvgLoss      float64
}

// Compute summarizes the given trade records against the starting equity.
// Records may arrive in any order; they are evaluated by close time.
func Compute(records []domain.TradeRecord, initialEquity float64) Metrics {
	if len(records) == 0 {
		return Metrics{}
	}
	recs := make([]domain.TradeRecord, len(records))
	copy(recs, records)
	sort.Slice(recs, func(i, j int) bool { return recs[i].ClosedAt.Before(recs[j].ClosedAt) })

	var m Metrics
	var grossProfit, grossLoss float64
	for _, r := range recs {
		m.TotalTrades++
		m.TotalPnL += r.RealizedPnL
		if r.RealizedPnL > 0 {
			m.Wins++
			grossProfit += r.RealizedPnL
		} else if r.RealizedPnL < 0 {
			m.Losses++
			grossLoss += -r.RealizedPnL
		}
	}
	m.WinRate = float64(m.Wins) / float64(m.TotalTrades)
	if m.Wins > 0 {
		m.AvgWin = grossProfit / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = grossLoss / float64(m.Losses)
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}

	returns := dailyReturns(recs, initialEquity)
	m.Sharpe = sharpe(returns)
	m.Sortino = sortino(returns)
	m.MaxDrawdown = maxDrawdown(recs, initialEquity)
	return m
}

// dailyReturns buckets realized PnL by UTC close date and converts each
// bucket to a simple return on the equity entering that day.
func dailyReturns(recs []domain.TradeRecord, initialEquity float64) []float64 {
	if initialEquity <= 0 {
		return nil
	}
	type bucket struct {
		day time.Time
		pnl float64
	}
	var buckets []bucket
	for _, r := range recs {
		day := r.ClosedAt.UTC().Truncate(24 * time.Hour)
		if n := len(buckets); n > 0 && buckets[n-1].day.Equal(day) {
			buckets[n-1].pnl += r.RealizedPnL
		} else {
			buckets = append(buckets, bucket{day: day, pnl: r.RealizedPnL})
		}
	}

	equity := initialEquity
	out := make([]float64, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b.pnl/equity)
		equity += b.pnl
	}
	return out
}

// sharpe is mean/std of daily returns scaled by sqrt(252). Fewer than two
// observations, or zero variance, yields 0.
func sharpe(returns []float64) float64 {
	mean, std := meanStd(returns)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(annualization)
}

// sortino penalizes only downside deviation.
func sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, _ := meanStd(returns)
	var downSq float64
	var n int
	for _, r := range returns {
		if r < 0 {
			downSq += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	down := math.Sqrt(downSq / float64(n))
	if down == 0 {
		return 0
	}
	return mean / down * math.Sqrt(annualization)
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) < 2 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(xs)-1))
	return mean, std
}

// maxDrawdown walks the realized equity curve trade by trade and returns the
// largest peak-to-trough decline as a fraction of the peak.
func maxDrawdown(recs []domain.TradeRecord, initialEquity float64) float64 {
	equity := initialEquity
	peak := initialEquity
	var maxDD float64
	for _, r := range recs {
		equity += r.RealizedPnL
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
