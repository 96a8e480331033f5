// Package backtest replays recorded price history through the full trading
// pipeline and reports performance metrics. The replay run uses the same
// engine as live trading: only the market data source, the venue, and the
// clock differ.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/decision"
	"polytrader/internal/domain"
	"polytrader/internal/engine"
	"polytrader/internal/exchange"
	"polytrader/internal/ledger"
	"polytrader/internal/marketdata"
	"polytrader/internal/notify"
	"polytrader/internal/perf"
	"polytrader/internal/risk"
)

// Synthetic book depth per side for replayed snapshots; recorded history
// carries no real book levels.
const replayDepthUSD = 1000

// Result summarizes one replay run.
type Result struct {
	Metrics     perf.Metrics
	Risk        domain.RiskState
	FinalEquity float64
	TotalReturn float64 // fraction of initial cash
	Ticks       int
	Start       time.Time
	End         time.Time
}

// Runner drives the engine over recorded history.
type Runner struct {
	cfg *config.Config
	log *slog.Logger
}

func NewRunner(cfg *config.Config, log *slog.Logger) *Runner {
	return &Runner{cfg: cfg, log: log}
}

// Run replays the given history tick by tick. The engine runs without
// persistence, news, or an advisory service; decisions fall back to the
// signal layer the same way a live run does when the advisor is down.
func (r *Runner) Run(ctx context.Context, infos []domain.MarketInfo, points []domain.PricePoint) (*Result, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("backtest: no price history")
	}

	replay := marketdata.NewReplay(infos, points, replayDepthUSD)
	sim := exchange.NewSimulator()

	ledg := ledger.New(r.cfg.Trading.InitialCash, ledger.ExitParams{
		TakeProfit:   r.cfg.Trading.TakeProfitPct,
		StopLoss:     r.cfg.Trading.StopLossPct,
		TrailingStop: r.cfg.Trading.TrailingPct,
	}, r.log)
	riskEng := risk.New(r.cfg.Risk, r.cfg.Trading.InitialCash, r.log)
	validator := decision.NewValidator(r.cfg.Decision, nil, r.log)

	eng := engine.New(r.cfg, r.log, replay, sim, ledg, riskEng, validator, engine.Stores{}, notify.Nop{})
	eng.DisableNews()
	eng.SetClock(replay.Now)

	start := replay.Now()
	end := replay.End()
	interval := r.cfg.Trading.TickInterval()

	var ticks int
	for !replay.Now().After(end) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		eng.Tick(ctx)
		ticks++
		replay.Advance(replay.Now().Add(interval))
	}

	marks := finalMarks(ctx, replay, infos)
	finalEquity := ledg.Equity(marks)

	res := &Result{
		Metrics:     perf.Compute(ledg.Records(), r.cfg.Trading.InitialCash),
		Risk:        riskEng.State(),
		FinalEquity: finalEquity,
		TotalReturn: (finalEquity - r.cfg.Trading.InitialCash) / r.cfg.Trading.InitialCash,
		Ticks:       ticks,
		Start:       start,
		End:         end,
	}
	r.log.Info("backtest complete",
		"ticks", res.Ticks,
		"trades", res.Metrics.TotalTrades,
		"win_rate", res.Metrics.WinRate,
		"total_pnl", res.Metrics.TotalPnL,
		"final_equity", res.FinalEquity)
	return res, nil
}

// finalMarks values any still-open positions at the last recorded price.
func finalMarks(ctx context.Context, replay *marketdata.Replay, infos []domain.MarketInfo) map[string]float64 {
	marks := make(map[string]float64, len(infos))
	for _, info := range infos {
		snap, err := replay.Snapshot(ctx, info.TokenID)
		if err != nil {
			continue
		}
		marks[info.TokenID] = (snap.BestBid + snap.BestAsk) / 2
	}
	return marks
}
