// Package risk is the single authority that can veto a new trade. It owns
// RiskState behind one mutex: pre-trade gating, post-trade accounting, and
// the circuit breaker all go through the Engine. Only entries are gated;
// exits that reduce existing risk are always allowed and never pass through
// CheckEntry.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/domain"
	"polytrader/internal/util"
)

// GateCode identifies which risk rule rejected an entry.
type GateCode string

const (
	GateApproved      GateCode = "approved"
	GateBreaker       GateCode = "circuit_breaker"
	GateDailyLoss     GateCode = "daily_loss_limit"
	GateWeeklyLoss    GateCode = "weekly_loss_limit"
	GateDrawdown      GateCode = "max_drawdown"
	GateTradeCooldown GateCode = "trade_cooldown"
	GateMaxPositions  GateCode = "max_open_positions"
)

// Decision is the outcome of a pre-trade check. Rejections are expected gate
// outcomes, recorded for observability, never errors.
type Decision struct {
	Approved bool
	Code     GateCode
	Detail   string
}

func approve() Decision { return Decision{Approved: true, Code: GateApproved} }

func reject(code GateCode, detail string) Decision {
	return Decision{Code: code, Detail: detail}
}

// Engine guards all RiskState mutation. At most one tick's post-trade updates
// apply at a time.
type Engine struct {
	mu    sync.Mutex
	cfg   config.RiskConfig
	state domain.RiskState
	log   *slog.Logger
}

// New seeds a fresh engine: peak equity starts at the initial account value
// and the accumulation windows start at the current UTC day and week.
func New(cfg config.RiskConfig, initialEquity float64, log *slog.Logger) *Engine {
	now := time.Now().UTC()
	return &Engine{
		cfg: cfg,
		log: log,
		state: domain.RiskState{
			PeakEquity: initialEquity,
			DayStart:   util.DayStart(now),
			WeekStart:  util.WeekStart(now),
		},
	}
}

// Restore replaces the engine's state with a persisted snapshot, for startup
// recovery.
func (e *Engine) Restore(s domain.RiskState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// State returns a copy of the current risk state for persistence and
// inspection.
func (e *Engine) State() domain.RiskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ---------------------------------------------------------------------------
// Pre-trade gate
// ---------------------------------------------------------------------------

// CheckEntry gates a new entry. Checks run in a fixed order and the first
// failure wins: circuit breaker, daily loss, weekly loss, drawdown, then the
// timing and portfolio limits. The breaker auto-resets here once its cooldown
// has elapsed.
func (e *Engine) CheckEntry(now time.Time, equity float64, openPositions int) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollWindowsLocked(now)
	e.autoResetLocked(now)
	e.observeEquityLocked(equity)

	if e.state.BreakerActive {
		return reject(GateBreaker, e.state.BreakerReason)
	}
	if e.state.DailyPnL <= -e.cfg.MaxDailyLoss {
		return reject(GateDailyLoss,
			fmt.Sprintf("daily pnl %.2f breaches limit %.2f", e.state.DailyPnL, -e.cfg.MaxDailyLoss))
	}
	if e.state.WeeklyPnL <= -e.cfg.MaxWeeklyLoss {
		return reject(GateWeeklyLoss,
			fmt.Sprintf("weekly pnl %.2f breaches limit %.2f", e.state.WeeklyPnL, -e.cfg.MaxWeeklyLoss))
	}
	if e.state.Drawdown >= e.cfg.MaxDrawdownPct {
		return reject(GateDrawdown,
			fmt.Sprintf("drawdown %.2f%% >= max %.2f%%", e.state.Drawdown*100, e.cfg.MaxDrawdownPct*100))
	}
	if cd := e.cfg.TradeCooldown(); cd > 0 && !e.state.LastTradeAt.IsZero() {
		if since := now.Sub(e.state.LastTradeAt); since < cd {
			return reject(GateTradeCooldown,
				fmt.Sprintf("%.0fs since last entry, cooldown %s", since.Seconds(), cd))
		}
	}
	if e.cfg.MaxOpenPositions > 0 && openPositions >= e.cfg.MaxOpenPositions {
		return reject(GateMaxPositions,
			fmt.Sprintf("%d open positions at limit %d", openPositions, e.cfg.MaxOpenPositions))
	}
	return approve()
}

// MarkEntry records the time an entry order was actually submitted, for the
// trade cooldown. Called only after a successful submission.
func (e *Engine) MarkEntry(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.LastTradeAt = now
}

// ---------------------------------------------------------------------------
// Post-trade update
// ---------------------------------------------------------------------------

// RecordClose applies a realized trade to the risk state: accumulators by
// close time, peak equity and drawdown from the post-trade equity, and the
// win/loss streaks. Returns true when this trade tripped the circuit breaker,
// so the caller can alert.
func (e *Engine) RecordClose(rec domain.TradeRecord, equity float64) (tripped bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A trade straddling a boundary belongs to the period it closed in.
	e.rollWindowsLocked(rec.ClosedAt)
	e.state.DailyPnL += rec.RealizedPnL
	e.state.WeeklyPnL += rec.RealizedPnL
	e.observeEquityLocked(equity)

	if rec.RealizedPnL < 0 {
		e.state.ConsecutiveLosses++
		e.state.ConsecutiveWins = 0
	} else if rec.RealizedPnL > 0 {
		e.state.ConsecutiveLosses = 0
		e.state.ConsecutiveWins++
	}

	if !e.state.BreakerActive &&
		e.cfg.MaxConsecutiveLosses > 0 &&
		e.state.ConsecutiveLosses >= e.cfg.MaxConsecutiveLosses {
		e.state.BreakerActive = true
		e.state.BreakerTrippedAt = rec.ClosedAt
		e.state.BreakerReason = fmt.Sprintf("%d consecutive losses", e.state.ConsecutiveLosses)
		e.log.Error("circuit breaker tripped",
			"reason", e.state.BreakerReason, "daily_pnl", e.state.DailyPnL)
		return true
	}
	return false
}

// ObserveEquity refreshes peak equity and drawdown outside of a trade close,
// typically once per tick from the marked ledger equity.
func (e *Engine) ObserveEquity(equity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observeEquityLocked(equity)
}

// ---------------------------------------------------------------------------
// Circuit breaker reset
// ---------------------------------------------------------------------------

// ResetBreaker clears the breaker manually and zeroes the loss streak.
func (e *Engine) ResetBreaker(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.BreakerActive {
		return
	}
	e.clearBreakerLocked()
	e.log.Info("circuit breaker reset", "by", reason)
}

// autoResetLocked clears the breaker once its cooldown has elapsed. A zero
// cooldown disables auto-reset (manual only).
func (e *Engine) autoResetLocked(now time.Time) {
	cd := e.cfg.BreakerCooldown()
	if !e.state.BreakerActive || cd <= 0 {
		return
	}
	if now.Sub(e.state.BreakerTrippedAt) >= cd {
		e.clearBreakerLocked()
		e.log.Info("circuit breaker auto-reset", "cooldown", cd)
	}
}

func (e *Engine) clearBreakerLocked() {
	e.state.BreakerActive = false
	e.state.BreakerReason = ""
	e.state.BreakerTrippedAt = time.Time{}
	e.state.ConsecutiveLosses = 0
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (e *Engine) rollWindowsLocked(now time.Time) {
	if !util.SameDay(now, e.state.DayStart) {
		e.state.DailyPnL = 0
		e.state.DayStart = util.DayStart(now)
	}
	if !util.SameWeek(now, e.state.WeekStart) {
		e.state.WeeklyPnL = 0
		e.state.WeekStart = util.WeekStart(now)
	}
}

func (e *Engine) observeEquityLocked(equity float64) {
	if equity <= 0 {
		return
	}
	if equity > e.state.PeakEquity {
		e.state.PeakEquity = equity
	}
	if e.state.PeakEquity > 0 {
		e.state.Drawdown = (e.state.PeakEquity - equity) / e.state.PeakEquity
	}
}
