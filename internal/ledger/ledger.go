// Package ledger is the source of truth for cash, realized trades, and open
// positions. Positions are derived exclusively from fills; the trade record
// sequence is append-only. Equity = cash + mark-to-market of open positions
// and feeds the risk engine's drawdown state.
package ledger

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"polytrader/internal/domain"
)

// Exit reasons stamped on realized trade records.
const (
	ReasonClose        = "close"
	ReasonTakeProfit   = "take_profit"
	ReasonStopLoss     = "stop_loss"
	ReasonTrailingStop = "trailing_stop"
	ReasonTimeout      = "timeout"
)

// ExitParams are the thresholds stamped onto every newly opened position.
// A zero value disables the corresponding exit.
type ExitParams struct {
	TakeProfit   float64
	StopLoss     float64
	TrailingStop float64
}

// ExitSignal asks the engine to close (part of) a position.
type ExitSignal struct {
	TokenID  string
	Quantity float64 // unsigned quantity to close
	Side     domain.Side
	Reason   string
}

// Ledger guards cash, records, and the position book behind one mutex.
type Ledger struct {
	mu        sync.Mutex
	cash      float64
	records   []domain.TradeRecord
	positions map[string]*domain.Position
	exits     ExitParams
	log       *slog.Logger
}

func New(initialCash float64, exits ExitParams, log *slog.Logger) *Ledger {
	return &Ledger{
		cash:      initialCash,
		positions: make(map[string]*domain.Position),
		exits:     exits,
		log:       log,
	}
}

// ---------------------------------------------------------------------------
// Fills
// ---------------------------------------------------------------------------

// ApplyFill updates cash and the position book from one fill delta. Fills in
// the position's direction merge into the average entry; fills against it
// close quantity at the average entry and realize PnL, returning the trade
// records appended (empty for opening fills). exitReason labels the records;
// empty means an ordinary close. A fill that closes past zero flips the
// position, opening the excess at the fill price.
func (l *Ledger) ApplyFill(f domain.Fill, exitReason string) []domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	signed := f.Quantity
	if f.Side == domain.SideSell {
		signed = -f.Quantity
	}
	// Cash moves opposite to the signed quantity.
	l.cash -= signed * f.Price

	pos, ok := l.positions[f.TokenID]
	if !ok {
		l.positions[f.TokenID] = l.open(f.TokenID, signed, f.Price, f.Time)
		return nil
	}

	if sameSign(pos.Quantity, signed) {
		// Adding: average-entry merge.
		total := pos.Quantity + signed
		pos.AvgEntry = (pos.AvgEntry*math.Abs(pos.Quantity) + f.Price*math.Abs(signed)) / math.Abs(total)
		pos.Quantity = total
		return nil
	}

	// Closing (possibly flipping).
	closed := math.Min(math.Abs(signed), math.Abs(pos.Quantity))
	sign := 1.0
	if pos.Quantity < 0 {
		sign = -1
	}
	if exitReason == "" {
		exitReason = ReasonClose
	}
	rec := domain.TradeRecord{
		TokenID:     f.TokenID,
		EntryPrice:  pos.AvgEntry,
		ExitPrice:   f.Price,
		Quantity:    closed,
		RealizedPnL: (f.Price - pos.AvgEntry) * closed * sign,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    f.Time,
		ExitReason:  exitReason,
	}
	l.records = append(l.records, rec)

	remainder := pos.Quantity + signed
	if math.Abs(remainder) <= 1e-9 {
		delete(l.positions, f.TokenID)
	} else if sameSign(remainder, pos.Quantity) {
		pos.Quantity = remainder
	} else {
		// Flipped through zero: the excess opens a fresh position.
		l.positions[f.TokenID] = l.open(f.TokenID, remainder, f.Price, f.Time)
	}
	return []domain.TradeRecord{rec}
}

func (l *Ledger) open(tokenID string, qty, price float64, at time.Time) *domain.Position {
	return &domain.Position{
		TokenID:      tokenID,
		Quantity:     qty,
		AvgEntry:     price,
		OpenedAt:     at,
		TakeProfit:   l.exits.TakeProfit,
		StopLoss:     l.exits.StopLoss,
		TrailingStop: l.exits.TrailingStop,
		PeakPrice:    price,
	}
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Equity marks every open position against the supplied prices. A market
// missing from marks is valued at its average entry.
func (l *Ledger) Equity(marks map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	eq := l.cash
	for id, pos := range l.positions {
		mark, ok := marks[id]
		if !ok {
			mark = pos.AvgEntry
		}
		eq += pos.Quantity * mark
	}
	return eq
}

// OpenExposure returns the total notional USD deployed across positions.
func (l *Ledger) OpenExposure(marks map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0.0
	for id, pos := range l.positions {
		mark, ok := marks[id]
		if !ok {
			mark = pos.AvgEntry
		}
		total += math.Abs(pos.Quantity) * mark
	}
	return total
}

// Position returns a copy of the open position for a market, if any.
func (l *Ledger) Position(tokenID string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[tokenID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions, ordered by token id.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (l *Ledger) OpenPositionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// Records returns a copy of the realized trade sequence.
func (l *Ledger) Records() []domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// ---------------------------------------------------------------------------
// Exit scanning
// ---------------------------------------------------------------------------

// ScanExits evaluates exit conditions over every unfrozen position: take
// profit, stop loss, trailing stop off the peak mark, and the hold timeout.
// Trailing peaks are updated as a side effect. Frozen positions are excluded
// from automated management.
func (l *Ledger) ScanExits(marks map[string]float64, now time.Time, maxHold time.Duration) []ExitSignal {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ExitSignal
	for id, pos := range l.positions {
		if pos.Frozen {
			continue
		}
		mark, ok := marks[id]
		if !ok || mark <= 0 {
			continue
		}
		if reason := l.exitReason(pos, mark, now, maxHold); reason != "" {
			out = append(out, ExitSignal{
				TokenID:  id,
				Quantity: math.Abs(pos.Quantity),
				Side:     closeSide(pos.Quantity),
				Reason:   reason,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (l *Ledger) exitReason(pos *domain.Position, mark float64, now time.Time, maxHold time.Duration) string {
	long := pos.Quantity > 0
	if long && mark > pos.PeakPrice {
		pos.PeakPrice = mark
	}
	if !long && (pos.PeakPrice == 0 || mark < pos.PeakPrice) {
		pos.PeakPrice = mark
	}

	gain := (mark - pos.AvgEntry) / pos.AvgEntry
	if !long {
		gain = -gain
	}
	if pos.TakeProfit > 0 && gain >= pos.TakeProfit {
		return ReasonTakeProfit
	}
	if pos.StopLoss > 0 && gain <= -pos.StopLoss {
		return ReasonStopLoss
	}
	if pos.TrailingStop > 0 {
		if long && mark <= pos.PeakPrice*(1-pos.TrailingStop) {
			return ReasonTrailingStop
		}
		if !long && mark >= pos.PeakPrice*(1+pos.TrailingStop) {
			return ReasonTrailingStop
		}
	}
	if maxHold > 0 && now.Sub(pos.OpenedAt) >= maxHold {
		return ReasonTimeout
	}
	return ""
}

func closeSide(qty float64) domain.Side {
	if qty > 0 {
		return domain.SideSell
	}
	return domain.SideBuy
}

// ---------------------------------------------------------------------------
// Reconciliation hooks
// ---------------------------------------------------------------------------

// CorrectPosition forces a market's quantity to the authoritative exchange
// value. Cash and records are untouched; the discrepancy is the caller's to
// report. A zero quantity removes the position.
func (l *Ledger) CorrectPosition(tokenID string, qty, mark float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if math.Abs(qty) <= 1e-9 {
		delete(l.positions, tokenID)
		return
	}
	pos, ok := l.positions[tokenID]
	if !ok {
		l.positions[tokenID] = l.open(tokenID, qty, mark, now)
		return
	}
	pos.Quantity = qty
}

// FreezePosition excludes a market from exit scanning after an invariant
// violation on one of its orders.
func (l *Ledger) FreezePosition(tokenID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[tokenID]; ok {
		pos.Frozen = true
	}
}
