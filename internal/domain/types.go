// Package domain defines the core data model shared across the trading
// system: market snapshots, signals, trade intents, orders, positions,
// ledger records, and risk state.
package domain

import (
	"errors"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// MarketSnapshot is an immutable capture of a market's top-of-book state,
// produced once per tick per market.
type MarketSnapshot struct {
	TokenID    string
	BestBid    float64
	BestAsk    float64
	BidDepth   float64 // notional USD within the top levels
	AskDepth   float64
	Volume24h  float64
	Resolution time.Time // zero if unknown
	CapturedAt time.Time
}

// Mid returns the mid price, or 0 if either side is missing.
func (s MarketSnapshot) Mid() float64 {
	if s.BestBid <= 0 || s.BestAsk <= 0 {
		return 0
	}
	return (s.BestBid + s.BestAsk) / 2
}

// Spread returns the absolute bid/ask spread.
func (s MarketSnapshot) Spread() float64 {
	if s.BestBid <= 0 || s.BestAsk <= 0 {
		return 0
	}
	return s.BestAsk - s.BestBid
}

// PricePoint is a single observation in a market's price history.
type PricePoint struct {
	TokenID   string
	Timestamp time.Time
	Mid       float64
	Spread    float64
}

// MarketInfo is slow-moving market metadata used by the signal layer.
type MarketInfo struct {
	TokenID    string
	Question   string
	Category   string // "politics", "sports", "crypto", "finance", "other"
	Resolution time.Time
}

// NewsItem is a single fetched news article.
type NewsItem struct {
	Time     time.Time
	Source   string
	Headline string
}

// ---------------------------------------------------------------------------
// Signals and intents
// ---------------------------------------------------------------------------

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideHold Side = "hold"
)

// SignalSet is the per-market output of the signal aggregator. Scores lie in
// [-1, 1]; Composite is the configured weighted sum; Confidence lies in
// [0, 1]. Computed fresh each tick and never mutated.
type SignalSet struct {
	TokenID    string
	Scores     map[string]float64 // signal name -> score
	Composite  float64
	Confidence float64
	Candidate  Side
	ComputedAt time.Time
}

// TradeIntent is an approved, directional proposal produced by the decision
// validator and consumed once by the sizer.
type TradeIntent struct {
	TokenID    string
	Side       Side
	Price      float64 // proposed limit price
	Confidence float64
	Provenance string // "advisory" or "fallback"
	CreatedAt  time.Time
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderStatus is the lifecycle state of an order. Pending and PartiallyFilled
// are the only non-terminal states.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusError           OrderStatus = "error" // frozen after invariant violation
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusError:
		return true
	}
	return false
}

var (
	// ErrInvalidTransition is returned when an event arrives for an order in
	// a terminal state.
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrFillOverflow is returned when exchange data would push filled
	// quantity above the requested quantity.
	ErrFillOverflow = errors.New("filled quantity exceeds requested quantity")
)

// Order follows a submission from pending through partial fills to a terminal
// state. It is owned exclusively by the order lifecycle tracker and mutated
// only through ApplyFill, Cancel, Expire, and Freeze.
type Order struct {
	ID        string
	TokenID   string
	Side      Side
	Price     float64
	Quantity  float64
	FilledQty float64
	AvgFill   float64
	Status    OrderStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQty
}

// ApplyFill applies a fill delta at the given price. FilledQty is
// monotonically non-decreasing and never exceeds Quantity; a delta that would
// overflow returns ErrFillOverflow without mutating the order.
func (o *Order) ApplyFill(deltaQty, price float64) error {
	if o.Status.Terminal() {
		return ErrInvalidTransition
	}
	if deltaQty <= 0 {
		return nil
	}
	if o.FilledQty+deltaQty > o.Quantity+1e-9 {
		return ErrFillOverflow
	}
	total := o.FilledQty + deltaQty
	o.AvgFill = (o.AvgFill*o.FilledQty + price*deltaQty) / total
	o.FilledQty = total
	if o.Quantity-o.FilledQty <= 1e-9 {
		o.FilledQty = o.Quantity
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	return nil
}

// Cancel transitions a non-terminal order to cancelled. Already-filled
// quantity remains real; only the unfilled remainder is voided.
func (o *Order) Cancel() error {
	if o.Status.Terminal() {
		return ErrInvalidTransition
	}
	o.Status = OrderStatusCancelled
	return nil
}

// Expire transitions a non-terminal order to expired.
func (o *Order) Expire() error {
	if o.Status.Terminal() {
		return ErrInvalidTransition
	}
	o.Status = OrderStatusExpired
	return nil
}

// Freeze moves the order to the Error terminal state after an invariant
// violation. The position for its market is excluded from automated
// management until an operator intervenes.
func (o *Order) Freeze() {
	o.Status = OrderStatusError
}

// Fill is a single fill delta reported by the execution venue.
type Fill struct {
	OrderID  string
	TokenID  string
	Side     Side
	Quantity float64
	Price    float64
	Time     time.Time
}

// ---------------------------------------------------------------------------
// Positions and ledger
// ---------------------------------------------------------------------------

// Position is the open exposure in a single market. Quantity is signed
// (positive = long). Created on first fill, removed when quantity returns to
// zero. Quantity always equals the signed sum of fills net of exits.
type Position struct {
	TokenID      string
	Quantity     float64
	AvgEntry     float64
	OpenedAt     time.Time
	TakeProfit   float64 // fractional gain threshold, 0 disables
	StopLoss     float64 // fractional loss threshold, 0 disables
	TrailingStop float64 // fractional trail from peak, 0 disables
	PeakPrice    float64 // highest mark since entry, for trailing stops
	Frozen       bool    // excluded from automated management
}

// UnrealizedPnL marks the position against the given price.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	return (mark - p.AvgEntry) * p.Quantity
}

// TradeRecord is one realized (closed) trade appended to the ledger.
type TradeRecord struct {
	TokenID    string
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	RealizedPnL float64
	OpenedAt   time.Time
	ClosedAt   time.Time
	ExitReason string // "close", "take_profit", "stop_loss", "timeout", "trailing_stop"
}

// ReconEvent records one reconciliation mismatch: the venue's authoritative
// quantity disagreed with the local book and local state was corrected.
type ReconEvent struct {
	TokenID  string
	LocalQty float64
	VenueQty float64
	At       time.Time
}

// ---------------------------------------------------------------------------
// Risk state
// ---------------------------------------------------------------------------

// RiskState is the risk engine's mutable accumulator state. It is mutated
// only by the risk engine after each closed trade and reset on fixed UTC
// calendar boundaries.
type RiskState struct {
	DailyPnL          float64
	WeeklyPnL         float64
	PeakEquity        float64
	Drawdown          float64 // (peak - current) / peak
	ConsecutiveLosses int
	ConsecutiveWins   int
	BreakerActive     bool
	BreakerReason     string
	BreakerTrippedAt  time.Time
	DayStart          time.Time // UTC midnight of the current accumulation day
	WeekStart         time.Time // UTC Monday midnight of the current week
	LastTradeAt       time.Time
}
