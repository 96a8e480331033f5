package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"polytrader/internal/domain"
)

// Replay serves recorded price history as a market data source for
// backtests. Advance moves the replay clock; Snapshot synthesizes a book
// from the most recent point at or before the clock, and History returns
// the points inside the trailing window. Depth is synthetic and symmetric
// since recorded history carries no book levels.
type Replay struct {
	mu       sync.Mutex
	points   map[string][]domain.PricePoint // ascending by timestamp
	infos    map[string]domain.MarketInfo
	clock    time.Time
	depthUSD float64
}

var _ Source = (*Replay)(nil)

func NewReplay(infos []domain.MarketInfo, points []domain.PricePoint, depthUSD float64) *Replay {
	r := &Replay{
		points:   make(map[string][]domain.PricePoint),
		infos:    make(map[string]domain.MarketInfo),
		depthUSD: depthUSD,
	}
	for _, info := range infos {
		r.infos[info.TokenID] = info
	}
	for _, p := range points {
		r.points[p.TokenID] = append(r.points[p.TokenID], p)
		if p.Timestamp.After(r.clock) {
			r.clock = p.Timestamp
		}
	}
	// Start the clock at the earliest point.
	for _, series := range r.points {
		if len(series) > 0 && series[0].Timestamp.Before(r.clock) {
			r.clock = series[0].Timestamp
		}
	}
	return r
}

// Advance moves the replay clock forward.
func (r *Replay) Advance(to time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if to.After(r.clock) {
		r.clock = to
	}
}

// Now returns the current replay clock.
func (r *Replay) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock
}

// End returns the timestamp of the last recorded point across all markets.
func (r *Replay) End() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	var end time.Time
	for _, series := range r.points {
		if n := len(series); n > 0 && series[n-1].Timestamp.After(end) {
			end = series[n-1].Timestamp
		}
	}
	return end
}

func (r *Replay) Snapshot(_ context.Context, tokenID string) (domain.MarketSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	series := r.points[tokenID]
	var last *domain.PricePoint
	for i := range series {
		if series[i].Timestamp.After(r.clock) {
			break
		}
		last = &series[i]
	}
	if last == nil {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: no replay data for %s at %s", ErrUnavailable, tokenID, r.clock)
	}

	half := last.Spread / 2
	if half <= 0 {
		half = 0.005
	}
	snap := domain.MarketSnapshot{
		TokenID:    tokenID,
		BestBid:    last.Mid - half,
		BestAsk:    last.Mid + half,
		BidDepth:   r.depthUSD,
		AskDepth:   r.depthUSD,
		CapturedAt: r.clock,
	}
	if info, ok := r.infos[tokenID]; ok {
		snap.Resolution = info.Resolution
	}
	return snap, nil
}

func (r *Replay) History(_ context.Context, tokenID string, window time.Duration) ([]domain.PricePoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Add(-window)
	var out []domain.PricePoint
	for _, p := range r.points[tokenID] {
		if p.Timestamp.After(r.clock) {
			break
		}
		if p.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Replay) Markets(_ context.Context) ([]domain.MarketInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.MarketInfo, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}
	return out, nil
}
