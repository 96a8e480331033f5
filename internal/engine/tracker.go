package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"polytrader/internal/domain"
	"polytrader/internal/exchange"
)

// Tracker owns every order from submission to a terminal state. Orders are
// mutated only here, through fill, cancel, expire, and freeze events; other
// components see copies.
type Tracker struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	exec   exchange.Executor
	log    *slog.Logger
	now    func() time.Time
}

func NewTracker(exec exchange.Executor, log *slog.Logger) *Tracker {
	return &Tracker{
		orders: make(map[string]*domain.Order),
		exec:   exec,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the fill timestamp source. Replay runs pin it to the
// recorded timeline.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Track adds a confirmed order to the active watch set.
func (t *Tracker) Track(o domain.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[o.ID] = &o
}

// Open returns copies of all orders in a non-terminal state.
func (t *Tracker) Open() []domain.Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.Order
	for _, o := range t.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	return out
}

// HasOpenOrder reports whether a market already has an active order, used to
// serialize to one order per market.
func (t *Tracker) HasOpenOrder(tokenID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.orders {
		if o.TokenID == tokenID && !o.Status.Terminal() {
			return true
		}
	}
	return false
}

// Get returns a copy of a tracked order.
func (t *Tracker) Get(id string) (domain.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// PollResult aggregates one polling pass over the active watch set.
type PollResult struct {
	Fills   []domain.Fill  // positive fill deltas to apply to positions
	Frozen  []domain.Order // orders frozen after an invariant violation
	Updated []domain.Order // every order whose state changed, for persistence
}

// PollAll queries fill status for every active order concurrently, each call
// bounded by perOrderTimeout so one slow venue response cannot stall the
// rest. Results are aggregated under the tracker lock after all polls
// return.
func (t *Tracker) PollAll(ctx context.Context, perOrderTimeout time.Duration) PollResult {
	open := t.Open()
	if len(open) == 0 {
		return PollResult{}
	}

	type pollOut struct {
		id  string
		st  exchange.FillStatus
		err error
	}
	results := make([]pollOut, len(open))

	var wg sync.WaitGroup
	for i, o := range open {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, perOrderTimeout)
			defer cancel()
			st, err := t.exec.FillStatus(pctx, id)
			results[i] = pollOut{id: id, st: st, err: err}
		}(i, o.ID)
	}
	wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()

	var out PollResult
	for _, r := range results {
		if r.err != nil {
			// Transient: this order is polled again next tick.
			t.log.Warn("fill poll failed", "order", r.id, "err", r.err)
			continue
		}
		o, ok := t.orders[r.id]
		if !ok || o.Status.Terminal() {
			continue
		}

		delta := r.st.FilledQty - o.FilledQty
		if delta > 1e-9 {
			price := fillPrice(o, r.st, delta)
			if err := o.ApplyFill(delta, price); err != nil {
				if errors.Is(err, domain.ErrFillOverflow) {
					// Venue reported more than we asked for. Freeze the order
					// rather than corrupt the ledger.
					o.Freeze()
					t.log.Error("fill overflow, freezing order",
						"order", o.ID, "token", o.TokenID,
						"reported", r.st.FilledQty, "requested", o.Quantity)
					out.Frozen = append(out.Frozen, *o)
					out.Updated = append(out.Updated, *o)
				}
				continue
			}
			out.Fills = append(out.Fills, domain.Fill{
				OrderID:  o.ID,
				TokenID:  o.TokenID,
				Side:     o.Side,
				Quantity: delta,
				Price:    price,
				Time:     t.now(),
			})
			out.Updated = append(out.Updated, *o)
		} else if r.st.Status.Terminal() && !o.Status.Terminal() {
			// Venue-side cancel with no new quantity.
			switch r.st.Status {
			case domain.OrderStatusCancelled:
				o.Cancel()
			case domain.OrderStatusExpired:
				o.Expire()
			}
			if o.Status.Terminal() {
				out.Updated = append(out.Updated, *o)
			}
		}
	}
	return out
}

// fillPrice derives the price of this delta from the venue's cumulative
// average; when the venue reports no price the limit price is assumed.
func fillPrice(o *domain.Order, st exchange.FillStatus, delta float64) float64 {
	if st.AvgPrice <= 0 {
		return o.Price
	}
	p := (st.AvgPrice*st.FilledQty - o.AvgFill*o.FilledQty) / delta
	if p <= 0 {
		return o.Price
	}
	return p
}

// ExpireStale cancels every order past its expiry deadline that still has
// unfilled quantity. Cancel retry belongs to the executor; a cancel that
// still fails is retried naturally on the next tick. On success the order
// moves to Expired. Quantity already filled stays a real position, only the
// unfilled remainder is voided.
func (t *Tracker) ExpireStale(ctx context.Context, now time.Time) []domain.Order {
	var stale []domain.Order
	for _, o := range t.Open() {
		if !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt) {
			stale = append(stale, o)
		}
	}

	var expired []domain.Order
	for _, o := range stale {
		err := t.exec.CancelOrder(ctx, o.ID)
		if errors.Is(err, exchange.ErrOrderNotFound) {
			err = nil
		}
		if err != nil {
			t.log.Error("expiry cancel failed", "order", o.ID, "err", err)
			continue
		}

		t.mu.Lock()
		if live, ok := t.orders[o.ID]; ok && live.Expire() == nil {
			expired = append(expired, *live)
		}
		t.mu.Unlock()
	}
	return expired
}

// Forget drops terminal orders from the watch set. Called after their final
// state has been persisted.
func (t *Tracker) Forget(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if o, ok := t.orders[id]; ok && o.Status.Terminal() {
			delete(t.orders, id)
		}
	}
}
