package exchange

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"

	"polytrader/internal/domain"
)

// Simulator is the paper-trading venue. Orders rest as GTC limits and fill
// when the observed book crosses the limit price, up to the liquidity shown
// at the touch, so partial fills occur naturally on thin books. Its position
// map is authoritative for reconciliation, exactly like a live venue's.
type Simulator struct {
	mu        sync.Mutex
	orders    map[string]*simOrder
	books     map[string]domain.MarketSnapshot
	positions map[string]float64
}

type simOrder struct {
	tokenID string
	side    domain.Side
	price   float64
	qty     float64
	filled  float64
	avg     float64
	status  domain.OrderStatus
}

var _ Executor = (*Simulator)(nil)

func NewSimulator() *Simulator {
	return &Simulator{
		orders:    make(map[string]*simOrder),
		books:     make(map[string]domain.MarketSnapshot),
		positions: make(map[string]float64),
	}
}

// Observe feeds the simulator the latest book for a market and matches any
// resting orders against it. Called once per tick per market, before fill
// polling.
func (s *Simulator) Observe(snap domain.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[snap.TokenID] = snap
	for _, o := range s.orders {
		if o.tokenID == snap.TokenID {
			s.match(o, snap)
		}
	}
}

// match fills a resting order against the touch. Buys lift the ask when the
// limit is at or above it; sells hit the bid when the limit is at or below.
// Fill size is capped by the notional depth displayed at the touch.
func (s *Simulator) match(o *simOrder, snap domain.MarketSnapshot) {
	if o.status.Terminal() {
		return
	}
	var px, depthUSD float64
	switch o.side {
	case domain.SideBuy:
		if snap.BestAsk <= 0 || o.price < snap.BestAsk {
			return
		}
		px, depthUSD = snap.BestAsk, snap.AskDepth
	case domain.SideSell:
		if snap.BestBid <= 0 || o.price > snap.BestBid {
			return
		}
		px, depthUSD = snap.BestBid, snap.BidDepth
	default:
		return
	}

	avail := o.qty - o.filled
	if depthUSD > 0 {
		if shares := depthUSD / px; shares < avail {
			avail = shares
		}
	}
	if avail <= 0 {
		return
	}

	o.avg = (o.avg*o.filled + px*avail) / (o.filled + avail)
	o.filled += avail
	if o.qty-o.filled <= 1e-9 {
		o.filled = o.qty
		o.status = domain.OrderStatusFilled
	} else {
		o.status = domain.OrderStatusPartiallyFilled
	}

	signed := avail
	if o.side == domain.SideSell {
		signed = -avail
	}
	s.positions[o.tokenID] += signed
	if math.Abs(s.positions[o.tokenID]) <= 1e-9 {
		delete(s.positions, o.tokenID)
	}
}

func (s *Simulator) SubmitOrder(_ context.Context, tokenID string, side domain.Side, price, qty float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	o := &simOrder{
		tokenID: tokenID,
		side:    side,
		price:   price,
		qty:     qty,
		status:  domain.OrderStatusPending,
	}
	s.orders[id] = o
	if snap, ok := s.books[tokenID]; ok {
		s.match(o, snap)
	}
	return id, nil
}

func (s *Simulator) FillStatus(_ context.Context, orderID string) (FillStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return FillStatus{}, ErrOrderNotFound
	}
	return FillStatus{FilledQty: o.filled, AvgPrice: o.avg, Status: o.status}, nil
}

func (s *Simulator) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.status.Terminal() {
		return nil
	}
	o.status = domain.OrderStatusCancelled
	return nil
}

func (s *Simulator) Positions(_ context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out, nil
}
