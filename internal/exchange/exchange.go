// Package exchange defines the execution collaborator contract and its two
// implementations: a paper-trading simulator and a CLOB REST client.
package exchange

import (
	"context"
	"errors"

	"polytrader/internal/domain"
)

// ErrOrderNotFound is returned for status or cancel calls on an unknown id.
var ErrOrderNotFound = errors.New("order not found")

// FillStatus is the venue's cumulative view of one order.
type FillStatus struct {
	FilledQty float64 // cumulative, monotone per venue contract
	AvgPrice  float64
	Status    domain.OrderStatus
}

// Executor is the execution venue. SubmitOrder returns the venue order id
// only once the submission is confirmed; an error means no order exists and
// no local state may be created for it. All calls may block on network I/O
// and honor ctx.
type Executor interface {
	SubmitOrder(ctx context.Context, tokenID string, side domain.Side, price, qty float64) (string, error)
	FillStatus(ctx context.Context, orderID string) (FillStatus, error)
	CancelOrder(ctx context.Context, orderID string) error

	// Positions returns the authoritative token -> signed quantity map used
	// for reconciliation.
	Positions(ctx context.Context) (map[string]float64, error)
}
