// Package store defines storage interfaces for persisting and retrieving
// domain objects: orders, realized trades, risk snapshots, reconciliation
// events, and price history.
package store

import (
	"context"
	"time"

	"polytrader/internal/domain"
)

// OrderStore persists order lifecycle state.
type OrderStore interface {
	// SaveOrder inserts a new order into storage.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOpenOrders returns all orders in a non-terminal status, for startup
	// recovery.
	ListOpenOrders(ctx context.Context) ([]domain.Order, error)
}

// TradeStore persists the realized trade ledger.
type TradeStore interface {
	// AppendTrade appends one realized trade record. Records are never
	// updated or deleted.
	AppendTrade(ctx context.Context, rec domain.TradeRecord) error

	// ListTrades returns trades closed within [start, end], oldest first.
	ListTrades(ctx context.Context, start, end time.Time) ([]domain.TradeRecord, error)
}

// RiskStore persists risk engine snapshots.
type RiskStore interface {
	// SaveRiskState writes a snapshot of the risk state.
	SaveRiskState(ctx context.Context, state domain.RiskState) error

	// LoadRiskState returns the most recent snapshot, or ok=false when none
	// exists.
	LoadRiskState(ctx context.Context) (domain.RiskState, bool, error)
}

// EventStore persists reconciliation mismatch events.
type EventStore interface {
	// SaveReconEvent records one reconciliation mismatch.
	SaveReconEvent(ctx context.Context, ev domain.ReconEvent) error

	// CountReconEvents returns the number of mismatches recorded since the
	// given time, for escalation thresholds.
	CountReconEvents(ctx context.Context, since time.Time) (int, error)
}

// PriceHistoryStore persists captured price points for replay and research.
type PriceHistoryStore interface {
	// WritePoints persists a batch of price points.
	WritePoints(ctx context.Context, points []domain.PricePoint) error

	// ReadPoints returns points for the given token within [start, end].
	ReadPoints(ctx context.Context, tokenID string, start, end time.Time) ([]domain.PricePoint, error)

	// ListTokens returns all distinct tokens with stored history.
	ListTokens(ctx context.Context) ([]string, error)
}
