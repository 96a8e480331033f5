// Package marketdata provides the market data source contract, a REST
// implementation against the gamma and CLOB APIs, and a replay source for
// backtests. A failed snapshot is a transient condition: the engine skips the
// affected market for the tick and carries on.
package marketdata

import (
	"context"
	"errors"
	"time"

	"polytrader/internal/domain"
)

// ErrUnavailable marks a transient data failure; callers skip the market this
// tick instead of propagating it.
var ErrUnavailable = errors.New("market data unavailable")

// Source supplies snapshots and history for the signal layer.
type Source interface {
	// Snapshot captures the current top-of-book for one market.
	Snapshot(ctx context.Context, tokenID string) (domain.MarketSnapshot, error)

	// History returns ordered price points covering the trailing window.
	History(ctx context.Context, tokenID string, window time.Duration) ([]domain.PricePoint, error)

	// Markets lists candidate markets with their metadata.
	Markets(ctx context.Context) ([]domain.MarketInfo, error)
}
