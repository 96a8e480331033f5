package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"polytrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ TradeStore = (*SQLiteStore)(nil)
var _ RiskStore = (*SQLiteStore)(nil)
var _ EventStore = (*SQLiteStore)(nil)

// SQLiteStore implements the order, trade, risk, and event stores backed by a
// single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id          TEXT PRIMARY KEY,
	token_id    TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       REAL NOT NULL,
	quantity    REAL NOT NULL,
	filled_qty  REAL NOT NULL DEFAULT 0,
	avg_fill    REAL NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS trades (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	token_id     TEXT NOT NULL,
	entry_price  REAL NOT NULL,
	exit_price   REAL NOT NULL,
	quantity     REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	opened_at    INTEGER NOT NULL,
	closed_at    INTEGER NOT NULL,
	exit_reason  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed_at);

CREATE TABLE IF NOT EXISTS risk_snapshots (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	daily_pnl          REAL NOT NULL,
	weekly_pnl         REAL NOT NULL,
	peak_equity        REAL NOT NULL,
	drawdown           REAL NOT NULL,
	consecutive_losses INTEGER NOT NULL,
	consecutive_wins   INTEGER NOT NULL,
	breaker_active     INTEGER NOT NULL,
	breaker_reason     TEXT NOT NULL,
	breaker_tripped_at INTEGER NOT NULL,
	day_start          INTEGER NOT NULL,
	week_start         INTEGER NOT NULL,
	last_trade_at      INTEGER NOT NULL,
	saved_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS recon_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	token_id  TEXT NOT NULL,
	local_qty REAL NOT NULL,
	venue_qty REAL NOT NULL,
	at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recon_at ON recon_events(at);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, token_id, side, price, quantity, filled_qty, avg_fill, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.TokenID, string(o.Side), o.Price, o.Quantity, o.FilledQty, o.AvgFill,
		string(o.Status), o.CreatedAt.UnixMilli(), o.ExpiresAt.UnixMilli())
	return err
}

func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET filled_qty = ?, avg_fill = ?, status = ? WHERE id = ?`,
		o.FilledQty, o.AvgFill, string(o.Status), o.ID)
	return err
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, token_id, side, price, quantity, filled_qty, avg_fill, status, created_at, expires_at
		FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *SQLiteStore) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token_id, side, price, quantity, filled_qty, avg_fill, status, created_at, expires_at
		FROM orders WHERE status IN (?, ?) ORDER BY created_at`,
		string(domain.OrderStatusPending), string(domain.OrderStatusPartiallyFilled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*domain.Order, error) {
	var o domain.Order
	var side, status string
	var createdAt, expiresAt int64
	err := r.Scan(&o.ID, &o.TokenID, &side, &o.Price, &o.Quantity, &o.FilledQty, &o.AvgFill,
		&status, &createdAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt).UTC()
	o.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &o, nil
}

// ---------------------------------------------------------------------------
// TradeStore implementation
// ---------------------------------------------------------------------------

func (s *SQLiteStore) AppendTrade(ctx context.Context, rec domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (token_id, entry_price, exit_price, quantity, realized_pnl, opened_at, closed_at, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TokenID, rec.EntryPrice, rec.ExitPrice, rec.Quantity, rec.RealizedPnL,
		rec.OpenedAt.UnixMilli(), rec.ClosedAt.UnixMilli(), rec.ExitReason)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, start, end time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, entry_price, exit_price, quantity, realized_pnl, opened_at, closed_at, exit_reason
		FROM trades WHERE closed_at >= ? AND closed_at <= ? ORDER BY closed_at`,
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var openedAt, closedAt int64
		if err := rows.Scan(&rec.TokenID, &rec.EntryPrice, &rec.ExitPrice, &rec.Quantity,
			&rec.RealizedPnL, &openedAt, &closedAt, &rec.ExitReason); err != nil {
			return nil, err
		}
		rec.OpenedAt = time.UnixMilli(openedAt).UTC()
		rec.ClosedAt = time.UnixMilli(closedAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// RiskStore implementation
// ---------------------------------------------------------------------------

func (s *SQLiteStore) SaveRiskState(ctx context.Context, st domain.RiskState) error {
	breaker := 0
	if st.BreakerActive {
		breaker = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_snapshots (daily_pnl, weekly_pnl, peak_equity, drawdown,
			consecutive_losses, consecutive_wins, breaker_active, breaker_reason,
			breaker_tripped_at, day_start, week_start, last_trade_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.DailyPnL, st.WeeklyPnL, st.PeakEquity, st.Drawdown,
		st.ConsecutiveLosses, st.ConsecutiveWins, breaker, st.BreakerReason,
		st.BreakerTrippedAt.UnixMilli(), st.DayStart.UnixMilli(), st.WeekStart.UnixMilli(),
		st.LastTradeAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

func (s *SQLiteStore) LoadRiskState(ctx context.Context) (domain.RiskState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT daily_pnl, weekly_pnl, peak_equity, drawdown, consecutive_losses,
			consecutive_wins, breaker_active, breaker_reason, breaker_tripped_at,
			day_start, week_start, last_trade_at
		FROM risk_snapshots ORDER BY id DESC LIMIT 1`)

	var st domain.RiskState
	var breaker int
	var trippedAt, dayStart, weekStart, lastTradeAt int64
	err := row.Scan(&st.DailyPnL, &st.WeeklyPnL, &st.PeakEquity, &st.Drawdown,
		&st.ConsecutiveLosses, &st.ConsecutiveWins, &breaker, &st.BreakerReason,
		&trippedAt, &dayStart, &weekStart, &lastTradeAt)
	if err == sql.ErrNoRows {
		return domain.RiskState{}, false, nil
	}
	if err != nil {
		return domain.RiskState{}, false, err
	}
	st.BreakerActive = breaker == 1
	st.BreakerTrippedAt = time.UnixMilli(trippedAt).UTC()
	st.DayStart = time.UnixMilli(dayStart).UTC()
	st.WeekStart = time.UnixMilli(weekStart).UTC()
	st.LastTradeAt = time.UnixMilli(lastTradeAt).UTC()
	return st, true, nil
}

// ---------------------------------------------------------------------------
// EventStore implementation
// ---------------------------------------------------------------------------

func (s *SQLiteStore) SaveReconEvent(ctx context.Context, ev domain.ReconEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recon_events (token_id, local_qty, venue_qty, at) VALUES (?, ?, ?, ?)`,
		ev.TokenID, ev.LocalQty, ev.VenueQty, ev.At.UnixMilli())
	return err
}

func (s *SQLiteStore) CountReconEvents(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recon_events WHERE at >= ?`, since.UnixMilli()).Scan(&n)
	return n, err
}
