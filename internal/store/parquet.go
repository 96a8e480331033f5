package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"polytrader/internal/domain"
)

// Compile-time interface check.
var _ PriceHistoryStore = (*ParquetStore)(nil)

// ParquetStore persists price history and trade exports as Parquet files on
// disk. History files are organized per token and month so a backtest can
// load a window without scanning everything.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// PricePointRecord is the Parquet schema for captured price history.
type PricePointRecord struct {
	TokenID   string  `parquet:"token_id"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Mid       float64 `parquet:"mid"`
	Spread    float64 `parquet:"spread"`
}

// TradeExportRecord is the Parquet schema for realized trade exports.
type TradeExportRecord struct {
	TokenID     string  `parquet:"token_id"`
	EntryPrice  float64 `parquet:"entry_price"`
	ExitPrice   float64 `parquet:"exit_price"`
	Quantity    float64 `parquet:"quantity"`
	RealizedPnL float64 `parquet:"realized_pnl"`
	OpenedAt    int64   `parquet:"opened_at,timestamp(millisecond)"`
	ClosedAt    int64   `parquet:"closed_at,timestamp(millisecond)"`
	ExitReason  string  `parquet:"exit_reason"`
}

// ---------------------------------------------------------------------------
// PriceHistoryStore implementation
// ---------------------------------------------------------------------------

// WritePoints writes price points grouped per token and month. Each
// token+month combination produces a separate file at:
//
//	<DataDir>/history/<TOKEN>/<YYYY-MM>.parquet
func (s *ParquetStore) WritePoints(_ context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	type key struct {
		token string
		month string // YYYY-MM
	}
	groups := make(map[key][]PricePointRecord)
	for _, p := range points {
		k := key{token: p.TokenID, month: p.Timestamp.UTC().Format("2006-01")}
		groups[k] = append(groups[k], PricePointRecord{
			TokenID:   p.TokenID,
			Timestamp: p.Timestamp.UnixMilli(),
			Mid:       p.Mid,
			Spread:    p.Spread,
		})
	}

	for k, records := range groups {
		path := s.historyPath(k.token, k.month)

		existing, _ := readParquetFile[PricePointRecord](path)
		merged := mergePointRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing history for %s/%s: %w", k.token, k.month, err)
		}
	}
	return nil
}

// ReadPoints reads price points for the given token within [start, end].
func (s *ParquetStore) ReadPoints(_ context.Context, tokenID string, start, end time.Time) ([]domain.PricePoint, error) {
	var points []domain.PricePoint
	for m := monthStart(start); !m.After(end); m = m.AddDate(0, 1, 0) {
		path := s.historyPath(tokenID, m.Format("2006-01"))
		records, err := readParquetFile[PricePointRecord](path)
		if err != nil {
			// No file for this month.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			points = append(points, domain.PricePoint{
				TokenID:   r.TokenID,
				Timestamp: ts,
				Mid:       r.Mid,
				Spread:    r.Spread,
			})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

// ListTokens lists all tokens with stored history.
func (s *ParquetStore) ListTokens(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "history")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []string
	for _, e := range entries {
		if e.IsDir() {
			tokens = append(tokens, e.Name())
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

// ---------------------------------------------------------------------------
// Trade export
// ---------------------------------------------------------------------------

// ExportTrades writes the full realized trade history to one Parquet file at
// <DataDir>/exports/trades-<YYYY-MM-DD>.parquet and returns its path.
func (s *ParquetStore) ExportTrades(_ context.Context, trades []domain.TradeRecord, asOf time.Time) (string, error) {
	records := make([]TradeExportRecord, 0, len(trades))
	for _, t := range trades {
		records = append(records, TradeExportRecord{
			TokenID:     t.TokenID,
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			Quantity:    t.Quantity,
			RealizedPnL: t.RealizedPnL,
			OpenedAt:    t.OpenedAt.UnixMilli(),
			ClosedAt:    t.ClosedAt.UnixMilli(),
			ExitReason:  t.ExitReason,
		})
	}
	path := filepath.Join(s.DataDir, "exports", "trades-"+asOf.UTC().Format("2006-01-02")+".parquet")
	if err := writeParquetFile(path, records); err != nil {
		return "", fmt.Errorf("exporting trades: %w", err)
	}
	return path, nil
}

// ---------------------------------------------------------------------------
// Path and file helpers
// ---------------------------------------------------------------------------

// historyPath returns the filesystem path for a price history Parquet file.
func (s *ParquetStore) historyPath(tokenID, month string) string {
	return filepath.Join(s.DataDir, "history", tokenID, month+".parquet")
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergePointRecords deduplicates by (token, timestamp), preferring new
// records over existing ones. Results are sorted by timestamp.
func mergePointRecords(existing, incoming []PricePointRecord) []PricePointRecord {
	type key struct {
		token string
		ts    int64
	}
	seen := make(map[key]PricePointRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.TokenID, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.TokenID, r.Timestamp}] = r
	}

	merged := make([]PricePointRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
