// Risk state inspection and manual breaker control against the agent's
// SQLite store. `status` prints the latest persisted snapshot and recent
// realized performance; `reset` clears a tripped circuit breaker, which the
// agent picks up on its next restart; `export` writes the realized trade
// history to a Parquet file for offline analysis.
//
// Usage:
//
//	polytrader-risk status
//	polytrader-risk reset
//	polytrader-risk export
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/perf"
	"polytrader/internal/store"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: polytrader-risk <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  status     Show the latest risk snapshot and 30-day performance\n")
		fmt.Fprintf(os.Stderr, "  reset      Clear a tripped circuit breaker\n")
		fmt.Fprintf(os.Stderr, "  export     Write realized trade history to a Parquet file\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	cfgPath := "config/polytrader.yaml"
	if p := os.Getenv("POLYTRADER_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	switch os.Args[1] {
	case "status":
		status(ctx, db, cfg.Trading.InitialCash)

	case "reset":
		reset(ctx, db)

	case "export":
		export(ctx, db, cfg.Storage.DataDir)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func status(ctx context.Context, db *store.SQLiteStore, initialCash float64) {
	st, ok, err := db.LoadRiskState(ctx)
	if err != nil {
		log.Fatalf("failed to load risk state: %v", err)
	}
	if !ok {
		fmt.Println("no risk snapshot recorded yet")
	} else {
		fmt.Printf("daily pnl:          %+.2f (since %s)\n", st.DailyPnL, st.DayStart.Format("2006-01-02"))
		fmt.Printf("weekly pnl:         %+.2f (since %s)\n", st.WeeklyPnL, st.WeekStart.Format("2006-01-02"))
		fmt.Printf("peak equity:        %.2f\n", st.PeakEquity)
		fmt.Printf("drawdown:           %.2f%%\n", st.Drawdown*100)
		fmt.Printf("consecutive losses: %d\n", st.ConsecutiveLosses)
		if st.BreakerActive {
			fmt.Printf("breaker:            TRIPPED at %s (%s)\n",
				st.BreakerTrippedAt.Format(time.RFC3339), st.BreakerReason)
		} else {
			fmt.Println("breaker:            ok")
		}
	}

	end := time.Now().UTC()
	trades, err := db.ListTrades(ctx, end.AddDate(0, 0, -30), end)
	if err != nil {
		log.Fatalf("failed to list trades: %v", err)
	}
	m := perf.Compute(trades, initialCash)
	fmt.Printf("\nlast 30 days: %d trades, win rate %.1f%%, pnl %+.2f, sharpe %.2f\n",
		m.TotalTrades, m.WinRate*100, m.TotalPnL, m.Sharpe)
}

func reset(ctx context.Context, db *store.SQLiteStore) {
	st, ok, err := db.LoadRiskState(ctx)
	if err != nil {
		log.Fatalf("failed to load risk state: %v", err)
	}
	if !ok {
		log.Fatal("no risk snapshot to reset")
	}
	if !st.BreakerActive {
		fmt.Println("breaker is not tripped, nothing to do")
		return
	}

	st.BreakerActive = false
	st.BreakerReason = ""
	st.BreakerTrippedAt = time.Time{}
	st.ConsecutiveLosses = 0
	if err := db.SaveRiskState(ctx, st); err != nil {
		log.Fatalf("failed to save risk state: %v", err)
	}
	fmt.Println("breaker cleared; restart the agent to pick it up")
}

func export(ctx context.Context, db *store.SQLiteStore, dataDir string) {
	now := time.Now().UTC()
	trades, err := db.ListTrades(ctx, time.Time{}, now)
	if err != nil {
		log.Fatalf("failed to list trades: %v", err)
	}
	if len(trades) == 0 {
		fmt.Println("no realized trades to export")
		return
	}

	path, err := store.NewParquetStore(dataDir).ExportTrades(ctx, trades, now)
	if err != nil {
		log.Fatalf("failed to export trades: %v", err)
	}
	fmt.Printf("exported %d trades to %s\n", len(trades), path)
}
