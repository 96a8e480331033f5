// Replay runner: drives the full trading pipeline over recorded price
// history from the Parquet store and prints summary performance metrics.
//
// Usage:
//
//	go build -o bin/polytrader-backtest ./cmd/polytrader-backtest/
//	bin/polytrader-backtest [-days 7] [-token <id>]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"polytrader/internal/backtest"
	"polytrader/internal/config"
	"polytrader/internal/domain"
	"polytrader/internal/store"
	"polytrader/internal/util"
)

func main() {
	days := flag.Int("days", 7, "number of trailing days of history to replay")
	token := flag.String("token", "", "replay a single token (default: all stored tokens)")
	flag.Parse()

	cfgPath := "config/polytrader.yaml"
	if p := os.Getenv("POLYTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	ctx := context.Background()

	tokens := []string{*token}
	if *token == "" {
		tokens, err = pstore.ListTokens(ctx)
		if err != nil {
			log.Fatalf("failed to list stored tokens: %v", err)
		}
	}
	if len(tokens) == 0 {
		log.Fatal("no stored price history; run the agent first to capture some")
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)

	var infos []domain.MarketInfo
	var points []domain.PricePoint
	for _, tok := range tokens {
		pts, err := pstore.ReadPoints(ctx, tok, start, end)
		if err != nil {
			log.Fatalf("failed to read history for %s: %v", tok, err)
		}
		if len(pts) == 0 {
			continue
		}
		infos = append(infos, domain.MarketInfo{TokenID: tok})
		points = append(points, pts...)
	}

	res, err := backtest.NewRunner(cfg, logger).Run(ctx, infos, points)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	fmt.Printf("replayed %d markets over %s .. %s (%d ticks)\n",
		len(infos), res.Start.Format(time.RFC3339), res.End.Format(time.RFC3339), res.Ticks)
	fmt.Printf("trades:         %d (%d wins / %d losses, win rate %.1f%%)\n",
		res.Metrics.TotalTrades, res.Metrics.Wins, res.Metrics.Losses, res.Metrics.WinRate*100)
	fmt.Printf("total pnl:      %+.2f (return %+.2f%%)\n", res.Metrics.TotalPnL, res.TotalReturn*100)
	fmt.Printf("profit factor:  %.2f\n", res.Metrics.ProfitFactor)
	fmt.Printf("sharpe:         %.2f  sortino: %.2f\n", res.Metrics.Sharpe, res.Metrics.Sortino)
	fmt.Printf("max drawdown:   %.2f%%\n", res.Metrics.MaxDrawdown*100)
	fmt.Printf("final equity:   %.2f\n", res.FinalEquity)
	if res.Risk.BreakerActive {
		fmt.Printf("breaker:        tripped (%s)\n", res.Risk.BreakerReason)
	}
}
