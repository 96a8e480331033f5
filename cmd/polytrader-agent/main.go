// Live/paper trading agent: scans Polymarket, computes signals, validates
// and sizes entries, tracks order lifecycle, and reconciles positions on a
// fixed tick. Paper mode (default) routes orders to the in-process
// simulator; live mode signs orders against the CLOB API.
//
// Usage:
//
//	go build -o bin/polytrader-agent ./cmd/polytrader-agent/
//	POLYTRADER_CONFIG=config/polytrader.yaml bin/polytrader-agent
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"polytrader/internal/advisory"
	"polytrader/internal/config"
	"polytrader/internal/decision"
	"polytrader/internal/engine"
	"polytrader/internal/exchange"
	"polytrader/internal/httpapi"
	"polytrader/internal/ledger"
	"polytrader/internal/marketdata"
	"polytrader/internal/notify"
	"polytrader/internal/risk"
	"polytrader/internal/store"
	"polytrader/internal/util"
)

func main() {
	cfgPath := "config/polytrader.yaml"
	if p := os.Getenv("POLYTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer db.Close()
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	source := marketdata.NewRESTSource(cfg.CLOB, cfg.Markets)

	var exec exchange.Executor
	if cfg.Trading.PaperMode {
		exec = exchange.NewSimulator()
	} else {
		exec = exchange.NewCLOBClient(cfg.CLOB)
	}

	var advisor decision.Advisor
	if cfg.Advisory.Enabled {
		advisor = advisory.NewHTTPAdvisor(cfg.Advisory)
	}

	ledg := ledger.New(cfg.Trading.InitialCash, ledger.ExitParams{
		TakeProfit:   cfg.Trading.TakeProfitPct,
		StopLoss:     cfg.Trading.StopLossPct,
		TrailingStop: cfg.Trading.TrailingPct,
	}, logger)
	riskEng := risk.New(cfg.Risk, cfg.Trading.InitialCash, logger)
	validator := decision.NewValidator(cfg.Decision, advisor, logger)
	notifier := notify.FromConfig(cfg.Notify, logger)

	eng := engine.New(cfg, logger, source, exec, ledg, riskEng, validator, engine.Stores{
		Orders:  db,
		Trades:  db,
		Risk:    db,
		Events:  db,
		History: pstore,
	}, notifier)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Server.Enabled {
		api := httpapi.NewServer(eng, db, cfg.Trading.PaperMode, cfg.Trading.InitialCash, logger)
		srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.Handler()}
		go func() {
			logger.Info("status api listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status api failed", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	if err := eng.Recover(ctx); err != nil {
		logger.Warn("startup recovery incomplete", "err", err)
	}

	fmt.Printf("polytrader-agent starting (paper_mode=%v, tick=%s)\n",
		cfg.Trading.PaperMode, cfg.Trading.TickInterval())
	engine.RunTicks(ctx, cfg.Trading.TickInterval(), logger, eng.Tick)
	logger.Info("shutdown complete")
}
