// Package engine coordinates the trading loop: each tick it captures market
// snapshots, computes signals, validates and gates candidate trades, sizes
// and submits orders, polls fills into the ledger, and reconciles local
// positions against the venue.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/decision"
	"polytrader/internal/domain"
	"polytrader/internal/exchange"
	"polytrader/internal/ledger"
	"polytrader/internal/marketdata"
	"polytrader/internal/news"
	"polytrader/internal/notify"
	"polytrader/internal/risk"
	"polytrader/internal/signal"
	"polytrader/internal/sizing"
	"polytrader/internal/store"
	"polytrader/internal/util"
)

const historyWindow = 2 * time.Hour

// bookObserver is implemented by the paper simulator, which needs to see each
// tick's books to match resting orders.
type bookObserver interface {
	Observe(domain.MarketSnapshot)
}

// Stores groups the persistence collaborators the engine writes to. Any nil
// store disables that concern (used by backtests).
type Stores struct {
	Orders  store.OrderStore
	Trades  store.TradeStore
	Risk    store.RiskStore
	Events  store.EventStore
	History store.PriceHistoryStore
}

// Engine runs the per-tick pipeline. All downstream state (ledger, risk,
// tracker) is mutex-guarded internally; the scheduler guarantees ticks never
// overlap.
type Engine struct {
	cfg       *config.Config
	log       *slog.Logger
	source    marketdata.Source
	exec      exchange.Executor
	tracker   *Tracker
	ledger    *ledger.Ledger
	riskEng   *risk.Engine
	agg       *signal.Aggregator
	validator *decision.Validator
	sizer     *sizing.Sizer
	stores    Stores
	notifier  notify.Notifier

	mu          sync.Mutex
	markets     []domain.MarketInfo // last successful scan
	exitReasons map[string]string   // order id -> exit reason for closing orders
	newsOff     bool                // disable news fetching (backtests)
	now         func() time.Time
}

func New(
	cfg *config.Config,
	log *slog.Logger,
	source marketdata.Source,
	exec exchange.Executor,
	ledg *ledger.Ledger,
	riskEng *risk.Engine,
	validator *decision.Validator,
	stores Stores,
	notifier notify.Notifier,
) *Engine {
	return &Engine{
		cfg:         cfg,
		log:         log,
		source:      source,
		exec:        exec,
		tracker:     NewTracker(exec, log),
		ledger:      ledg,
		riskEng:     riskEng,
		agg:         signal.NewAggregator(cfg.SignalWeights(), cfg.Signals.BuyThreshold, cfg.Signals.SellThreshold),
		validator:   validator,
		sizer:       sizing.New(cfg.Sizing),
		stores:      stores,
		notifier:    notifier,
		exitReasons: make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Ledger exposes the engine's ledger for reporting.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// OpenOrders returns a snapshot of the orders still in flight.
func (e *Engine) OpenOrders() []domain.Order { return e.tracker.Open() }

// RiskState returns the current risk engine snapshot.
func (e *Engine) RiskState() domain.RiskState { return e.riskEng.State() }

// DisableNews turns off headline fetching; replay runs have no live feed.
func (e *Engine) DisableNews() { e.newsOff = true }

// SetClock replaces the engine's time source. Replay runs pin it to the
// recorded timeline so hold limits and expiries fire in replay time.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.tracker.SetClock(now)
}

// ---------------------------------------------------------------------------
// Startup recovery
// ---------------------------------------------------------------------------

// Recover restores persisted state after a restart: the last risk snapshot,
// any orders that were open when the process stopped, and a reconciliation
// pass against the venue. A crash between submission and persistence leaves
// an untracked live order, which the reconciliation pass absorbs into the
// position book.
func (e *Engine) Recover(ctx context.Context) error {
	if e.stores.Risk != nil {
		if st, ok, err := e.stores.Risk.LoadRiskState(ctx); err != nil {
			return fmt.Errorf("loading risk state: %w", err)
		} else if ok {
			e.riskEng.Restore(st)
			e.log.Info("risk state restored",
				"daily_pnl", st.DailyPnL, "breaker_active", st.BreakerActive)
		}
	}
	if e.stores.Orders != nil {
		open, err := e.stores.Orders.ListOpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("loading open orders: %w", err)
		}
		for _, o := range open {
			e.tracker.Track(o)
		}
		if len(open) > 0 {
			e.log.Info("resumed tracking open orders", "count", len(open))
		}
	}
	return e.reconcile(ctx, nil)
}

// ---------------------------------------------------------------------------
// Tick pipeline
// ---------------------------------------------------------------------------

// Tick runs one full evaluation pass. Errors inside a tick are contained:
// individual markets are skipped on transient data failures and the tick
// carries on.
func (e *Engine) Tick(ctx context.Context) {
	start := time.Now()

	markets := e.scanMarkets(ctx)
	if len(markets) == 0 {
		e.log.Warn("no candidate markets this tick")
	}

	snaps, signals := e.evaluateMarkets(ctx, markets)
	marks := midMarks(snaps)

	// The paper venue matches resting orders against this tick's books.
	if obs, ok := e.exec.(bookObserver); ok {
		for _, snap := range snaps {
			obs.Observe(snap)
		}
	}

	e.persistHistory(ctx, snaps)
	e.ingestFills(ctx, marks)
	e.expireOrders(ctx)
	e.runExits(ctx, snaps, marks)

	equity := e.ledger.Equity(marks)
	e.riskEng.ObserveEquity(equity)
	e.evaluateEntries(ctx, markets, snaps, signals, marks, equity)

	if err := e.reconcile(ctx, marks); err != nil {
		e.log.Warn("reconciliation failed", "err", err)
	}
	e.persistRiskState(ctx)

	e.log.Info("tick complete",
		"markets", len(markets),
		"open_orders", len(e.tracker.Open()),
		"positions", e.ledger.OpenPositionCount(),
		"equity", equity,
		"elapsed", time.Since(start))
}

// scanMarkets refreshes the candidate list, falling back to the previous scan
// on transient failure.
func (e *Engine) scanMarkets(ctx context.Context) []domain.MarketInfo {
	markets, err := e.source.Markets(ctx)
	if err != nil {
		e.log.Warn("market scan failed, reusing previous", "err", err)
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.markets
	}
	e.mu.Lock()
	e.markets = markets
	e.mu.Unlock()
	return markets
}

// evaluateMarkets captures snapshots and computes signals for every market
// concurrently. Signal computation is pure; each goroutine only writes its
// own slot. Markets with unavailable data are skipped this tick.
func (e *Engine) evaluateMarkets(ctx context.Context, markets []domain.MarketInfo) (map[string]domain.MarketSnapshot, map[string]domain.SignalSet) {
	type result struct {
		sig  domain.SignalSet
		book domain.MarketSnapshot
		ok   bool
	}
	results := make([]result, len(markets))

	var wg sync.WaitGroup
	for i, info := range markets {
		wg.Add(1)
		go func(i int, info domain.MarketInfo) {
			defer wg.Done()

			snap, err := e.source.Snapshot(ctx, info.TokenID)
			if err != nil {
				e.log.Warn("snapshot unavailable, skipping market",
					"token", info.TokenID, "err", err)
				return
			}
			if snap.Resolution.IsZero() {
				snap.Resolution = info.Resolution
			}

			history, err := e.source.History(ctx, info.TokenID, historyWindow)
			if err != nil {
				history = nil // momentum signal reports unavailable
			}

			var items []domain.NewsItem
			if !e.newsOff {
				items = e.fetchNews(ctx, info)
			}

			_, hasPos := e.ledger.Position(info.TokenID)
			sig := e.agg.Compute(signal.Inputs{
				Snapshot: snap,
				Info:     info,
				History:  history,
				News:     items,
				Now:      snap.CapturedAt,
			}, hasPos)
			results[i] = result{sig: sig, book: snap, ok: true}
		}(i, info)
	}
	wg.Wait()

	snaps := make(map[string]domain.MarketSnapshot, len(markets))
	signals := make(map[string]domain.SignalSet, len(markets))
	for _, r := range results {
		if r.ok {
			snaps[r.book.TokenID] = r.book
			signals[r.sig.TokenID] = r.sig
		}
	}
	return snaps, signals
}

func (e *Engine) fetchNews(ctx context.Context, info domain.MarketInfo) []domain.NewsItem {
	if info.Question == "" {
		return nil
	}
	end := time.Now().UTC()
	items, err := news.FetchGoogleNews(ctx, news.QueryFromQuestion(info.Question), end.Add(-24*time.Hour), end)
	if err != nil {
		return nil
	}
	return items
}

// ingestFills polls the venue for fill deltas and applies them: positions
// move in the ledger, closing fills realize PnL and drive the risk engine's
// post-trade update.
func (e *Engine) ingestFills(ctx context.Context, marks map[string]float64) {
	res := e.tracker.PollAll(ctx, e.cfg.Trading.PollTimeout())

	for _, f := range res.Fills {
		e.applyFill(ctx, f, e.takeExitReason(f.OrderID), marks)
	}
	for _, o := range res.Frozen {
		e.ledger.FreezePosition(o.TokenID)
		e.notifier.Notify(ctx, notify.Event{
			Kind:   "order_frozen",
			Token:  o.TokenID,
			Detail: fmt.Sprintf("order %s frozen: reported fill exceeds requested quantity", o.ID),
		})
	}
	e.persistOrders(ctx, res.Updated)
}

// applyFill routes one fill through the ledger; any realized records feed the
// risk engine and trade store.
func (e *Engine) applyFill(ctx context.Context, f domain.Fill, exitReason string, marks map[string]float64) {
	records := e.ledger.ApplyFill(f, exitReason)
	for _, rec := range records {
		equity := e.ledger.Equity(marks)
		tripped := e.riskEng.RecordClose(rec, equity)
		e.log.Info("trade closed",
			"token", rec.TokenID, "pnl", rec.RealizedPnL, "reason", rec.ExitReason)

		if e.stores.Trades != nil {
			if err := e.stores.Trades.AppendTrade(ctx, rec); err != nil {
				e.log.Error("trade persist failed", "err", err)
			}
		}
		if tripped {
			e.notifier.Notify(ctx, notify.Event{
				Kind:   "breaker_trip",
				Token:  rec.TokenID,
				Detail: e.riskEng.State().BreakerReason,
			})
		}
	}
}

// expireOrders cancels orders past their deadline and alerts on each one.
func (e *Engine) expireOrders(ctx context.Context) {
	expired := e.tracker.ExpireStale(ctx, e.now())
	for _, o := range expired {
		e.log.Info("order expired",
			"order", o.ID, "token", o.TokenID, "filled", o.FilledQty, "requested", o.Quantity)
		e.notifier.Notify(ctx, notify.Event{
			Kind:   "order_expired",
			Token:  o.TokenID,
			Detail: fmt.Sprintf("order %s expired with %.2f of %.2f filled", o.ID, o.FilledQty, o.Quantity),
		})
	}
	e.persistOrders(ctx, expired)
}

// runExits scans positions for take-profit, stop-loss, trailing-stop, and
// timeout conditions and submits closing orders. Exits bypass the entry
// gates: reducing risk is always allowed.
func (e *Engine) runExits(ctx context.Context, snaps map[string]domain.MarketSnapshot, marks map[string]float64) {
	exits := e.ledger.ScanExits(marks, e.now(), e.cfg.Trading.MaxHold())
	for _, ex := range exits {
		if e.tracker.HasOpenOrder(ex.TokenID) {
			continue
		}
		// Closing orders cross the book rather than resting at the mid.
		price, ok := marks[ex.TokenID]
		if !ok {
			continue
		}
		if snap, ok := snaps[ex.TokenID]; ok {
			if ex.Side == domain.SideSell && snap.BestBid > 0 {
				price = snap.BestBid
			} else if ex.Side == domain.SideBuy && snap.BestAsk > 0 {
				price = snap.BestAsk
			}
		}
		e.log.Info("exit triggered", "token", ex.TokenID, "reason", ex.Reason)
		id := e.submit(ctx, domain.TradeIntent{
			TokenID:    ex.TokenID,
			Side:       ex.Side,
			Price:      price,
			Provenance: ex.Reason,
			CreatedAt:  e.now(),
		}, ex.Quantity)
		if id != "" {
			e.mu.Lock()
			e.exitReasons[id] = ex.Reason
			e.mu.Unlock()
		}
	}
}

// takeExitReason returns the exit reason recorded for a closing order, if
// any. The entry is kept until the order leaves the watch set so partial
// fills all carry the same reason.
func (e *Engine) takeExitReason(orderID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitReasons[orderID]
}

// evaluateEntries walks this tick's signals and runs the decision pipeline
// for each candidate: validator, risk gate, sizer, submission. One active
// order per market at a time.
func (e *Engine) evaluateEntries(
	ctx context.Context,
	markets []domain.MarketInfo,
	snaps map[string]domain.MarketSnapshot,
	signals map[string]domain.SignalSet,
	marks map[string]float64,
	equity float64,
) {
	infoByToken := make(map[string]domain.MarketInfo, len(markets))
	for _, m := range markets {
		infoByToken[m.TokenID] = m
	}

	for token, sig := range signals {
		if sig.Candidate == domain.SideHold {
			continue
		}
		if e.tracker.HasOpenOrder(token) {
			continue
		}
		// Entries only here; SELL candidates close existing exposure and are
		// handled as ordinary closes, not short entries.
		if sig.Candidate == domain.SideSell {
			e.closeFromSignal(ctx, token, snaps[token])
			continue
		}

		snap := snaps[token]
		var posPtr *domain.Position
		if pos, ok := e.ledger.Position(token); ok {
			posPtr = &pos
		}
		intent, rejection := e.validator.Validate(ctx, decision.Context{
			TokenID:  token,
			Question: infoByToken[token].Question,
			Snapshot: snap,
			Signals:  sig,
			Position: posPtr,
		})
		if rejection != nil {
			e.log.Debug("entry rejected", "token", token, "rule", rejection.Code, "detail", rejection.Detail)
			continue
		}

		// Resting buy orders are exposure the ledger cannot see yet. Counting
		// their unfilled notional here keeps two candidates sized in the same
		// tick from jointly breaching the concentration cap, and keeps a
		// market with a resting entry from freeing up a position slot.
		pendingNotional, pendingMarkets := e.pendingEntryExposure()

		gate := e.riskEng.CheckEntry(e.now(), equity, e.ledger.OpenPositionCount()+pendingMarkets)
		if !gate.Approved {
			e.log.Info("entry gated", "token", token, "rule", gate.Code, "detail", gate.Detail)
			continue
		}

		qty := e.sizer.Quantity(*intent, sizing.Account{
			Equity:       equity,
			OpenExposure: e.ledger.OpenExposure(marks) + pendingNotional,
		})
		if qty <= 0 {
			e.log.Debug("sizer returned zero", "token", token)
			continue
		}

		if id := e.submit(ctx, *intent, qty); id != "" {
			e.riskEng.MarkEntry(e.now())
		}
	}
}

// pendingEntryExposure sums the unfilled notional of resting buy orders and
// counts the markets they would open a position in. Resting sells only ever
// reduce exposure and are ignored.
func (e *Engine) pendingEntryExposure() (notional float64, markets int) {
	seen := make(map[string]bool)
	for _, o := range e.tracker.Open() {
		if o.Side != domain.SideBuy {
			continue
		}
		rem := o.Quantity - o.FilledQty
		if rem <= 0 {
			continue
		}
		notional += rem * o.Price
		if _, held := e.ledger.Position(o.TokenID); !held && !seen[o.TokenID] {
			seen[o.TokenID] = true
			markets++
		}
	}
	return notional, markets
}

// closeFromSignal exits a position on a SELL candidate signal.
func (e *Engine) closeFromSignal(ctx context.Context, token string, snap domain.MarketSnapshot) {
	pos, ok := e.ledger.Position(token)
	if !ok || pos.Frozen {
		return
	}
	e.submit(ctx, domain.TradeIntent{
		TokenID:    token,
		Side:       domain.SideSell,
		Price:      snap.BestBid,
		Provenance: "signal",
		CreatedAt:  e.now(),
	}, math.Abs(pos.Quantity))
}

// submit sends an order to the venue. Transient-failure retry is the
// executor's concern; the engine makes exactly one call per intent. No local
// order object exists until the venue confirms; a submission that never
// confirmed is abandoned for the tick. Returns the venue order id, or "".
func (e *Engine) submit(ctx context.Context, intent domain.TradeIntent, qty float64) string {
	if intent.Price <= 0 || qty <= 0 {
		return ""
	}

	venueID, err := e.exec.SubmitOrder(ctx, intent.TokenID, intent.Side, intent.Price, qty)
	if err != nil {
		e.log.Error("order submission failed, abandoning intent",
			"token", intent.TokenID, "side", intent.Side, "err", err)
		return ""
	}

	now := e.now()
	order := domain.Order{
		ID:        venueID,
		TokenID:   intent.TokenID,
		Side:      intent.Side,
		Price:     intent.Price,
		Quantity:  qty,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.Trading.MaxHold()),
	}
	e.tracker.Track(order)
	if e.stores.Orders != nil {
		if err := e.stores.Orders.SaveOrder(ctx, &order); err != nil {
			e.log.Error("order persist failed", "order", order.ID, "err", err)
		}
	}
	e.log.Info("order submitted",
		"order", venueID, "token", intent.TokenID, "side", intent.Side,
		"price", intent.Price, "qty", qty, "provenance", intent.Provenance)
	return venueID
}

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

// reconcile compares the local position book against the venue's
// authoritative positions. On mismatch local state is corrected to the venue,
// an event is recorded, and repeated mismatches above the configured daily
// rate escalate via the notifier. Trading is never halted automatically.
func (e *Engine) reconcile(ctx context.Context, marks map[string]float64) error {
	venue, err := e.exec.Positions(ctx)
	if err != nil {
		return fmt.Errorf("authoritative positions: %w", err)
	}

	local := make(map[string]float64)
	for _, pos := range e.ledger.Positions() {
		local[pos.TokenID] = pos.Quantity
	}

	now := e.now()
	var mismatches int
	for token, venueQty := range venue {
		// An in-flight order means local state legitimately lags the venue
		// until its fills are polled; not a mismatch.
		if e.tracker.HasOpenOrder(token) {
			delete(local, token)
			continue
		}
		if math.Abs(local[token]-venueQty) > 1e-6 {
			e.correctMismatch(ctx, token, local[token], venueQty, marks, now)
			mismatches++
		}
		delete(local, token)
	}
	for token, localQty := range local {
		if e.tracker.HasOpenOrder(token) {
			continue
		}
		// Local-only positions the venue does not know about.
		e.correctMismatch(ctx, token, localQty, 0, marks, now)
		mismatches++
	}

	if mismatches > 0 && e.stores.Events != nil && e.cfg.Risk.ReconcileMismatchRate > 0 {
		count, err := e.stores.Events.CountReconEvents(ctx, util.DayStart(now))
		if err == nil && count >= e.cfg.Risk.ReconcileMismatchRate {
			e.notifier.Notify(ctx, notify.Event{
				Kind:   "recon_escalation",
				Detail: fmt.Sprintf("%d reconciliation mismatches today, possible systemic bug", count),
			})
		}
	}
	return nil
}

func (e *Engine) correctMismatch(ctx context.Context, token string, localQty, venueQty float64, marks map[string]float64, now time.Time) {
	e.log.Error("position mismatch, correcting to venue",
		"token", token, "local", localQty, "venue", venueQty)

	mark := marks[token]
	if mark <= 0 {
		if pos, ok := e.ledger.Position(token); ok {
			mark = pos.AvgEntry
		}
	}
	e.ledger.CorrectPosition(token, venueQty, mark, now)

	ev := domain.ReconEvent{TokenID: token, LocalQty: localQty, VenueQty: venueQty, At: now}
	if e.stores.Events != nil {
		if err := e.stores.Events.SaveReconEvent(ctx, ev); err != nil {
			e.log.Error("recon event persist failed", "err", err)
		}
	}
	e.notifier.Notify(ctx, notify.Event{
		Kind:   "recon_mismatch",
		Token:  token,
		Detail: fmt.Sprintf("local %.4f vs venue %.4f", localQty, venueQty),
	})
}

// ---------------------------------------------------------------------------
// Persistence helpers
// ---------------------------------------------------------------------------

func (e *Engine) persistOrders(ctx context.Context, orders []domain.Order) {
	var done []string
	for i := range orders {
		if e.stores.Orders != nil {
			if err := e.stores.Orders.UpdateOrder(ctx, &orders[i]); err != nil {
				e.log.Error("order update failed", "order", orders[i].ID, "err", err)
			}
		}
		if orders[i].Status.Terminal() {
			done = append(done, orders[i].ID)
		}
	}
	e.tracker.Forget(done...)
	e.mu.Lock()
	for _, id := range done {
		delete(e.exitReasons, id)
	}
	e.mu.Unlock()
}

func (e *Engine) persistRiskState(ctx context.Context) {
	if e.stores.Risk == nil {
		return
	}
	if err := e.stores.Risk.SaveRiskState(ctx, e.riskEng.State()); err != nil {
		e.log.Error("risk state persist failed", "err", err)
	}
}

func (e *Engine) persistHistory(ctx context.Context, snaps map[string]domain.MarketSnapshot) {
	if e.stores.History == nil || len(snaps) == 0 {
		return
	}
	points := make([]domain.PricePoint, 0, len(snaps))
	for _, snap := range snaps {
		if mid := snap.Mid(); mid > 0 {
			points = append(points, domain.PricePoint{
				TokenID:   snap.TokenID,
				Timestamp: snap.CapturedAt,
				Mid:       mid,
				Spread:    snap.Spread(),
			})
		}
	}
	if err := e.stores.History.WritePoints(ctx, points); err != nil {
		e.log.Warn("history persist failed", "err", err)
	}
}

func midMarks(snaps map[string]domain.MarketSnapshot) map[string]float64 {
	marks := make(map[string]float64, len(snaps))
	for id, snap := range snaps {
		if mid := snap.Mid(); mid > 0 {
			marks[id] = mid
		}
	}
	return marks
}
