// Package engine drives the single-threaded, per-bar simulation loop:
// SimulationClock emits ticks, and Run executes a six-step sequence —
// before_trading_start, handle_data, order matching, ledger updates,
// marking, and session-end sweeps — against the algorithm.Context a
// strategy's callbacks mutate.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/backalpha/internal/account"
	"github.com/alejandrodnm/backalpha/internal/algorithm"
	"github.com/alejandrodnm/backalpha/internal/blotter"
	"github.com/alejandrodnm/backalpha/internal/dataportal"
	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/ledger"
	"github.com/alejandrodnm/backalpha/internal/ports"
)

// BarData is the read-only snapshot of the current tick handed to
// before_trading_start and handle_data callbacks. It never exposes a
// way to mutate the engine's state — orders flow only through
// algorithm.Context.
type BarData struct {
	ts   time.Time
	bars map[domain.AssetID]domain.Bar
}

// Timestamp returns the tick's timestamp.
func (bd BarData) Timestamp() time.Time { return bd.ts }

// Bar returns the bar delivered for asset this tick, if any.
func (bd BarData) Bar(asset domain.AssetID) (domain.Bar, bool) {
	b, ok := bd.bars[asset]
	return b, ok
}

// Assets returns every asset with a bar delivered this tick.
func (bd BarData) Assets() []domain.AssetID {
	out := make([]domain.AssetID, 0, len(bd.bars))
	for id := range bd.bars {
		out = append(out, id)
	}
	return out
}

// InitializeFunc runs once before the clock's first tick, with the
// blotter locked (orders submitted here fail with OrderDuringInitialize).
type InitializeFunc func(ctx *algorithm.Context) error

// BeforeTradingStartFunc runs at every SessionStart tick.
type BeforeTradingStartFunc func(ctx *algorithm.Context, data BarData) error

// HandleDataFunc runs at every Bar tick, after that bar's prices have
// been delivered into the Context.
type HandleDataFunc func(ctx *algorithm.Context, data BarData) error

// AnalyzeFunc runs once after the clock's last tick.
type AnalyzeFunc func(ctx *algorithm.Context) error

// Callbacks bundles a strategy's four lifecycle hooks. BeforeTradingStart
// and Analyze may be nil.
type Callbacks struct {
	Initialize         InitializeFunc
	BeforeTradingStart BeforeTradingStartFunc
	HandleData         HandleDataFunc
	Analyze            AnalyzeFunc
}

// Options tunes the loop's fill-timing and error-tolerance semantics.
type Options struct {
	// SameBarFills lets orders submitted during a bar's handle_data
	// match against that same bar instead of the next one (Open
	// Question 3 — default false: next-bar fills).
	SameBarFills bool
	// RecomputeOnEveryBar re-executes every attached pipeline on each
	// Bar tick instead of only at SessionStart (Open Question 2 —
	// default false).
	RecomputeOnEveryBar bool
	// StrictMode turns a handle_data/before_trading_start callback
	// error fatal instead of logging and continuing the run.
	StrictMode bool
}

// Engine owns every mutable component of one backtest run and drives
// them through the clock's ticks. It is not safe for concurrent use —
// the whole point is that it isn't needed to be.
type Engine struct {
	clock       *SimulationClock
	portal      *dataportal.DataPortal
	blotter     *blotter.Blotter
	ledger      *ledger.Ledger
	portfolio   *domain.Portfolio
	account     *account.Tracker
	algoCtx     *algorithm.Context
	universe    []domain.AssetID
	assetTypes  map[domain.AssetID]domain.AssetType
	freq        ports.Frequency
	opts        Options
	callbacks   Callbacks
	adjustments  ports.AdjustmentReader
	lastTick     time.Time
	haveLastTick bool
}

// New assembles an Engine. universe is the fixed set of assets traded
// this backtest; assetTypes classifies each for per-type slippage and
// commission overrides.
func New(
	clock *SimulationClock,
	portal *dataportal.DataPortal,
	b *blotter.Blotter,
	portfolio *domain.Portfolio,
	method domain.CostBasisMethod,
	resolver ports.AssetResolver,
	freq ports.Frequency,
	universe []domain.AssetID,
	assetTypes map[domain.AssetID]domain.AssetType,
	adjustments ports.AdjustmentReader,
	callbacks Callbacks,
	opts Options,
) *Engine {
	ledg := ledger.New(portfolio, method)
	algoCtx := algorithm.New(b, portfolio, method, portal, resolver, freq)
	return &Engine{
		clock:       clock,
		portal:      portal,
		blotter:     b,
		ledger:      ledg,
		portfolio:   portfolio,
		account:     account.NewTracker(portfolio),
		algoCtx:     algoCtx,
		universe:    universe,
		assetTypes:  assetTypes,
		freq:        freq,
		opts:        opts,
		callbacks:   callbacks,
		adjustments: adjustments,
	}
}

// Result is everything a completed run reports back to the caller.
type Result struct {
	Portfolio  *domain.Portfolio
	PnLSummary ledger.PnLSummary
	Recorded   map[string][]algorithm.RecordedPoint
}

// Run drives the clock to completion, executing the six-step sequence at
// every tick. initialize runs with the blotter locked; a returned error
// aborts the run before any tick is processed.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	e.blotter.Lock()
	if e.callbacks.Initialize != nil {
		if err := e.callbacks.Initialize(e.algoCtx); err != nil {
			return Result{}, fmt.Errorf("engine: initialize: %w", err)
		}
	}
	e.blotter.Unlock()
	e.algoCtx.MarkInitialized()

	ticks, err := e.clock.Ticks()
	if err != nil {
		return Result{}, fmt.Errorf("engine: building clock ticks: %w", err)
	}

	pipelinesRan := false
	for _, tick := range ticks {
		switch tick.Kind {
		case SessionStart:
			e.runPipelines(tick.TS)
			pipelinesRan = true
			if err := e.beforeTradingStart(tick.TS); err != nil {
				if e.opts.StrictMode {
					return Result{}, fmt.Errorf("engine: before_trading_start at %s: %w", tick.TS, err)
				}
				slog.Warn("engine: before_trading_start callback failed", "ts", tick.TS, "err", err)
			}

		case Bar:
			if e.opts.RecomputeOnEveryBar && pipelinesRan {
				e.runPipelines(tick.TS)
			}
			bars := e.fetchBars(ctx, tick.TS)
			e.algoCtx.Advance(tick.TS, bars)

			// Orders already open before this tick's handle_data runs
			// are eligible to match against this bar. Orders the
			// callback submits now get a seq past this cutoff and wait
			// for the next tick, unless SameBarFills is set.
			cutoff := e.blotter.CurrentSeq()

			if e.callbacks.HandleData != nil {
				if err := e.callbacks.HandleData(e.algoCtx, BarData{ts: tick.TS, bars: bars}); err != nil {
					if e.opts.StrictMode {
						return Result{}, fmt.Errorf("engine: handle_data at %s: %w", tick.TS, err)
					}
					slog.Warn("engine: handle_data callback failed", "ts", tick.TS, "err", err)
				}
			}

			if e.opts.SameBarFills {
				cutoff = e.blotter.CurrentSeq()
			}
			e.processOrders(tick.TS, bars, cutoff)
			e.mark(tick.TS, bars)
			e.applyCorporateActions(ctx, tick.TS)

		case SessionEnd:
			e.runScheduledFunctions(tick.TS)
			e.blotter.SweepCancellations(tick.TS)
		}
	}

	if e.callbacks.Analyze != nil {
		if err := e.callbacks.Analyze(e.algoCtx); err != nil {
			slog.Warn("engine: analyze callback failed", "err", err)
		}
	}

	return Result{
		Portfolio:  e.portfolio,
		PnLSummary: e.ledger.GetPnLSummary(e.lastPrices()),
		Recorded:   e.collectRecorded(),
	}, nil
}

func (e *Engine) runPipelines(ts time.Time) {
	for name, g := range e.algoCtx.Pipelines() {
		out, err := g.Execute(ts)
		if err != nil {
			slog.Warn("engine: pipeline execution failed", "pipeline", name, "ts", ts, "err", err)
			continue
		}
		e.algoCtx.StorePipelineOutput(name, out)
	}
}

func (e *Engine) beforeTradingStart(ts time.Time) error {
	if e.callbacks.BeforeTradingStart == nil {
		return nil
	}
	e.algoCtx.Advance(ts, nil)
	return e.callbacks.BeforeTradingStart(e.algoCtx, BarData{ts: ts, bars: nil})
}

func (e *Engine) fetchBars(ctx context.Context, ts time.Time) map[domain.AssetID]domain.Bar {
	bars := make(map[domain.AssetID]domain.Bar, len(e.universe))
	for _, asset := range e.universe {
		bar, err := e.portal.Current(ctx, asset, ts, e.freq)
		if err != nil {
			continue
		}
		bars[asset] = bar
	}
	return bars
}

func (e *Engine) processOrders(ts time.Time, bars map[domain.AssetID]domain.Bar, maxSeq uint64) {
	txns := e.blotter.ProcessBarUpTo(ts, e.assetTypes, bars, maxSeq)
	for _, txn := range txns {
		if _, err := e.ledger.RecordTransaction(txn); err != nil {
			slog.Error("engine: recording transaction failed", "txn", txn.ID, "err", err)
		}
	}
}

func (e *Engine) mark(ts time.Time, bars map[domain.AssetID]domain.Bar) {
	prices := make(map[domain.AssetID]float64, len(bars))
	for id, bar := range bars {
		prices[id] = bar.Close
	}
	e.portfolio.Mark(ts, prices)
	e.account.Recompute()
}

// applyCorporateActions restates every open position whose asset has a
// Split or cash Dividend adjustment effective since the previous tick,
// up to and including ts.
func (e *Engine) applyCorporateActions(ctx context.Context, ts time.Time) {
	if e.adjustments == nil {
		return
	}
	windowStart := ts.Add(-time.Nanosecond)
	if e.haveLastTick {
		windowStart = e.lastTick
	}
	for asset := range e.portfolio.PositionsByID {
		adjs, err := e.adjustments.GetAdjustments(ctx, asset, windowStart, ts)
		if err != nil {
			slog.Warn("engine: fetching adjustments failed", "asset", asset, "err", err)
			continue
		}
		for _, adj := range adjs {
			if !adj.EffectiveDate.After(windowStart) || adj.EffectiveDate.After(ts) {
				continue
			}
			if err := e.ledger.ApplyCorporateAction(asset, adj); err != nil {
				slog.Warn("engine: applying corporate action failed", "asset", asset, "err", err)
			}
		}
	}
	e.lastTick = ts
	e.haveLastTick = true
}

func (e *Engine) runScheduledFunctions(ts time.Time) {
	_ = ts
	for _, fn := range e.algoCtx.ScheduledFunctions() {
		if err := fn(e.algoCtx); err != nil {
			slog.Warn("engine: scheduled function failed", "err", err)
		}
	}
}

func (e *Engine) lastPrices() map[domain.AssetID]float64 {
	prices := make(map[domain.AssetID]float64, len(e.portfolio.PositionsByID))
	for id, pos := range e.portfolio.PositionsByID {
		prices[id] = pos.LastPrice
	}
	return prices
}

func (e *Engine) collectRecorded() map[string][]algorithm.RecordedPoint {
	return e.algoCtx.AllRecorded()
}

// Account returns the engine's account tracker, for tests and reporting
// that need the latest derived snapshot without re-deriving it.
func (e *Engine) Account() *account.Tracker { return e.account }

// Ledger returns the engine's ledger, for tests and reporting.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// AlgorithmContext returns the engine's algorithm context, primarily for
// tests that need to assert on recorded variables or scratch state after
// Run.
func (e *Engine) AlgorithmContext() *algorithm.Context { return e.algoCtx }
