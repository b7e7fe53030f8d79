// Command backtest runs one historical-market backtest over a columnar
// bundle and prints (and optionally persists) its performance summary.
// Exit codes are 0/1/2/3 for success/user-error/data-error/runtime-error,
// wired against this repo's reference AssetResolver, TradingCalendar,
// and bundle readers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/backalpha/config"
	"github.com/alejandrodnm/backalpha/internal/account"
	"github.com/alejandrodnm/backalpha/internal/adjustments"
	"github.com/alejandrodnm/backalpha/internal/assets"
	"github.com/alejandrodnm/backalpha/internal/blotter"
	"github.com/alejandrodnm/backalpha/internal/bundle"
	"github.com/alejandrodnm/backalpha/internal/calendar"
	"github.com/alejandrodnm/backalpha/internal/dataportal"
	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/engine"
	"github.com/alejandrodnm/backalpha/internal/errs"
	"github.com/alejandrodnm/backalpha/internal/ports"
	"github.com/alejandrodnm/backalpha/internal/storage"
)

const dateLayout = "2006-01-02"

func main() {
	os.Exit(run())
}

// run is main's body factored out so os.Exit's code is the only thing
// main itself does — 0 success, 1 user error, 2 data error, 3 runtime
// error.
func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	bundlePath := flag.String("bundle", "", "path to the on-disk bundle (overrides config)")
	strategyName := flag.String("strategy", "buy_and_hold", "built-in strategy to run")
	startFlag := flag.String("start", "", "backtest start date, YYYY-MM-DD")
	endFlag := flag.String("end", "", "backtest end date, YYYY-MM-DD")
	capital := flag.Float64("capital", 0, "starting cash (overrides config)")
	once := flag.Bool("once", false, "validate config and bundle, then exit without running")
	validate := flag.Bool("validate", false, "after the run, print every transaction before the summary")
	report := flag.Bool("report", false, "print the full equity-curve and blotter tables (default: one-line summary)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		return 1
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	config.SetupLogger(cfg.Log)

	if *bundlePath != "" {
		cfg.Bundle.Path = *bundlePath
	}
	if *capital > 0 {
		cfg.Backtest.StartingCash = *capital
	}
	if cfg.Bundle.Path == "" {
		slog.Error("no bundle path given (-bundle or config bundle.path)")
		return 1
	}

	start, end, err := parseRange(*startFlag, *endFlag)
	if err != nil {
		slog.Error("invalid -start/-end", "err", err)
		return 1
	}

	sids, err := discoverAssets(cfg.Bundle.Path)
	if err != nil {
		slog.Error("failed to read bundle", "err", err, "path", cfg.Bundle.Path)
		return 2
	}
	if len(sids) == 0 {
		slog.Error("bundle contains no assets", "path", cfg.Bundle.Path)
		return 2
	}

	if *once {
		slog.Info("config and bundle validated", "assets", len(sids), "bundle", cfg.Bundle.Path)
		return 0
	}

	slog.Info("backtest starting",
		"bundle", cfg.Bundle.Path,
		"strategy", *strategyName,
		"start", start,
		"end", end,
		"capital", cfg.Backtest.StartingCash,
		"assets", len(sids),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cal := calendar.NewSimple(time.UTC, nil)
	resolver := assets.New()
	for _, sid := range sids {
		if err := resolver.InsertAsset(ctx, domain.Asset{
			ID:        sid,
			Symbol:    fmt.Sprintf("ASSET%d", sid),
			Exchange:  "BUNDLE",
			Type:      domain.Equity,
			StartDate: start,
		}); err != nil {
			slog.Error("failed to register asset", "sid", sid, "err", err)
			return 2
		}
	}

	daily := bundle.NewDailyReader(cfg.Bundle.Path, 512)
	daily.SetSessions(cal.TradingDaysBetween(start, end))

	adjPath := filepath.Join(cfg.Bundle.Path, "adjustments.csv")
	adjReader, err := adjustments.LoadCSV(adjPath)
	if err != nil {
		if errs.Is(err, errs.DataNotFound) {
			adjReader = adjustments.New()
		} else {
			slog.Error("failed to load adjustments", "err", err, "path", adjPath)
			return 2
		}
	}

	portal := dataportal.New(
		map[ports.Frequency]ports.BarReader{ports.Daily: daily},
		adjReader, cal, cfg.StaleAfter(),
	)

	method, err := parseCostBasis(cfg.Backtest.CostBasisMethod)
	if err != nil {
		slog.Error("invalid cost basis method", "err", err, "method", cfg.Backtest.CostBasisMethod)
		return 1
	}

	defaultPair := blotter.ModelPair{
		Slippage:   blotter.NewVolumeShareSlippage(),
		Commission: blotter.PerShare{Rate: 0.005, MinTradeCost: 1.0},
	}
	b := blotter.New(defaultPair)

	freq, ok := ports.ParseFrequency(cfg.Backtest.DefaultFrequency)
	if !ok {
		slog.Error("invalid default frequency", "frequency", cfg.Backtest.DefaultFrequency)
		return 1
	}

	clock, err := engine.NewSimulationClock(cal, freq, start, end)
	if err != nil {
		slog.Error("failed to build clock", "err", err)
		return 1
	}

	callbacks, err := strategyByName(*strategyName, sids)
	if err != nil {
		slog.Error("failed to resolve strategy", "err", err)
		return 1
	}

	portfolio := domain.NewPortfolio(cfg.Backtest.StartingCash)
	assetTypes := make(map[domain.AssetID]domain.AssetType, len(sids))
	for _, sid := range sids {
		assetTypes[sid] = domain.Equity
	}

	eng := engine.New(clock, portal, b, portfolio, method, resolver, freq, sids, assetTypes, adjReader,
		callbacks, engine.Options{
			SameBarFills:        cfg.Backtest.SameBarFills,
			RecomputeOnEveryBar: cfg.Backtest.RecomputeOnEveryBar,
			StrictMode:          cfg.Backtest.StrictMode,
		})

	result, err := eng.Run(ctx)
	if err != nil {
		slog.Error("backtest failed", "err", err)
		return 3
	}

	if err := persistRun(ctx, cfg.Storage.DSN, *strategyName, start, end, result, eng); err != nil {
		slog.Warn("failed to persist run", "err", err)
	}

	if *validate {
		printTransactions(eng.Ledger().Transactions())
	}
	printSummary(result, eng.Account(), *report)
	return 0
}

func parseRange(startFlag, endFlag string) (time.Time, time.Time, error) {
	if startFlag == "" || endFlag == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("both -start and -end are required")
	}
	start, err := time.ParseInLocation(dateLayout, startFlag, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse -start: %w", err)
	}
	end, err := time.ParseInLocation(dateLayout, endFlag, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse -end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("-end %s is before -start %s", endFlag, startFlag)
	}
	return start, end, nil
}

func parseCostBasis(s string) (domain.CostBasisMethod, error) {
	switch strings.ToLower(s) {
	case "", "fifo":
		return domain.FIFO, nil
	case "lifo":
		return domain.LIFO, nil
	case "average", "avg":
		return domain.Avg, nil
	default:
		return "", fmt.Errorf("unknown cost basis method %q", s)
	}
}

// discoverAssets scans <bundle>/daily_equities for numeric sid
// directories — the bundle format has no separate asset
// manifest, so directory names are the ground truth.
func discoverAssets(bundleRoot string) ([]domain.AssetID, error) {
	dir := filepath.Join(bundleRoot, "daily_equities")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var sids []domain.AssetID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		sids = append(sids, domain.AssetID(n))
	}
	sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })
	return sids, nil
}

func persistRun(ctx context.Context, dsn, strategyName string, start, end time.Time, result engine.Result, eng *engine.Engine) error {
	store, err := storage.Open(dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	runID, err := store.SaveRun(ctx, storage.Run{
		Strategy:      strategyName,
		Start:         start,
		End:           end,
		StartingCash:  result.Portfolio.StartingCash,
		EndingValue:   result.Portfolio.PortfolioValue,
		RealizedPnL:   result.PnLSummary.Realized,
		UnrealizedPnL: result.PnLSummary.Unrealized,
		CreatedAt:     start,
	})
	if err != nil {
		return err
	}
	if err := store.SaveEquityCurve(ctx, runID, result.Portfolio.ValueHistory); err != nil {
		return err
	}
	return store.SaveTransactions(ctx, runID, eng.Ledger().Transactions())
}

// printTransactions dumps every fill in order, for -validate's
// step-by-step mode: one line per transaction instead of a final
// summary only.
func printTransactions(txns []domain.Transaction) {
	for _, t := range txns {
		fmt.Printf("[fill] %s asset=%d side=%s qty=%.4f price=%.4f commission=%.4f\n",
			t.Timestamp.Format(time.RFC3339), t.AssetID, t.Side, t.SignedAmount, t.Price, t.Commission)
	}
}

func printSummary(result engine.Result, acc *account.Tracker, full bool) {
	p := result.Portfolio
	snapshot := acc.Current()

	if !full {
		fmt.Printf("[backtest] value=%.2f pnl=%.2f return=%.4f%% trades=%d win_rate=%.1f%%\n",
			p.PortfolioValue, p.PNL, p.Returns()*100, result.PnLSummary.Trades, result.PnLSummary.WinRate*100)
		return
	}

	fmt.Printf("\nBacktest complete: %d sessions recorded\n", len(p.ValueHistory))

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Starting Cash", fmt.Sprintf("%.2f", p.StartingCash))
	table.Append("Ending Value", fmt.Sprintf("%.2f", p.PortfolioValue))
	table.Append("Realized PnL", fmt.Sprintf("%.2f", result.PnLSummary.Realized))
	table.Append("Unrealized PnL", fmt.Sprintf("%.2f", result.PnLSummary.Unrealized))
	table.Append("Total PnL", fmt.Sprintf("%.2f", result.PnLSummary.Total))
	table.Append("Return", fmt.Sprintf("%.4f%%", p.Returns()*100))
	table.Append("Trades", fmt.Sprintf("%d", result.PnLSummary.Trades))
	table.Append("Win Rate", fmt.Sprintf("%.1f%%", result.PnLSummary.WinRate*100))
	table.Append("Leverage", fmt.Sprintf("%.2f", snapshot.Leverage))
	table.Append("Buying Power", fmt.Sprintf("%.2f", snapshot.BuyingPower))
	table.Render()

	if len(p.ValueHistory) > 0 {
		equity := tablewriter.NewWriter(os.Stdout)
		equity.Header("Date", "Portfolio Value")
		step := 1
		if len(p.ValueHistory) > 20 {
			step = len(p.ValueHistory) / 20
		}
		for i := 0; i < len(p.ValueHistory); i += step {
			s := p.ValueHistory[i]
			equity.Append(s.Timestamp.Format(dateLayout), fmt.Sprintf("%.2f", s.Value))
		}
		equity.Render()
	}
}
