package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backalpha/internal/algorithm"
	"github.com/alejandrodnm/backalpha/internal/blotter"
	"github.com/alejandrodnm/backalpha/internal/dataportal"
	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/engine"
	"github.com/alejandrodnm/backalpha/internal/errs"
	"github.com/alejandrodnm/backalpha/internal/ports"
)

// fakeCalendar is a calendar over a fixed list of trading days, each with
// a 9:30-16:00 session.
type fakeCalendar struct {
	days []time.Time
}

func newFakeCalendar(days ...time.Time) fakeCalendar { return fakeCalendar{days: days} }

func (c fakeCalendar) IsTradingDay(date time.Time) bool {
	for _, d := range c.days {
		if d.Equal(date) {
			return true
		}
	}
	return false
}

func (c fakeCalendar) SessionTimes(date time.Time) (ports.SessionTimes, bool) {
	if !c.IsTradingDay(date) {
		return ports.SessionTimes{}, false
	}
	return ports.SessionTimes{
		Open:  date.Add(9*time.Hour + 30*time.Minute),
		Close: date.Add(16 * time.Hour),
	}, true
}

func (c fakeCalendar) NextTradingDay(date time.Time) time.Time     { return date }
func (c fakeCalendar) PreviousTradingDay(date time.Time) time.Time { return date }

func (c fakeCalendar) TradingDaysBetween(start, end time.Time) []time.Time {
	var out []time.Time
	for _, d := range c.days {
		if !d.Before(start) && !d.After(end) {
			out = append(out, d)
		}
	}
	return out
}

// fakeBarReader serves a fixed timestamp -> bar map for one asset.
type fakeBarReader struct {
	asset domain.AssetID
	bars  map[time.Time]domain.Bar
}

func (r fakeBarReader) GetBar(_ context.Context, asset domain.AssetID, ts time.Time) (domain.Bar, error) {
	if asset != r.asset {
		return domain.Bar{}, errs.New(errs.NoTradeDataAvailable, "no data for asset %d", asset)
	}
	bar, ok := r.bars[ts]
	if !ok {
		return domain.Bar{}, errs.New(errs.NoTradeDataAvailable, "no bar at %s", ts)
	}
	return bar, nil
}

func (r fakeBarReader) GetBars(_ context.Context, _ domain.AssetID, _, _ time.Time) ([]domain.Bar, error) {
	return nil, nil
}
func (r fakeBarReader) FirstAvailable(_ context.Context, _ domain.AssetID) (time.Time, error) {
	return time.Time{}, nil
}
func (r fakeBarReader) LastAvailable(_ context.Context, _ domain.AssetID) (time.Time, error) {
	return time.Time{}, nil
}
func (r fakeBarReader) Sessions(_ context.Context) ([]time.Time, error) { return nil, nil }

// fakeAdjustments serves a static per-asset adjustment list, applying the
// same AppliesTo/Apply rules the real adjustments reader is tested
// against.
type fakeAdjustments struct {
	byAsset map[domain.AssetID][]domain.Adjustment
}

func (a fakeAdjustments) GetAdjustments(_ context.Context, asset domain.AssetID, start, end time.Time) ([]domain.Adjustment, error) {
	var out []domain.Adjustment
	for _, adj := range a.byAsset[asset] {
		if !adj.EffectiveDate.Before(start) && !adj.EffectiveDate.After(end) {
			out = append(out, adj)
		}
	}
	return out, nil
}

func (a fakeAdjustments) ApplyAsOf(_ context.Context, bar *domain.Bar, asset domain.AssetID, asOf time.Time) error {
	for _, adj := range a.byAsset[asset] {
		if adj.AppliesTo(bar.Timestamp, asOf) {
			adj.Apply(bar)
		}
	}
	return nil
}

type fakeResolver struct{}

func (fakeResolver) LookupSymbol(_ context.Context, symbol string, _ *time.Time) (domain.Asset, error) {
	return domain.Asset{ID: 1, Symbol: symbol}, nil
}
func (fakeResolver) LookupSymbols(_ context.Context, symbols []string, _ *time.Time) ([]domain.Asset, error) {
	return nil, nil
}
func (fakeResolver) RetrieveAsset(_ context.Context, id domain.AssetID) (domain.Asset, error) {
	return domain.Asset{ID: id}, nil
}
func (fakeResolver) InsertAsset(_ context.Context, _ domain.Asset) error { return nil }
func (fakeResolver) GetAssetsByType(_ context.Context, _ domain.AssetType) ([]domain.Asset, error) {
	return nil, nil
}

const asset1 = domain.AssetID(1)

func day(offset int) time.Time {
	return time.Date(2024, 1, 2+offset, 0, 0, 0, 0, time.UTC)
}

// buildFixture wires a fully in-memory Engine: numDays daily bars at the
// given closes for asset1, an optional split adjustment, and cb as the
// strategy's callbacks.
func buildFixture(t *testing.T, numDays int, closes []float64, split *domain.Adjustment, cb engine.Callbacks) (*engine.Engine, *blotter.Blotter) {
	t.Helper()
	require.Len(t, closes, numDays)

	days := make([]time.Time, numDays)
	for i := range days {
		days[i] = day(i)
	}
	cal := newFakeCalendar(days...)

	bars := make(map[time.Time]domain.Bar, numDays)
	for i, d := range days {
		sess, _ := cal.SessionTimes(d)
		bars[sess.Close] = domain.Bar{
			Timestamp: sess.Close,
			Open:      closes[i],
			High:      closes[i],
			Low:       closes[i],
			Close:     closes[i],
			Volume:    10000,
		}
	}
	reader := fakeBarReader{asset: asset1, bars: bars}

	byAsset := map[domain.AssetID][]domain.Adjustment{}
	if split != nil {
		byAsset[asset1] = []domain.Adjustment{*split}
	}
	fa := fakeAdjustments{byAsset: byAsset}

	portal := dataportal.New(map[ports.Frequency]ports.BarReader{ports.Daily: reader}, fa, cal, 0)
	b := blotter.New(blotter.ModelPair{Slippage: blotter.NoSlippage{}, Commission: blotter.ZeroCommission{}})
	portfolio := domain.NewPortfolio(100000)

	clock, err := engine.NewSimulationClock(cal, ports.Daily, days[0], days[numDays-1])
	require.NoError(t, err)

	assetTypes := map[domain.AssetID]domain.AssetType{asset1: domain.Equity}

	e := engine.New(
		clock, portal, b, portfolio, domain.FIFO, fakeResolver{}, ports.Daily,
		[]domain.AssetID{asset1}, assetTypes, fa,
		cb, engine.Options{},
	)
	return e, b
}

// S1: a 2-for-1 split effective between day 0 and day 1 restates the
// position bought on day 0 (filled at day 1's bar, per default next-bar
// timing) once the split's effective date has been crossed.
func TestEngine_Run_SplitRestatesOpenPosition(t *testing.T) {
	cal := newFakeCalendar(day(0), day(1))
	sess0, _ := cal.SessionTimes(day(0))

	split := domain.Adjustment{
		AssetID:       asset1,
		EffectiveDate: sess0.Close.Add(12 * time.Hour),
		Kind:          domain.Split,
		Ratio:         2,
	}

	bought := false
	e, _ := buildFixture(t, 2, []float64{100, 100}, &split, engine.Callbacks{
		HandleData: func(ctx *algorithm.Context, data engine.BarData) error {
			if bought {
				return nil
			}
			if _, ok := data.Bar(asset1); ok {
				if _, err := ctx.Order(asset1, 10); err != nil {
					return err
				}
				bought = true
			}
			return nil
		},
	})

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	pos, ok := result.Portfolio.PositionsByID[asset1]
	require.True(t, ok)
	assert.InDelta(t, 20.0, pos.Qty, 1e-9, "split doubles quantity")
	assert.InDelta(t, 50.0, pos.AverageCost, 1e-9, "split halves cost basis")
	assert.InDelta(t, 50.0, pos.LastPrice, 1e-9, "split halves the price marked at the crossing tick")

	// Invariant 4: portfolio_value == cash + sum(qty*last_price).
	expected := result.Portfolio.Cash + pos.Qty*pos.LastPrice
	assert.InDelta(t, expected, result.Portfolio.PortfolioValue, 1e-6)
}

// Orders submitted in handle_data never fill against the same bar unless
// Options.SameBarFills is set.
func TestEngine_Run_OrdersFillNoEarlierThanNextBar(t *testing.T) {
	var openOrdersOnSecondBar int
	submitted, recorded := false, false
	e, _ := buildFixture(t, 3, []float64{100, 101, 102}, nil, engine.Callbacks{
		HandleData: func(ctx *algorithm.Context, data engine.BarData) error {
			if !submitted {
				_, err := ctx.Order(asset1, 10)
				submitted = true
				return err
			}
			if !recorded {
				openOrdersOnSecondBar = len(ctx.GetOpenOrders(nil))
				recorded = true
			}
			return nil
		},
	})

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, openOrdersOnSecondBar, "order submitted on bar 1 is still open when bar 2's handle_data runs")
	pos, ok := result.Portfolio.PositionsByID[asset1]
	require.True(t, ok)
	assert.InDelta(t, 10.0, pos.Qty, 1e-9)
	assert.InDelta(t, 101.0, pos.AverageCost, 1e-9, "fill happens at bar 2's close, not bar 1's")
}

// SameBarFills lets an order submitted in handle_data match against the
// same bar's close instead of waiting for the next tick.
func TestEngine_Run_SameBarFillsMatchesImmediately(t *testing.T) {
	// buildFixture always uses Options{}, so this test wires the Engine
	// directly to pass Options{SameBarFills: true}.
	days := []time.Time{day(0)}
	cal := newFakeCalendar(days...)
	sess, _ := cal.SessionTimes(days[0])
	reader := fakeBarReader{asset: asset1, bars: map[time.Time]domain.Bar{
		sess.Close: {Timestamp: sess.Close, Open: 100, High: 100, Low: 100, Close: 100, Volume: 10000},
	}}
	fa := fakeAdjustments{byAsset: map[domain.AssetID][]domain.Adjustment{}}
	portal := dataportal.New(map[ports.Frequency]ports.BarReader{ports.Daily: reader}, fa, cal, 0)
	blt := blotter.New(blotter.ModelPair{Slippage: blotter.NoSlippage{}, Commission: blotter.ZeroCommission{}})
	portfolio := domain.NewPortfolio(100000)
	clock, err := engine.NewSimulationClock(cal, ports.Daily, days[0], days[0])
	require.NoError(t, err)

	sameBar := engine.New(
		clock, portal, blt, portfolio, domain.FIFO, fakeResolver{}, ports.Daily,
		[]domain.AssetID{asset1}, map[domain.AssetID]domain.AssetType{asset1: domain.Equity}, fa,
		engine.Callbacks{
			HandleData: func(ctx *algorithm.Context, _ engine.BarData) error {
				_, err := ctx.Order(asset1, 5)
				return err
			},
		},
		engine.Options{SameBarFills: true},
	)

	result, err := sameBar.Run(context.Background())
	require.NoError(t, err)
	pos, ok := result.Portfolio.PositionsByID[asset1]
	require.True(t, ok)
	assert.InDelta(t, 5.0, pos.Qty, 1e-9, "same-bar fill matched against bar 1's own close")
}

// S5: a strategy that calls context.order during initialize gets
// OrderDuringInitialize surfaced, and Run aborts before any tick runs.
func TestEngine_Run_OrderDuringInitializeAbortsRun(t *testing.T) {
	e, b := buildFixture(t, 1, []float64{100}, nil, engine.Callbacks{
		Initialize: func(ctx *algorithm.Context) error {
			_, err := ctx.Order(asset1, 10)
			return err
		},
	})

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OrderDuringInitialize))
	assert.Empty(t, b.OpenOrders())
}
