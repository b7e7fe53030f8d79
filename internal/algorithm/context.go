// Package algorithm implements the stateful, user-facing API a strategy
// calls into: order placement, recorded variables, user-scratch storage,
// and the pre-init-only configuration surface. Every mutation an algorithm makes flows in through a
// Context method — it never touches the Blotter or Portfolio directly.
package algorithm

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/backalpha/internal/blotter"
	"github.com/alejandrodnm/backalpha/internal/dataportal"
	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
	"github.com/alejandrodnm/backalpha/internal/pipeline"
	"github.com/alejandrodnm/backalpha/internal/ports"
)

// RecordedPoint is one (timestamp, value) sample appended by Record.
type RecordedPoint struct {
	Timestamp time.Time
	Value     float64
}

// ScheduledFunc is a user callback registered via ScheduleFunction, run
// at SessionEnd by the engine.
type ScheduledFunc func(ctx *Context) error

// Context is the mutable surface handed to initialize, before_trading_start,
// handle_data, and analyze. The engine constructs one per backtest and
// advances currentTS/currentBars at each tick; it is never safe to share
// across goroutines.
type Context struct {
	blotter   *blotter.Blotter
	portfolio *domain.Portfolio
	method    domain.CostBasisMethod
	portal    *dataportal.DataPortal
	resolver  ports.AssetResolver
	freq      ports.Frequency

	initialized bool

	pipelines       map[string]*pipeline.Graph
	pipelineOutputs map[string]*pipeline.Output

	recorded map[string][]RecordedPoint
	scratch  map[string]domain.Value
	schedule []ScheduledFunc

	currentTS   time.Time
	currentBars map[domain.AssetID]domain.Bar
}

// New builds a Context wired to the engine's Blotter, Portfolio,
// DataPortal, and AssetResolver, at the given trading frequency.
func New(b *blotter.Blotter, portfolio *domain.Portfolio, method domain.CostBasisMethod, portal *dataportal.DataPortal, resolver ports.AssetResolver, freq ports.Frequency) *Context {
	return &Context{
		blotter:         b,
		portfolio:       portfolio,
		method:          method,
		portal:          portal,
		resolver:        resolver,
		freq:            freq,
		pipelines:       make(map[string]*pipeline.Graph),
		pipelineOutputs: make(map[string]*pipeline.Output),
		recorded:        make(map[string][]RecordedPoint),
		scratch:         make(map[string]domain.Value),
	}
}

// MarkInitialized locks the pre-init-only configuration surface. Called
// by the engine once the user's initialize callback returns.
func (c *Context) MarkInitialized() { c.initialized = true }

// Advance updates the bar-local view the Context exposes to handle_data
// and before_trading_start. Called by the engine, never by user code.
func (c *Context) Advance(ts time.Time, bars map[domain.AssetID]domain.Bar) {
	c.currentTS = ts
	c.currentBars = bars
}

// CurrentTime returns the timestamp of the bar currently being processed.
func (c *Context) CurrentTime() time.Time { return c.currentTS }

// CurrentBar returns the most recently delivered bar for asset, if any.
func (c *Context) CurrentBar(asset domain.AssetID) (domain.Bar, bool) {
	bar, ok := c.currentBars[asset]
	return bar, ok
}

func (c *Context) currentPrice(asset domain.AssetID) (float64, error) {
	if bar, ok := c.currentBars[asset]; ok {
		return bar.Close, nil
	}
	bar, err := c.portal.Current(context.Background(), asset, c.currentTS, c.freq)
	if err != nil {
		return 0, err
	}
	return bar.Close, nil
}

func (c *Context) positionQty(asset domain.AssetID) float64 {
	if pos, ok := c.portfolio.PositionsByID[asset]; ok {
		return pos.Qty
	}
	return 0
}

// submit builds and submits an order for amount shares (positive buys,
// negative sells, zero is a no-op returning a zero Order).
func (c *Context) submit(asset domain.AssetID, amount float64) (domain.Order, error) {
	if amount == 0 {
		return domain.Order{}, nil
	}
	side := domain.Buy
	qty := amount
	if amount < 0 {
		side = domain.Sell
		qty = -amount
	}
	order := domain.Order{
		ID:           uuid.New().String(),
		Asset:        asset,
		Side:         side,
		Type:         domain.OrderType{Kind: domain.MarketOrder},
		RequestedQty: qty,
		CreatedTS:    c.currentTS,
	}
	return c.blotter.Submit(order)
}

// Order submits a market order for amount shares of asset (positive
// buys, negative sells).
func (c *Context) Order(asset domain.AssetID, amount float64) (domain.Order, error) {
	return c.submit(asset, amount)
}

// OrderTarget submits an order sized to bring the position in asset to
// exactly targetQty shares. Returns an error if already at target.
func (c *Context) OrderTarget(asset domain.AssetID, targetQty float64) (domain.Order, error) {
	diff := targetQty - c.positionQty(asset)
	if diff == 0 {
		return domain.Order{}, errs.New(errs.InvalidOrder, "algorithm: asset %d already at target quantity %g", asset, targetQty)
	}
	return c.submit(asset, diff)
}

// OrderValue submits a market order sized to trade value dollars of
// asset at its current price (positive buys, negative sells).
func (c *Context) OrderValue(asset domain.AssetID, value float64) (domain.Order, error) {
	price, err := c.currentPrice(asset)
	if err != nil {
		return domain.Order{}, err
	}
	if price == 0 {
		return domain.Order{}, errs.New(errs.NoTradeDataAvailable, "algorithm: no price available for asset %d", asset)
	}
	return c.submit(asset, value/price)
}

// OrderTargetValue submits an order sized to bring asset's position
// value to exactly targetValue dollars at the current price.
func (c *Context) OrderTargetValue(asset domain.AssetID, targetValue float64) (domain.Order, error) {
	price, err := c.currentPrice(asset)
	if err != nil {
		return domain.Order{}, err
	}
	if price == 0 {
		return domain.Order{}, errs.New(errs.NoTradeDataAvailable, "algorithm: no price available for asset %d", asset)
	}
	currentValue := c.positionQty(asset) * price
	diff := targetValue - currentValue
	if diff == 0 {
		return domain.Order{}, errs.New(errs.InvalidOrder, "algorithm: asset %d already at target value %g", asset, targetValue)
	}
	return c.submit(asset, diff/price)
}

// OrderPercent submits a market order sized to trade percent of the
// portfolio's current total value in asset.
func (c *Context) OrderPercent(asset domain.AssetID, percent float64) (domain.Order, error) {
	return c.OrderValue(asset, percent*c.portfolio.PortfolioValue)
}

// OrderTargetPercent submits an order sized to bring asset's position
// value to exactly percent of the portfolio's current total value.
func (c *Context) OrderTargetPercent(asset domain.AssetID, percent float64) (domain.Order, error) {
	return c.OrderTargetValue(asset, percent*c.portfolio.PortfolioValue)
}

// CancelOrder cancels a previously submitted order by ID.
func (c *Context) CancelOrder(orderID string) error {
	return c.blotter.Cancel(orderID)
}

// GetOpenOrders returns every currently open order, optionally filtered
// to one asset when asset != nil.
func (c *Context) GetOpenOrders(asset *domain.AssetID) []domain.Order {
	open := c.blotter.OpenOrders()
	if asset == nil {
		return open
	}
	out := make([]domain.Order, 0, len(open))
	for _, o := range open {
		if o.Asset == *asset {
			out = append(out, o)
		}
	}
	return out
}

// Record appends value to the named recorded-variable series at the
// current timestamp.
func (c *Context) Record(name string, value float64) {
	c.recorded[name] = append(c.recorded[name], RecordedPoint{Timestamp: c.currentTS, Value: value})
}

// Recorded returns the full recorded series for name.
func (c *Context) Recorded(name string) []RecordedPoint {
	return c.recorded[name]
}

// AllRecorded returns every recorded-variable series, keyed by name.
func (c *Context) AllRecorded() map[string][]RecordedPoint {
	return c.recorded
}

// SetValue stores v under key in the type-erased scratch box.
func (c *Context) SetValue(key string, v domain.Value) { c.scratch[key] = v }

// GetValue retrieves the scratch value stored under key.
func (c *Context) GetValue(key string) (domain.Value, bool) {
	v, ok := c.scratch[key]
	return v, ok
}

// AttachPipeline registers a compute graph under name, runnable only
// during initialize.
func (c *Context) AttachPipeline(name string, g *pipeline.Graph) error {
	if c.initialized {
		return errs.New(errs.AttachPipelineAfterInitialize, "algorithm: cannot attach pipeline %q after initialize", name)
	}
	if _, exists := c.pipelines[name]; exists {
		return errs.New(errs.DuplicatePipelineName, "algorithm: pipeline %q already attached", name)
	}
	c.pipelines[name] = g
	return nil
}

// Pipelines returns the name->graph map of attached pipelines, for the
// engine to execute at session boundaries.
func (c *Context) Pipelines() map[string]*pipeline.Graph { return c.pipelines }

// StorePipelineOutput records out as the latest output for the named
// pipeline. Called by the engine after executing a pipeline.
func (c *Context) StorePipelineOutput(name string, out *pipeline.Output) {
	c.pipelineOutputs[name] = out
}

// PipelineOutput returns the most recently computed output for name.
func (c *Context) PipelineOutput(name string) (*pipeline.Output, error) {
	out, ok := c.pipelineOutputs[name]
	if !ok {
		return nil, errs.New(errs.DataNotFound, "algorithm: no output for pipeline %q", name)
	}
	return out, nil
}

// SetSlippage installs the slippage model for assetType, runnable only
// during initialize.
func (c *Context) SetSlippage(assetType domain.AssetType, model blotter.SlippageModel) error {
	if c.initialized {
		return errs.New(errs.SetSlippagePostInit, "algorithm: cannot set slippage after initialize")
	}
	pair := c.blotter.PairFor(assetType)
	pair.Slippage = model
	c.blotter.SetOverride(assetType, pair)
	return nil
}

// SetCommission installs the commission model for assetType, runnable
// only during initialize.
func (c *Context) SetCommission(assetType domain.AssetType, model blotter.CommissionModel) error {
	if c.initialized {
		return errs.New(errs.SetCommissionPostInit, "algorithm: cannot set commission after initialize")
	}
	pair := c.blotter.PairFor(assetType)
	pair.Commission = model
	c.blotter.SetOverride(assetType, pair)
	return nil
}

// SetCancelPolicy installs the blotter-wide cancel policy, runnable only
// during initialize.
func (c *Context) SetCancelPolicy(policy blotter.CancelPolicy) error {
	if c.initialized {
		return errs.New(errs.SetCancelPolicyPostInit, "algorithm: cannot set cancel policy after initialize")
	}
	c.blotter.SetCancelPolicy(policy)
	return nil
}

// ScheduleFunction registers fn to run at every SessionEnd, runnable
// only during initialize.
func (c *Context) ScheduleFunction(fn ScheduledFunc) error {
	if c.initialized {
		return errs.New(errs.RegisterTradingControlPostInit, "algorithm: cannot schedule functions after initialize")
	}
	c.schedule = append(c.schedule, fn)
	return nil
}

// ScheduledFunctions returns every function registered via
// ScheduleFunction, for the engine to run at SessionEnd.
func (c *Context) ScheduledFunctions() []ScheduledFunc { return c.schedule }

// Symbol resolves a single ticker symbol to its Asset, as of the current
// bar's timestamp.
func (c *Context) Symbol(ctx context.Context, symbol string) (domain.Asset, error) {
	ts := c.currentTS
	return c.resolver.LookupSymbol(ctx, symbol, &ts)
}

// Symbols resolves multiple ticker symbols, as of the current bar's
// timestamp.
func (c *Context) Symbols(ctx context.Context, symbols []string) ([]domain.Asset, error) {
	ts := c.currentTS
	return c.resolver.LookupSymbols(ctx, symbols, &ts)
}

// SID resolves an asset by its stable integer surrogate key.
func (c *Context) SID(ctx context.Context, id domain.AssetID) (domain.Asset, error) {
	return c.resolver.RetrieveAsset(ctx, id)
}

// Set stores v of any of the scalar kinds Value supports under key.
// Unsupported types return InvalidData.
func Set[T any](c *Context, key string, v T) error {
	switch val := any(v).(type) {
	case int64:
		c.SetValue(key, domain.NewInt64(val))
	case float64:
		c.SetValue(key, domain.NewFloat64(val))
	case bool:
		c.SetValue(key, domain.NewBool(val))
	case string:
		c.SetValue(key, domain.NewString(val))
	case domain.AssetID:
		c.SetValue(key, domain.NewAssetID(val))
	default:
		return errs.New(errs.InvalidData, "algorithm: unsupported scratch value type for key %q", key)
	}
	return nil
}

// Get retrieves the scratch value stored under key as T, returning
// ok=false if the key is unset or was stored as a different type.
func Get[T any](c *Context, key string) (T, bool) {
	var zero T
	v, ok := c.GetValue(key)
	if !ok {
		return zero, false
	}
	switch any(zero).(type) {
	case int64:
		i, ok2 := v.Int64()
		return any(i).(T), ok2
	case float64:
		f, ok2 := v.Float64()
		return any(f).(T), ok2
	case bool:
		b, ok2 := v.Bool()
		return any(b).(T), ok2
	case string:
		s, ok2 := v.String()
		return any(s).(T), ok2
	case domain.AssetID:
		a, ok2 := v.AssetID()
		return any(a).(T), ok2
	default:
		return zero, false
	}
}
