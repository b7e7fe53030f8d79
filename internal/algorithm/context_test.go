package algorithm_test

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
	"github.com/alejandrodnm/backalpha/internal/errs"
	"github.com/alejandrodnm/backalpha/internal/pipeline"
	"github.com/alejandrodnm/backalpha/internal/ports"
)

type fakeResolver struct{}

func (fakeResolver) LookupSymbol(_ context.Context, symbol string, _ *time.Time) (domain.Asset, error) {
	return domain.Asset{ID: 1, Symbol: symbol}, nil
}
func (fakeResolver) LookupSymbols(_ context.Context, symbols []string, _ *time.Time) ([]domain.Asset, error) {
	out := make([]domain.Asset, len(symbols))
	for i, s := range symbols {
		out[i] = domain.Asset{ID: domain.AssetID(i + 1), Symbol: s}
	}
	return out, nil
}
func (fakeResolver) RetrieveAsset(_ context.Context, id domain.AssetID) (domain.Asset, error) {
	return domain.Asset{ID: id}, nil
}
func (fakeResolver) InsertAsset(_ context.Context, _ domain.Asset) error { return nil }
func (fakeResolver) GetAssetsByType(_ context.Context, _ domain.AssetType) ([]domain.Asset, error) {
	return nil, nil
}

func newCtx(t *testing.T) (*algorithm.Context, *blotter.Blotter, *domain.Portfolio) {
	t.Helper()
	b := blotter.New(blotter.ModelPair{Slippage: blotter.NoSlippage{}, Commission: blotter.ZeroCommission{}})
	portfolio := domain.NewPortfolio(100000)
	portal := dataportal.New(map[ports.Frequency]ports.BarReader{}, nil, nil, 0)
	ctx := algorithm.New(b, portfolio, domain.FIFO, portal, fakeResolver{}, ports.Daily)
	return ctx, b, portfolio
}

// S5: Order during initialize. Strategy calls context.order(asset, 10)
// inside initialize. Expected: OrderDuringInitialize error surfaced;
// zero orders in blotter.
func TestContext_Order_RejectedDuringInitialize(t *testing.T) {
	ctx, b, _ := newCtx(t)
	b.Lock() // engine locks the blotter while initialize/before_trading_start run

	_, err := ctx.Order(1, 10)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OrderDuringInitialize))
	assert.Empty(t, b.OpenOrders())
}

func TestContext_OrderTarget_ErrorsWhenAlreadyAtTarget(t *testing.T) {
	ctx, _, portfolio := newCtx(t)
	ctx.Advance(time.Now(), map[domain.AssetID]domain.Bar{1: {Close: 10}})
	portfolio.Position(1, domain.FIFO).Buy(5, 10, time.Now(), "seed")

	_, err := ctx.OrderTarget(1, 5)
	require.Error(t, err)
}

func TestContext_OrderTarget_SubmitsDiff(t *testing.T) {
	ctx, b, portfolio := newCtx(t)
	ctx.Advance(time.Now(), map[domain.AssetID]domain.Bar{1: {Close: 10}})
	portfolio.Position(1, domain.FIFO).Buy(5, 10, time.Now(), "seed")

	order, err := ctx.OrderTarget(1, 20)
	require.NoError(t, err)
	assert.Equal(t, domain.Buy, order.Side)
	assert.InDelta(t, 15.0, order.RequestedQty, 1e-9)
	assert.Len(t, b.OpenOrders(), 1)
}

func TestContext_OrderValue_ConvertsToShares(t *testing.T) {
	ctx, _, _ := newCtx(t)
	ctx.Advance(time.Now(), map[domain.AssetID]domain.Bar{1: {Close: 50}})

	order, err := ctx.OrderValue(1, 500)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, order.RequestedQty, 1e-9)
}

func TestContext_OrderPercent_UsesPortfolioValue(t *testing.T) {
	ctx, _, portfolio := newCtx(t)
	portfolio.Mark(time.Now(), nil) // PortfolioValue == StartingCash == 100000
	ctx.Advance(time.Now(), map[domain.AssetID]domain.Bar{1: {Close: 100}})

	order, err := ctx.OrderPercent(1, 0.1) // 10% of 100000 = 10000 -> 100 shares
	require.NoError(t, err)
	assert.InDelta(t, 100.0, order.RequestedQty, 1e-9)
}

func TestContext_AttachPipeline_RejectedAfterInitialize(t *testing.T) {
	ctx, _, _ := newCtx(t)
	ctx.MarkInitialized()

	err := ctx.AttachPipeline("p1", pipeline.NewGraph())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AttachPipelineAfterInitialize))
}

func TestContext_AttachPipeline_RejectsDuplicateName(t *testing.T) {
	ctx, _, _ := newCtx(t)
	require.NoError(t, ctx.AttachPipeline("p1", pipeline.NewGraph()))

	err := ctx.AttachPipeline("p1", pipeline.NewGraph())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.DuplicatePipelineName))
}

func TestContext_PipelineOutput_NotFoundBeforeComputed(t *testing.T) {
	ctx, _, _ := newCtx(t)
	_, err := ctx.PipelineOutput("missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.DataNotFound))
}

func TestContext_SetSlippage_RejectedAfterInitialize(t *testing.T) {
	ctx, _, _ := newCtx(t)
	ctx.MarkInitialized()

	err := ctx.SetSlippage(domain.Equity, blotter.NoSlippage{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.SetSlippagePostInit))
}

func TestContext_ScheduleFunction_RejectedAfterInitialize(t *testing.T) {
	ctx, _, _ := newCtx(t)
	ctx.MarkInitialized()

	err := ctx.ScheduleFunction(func(*algorithm.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RegisterTradingControlPostInit))
}

func TestContext_SetGet_RoundTripsScalarTypes(t *testing.T) {
	ctx, _, _ := newCtx(t)

	require.NoError(t, algorithm.Set(ctx, "count", int64(42)))
	got, ok := algorithm.Get[int64](ctx, "count")
	require.True(t, ok)
	assert.Equal(t, int64(42), got)

	require.NoError(t, algorithm.Set(ctx, "ratio", 0.5))
	gotF, ok := algorithm.Get[float64](ctx, "ratio")
	require.True(t, ok)
	assert.InDelta(t, 0.5, gotF, 1e-9)

	_, ok = algorithm.Get[string](ctx, "count") // wrong type for the stored kind
	assert.False(t, ok)
}

func TestContext_Record_AppendsSeries(t *testing.T) {
	ctx, _, _ := newCtx(t)
	ts := time.Now()
	ctx.Advance(ts, nil)
	ctx.Record("leverage", 1.5)
	ctx.Advance(ts.Add(time.Minute), nil)
	ctx.Record("leverage", 1.7)

	points := ctx.Recorded("leverage")
	require.Len(t, points, 2)
	assert.InDelta(t, 1.7, points[1].Value, 1e-9)
}

func TestContext_Symbol_DelegatesToResolver(t *testing.T) {
	ctx, _, _ := newCtx(t)
	asset, err := ctx.Symbol(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", asset.Symbol)
}
