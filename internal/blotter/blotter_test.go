package blotter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backalpha/internal/blotter"
	"github.com/alejandrodnm/backalpha/internal/domain"
)

func newTestBlotter(slip blotter.SlippageModel, comm blotter.CommissionModel) *blotter.Blotter {
	return blotter.New(blotter.ModelPair{Slippage: slip, Commission: comm})
}

// S2: Partial fill via VolumeShareSlippage. Single bar close=50,
// volume=1000. VolumeShareSlippage(limit=0.025, impact=0.1). Buy 100
// shares. Expected: fillable=25, price=50*(1+0.1*(25/1000)^2)≈50.003125;
// order stays Open with filled_qty=25.
func TestBlotter_ProcessBar_VolumeShareSlippagePartialFill(t *testing.T) {
	b := newTestBlotter(blotter.NewVolumeShareSlippage(), blotter.ZeroCommission{})
	order, err := b.Submit(domain.Order{
		ID: "o1", Asset: 1, Side: domain.Buy,
		Type: domain.OrderType{Kind: domain.MarketOrder}, RequestedQty: 100, CreatedTS: time.Now(),
	})
	require.NoError(t, err)

	bar := domain.Bar{Timestamp: time.Now(), Open: 50, High: 51, Low: 49, Close: 50, Volume: 1000}
	txns := b.ProcessBar(bar.Timestamp, map[domain.AssetID]domain.AssetType{1: domain.Equity}, map[domain.AssetID]domain.Bar{1: bar})

	require.Len(t, txns, 1)
	assert.InDelta(t, 25.0, txns[0].Qty(), 1e-9)
	assert.InDelta(t, 50.003125, txns[0].Price, 1e-6)

	open := b.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, order.ID, open[0].ID)
	assert.InDelta(t, 25.0, open[0].FilledQty, 1e-9)
	assert.Equal(t, domain.OrderPartiallyFilled, open[0].Status)
}

func TestBlotter_ProcessBar_ZeroVolumeBarLeavesOrderOpen(t *testing.T) {
	b := newTestBlotter(blotter.NewVolumeShareSlippage(), blotter.ZeroCommission{})
	_, err := b.Submit(domain.Order{ID: "o1", Asset: 1, Side: domain.Buy, Type: domain.OrderType{Kind: domain.MarketOrder}, RequestedQty: 10, CreatedTS: time.Now()})
	require.NoError(t, err)

	bar := domain.Bar{Timestamp: time.Now(), Open: 10, High: 10, Low: 10, Close: 10, Volume: 0}
	txns := b.ProcessBar(bar.Timestamp, map[domain.AssetID]domain.AssetType{1: domain.Equity}, map[domain.AssetID]domain.Bar{1: bar})

	assert.Empty(t, txns)
	assert.Len(t, b.OpenOrders(), 1)
}

func TestBlotter_LimitOrder_FillsExactlyAtLowOrHigh(t *testing.T) {
	b := newTestBlotter(blotter.NoSlippage{}, blotter.ZeroCommission{})
	_, err := b.Submit(domain.Order{
		ID: "buy-at-low", Asset: 1, Side: domain.Buy,
		Type: domain.OrderType{Kind: domain.LimitOrder, LimitPx: 95}, RequestedQty: 10, CreatedTS: time.Now(),
	})
	require.NoError(t, err)

	bar := domain.Bar{Timestamp: time.Now(), Open: 100, High: 101, Low: 95, Close: 99, Volume: 1000}
	txns := b.ProcessBar(bar.Timestamp, map[domain.AssetID]domain.AssetType{1: domain.Equity}, map[domain.AssetID]domain.Bar{1: bar})

	require.Len(t, txns, 1, "limit price exactly equal to bar.low must fill")
}

func TestBlotter_StopOrder_TriggersExactlyAtOpen(t *testing.T) {
	b := newTestBlotter(blotter.NoSlippage{}, blotter.ZeroCommission{})
	_, err := b.Submit(domain.Order{
		ID: "buy-stop", Asset: 1, Side: domain.Buy,
		Type: domain.OrderType{Kind: domain.StopOrder, StopPx: 100}, RequestedQty: 5, CreatedTS: time.Now(),
	})
	require.NoError(t, err)

	bar := domain.Bar{Timestamp: time.Now(), Open: 100, High: 102, Low: 99, Close: 101, Volume: 500}
	txns := b.ProcessBar(bar.Timestamp, map[domain.AssetID]domain.AssetType{1: domain.Equity}, map[domain.AssetID]domain.Bar{1: bar})

	require.Len(t, txns, 1, "stop exactly equal to open must trigger")
	assert.InDelta(t, 100.0, txns[0].Price, 1e-9)
}

func TestBlotter_Submit_RejectsWhileLocked(t *testing.T) {
	b := newTestBlotter(blotter.NoSlippage{}, blotter.ZeroCommission{})
	b.Lock()
	_, err := b.Submit(domain.Order{ID: "o1", Asset: 1, Side: domain.Buy, Type: domain.OrderType{Kind: domain.MarketOrder}, RequestedQty: 1, CreatedTS: time.Now()})
	require.Error(t, err)
}

func TestBlotter_Submit_RejectsSubEpsilonQuantity(t *testing.T) {
	b := newTestBlotter(blotter.NoSlippage{}, blotter.ZeroCommission{})
	_, err := b.Submit(domain.Order{ID: "o1", Asset: 1, Side: domain.Buy, Type: domain.OrderType{Kind: domain.MarketOrder}, RequestedQty: 1e-12, CreatedTS: time.Now()})
	require.Error(t, err)
}

func TestBlotter_Cancel_RemovesOpenOrder(t *testing.T) {
	b := newTestBlotter(blotter.NoSlippage{}, blotter.ZeroCommission{})
	_, err := b.Submit(domain.Order{ID: "o1", Asset: 1, Side: domain.Buy, Type: domain.OrderType{Kind: domain.MarketOrder}, RequestedQty: 1, CreatedTS: time.Now()})
	require.NoError(t, err)

	require.NoError(t, b.Cancel("o1"))
	assert.Empty(t, b.OpenOrders())
}

func TestBlotter_EndOfDaySweep_CancelsStaleOrders(t *testing.T) {
	b := newTestBlotter(blotter.NoSlippage{}, blotter.ZeroCommission{})
	b.SetCancelPolicy(blotter.EndOfDaySweep{})
	day1 := time.Date(2022, 1, 3, 9, 30, 0, 0, time.UTC)
	_, err := b.Submit(domain.Order{ID: "o1", Asset: 1, Side: domain.Buy, Type: domain.OrderType{Kind: domain.LimitOrder, LimitPx: 1}, RequestedQty: 1, CreatedTS: day1})
	require.NoError(t, err)

	day2 := day1.AddDate(0, 0, 1)
	bar := domain.Bar{Timestamp: day2, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}
	txns := b.ProcessBar(day2, map[domain.AssetID]domain.AssetType{1: domain.Equity}, map[domain.AssetID]domain.Bar{1: bar})

	assert.Empty(t, txns)
	assert.Empty(t, b.OpenOrders())
}

func TestBlotter_PerAssetTypeOverride(t *testing.T) {
	b := newTestBlotter(blotter.NoSlippage{}, blotter.PerTrade{Amount: 1})
	b.SetOverride(domain.Future, blotter.ModelPair{Slippage: blotter.NoSlippage{}, Commission: blotter.PerShare{Rate: 0.01, MinTradeCost: 1}})

	_, err := b.Submit(domain.Order{ID: "eq", Asset: 1, Side: domain.Buy, Type: domain.OrderType{Kind: domain.MarketOrder}, RequestedQty: 10, CreatedTS: time.Now()})
	require.NoError(t, err)
	_, err = b.Submit(domain.Order{ID: "fut", Asset: 2, Side: domain.Buy, Type: domain.OrderType{Kind: domain.MarketOrder}, RequestedQty: 10, CreatedTS: time.Now()})
	require.NoError(t, err)

	bar := domain.Bar{Timestamp: time.Now(), Open: 10, High: 11, Low: 9, Close: 10, Volume: 1000}
	txns := b.ProcessBar(bar.Timestamp,
		map[domain.AssetID]domain.AssetType{1: domain.Equity, 2: domain.Future},
		map[domain.AssetID]domain.Bar{1: bar, 2: bar})

	require.Len(t, txns, 2)
	byOrder := map[string]domain.Transaction{}
	for _, txn := range txns {
		byOrder[txn.OrderID] = txn
	}
	assert.InDelta(t, 1.0, byOrder["eq"].Commission, 1e-9)
	assert.InDelta(t, 1.0, byOrder["fut"].Commission, 1e-9) // 0.01*10=0.1, floored to MinTradeCost
}
