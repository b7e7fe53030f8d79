package bundle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backalpha/internal/domain"
)

func TestFloat64Column_RoundTrip_Raw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "close.00000")
	values := []float64{101.5, 102.25, 99.75, 0, -5.5}

	require.NoError(t, writeFloat64Column(path, values, 0, false))
	got, err := readFloat64Column(path)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestFloat64Column_RoundTrip_Compressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "close.00000")
	values := make([]float64, 500)
	for i := range values {
		values[i] = 100 + float64(i)*0.1
	}

	require.NoError(t, writeFloat64Column(path, values, 64, true))
	got, err := readFloat64Column(path)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestInt64Column_RoundTrip_ChunkedCompressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "day.00000")
	values := make([]int64, 300)
	for i := range values {
		values[i] = int64(19000 + i)
	}

	require.NoError(t, writeInt64Column(path, values, 32, true))
	got, err := readInt64Column(path)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestDailyReader_WriteThenRead_RoundTrip(t *testing.T) {
	root := t.TempDir()
	asset := domain.AssetID(7)
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 0; i < 10; i++ {
		ts := start.AddDate(0, 0, i)
		bars = append(bars, domain.Bar{
			Timestamp: ts,
			Open:      100 + float64(i),
			High:      101 + float64(i),
			Low:       99 + float64(i),
			Close:     100.5 + float64(i),
			Volume:    1000 * float64(i+1),
		})
	}

	require.NoError(t, WriteDailyBundle(root, asset, bars, 0, true))

	reader := NewDailyReader(root, 4)
	ctx := context.Background()

	first, err := reader.FirstAvailable(ctx, asset)
	require.NoError(t, err)
	assert.True(t, first.Equal(bars[0].Timestamp))

	last, err := reader.LastAvailable(ctx, asset)
	require.NoError(t, err)
	assert.True(t, last.Equal(bars[len(bars)-1].Timestamp))

	mid, err := reader.GetBar(ctx, asset, bars[5].Timestamp)
	require.NoError(t, err)
	assert.Equal(t, bars[5].Close, mid.Close)

	// GetBar is referential-transparent regardless of whether the series
	// is already cached from the calls above.
	again, err := reader.GetBar(ctx, asset, bars[5].Timestamp)
	require.NoError(t, err)
	assert.Equal(t, mid, again)

	span, err := reader.GetBars(ctx, asset, bars[2].Timestamp, bars[6].Timestamp)
	require.NoError(t, err)
	assert.Len(t, span, 5)

	hits, misses := reader.CacheStats()
	assert.GreaterOrEqual(t, hits+misses, int64(1))
}

func TestDailyReader_GetBar_ForwardFillsBetweenSessions(t *testing.T) {
	root := t.TempDir()
	asset := domain.AssetID(1)
	d1 := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2021, 6, 3, 0, 0, 0, 0, time.UTC) // no bar on 2021-06-02, between d1 and d2
	bars := []domain.Bar{
		{Timestamp: d1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Timestamp: d2, Open: 11, High: 12, Low: 10, Close: 11.5, Volume: 200},
	}
	require.NoError(t, WriteDailyBundle(root, asset, bars, 0, false))

	reader := NewDailyReader(root, 4)
	ctx := context.Background()
	got, err := reader.GetBar(ctx, asset, d1.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, bars[0].Close, got.Close, "forward-fills to the last bar at or before ts")
}

func TestMinuteReader_WriteThenRead_SessionScoped(t *testing.T) {
	root := t.TempDir()
	asset := domain.AssetID(3)
	day := time.Date(2022, 3, 1, 9, 30, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, domain.Bar{
			Timestamp: day.Add(time.Duration(i) * time.Minute),
			Open:      50 + float64(i), High: 51 + float64(i), Low: 49 + float64(i),
			Close: 50.5 + float64(i), Volume: 10 * float64(i+1),
		})
	}
	require.NoError(t, WriteMinuteBundle(root, asset, bars, 0, true))

	reader := NewMinuteReader(root, 4)
	ctx := context.Background()

	got, err := reader.GetBar(ctx, asset, bars[3].Timestamp)
	require.NoError(t, err)
	assert.Equal(t, bars[3].Close, got.Close)

	span, err := reader.GetBars(ctx, asset, bars[0].Timestamp, bars[4].Timestamp)
	require.NoError(t, err)
	assert.Len(t, span, 5)
}

func TestContinuousFutureReader_PanamaCanalRollAdjustsPriorBars(t *testing.T) {
	root := t.TempDir()
	front := domain.AssetID(100)
	back := domain.AssetID(200)

	d1 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	d3 := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)

	frontBars := []domain.Bar{
		{Timestamp: d1, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10},
		{Timestamp: d2, Open: 101, High: 102, Low: 100, Close: 101, Volume: 20},
	}
	backBars := []domain.Bar{
		{Timestamp: d1, Open: 105, High: 106, Low: 104, Close: 105, Volume: 5},
		{Timestamp: d2, Open: 106, High: 107, Low: 105, Close: 106, Volume: 30},
		{Timestamp: d3, Open: 107, High: 108, Low: 106, Close: 107, Volume: 40},
	}
	require.NoError(t, WriteDailyBundle(root, front, frontBars, 0, false))
	require.NoError(t, WriteDailyBundle(root, back, backBars, 0, false))

	underlying := NewDailyReader(root, 4)
	chain := NewContractChain([]Contract{
		{AssetID: front, Expiration: d2.AddDate(0, 0, 5)},
		{AssetID: back, Expiration: d3.AddDate(0, 0, 30)},
	})

	reader := NewContinuousFutureReader(underlying, chain, VolumeFlip{}, AdjustmentPanamaCanal)
	series, err := reader.Series(context.Background(), d1, d3)
	require.NoError(t, err)
	require.Len(t, series, 3)

	// The roll happens once back's volume (30) exceeds front's (20) on d2,
	// at ratio = back.close/front.close = 106/101. Bars before the roll
	// (d1) keep the raw front-contract price; the bar at and after the
	// roll (d3, sourced from back) is scaled by that cumulative ratio.
	assert.InDelta(t, 100, series[0].Close, 1e-9)
	expectedRatio := 106.0 / 101.0
	assert.InDelta(t, 107*expectedRatio, series[2].Close, 1e-9)
}
