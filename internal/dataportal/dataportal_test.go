package dataportal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backalpha/internal/dataportal"
	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
	"github.com/alejandrodnm/backalpha/internal/ports"
)

// fakeBarReader is a hand-rolled ports.BarReader backed by a plain slice
// (no mocking framework).
type fakeBarReader struct {
	bars []domain.Bar
}

func (f *fakeBarReader) GetBar(_ context.Context, _ domain.AssetID, ts time.Time) (domain.Bar, error) {
	var best *domain.Bar
	for i := range f.bars {
		if f.bars[i].Timestamp.After(ts) {
			continue
		}
		if best == nil || f.bars[i].Timestamp.After(best.Timestamp) {
			best = &f.bars[i]
		}
	}
	if best == nil {
		return domain.Bar{}, errs.New(errs.DataNotFound, "no bar")
	}
	return *best, nil
}

func (f *fakeBarReader) GetBars(_ context.Context, _ domain.AssetID, start, end time.Time) ([]domain.Bar, error) {
	var out []domain.Bar
	for _, b := range f.bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBarReader) FirstAvailable(_ context.Context, _ domain.AssetID) (time.Time, error) {
	if len(f.bars) == 0 {
		return time.Time{}, errs.New(errs.DataNotFound, "empty")
	}
	return f.bars[0].Timestamp, nil
}

func (f *fakeBarReader) LastAvailable(_ context.Context, _ domain.AssetID) (time.Time, error) {
	if len(f.bars) == 0 {
		return time.Time{}, errs.New(errs.DataNotFound, "empty")
	}
	return f.bars[len(f.bars)-1].Timestamp, nil
}

func (f *fakeBarReader) Sessions(_ context.Context) ([]time.Time, error) { return nil, nil }

func makeBars(n int) []domain.Bar {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      100 + float64(i), High: 101 + float64(i), Low: 99 + float64(i),
			Close: 100.5 + float64(i), Volume: 10 * float64(i+1),
		}
	}
	return bars
}

func TestDataPortal_CurrentValue_PriceAliasesClose(t *testing.T) {
	reader := &fakeBarReader{bars: makeBars(5)}
	portal := dataportal.New(map[ports.Frequency]ports.BarReader{ports.Daily: reader}, nil, nil, 0)

	ts := reader.bars[3].Timestamp
	v, err := portal.CurrentValue(context.Background(), 1, "price", ts, ports.Daily)
	require.NoError(t, err)
	assert.InDelta(t, reader.bars[3].Close, v, 1e-9)
}

func TestDataPortal_SecondFrequency_Rejected(t *testing.T) {
	reader := &fakeBarReader{bars: makeBars(2)}
	portal := dataportal.New(map[ports.Frequency]ports.BarReader{ports.Daily: reader}, nil, nil, 0)

	_, err := portal.CurrentValue(context.Background(), 1, "close", reader.bars[0].Timestamp, ports.Second)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UnsupportedFrequency))
}

func TestDataPortal_History_PartialWindowReportsBeforeFirstData(t *testing.T) {
	reader := &fakeBarReader{bars: makeBars(3)}
	portal := dataportal.New(map[ports.Frequency]ports.BarReader{ports.Daily: reader}, nil, nil, 0)

	vals, err := portal.History(context.Background(), 1, "close", 10, ports.Daily, reader.bars[2].Timestamp)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.HistoryWindowBeforeFirstData))
	assert.Len(t, vals, 3)
}

func TestDataPortal_History_TruncatesToBarCount(t *testing.T) {
	reader := &fakeBarReader{bars: makeBars(10)}
	portal := dataportal.New(map[ports.Frequency]ports.BarReader{ports.Daily: reader}, nil, nil, 0)

	vals, err := portal.History(context.Background(), 1, "close", 3, ports.Daily, reader.bars[9].Timestamp)
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.InDelta(t, reader.bars[7].Close, vals[0], 1e-9)
	assert.InDelta(t, reader.bars[9].Close, vals[2], 1e-9)
}

func TestDataPortal_GetLastTradedDT(t *testing.T) {
	reader := &fakeBarReader{bars: makeBars(5)}
	portal := dataportal.New(map[ports.Frequency]ports.BarReader{ports.Daily: reader}, nil, nil, 0)

	queryTS := reader.bars[4].Timestamp.Add(time.Hour)
	got, err := portal.GetLastTradedDT(context.Background(), 1, queryTS, ports.Daily)
	require.NoError(t, err)
	assert.True(t, got.Equal(reader.bars[4].Timestamp))
}

func TestDataPortal_IsStale(t *testing.T) {
	reader := &fakeBarReader{bars: makeBars(2)}
	portal := dataportal.New(map[ports.Frequency]ports.BarReader{ports.Daily: reader}, nil, nil, 24*time.Hour)

	stale, err := portal.IsStale(context.Background(), 1, reader.bars[1].Timestamp.AddDate(0, 0, 10), ports.Daily, 0)
	require.NoError(t, err)
	assert.True(t, stale)

	fresh, err := portal.IsStale(context.Background(), 1, reader.bars[1].Timestamp.Add(time.Hour), ports.Daily, 0)
	require.NoError(t, err)
	assert.False(t, fresh)
}
