// Package dataportal provides the single read path an algorithm and the
// engine use to pull point-in-time prices: it dispatches across
// per-frequency ports.BarReader implementations and applies adjustments
// on read.
package dataportal

import (
	"context"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
	"github.com/alejandrodnm/backalpha/internal/ports"
)

// DataPortal is the facade over one or more BarReaders (keyed by
// Frequency) and an optional AdjustmentReader.
type DataPortal struct {
	readers     map[ports.Frequency]ports.BarReader
	adjustments ports.AdjustmentReader
	calendar    ports.TradingCalendar
	staleAfter  time.Duration
}

// New builds a DataPortal. readers must have at least ports.Daily
// registered; ports.Second is never accepted by any operation. adj may be nil, in
// which case bars are served raw. staleAfter is the default max age used
// by IsStale when none is supplied at the call site.
func New(readers map[ports.Frequency]ports.BarReader, adj ports.AdjustmentReader, cal ports.TradingCalendar, staleAfter time.Duration) *DataPortal {
	return &DataPortal{readers: readers, adjustments: adj, calendar: cal, staleAfter: staleAfter}
}

func (p *DataPortal) reader(freq ports.Frequency) (ports.BarReader, error) {
	if freq == ports.Second {
		return nil, errs.New(errs.UnsupportedFrequency, "dataportal: second frequency is not supported")
	}
	r, ok := p.readers[freq]
	if !ok {
		return nil, errs.New(errs.UnsupportedFrequency, "dataportal: no reader registered for frequency %q", freq)
	}
	return r, nil
}

// Current returns the adjusted bar with bar.ts <= ts for asset at freq.
func (p *DataPortal) Current(ctx context.Context, asset domain.AssetID, ts time.Time, freq ports.Frequency) (domain.Bar, error) {
	r, err := p.reader(freq)
	if err != nil {
		return domain.Bar{}, err
	}
	bar, err := r.GetBar(ctx, asset, ts)
	if err != nil {
		return domain.Bar{}, errs.Wrap(errs.PricingDataNotLoaded, err, "dataportal: current bar for asset %d", asset)
	}
	if p.adjustments != nil {
		if err := p.adjustments.ApplyAsOf(ctx, &bar, asset, ts); err != nil {
			return domain.Bar{}, err
		}
	}
	return bar, nil
}

// CurrentValue returns a single OHLCV field ("open","high","low","close",
// "price", or "volume") from the current adjusted bar.
func (p *DataPortal) CurrentValue(ctx context.Context, asset domain.AssetID, field string, ts time.Time, freq ports.Frequency) (float64, error) {
	bar, err := p.Current(ctx, asset, ts, freq)
	if err != nil {
		return 0, err
	}
	v, ok := bar.Field(field)
	if !ok {
		return 0, errs.New(errs.InvalidData, "dataportal: unknown field %q", field)
	}
	return v, nil
}

// History returns up to barCount adjusted bars ending at or before ts,
// oldest first. If fewer than barCount bars exist before the reader's
// first available timestamp, it returns as many as exist and
// HistoryWindowBeforeFirstData as a non-fatal diagnostic wrapped error —
// callers that only want the partial window should use errors.As to
// detect it rather than treat it as failure.
func (p *DataPortal) History(ctx context.Context, asset domain.AssetID, field string, barCount int, freq ports.Frequency, ts time.Time) ([]float64, error) {
	r, err := p.reader(freq)
	if err != nil {
		return nil, err
	}

	first, err := r.FirstAvailable(ctx, asset)
	if err != nil {
		return nil, errs.Wrap(errs.PricingDataNotLoaded, err, "dataportal: history for asset %d", asset)
	}

	bars, err := r.GetBars(ctx, asset, first, ts)
	if err != nil {
		return nil, err
	}
	if len(bars) > barCount {
		bars = bars[len(bars)-barCount:]
	}

	out := make([]float64, 0, len(bars))
	for _, b := range bars {
		adjusted := b
		if p.adjustments != nil {
			if err := p.adjustments.ApplyAsOf(ctx, &adjusted, asset, ts); err != nil {
				return nil, err
			}
		}
		v, ok := adjusted.Field(field)
		if !ok {
			return nil, errs.New(errs.InvalidData, "dataportal: unknown field %q", field)
		}
		out = append(out, v)
	}

	if len(bars) < barCount {
		return out, errs.New(errs.HistoryWindowBeforeFirstData,
			"dataportal: requested %d bars for asset %d but only %d are available before %s", barCount, asset, len(bars), first)
	}
	return out, nil
}

// CanTrade reports whether ts falls on a trading day of the calendar
// (when one is set) and a bar exists at or before ts.
func (p *DataPortal) CanTrade(ctx context.Context, asset domain.AssetID, ts time.Time, freq ports.Frequency) bool {
	if p.calendar != nil && !p.calendar.IsTradingDay(ts) {
		return false
	}
	_, err := p.Current(ctx, asset, ts, freq)
	return err == nil
}

// IsStale reports whether the asset's last traded timestamp as of ts is
// older than maxAge (or the portal's configured staleAfter if maxAge <= 0).
func (p *DataPortal) IsStale(ctx context.Context, asset domain.AssetID, ts time.Time, freq ports.Frequency, maxAge time.Duration) (bool, error) {
	if maxAge <= 0 {
		maxAge = p.staleAfter
	}
	lastTraded, err := p.GetLastTradedDT(ctx, asset, ts, freq)
	if err != nil {
		return true, err
	}
	return ts.Sub(lastTraded) > maxAge, nil
}

// GetLastTradedDT returns the timestamp of the last bar at or before ts.
func (p *DataPortal) GetLastTradedDT(ctx context.Context, asset domain.AssetID, ts time.Time, freq ports.Frequency) (time.Time, error) {
	bar, err := p.Current(ctx, asset, ts, freq)
	if err != nil {
		return time.Time{}, err
	}
	return bar.Timestamp, nil
}
