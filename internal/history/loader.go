package history

import (
	"context"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/ports"
)

// barSource is the subset of DataPortal's surface the loader needs; kept
// narrow so tests can supply a fake without pulling in DataPortal's
// adjustment/calendar wiring.
type barSource interface {
	History(ctx context.Context, asset domain.AssetID, field string, barCount int, freq ports.Frequency, ts time.Time) ([]float64, error)
}

// cacheKey identifies one (asset, field, window-end, bar-count,
// frequency) query — the window's start is implied by barCount bars
// ending at the keyed timestamp, so this is equivalent to keying on
// (asset_id, field, start, end, freq).
type cacheKey struct {
	asset    domain.AssetID
	field    string
	end      time.Time
	freq     ports.Frequency
	barCount int
}

// HistoryLoader serves repeated lookback queries against a DataPortal (or
// any barSource), caching results keyed by (asset_id, field, start, end,
// freq) so an algorithm that re-requests the same window every bar
// doesn't re-walk the underlying BarReader each time.
type HistoryLoader struct {
	source barSource
	cache  *lruCache[cacheKey, []float64]
}

// NewHistoryLoader wraps source with an LRU cache of the given capacity.
func NewHistoryLoader(source barSource, cacheCap int) *HistoryLoader {
	if cacheCap <= 0 {
		cacheCap = 256
	}
	return &HistoryLoader{source: source, cache: newLRUCache[cacheKey, []float64](cacheCap)}
}

// LoadHistory returns barCount values of field for asset ending at ts.
func (l *HistoryLoader) LoadHistory(ctx context.Context, asset domain.AssetID, field string, barCount int, freq ports.Frequency, ts time.Time) ([]float64, error) {
	key := cacheKey{asset: asset, field: field, end: ts, freq: freq, barCount: barCount}
	if vals, ok := l.cache.Get(key); ok {
		return vals, nil
	}
	vals, err := l.source.History(ctx, asset, field, barCount, freq, ts)
	if err != nil && vals == nil {
		return nil, err
	}
	l.cache.Put(key, vals)
	return vals, err
}

// LoadHistoryMultiple fetches the same lookback window for several
// assets. It stops at the first error that comes with no values; an
// error that comes with a partial window is dropped and the partial
// values are kept.
func (l *HistoryLoader) LoadHistoryMultiple(ctx context.Context, assets []domain.AssetID, field string, barCount int, freq ports.Frequency, ts time.Time) (map[domain.AssetID][]float64, error) {
	out := make(map[domain.AssetID][]float64, len(assets))
	for _, asset := range assets {
		vals, err := l.LoadHistory(ctx, asset, field, barCount, freq, ts)
		if err != nil && vals == nil {
			return nil, err
		}
		out[asset] = vals
	}
	return out, nil
}

// BatchRequest is one (asset, field) pair in a LoadBatch call.
type BatchRequest struct {
	Asset domain.AssetID
	Field string
}

// LoadBatch fetches barCount bars of each requested (asset, field) pair
// sharing the same window and frequency, e.g. an algorithm pulling both
// "close" and "volume" history for the same universe in one call.
func (l *HistoryLoader) LoadBatch(ctx context.Context, reqs []BatchRequest, barCount int, freq ports.Frequency, ts time.Time) (map[BatchRequest][]float64, error) {
	out := make(map[BatchRequest][]float64, len(reqs))
	for _, req := range reqs {
		vals, err := l.LoadHistory(ctx, req.Asset, req.Field, barCount, freq, ts)
		if err != nil && vals == nil {
			return nil, err
		}
		out[req] = vals
	}
	return out, nil
}

// CacheStats exposes LRU hit/miss counters for tests.
func (l *HistoryLoader) CacheStats() (hits, misses int64) { return l.cache.HitsMisses() }
