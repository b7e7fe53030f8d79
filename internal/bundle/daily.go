package bundle

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
)

// DailyReader implements ports.BarReader over the on-disk
// `<bundle>/daily_equities/<sid>/` column layout. It caches
// the full per-asset series keyed by asset_id, evicted by approximate LRU
//.
type DailyReader struct {
	root     string
	cache    *lruCache[domain.AssetID, []domain.Bar]
	sessions []time.Time
}

// NewDailyReader opens a daily bar reader rooted at bundleRoot, caching
// up to cacheCap full asset series at once.
func NewDailyReader(bundleRoot string, cacheCap int) *DailyReader {
	if cacheCap <= 0 {
		cacheCap = 512
	}
	return &DailyReader{root: bundleRoot, cache: newLRUCache[domain.AssetID, []domain.Bar](cacheCap)}
}

// SetSessions configures the trading-day index returned by Sessions; the
// bundle format has no canonical session list of its own, so the loader
// that built the bundle is expected to supply it (normally sourced from a
// ports.TradingCalendar).
func (r *DailyReader) SetSessions(sessions []time.Time) { r.sessions = sessions }

func (r *DailyReader) assetDir(assetID domain.AssetID) string {
	return filepath.Join(r.root, "daily_equities", fmt.Sprintf("%d", assetID))
}

func (r *DailyReader) loadSeries(assetID domain.AssetID) ([]domain.Bar, error) {
	if bars, ok := r.cache.Get(assetID); ok {
		return bars, nil
	}

	dir := r.assetDir(assetID)
	opens, err := readFloat64Column(filepath.Join(dir, "open.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.AssetNotFound, err, "daily reader: asset %d", assetID)
	}
	highs, err := readFloat64Column(filepath.Join(dir, "high.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "daily reader: asset %d high column", assetID)
	}
	lows, err := readFloat64Column(filepath.Join(dir, "low.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "daily reader: asset %d low column", assetID)
	}
	closes, err := readFloat64Column(filepath.Join(dir, "close.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "daily reader: asset %d close column", assetID)
	}
	volumes, err := readFloat64Column(filepath.Join(dir, "volume.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "daily reader: asset %d volume column", assetID)
	}
	days, err := readInt64Column(filepath.Join(dir, "day.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "daily reader: asset %d day column", assetID)
	}

	n := len(days)
	if len(opens) != n || len(highs) != n || len(lows) != n || len(closes) != n || len(volumes) != n {
		return nil, errs.New(errs.InvalidData, "daily reader: asset %d column length mismatch", assetID)
	}

	bars := make([]domain.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = domain.Bar{
			Timestamp: tsFromEpoch(days[i]),
			Open:      opens[i],
			High:      highs[i],
			Low:       lows[i],
			Close:     closes[i],
			Volume:    volumes[i],
		}
	}

	r.cache.Put(assetID, bars)
	return bars, nil
}

func tsFromEpoch(v int64) time.Time {
	switch detectTimestampUnit(v) {
	case unitDays:
		return time.Unix(v*86400, 0).UTC()
	case unitSeconds:
		return time.Unix(v, 0).UTC()
	default:
		return time.Unix(0, v).UTC()
	}
}

// GetBar returns the bar with bar.ts <= ts (forward-fill), or NoData if
// no bar exists at or before ts.
func (r *DailyReader) GetBar(_ context.Context, asset domain.AssetID, ts time.Time) (domain.Bar, error) {
	bars, err := r.loadSeries(asset)
	if err != nil {
		return domain.Bar{}, err
	}
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp.After(ts) })
	if idx == 0 {
		return domain.Bar{}, errs.New(errs.DataNotFound, "no bar for asset %d at or before %s", asset, ts)
	}
	return bars[idx-1], nil
}

// GetBars returns the ordered slice of bars with start <= ts <= end.
func (r *DailyReader) GetBars(_ context.Context, asset domain.AssetID, start, end time.Time) ([]domain.Bar, error) {
	bars, err := r.loadSeries(asset)
	if err != nil {
		return nil, err
	}
	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Timestamp.Before(start) })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp.After(end) })
	if lo >= hi {
		return nil, nil
	}
	out := make([]domain.Bar, hi-lo)
	copy(out, bars[lo:hi])
	return out, nil
}

// FirstAvailable returns the timestamp of the asset's first bar.
func (r *DailyReader) FirstAvailable(_ context.Context, asset domain.AssetID) (time.Time, error) {
	bars, err := r.loadSeries(asset)
	if err != nil {
		return time.Time{}, err
	}
	if len(bars) == 0 {
		return time.Time{}, errs.New(errs.DataNotFound, "asset %d has no bars", asset)
	}
	return bars[0].Timestamp, nil
}

// LastAvailable returns the timestamp of the asset's last bar.
func (r *DailyReader) LastAvailable(_ context.Context, asset domain.AssetID) (time.Time, error) {
	bars, err := r.loadSeries(asset)
	if err != nil {
		return time.Time{}, err
	}
	if len(bars) == 0 {
		return time.Time{}, errs.New(errs.DataNotFound, "asset %d has no bars", asset)
	}
	return bars[len(bars)-1].Timestamp, nil
}

// Sessions returns the trading-day index configured via SetSessions.
func (r *DailyReader) Sessions(_ context.Context) ([]time.Time, error) {
	return r.sessions, nil
}

// CacheStats exposes LRU hit/miss counters for tests.
func (r *DailyReader) CacheStats() (hits, misses int64) { return r.cache.HitsMisses() }

// WriteDailyBundle writes bars for asset to <root>/daily_equities/<sid>/,
// one file per column, used by ingest and by tests to build fixture
// bundles. chunkBytes <= 0 writes a single chunk per column; compress
// selects the zstd-framed chunk path over raw little-endian.
func WriteDailyBundle(root string, asset domain.AssetID, bars []domain.Bar, chunkBytes int, compress bool) error {
	dir := filepath.Join(root, "daily_equities", fmt.Sprintf("%d", asset))
	if err := mkdirAllBundle(dir); err != nil {
		return err
	}

	n := len(bars)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	days := make([]int64, n)
	for i, b := range bars {
		opens[i], highs[i], lows[i], closes[i], volumes[i] = b.Open, b.High, b.Low, b.Close, b.Volume
		days[i] = b.Timestamp.Unix()
	}

	if err := writeFloat64Column(filepath.Join(dir, "open.00000"), opens, chunkBytes, compress); err != nil {
		return err
	}
	if err := writeFloat64Column(filepath.Join(dir, "high.00000"), highs, chunkBytes, compress); err != nil {
		return err
	}
	if err := writeFloat64Column(filepath.Join(dir, "low.00000"), lows, chunkBytes, compress); err != nil {
		return err
	}
	if err := writeFloat64Column(filepath.Join(dir, "close.00000"), closes, chunkBytes, compress); err != nil {
		return err
	}
	if err := writeFloat64Column(filepath.Join(dir, "volume.00000"), volumes, chunkBytes, compress); err != nil {
		return err
	}
	if err := writeInt64Column(filepath.Join(dir, "day.00000"), days, chunkBytes, compress); err != nil {
		return err
	}

	return writeAttrs(dir, attrs{FirstRow: 0, LastRow: n - 1, ChunkSize: chunkBytes, Codec: codecName(compress), CLevel: 3, Shuffle: false})
}

func codecName(compress bool) string {
	if compress {
		return "zstd"
	}
	return "raw"
}
