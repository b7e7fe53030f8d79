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

// sessionKey is the (year,month,day) index minute data is cached under,
// since a day's worth of minutes is the natural query granularity
//.
type sessionKey struct {
	assetID domain.AssetID
	year    int
	month   time.Month
	day     int
}

func sessionKeyFor(assetID domain.AssetID, ts time.Time) sessionKey {
	return sessionKey{assetID: assetID, year: ts.Year(), month: ts.Month(), day: ts.Day()}
}

// MinuteReader implements ports.BarReader over
// `<bundle>/minute_equities/<sid>/`, caching per-(asset,session) slices
// rather than whole-asset series since minute series are large.
type MinuteReader struct {
	root  string
	cache *lruCache[sessionKey, []domain.Bar]
	// fullSeries memoizes the on-disk decode per asset so repeated
	// sessions within the same asset don't re-parse the column files.
	fullSeries *lruCache[domain.AssetID, []domain.Bar]
}

// NewMinuteReader opens a minute bar reader rooted at bundleRoot.
func NewMinuteReader(bundleRoot string, sessionCacheCap int) *MinuteReader {
	if sessionCacheCap <= 0 {
		sessionCacheCap = 256
	}
	return &MinuteReader{
		root:       bundleRoot,
		cache:      newLRUCache[sessionKey, []domain.Bar](sessionCacheCap),
		fullSeries: newLRUCache[domain.AssetID, []domain.Bar](32),
	}
}

func (r *MinuteReader) assetDir(assetID domain.AssetID) string {
	return filepath.Join(r.root, "minute_equities", fmt.Sprintf("%d", assetID))
}

func (r *MinuteReader) loadFull(assetID domain.AssetID) ([]domain.Bar, error) {
	if bars, ok := r.fullSeries.Get(assetID); ok {
		return bars, nil
	}
	dir := r.assetDir(assetID)

	opens, err := readFloat64Column(filepath.Join(dir, "open.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.AssetNotFound, err, "minute reader: asset %d", assetID)
	}
	highs, err := readFloat64Column(filepath.Join(dir, "high.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "minute reader: asset %d high column", assetID)
	}
	lows, err := readFloat64Column(filepath.Join(dir, "low.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "minute reader: asset %d low column", assetID)
	}
	closes, err := readFloat64Column(filepath.Join(dir, "close.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "minute reader: asset %d close column", assetID)
	}
	volumes, err := readFloat64Column(filepath.Join(dir, "volume.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "minute reader: asset %d volume column", assetID)
	}
	minutes, err := readInt64Column(filepath.Join(dir, "minute.00000"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "minute reader: asset %d minute column", assetID)
	}

	n := len(minutes)
	if len(opens) != n || len(highs) != n || len(lows) != n || len(closes) != n || len(volumes) != n {
		return nil, errs.New(errs.InvalidData, "minute reader: asset %d column length mismatch", assetID)
	}

	bars := make([]domain.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = domain.Bar{
			Timestamp: tsFromEpoch(minutes[i]),
			Open:      opens[i],
			High:      highs[i],
			Low:       lows[i],
			Close:     closes[i],
			Volume:    volumes[i],
		}
	}
	r.fullSeries.Put(assetID, bars)
	return bars, nil
}

func (r *MinuteReader) loadSession(assetID domain.AssetID, ts time.Time) ([]domain.Bar, error) {
	key := sessionKeyFor(assetID, ts)
	if bars, ok := r.cache.Get(key); ok {
		return bars, nil
	}
	full, err := r.loadFull(assetID)
	if err != nil {
		return nil, err
	}
	var session []domain.Bar
	for _, b := range full {
		k := sessionKeyFor(assetID, b.Timestamp)
		if k == key {
			session = append(session, b)
		}
	}
	r.cache.Put(key, session)
	return session, nil
}

// GetBar returns the minute bar with bar.ts <= ts within ts's session
// (last-in-session forward-fill), or a DataNotFound error.
func (r *MinuteReader) GetBar(_ context.Context, asset domain.AssetID, ts time.Time) (domain.Bar, error) {
	session, err := r.loadSession(asset, ts)
	if err != nil {
		return domain.Bar{}, err
	}
	idx := sort.Search(len(session), func(i int) bool { return session[i].Timestamp.After(ts) })
	if idx == 0 {
		return domain.Bar{}, errs.New(errs.DataNotFound, "no minute bar for asset %d at or before %s", asset, ts)
	}
	return session[idx-1], nil
}

// GetBars returns every minute bar in [start, end], which may span
// multiple sessions.
func (r *MinuteReader) GetBars(_ context.Context, asset domain.AssetID, start, end time.Time) ([]domain.Bar, error) {
	full, err := r.loadFull(asset)
	if err != nil {
		return nil, err
	}
	lo := sort.Search(len(full), func(i int) bool { return !full[i].Timestamp.Before(start) })
	hi := sort.Search(len(full), func(i int) bool { return full[i].Timestamp.After(end) })
	if lo >= hi {
		return nil, nil
	}
	out := make([]domain.Bar, hi-lo)
	copy(out, full[lo:hi])
	return out, nil
}

// FirstAvailable returns the timestamp of the asset's first minute bar.
func (r *MinuteReader) FirstAvailable(_ context.Context, asset domain.AssetID) (time.Time, error) {
	full, err := r.loadFull(asset)
	if err != nil {
		return time.Time{}, err
	}
	if len(full) == 0 {
		return time.Time{}, errs.New(errs.DataNotFound, "asset %d has no bars", asset)
	}
	return full[0].Timestamp, nil
}

// LastAvailable returns the timestamp of the asset's last minute bar.
func (r *MinuteReader) LastAvailable(_ context.Context, asset domain.AssetID) (time.Time, error) {
	full, err := r.loadFull(asset)
	if err != nil {
		return time.Time{}, err
	}
	if len(full) == 0 {
		return time.Time{}, errs.New(errs.DataNotFound, "asset %d has no bars", asset)
	}
	return full[len(full)-1].Timestamp, nil
}

// Sessions is not meaningful at minute granularity on its own; callers
// should consult the daily reader or the TradingCalendar instead.
func (r *MinuteReader) Sessions(_ context.Context) ([]time.Time, error) {
	return nil, nil
}

// WriteMinuteBundle writes minute bars for asset, mirroring WriteDailyBundle.
func WriteMinuteBundle(root string, asset domain.AssetID, bars []domain.Bar, chunkBytes int, compress bool) error {
	dir := filepath.Join(root, "minute_equities", fmt.Sprintf("%d", asset))
	if err := mkdirAllBundle(dir); err != nil {
		return err
	}

	n := len(bars)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	minutes := make([]int64, n)
	for i, b := range bars {
		opens[i], highs[i], lows[i], closes[i], volumes[i] = b.Open, b.High, b.Low, b.Close, b.Volume
		minutes[i] = b.Timestamp.UnixNano()
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
	if err := writeInt64Column(filepath.Join(dir, "minute.00000"), minutes, chunkBytes, compress); err != nil {
		return err
	}
	return writeAttrs(dir, attrs{FirstRow: 0, LastRow: n - 1, ChunkSize: chunkBytes, Codec: codecName(compress), CLevel: 3})
}
