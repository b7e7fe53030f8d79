// Package adjustments provides a CSV-backed ports.AdjustmentReader:
// splits, dividends, mergers, and spin-offs applied on read. Grounded on the same map-backed,
// RWMutex-guarded store pattern as internal/assets.Resolver.
package adjustments

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
)

// Reader serves adjustments loaded from a CSV file, indexed per asset and
// sorted by effective date for binary-search lookup.
type Reader struct {
	mu      sync.RWMutex
	byAsset map[domain.AssetID][]domain.Adjustment
}

// New creates an empty Reader; use LoadCSV or Insert to populate it.
func New() *Reader {
	return &Reader{byAsset: make(map[domain.AssetID][]domain.Adjustment)}
}

// Insert adds an adjustment, keeping its asset's slice sorted by
// EffectiveDate. Safe to call after LoadCSV to layer in additional
// records (e.g. late corporate-action feeds).
func (r *Reader) Insert(adj domain.Adjustment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byAsset[adj.AssetID]
	list = append(list, adj)
	sort.Slice(list, func(i, j int) bool { return list[i].EffectiveDate.Before(list[j].EffectiveDate) })
	r.byAsset[adj.AssetID] = list
}

// LoadCSV opens path and inserts every row. Expected header:
// asset_id,effective_date,kind,ratio,amount,pay_kind,target_asset_id,new_asset_id
// effective_date accepts RFC3339 or "2006-01-02"; unused columns for a
// given kind may be left blank.
func LoadCSV(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.DataNotFound, err, "adjustments: open %q", path)
	}
	defer f.Close()
	return loadCSV(f)
}

func loadCSV(r io.Reader) (*Reader, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, err, "adjustments: read header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"asset_id", "effective_date", "kind"} {
		if _, ok := cols[required]; !ok {
			return nil, errs.New(errs.InvalidData, "adjustments: missing required column %q", required)
		}
	}

	out := New()
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.InvalidData, err, "adjustments: read record")
		}
		adj, err := parseRow(rec, cols)
		if err != nil {
			return nil, err
		}
		out.Insert(adj)
	}
	return out, nil
}

func parseRow(rec []string, cols map[string]int) (domain.Adjustment, error) {
	field := func(name string) string {
		if idx, ok := cols[name]; ok && idx < len(rec) {
			return strings.TrimSpace(rec[idx])
		}
		return ""
	}

	assetID, err := strconv.ParseInt(field("asset_id"), 10, 64)
	if err != nil {
		return domain.Adjustment{}, errs.Wrap(errs.InvalidData, err, "adjustments: parse asset_id")
	}
	eff, err := parseDate(field("effective_date"))
	if err != nil {
		return domain.Adjustment{}, errs.Wrap(errs.InvalidData, err, "adjustments: parse effective_date")
	}

	adj := domain.Adjustment{
		AssetID:       domain.AssetID(assetID),
		EffectiveDate: eff,
		Kind:          domain.AdjustmentKind(field("kind")),
	}
	if v := field("ratio"); v != "" {
		adj.Ratio, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.Adjustment{}, errs.Wrap(errs.InvalidData, err, "adjustments: parse ratio")
		}
	}
	if v := field("amount"); v != "" {
		adj.Amount, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.Adjustment{}, errs.Wrap(errs.InvalidData, err, "adjustments: parse amount")
		}
	}
	if v := field("pay_kind"); v != "" {
		adj.PayKind = domain.DividendPayKind(v)
	}
	if v := field("target_asset_id"); v != "" {
		tid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.Adjustment{}, errs.Wrap(errs.InvalidData, err, "adjustments: parse target_asset_id")
		}
		adj.TargetAssetID = domain.AssetID(tid)
	}
	if v := field("new_asset_id"); v != "" {
		nid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.Adjustment{}, errs.Wrap(errs.InvalidData, err, "adjustments: parse new_asset_id")
		}
		adj.NewAssetID = domain.AssetID(nid)
	}
	return adj, nil
}

func parseDate(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// GetAdjustments returns every adjustment for asset with start <= eff <= end.
func (r *Reader) GetAdjustments(_ context.Context, asset domain.AssetID, start, end time.Time) ([]domain.Adjustment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byAsset[asset]
	lo := sort.Search(len(list), func(i int) bool { return !list[i].EffectiveDate.Before(start) })
	hi := sort.Search(len(list), func(i int) bool { return list[i].EffectiveDate.After(end) })
	if lo >= hi {
		return nil, nil
	}
	out := make([]domain.Adjustment, hi-lo)
	copy(out, list[lo:hi])
	return out, nil
}

// ApplyAsOf mutates bar in place, applying every adjustment on record for
// asset whose AppliesTo(bar.Timestamp, asOf) holds, in chronological
// order. Applying the same asOf twice to an already-adjusted bar is not
// idempotent by construction — callers must always start from the raw
// bar, which is how DataPortal and History invoke this.
func (r *Reader) ApplyAsOf(_ context.Context, bar *domain.Bar, asset domain.AssetID, asOf time.Time) error {
	r.mu.RLock()
	list := r.byAsset[asset]
	applicable := make([]domain.Adjustment, 0, len(list))
	for _, adj := range list {
		if adj.AppliesTo(bar.Timestamp, asOf) {
			applicable = append(applicable, adj)
		}
	}
	r.mu.RUnlock()

	sort.Slice(applicable, func(i, j int) bool {
		return applicable[i].EffectiveDate.Before(applicable[j].EffectiveDate)
	})
	for _, adj := range applicable {
		adj.Apply(bar)
	}
	return nil
}
