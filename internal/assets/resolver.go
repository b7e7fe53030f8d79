// Package assets provides an in-memory ports.AssetResolver: a reference
// implementation of the external asset-metadata collaborator, backed by
// a map-backed, mutex-guarded store.
package assets

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
)

// symbolEntry is one point-in-time symbol-history record:
// (sid, symbol, valid_from, valid_to?).
type symbolEntry struct {
	assetID  domain.AssetID
	symbol   string
	validFrom time.Time
	validTo   *time.Time
}

// Resolver is an in-memory, case-insensitive AssetResolver.
type Resolver struct {
	mu      sync.RWMutex
	byID    map[domain.AssetID]domain.Asset
	symbols []symbolEntry
}

// New creates an empty Resolver.
func New() *Resolver {
	return &Resolver{byID: make(map[domain.AssetID]domain.Asset)}
}

// InsertAsset registers an asset and its symbol, valid from StartDate
// until EndDate (open-ended when EndDate is nil).
// Re-inserting the same ID overwrites the asset record.
func (r *Resolver) InsertAsset(_ context.Context, asset domain.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[asset.ID] = asset
	r.symbols = append(r.symbols, symbolEntry{
		assetID:   asset.ID,
		symbol:    strings.ToUpper(asset.Symbol),
		validFrom: asset.StartDate,
		validTo:   asset.EndDate,
	})
	return nil
}

// RetrieveAsset looks up an asset by its stable surrogate key.
func (r *Resolver) RetrieveAsset(_ context.Context, id domain.AssetID) (domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return domain.Asset{}, errs.New(errs.AssetNotFound, "asset id %d", id)
	}
	return a, nil
}

// LookupSymbol resolves a ticker to an Asset, case-insensitively and
// point-in-time if asOf is given.
func (r *Resolver) LookupSymbol(_ context.Context, symbol string, asOf *time.Time) (domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target := strings.ToUpper(symbol)

	var candidates []domain.AssetID
	for _, e := range r.symbols {
		if e.symbol != target {
			continue
		}
		if asOf != nil {
			if asOf.Before(e.validFrom) {
				continue
			}
			if e.validTo != nil && asOf.After(*e.validTo) {
				continue
			}
		}
		candidates = append(candidates, e.assetID)
	}
	if len(candidates) == 0 {
		return domain.Asset{}, errs.New(errs.SymbolNotFound, "symbol %q", symbol)
	}
	// Most recent entry wins when more than one record matches.
	return r.byID[candidates[len(candidates)-1]], nil
}

// LookupSymbols resolves a batch of tickers, failing on the first miss.
func (r *Resolver) LookupSymbols(ctx context.Context, symbols []string, asOf *time.Time) ([]domain.Asset, error) {
	out := make([]domain.Asset, 0, len(symbols))
	for _, s := range symbols {
		a, err := r.LookupSymbol(ctx, s, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// GetAssetsByType returns every registered asset of the given type.
func (r *Resolver) GetAssetsByType(_ context.Context, t domain.AssetType) ([]domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Asset
	for _, a := range r.byID {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out, nil
}
