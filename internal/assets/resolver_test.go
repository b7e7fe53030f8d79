package assets_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backalpha/internal/assets"
	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
)

func TestResolver_RetrieveAsset_NotFound(t *testing.T) {
	r := assets.New()
	_, err := r.RetrieveAsset(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AssetNotFound))
}

func TestResolver_LookupSymbol_CaseInsensitive(t *testing.T) {
	r := assets.New()
	ctx := context.Background()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.InsertAsset(ctx, domain.Asset{ID: 1, Symbol: "AAPL", Type: domain.Equity, StartDate: start}))

	a, err := r.LookupSymbol(ctx, "aapl", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetID(1), a.ID)

	_, err = r.LookupSymbol(ctx, "msft", nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.SymbolNotFound))
}

func TestResolver_LookupSymbol_PointInTime_MostRecentWins(t *testing.T) {
	r := assets.New()
	ctx := context.Background()
	jan := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	dec := time.Date(2020, 12, 1, 0, 0, 0, 0, time.UTC)

	// Symbol "X" was asset 1 until June, then reassigned to asset 2.
	require.NoError(t, r.InsertAsset(ctx, domain.Asset{ID: 1, Symbol: "X", Type: domain.Equity, StartDate: jan, EndDate: &jun}))
	require.NoError(t, r.InsertAsset(ctx, domain.Asset{ID: 2, Symbol: "X", Type: domain.Equity, StartDate: jun}))

	asOfMarch := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	a, err := r.LookupSymbol(ctx, "X", &asOfMarch)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetID(1), a.ID)

	a, err = r.LookupSymbol(ctx, "X", &dec)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetID(2), a.ID)
}

func TestResolver_LookupSymbols_FailsOnFirstMiss(t *testing.T) {
	r := assets.New()
	ctx := context.Background()
	require.NoError(t, r.InsertAsset(ctx, domain.Asset{ID: 1, Symbol: "AAPL", Type: domain.Equity, StartDate: time.Now()}))

	_, err := r.LookupSymbols(ctx, []string{"AAPL", "MSFT"}, nil)
	require.Error(t, err)
}

func TestResolver_GetAssetsByType(t *testing.T) {
	r := assets.New()
	ctx := context.Background()
	require.NoError(t, r.InsertAsset(ctx, domain.Asset{ID: 1, Symbol: "AAPL", Type: domain.Equity, StartDate: time.Now()}))
	require.NoError(t, r.InsertAsset(ctx, domain.Asset{ID: 2, Symbol: "ESZ0", Type: domain.Future, StartDate: time.Now()}))

	equities, err := r.GetAssetsByType(ctx, domain.Equity)
	require.NoError(t, err)
	require.Len(t, equities, 1)
	assert.Equal(t, domain.AssetID(1), equities[0].ID)
}
