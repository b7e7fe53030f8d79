package account_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backalpha/internal/account"
	"github.com/alejandrodnm/backalpha/internal/domain"
)

func TestTracker_Recompute_DerivesFromPositions(t *testing.T) {
	portfolio := domain.NewPortfolio(100000)
	pos := portfolio.Position(1, domain.FIFO)
	pos.Buy(100, 50, time.Now(), "t1")
	portfolio.Mark(time.Now(), map[domain.AssetID]float64{1: 60})

	tr := account.NewTracker(portfolio)
	snap := tr.Recompute()

	require.NotZero(t, snap.NetLiquidation)
	assert.InDelta(t, 6000.0, snap.TotalPositionsExposure, 1e-9)
	assert.InDelta(t, 3000.0, snap.InitialMargin, 1e-9)
	assert.InDelta(t, 1500.0, snap.MaintenanceMargin, 1e-9)
	assert.Equal(t, snap, tr.Current())
}

func TestTracker_HasBuyingPower_ReflectsLastRecompute(t *testing.T) {
	portfolio := domain.NewPortfolio(1000)
	tr := account.NewTracker(portfolio)
	portfolio.Mark(time.Now(), nil)
	tr.Recompute()

	assert.True(t, tr.HasBuyingPower(500))
	assert.False(t, tr.HasBuyingPower(5000))
}
