// Package blotter tracks open orders, matches them against incoming bars
// under a slippage/commission model, and emits the resulting
// Transactions.
package blotter

import (
	"math"

	"github.com/alejandrodnm/backalpha/internal/domain"
)

// SlippageModel decides how much of an order fills against a bar, and at
// what price, given the volume already consumed against that asset this
// bar (remainingBudget is the bar's volume minus what earlier orders on
// the same asset already filled this bar; VolumeShareSlippage uses it to
// keep the combined fills within its volume limit).
type SlippageModel interface {
	Fill(order domain.Order, bar domain.Bar, remainingBudget float64) (qty, price float64)
}

// NoSlippage fills the full requested quantity at the bar's close.
// Testing only.
type NoSlippage struct{}

func (NoSlippage) Fill(order domain.Order, bar domain.Bar, _ float64) (float64, float64) {
	return order.RemainingQty(), bar.Close
}

// FixedBasisPointsSlippage moves price by a fixed number of basis points
// against the trader: price = close * (1 + bps/1e4) for buys, close *
// (1 - bps/1e4) for sells.
type FixedBasisPointsSlippage struct {
	BPS float64
}

func (s FixedBasisPointsSlippage) Fill(order domain.Order, bar domain.Bar, _ float64) (float64, float64) {
	adj := s.BPS / 1e4
	price := bar.Close
	if order.Side == domain.Buy {
		price *= 1 + adj
	} else {
		price *= 1 - adj
	}
	return order.RemainingQty(), price
}

// VolumeShareSlippage caps the fillable quantity at volume_limit * bar
// volume (shared across every order against the asset this bar via
// remainingBudget) and moves price by price_impact * (fillable/volume)^2.
type VolumeShareSlippage struct {
	VolumeLimit float64 // default 0.025
	PriceImpact float64 // default 0.1
}

// NewVolumeShareSlippage returns a VolumeShareSlippage with the usual
// documented defaults.
func NewVolumeShareSlippage() VolumeShareSlippage {
	return VolumeShareSlippage{VolumeLimit: 0.025, PriceImpact: 0.1}
}

func (s VolumeShareSlippage) Fill(order domain.Order, bar domain.Bar, remainingBudget float64) (float64, float64) {
	if bar.Volume <= 0 {
		return 0, 0
	}
	// Whatever earlier orders filled this bar (bar.Volume -
	// remainingBudget) comes out of the one shared VolumeLimit allowance.
	budgetCap := s.VolumeLimit*bar.Volume - (bar.Volume - remainingBudget)
	fillable := math.Min(order.RemainingQty(), budgetCap)
	if fillable <= 0 {
		return 0, 0
	}
	impact := s.PriceImpact * math.Pow(fillable/bar.Volume, 2)
	price := bar.Close
	if order.Side == domain.Buy {
		price *= 1 + impact
	} else {
		price *= 1 - impact
	}
	return fillable, price
}

// LinearImpact moves price linearly with order size relative to bar
// volume: impact = coef * (qty / bar.volume).
type LinearImpact struct {
	Coef float64
}

func (s LinearImpact) Fill(order domain.Order, bar domain.Bar, _ float64) (float64, float64) {
	qty := order.RemainingQty()
	if bar.Volume <= 0 {
		return 0, 0
	}
	impact := s.Coef * (qty / bar.Volume)
	price := bar.Close
	if order.Side == domain.Buy {
		price *= 1 + impact
	} else {
		price *= 1 - impact
	}
	return qty, price
}

// SquareRootImpact moves price with the square root of relative order
// size: impact = coef * sqrt(qty / bar.volume).
type SquareRootImpact struct {
	Coef float64
}

func (s SquareRootImpact) Fill(order domain.Order, bar domain.Bar, _ float64) (float64, float64) {
	qty := order.RemainingQty()
	if bar.Volume <= 0 {
		return 0, 0
	}
	impact := s.Coef * math.Sqrt(qty/bar.Volume)
	price := bar.Close
	if order.Side == domain.Buy {
		price *= 1 + impact
	} else {
		price *= 1 - impact
	}
	return qty, price
}
