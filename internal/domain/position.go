package domain

import (
	"time"

	"github.com/alejandrodnm/backalpha/internal/errs"
)

// CostBasisMethod selects how Position consumes lots on a sell.
type CostBasisMethod string

const (
	FIFO CostBasisMethod = "fifo"
	LIFO CostBasisMethod = "lifo"
	Avg  CostBasisMethod = "average"
)

// Lot is a unit of shares acquired at a specific cost basis and time.
type Lot struct {
	Qty          float64
	CostBasisPS  float64
	AcquiredTS   time.Time
	TxnID        string
}

// TotalCost is qty * cost_basis_per_share.
func (l Lot) TotalCost() float64 { return l.Qty * l.CostBasisPS }

// Position is the authoritative per-asset holding: an ordered queue of
// lots plus the derived average cost. Invariant: sum(lot.qty) == qty.
type Position struct {
	AssetID      AssetID
	Qty          float64
	Lots         []Lot
	AverageCost  float64
	Method       CostBasisMethod
	RealizedPnL  float64
	LastPrice    float64
}

// NewPosition creates an empty position with a fixed cost-basis method.
// The method cannot be changed for the lifetime of the position.
func NewPosition(assetID AssetID, method CostBasisMethod) *Position {
	return &Position{AssetID: assetID, Method: method}
}

// Buy appends a new lot and recomputes the weighted average cost.
func (p *Position) Buy(qty, price float64, ts time.Time, txnID string) {
	if qty <= 0 {
		return
	}
	totalCost := p.Qty*p.AverageCost + qty*price
	p.Qty += qty
	if p.Qty > 0 {
		p.AverageCost = totalCost / p.Qty
	}
	p.Lots = append(p.Lots, Lot{Qty: qty, CostBasisPS: price, AcquiredTS: ts, TxnID: txnID})
}

// Sell consumes lots per Method and returns the realized P&L from this
// sale. Refuses to sell more than the position holds (no implicit
// shorting via overfill).
func (p *Position) Sell(qty, price float64) (float64, error) {
	if qty <= 0 {
		return 0, nil
	}
	if qty > p.Qty+1e-9 {
		return 0, errs.New(errs.Invariant, "sell %.8f exceeds position qty %.8f for asset %d", qty, p.Qty, p.AssetID)
	}

	var realized float64
	remaining := qty

	switch p.Method {
	case FIFO:
		for remaining > 1e-12 && len(p.Lots) > 0 {
			lot := &p.Lots[0]
			if lot.Qty <= remaining {
				realized += lot.Qty * (price - lot.CostBasisPS)
				remaining -= lot.Qty
				p.Lots = p.Lots[1:]
			} else {
				realized += remaining * (price - lot.CostBasisPS)
				lot.Qty -= remaining
				remaining = 0
			}
		}
	case LIFO:
		for remaining > 1e-12 && len(p.Lots) > 0 {
			last := len(p.Lots) - 1
			lot := &p.Lots[last]
			if lot.Qty <= remaining {
				realized += lot.Qty * (price - lot.CostBasisPS)
				remaining -= lot.Qty
				p.Lots = p.Lots[:last]
			} else {
				realized += remaining * (price - lot.CostBasisPS)
				lot.Qty -= remaining
				remaining = 0
			}
		}
	case Avg:
		realized = qty * (price - p.AverageCost)
		if p.Qty > 0 {
			ratio := qty / p.Qty
			kept := p.Lots[:0]
			for _, lot := range p.Lots {
				lot.Qty *= 1 - ratio
				if lot.Qty > 1e-9 {
					kept = append(kept, lot)
				}
			}
			p.Lots = kept
		}
	}

	p.Qty -= qty
	if p.Qty < 1e-9 {
		p.Qty = 0
		p.AverageCost = 0
		p.Lots = nil
	}
	p.RealizedPnL += realized
	return realized, nil
}

// UnrealizedPnL is qty * (price - average_cost).
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.Qty * (price - p.AverageCost)
}

// MarketValue is qty * price, marked at the given price.
func (p *Position) MarketValue(price float64) float64 {
	return p.Qty * price
}

// Mark updates LastPrice, used for the portfolio-level mark step.
func (p *Position) Mark(price float64) {
	p.LastPrice = price
}

// LotQtySum returns the sum of lot quantities, for invariant checks
// (should always equal Qty).
func (p *Position) LotQtySum() float64 {
	var sum float64
	for _, l := range p.Lots {
		sum += l.Qty
	}
	return sum
}
