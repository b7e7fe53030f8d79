package blotter

import "github.com/alejandrodnm/backalpha/internal/domain"

// CommissionModel computes the cash cost of one fill.
type CommissionModel interface {
	Commission(order domain.Order, qty, price float64) float64
}

// ZeroCommission charges nothing.
type ZeroCommission struct{}

func (ZeroCommission) Commission(_ domain.Order, _, _ float64) float64 { return 0 }

// PerTrade charges a flat amount once per order regardless of size —
// tracked here by charging only on an order's first fill.
type PerTrade struct {
	Amount float64
}

func (c PerTrade) Commission(order domain.Order, _, _ float64) float64 {
	if order.FilledQty == 0 {
		return c.Amount
	}
	return 0
}

// PerShare charges rate per share filled, floored at MinTradeCost.
type PerShare struct {
	Rate          float64
	MinTradeCost  float64
}

func (c PerShare) Commission(_ domain.Order, qty, _ float64) float64 {
	cost := c.Rate * qty
	if cost < c.MinTradeCost {
		return c.MinTradeCost
	}
	return cost
}

// PerDollar charges rate times the fill's notional value.
type PerDollar struct {
	Rate float64
}

func (c PerDollar) Commission(_ domain.Order, qty, price float64) float64 {
	return c.Rate * qty * price
}

// TieredBreakpoint is one (threshold on the order's cumulative filled
// shares, per-share rate) pair in a TieredCommission schedule.
type TieredBreakpoint struct {
	CumulativeShares float64
	Rate             float64
}

// TieredCommission charges a per-share rate that decreases as the
// order's cumulative filled quantity crosses each breakpoint,
// Breakpoints must be sorted ascending by CumulativeShares.
type TieredCommission struct {
	Breakpoints []TieredBreakpoint
}

func (c TieredCommission) Commission(order domain.Order, qty, _ float64) float64 {
	cumulative := order.FilledQty + qty
	rate := 0.0
	for _, bp := range c.Breakpoints {
		if cumulative >= bp.CumulativeShares {
			rate = bp.Rate
		}
	}
	return rate * qty
}
