// Package account recomputes the margin/buying-power snapshot from a
// domain.Portfolio at every mark step. The accounting
// itself lives on domain.Account/domain.DeriveAccount; this package
// owns when it gets recomputed and the long/short exposure split that
// feeds NetLeverage.
package account

import "github.com/alejandrodnm/backalpha/internal/domain"

// Tracker holds the most recently derived Account snapshot for a
// Portfolio, recomputed each time the engine marks positions.
type Tracker struct {
	portfolio *domain.Portfolio
	current   domain.Account
}

// NewTracker wraps portfolio, with a zeroed Account until the first
// Recompute.
func NewTracker(portfolio *domain.Portfolio) *Tracker {
	return &Tracker{portfolio: portfolio}
}

// Recompute re-derives the Account snapshot from the portfolio's current
// positions and caches it. Positions never go short under this engine's
// lot-based accounting (domain.Position.Sell refuses to oversell), so
// every open position contributes to long exposure and short exposure is
// always zero; NetLeverage therefore equals Leverage.
func (t *Tracker) Recompute() domain.Account {
	var longValue float64
	for _, pos := range t.portfolio.PositionsByID {
		longValue += pos.MarketValue(pos.LastPrice)
	}
	t.current = domain.DeriveAccount(t.portfolio, longValue, 0)
	return t.current
}

// Current returns the snapshot from the last Recompute, without
// recomputing it.
func (t *Tracker) Current() domain.Account { return t.current }

// HasBuyingPower reports whether the last-computed snapshot can absorb
// an additional required amount of capital.
func (t *Tracker) HasBuyingPower(required float64) bool {
	return t.current.HasBuyingPower(required)
}

// WouldTriggerMarginCall reports whether adding additionalMargin to the
// last-computed snapshot would push excess liquidity below zero.
func (t *Tracker) WouldTriggerMarginCall(additionalMargin float64) bool {
	return t.current.WouldTriggerMarginCall(additionalMargin)
}
