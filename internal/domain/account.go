package domain

// Account is a pure derivation from Portfolio, recomputed every mark.
// Long/short exposure split is needed for NetLeverage; it is supplied by
// the caller (the engine tracks signed market value per position).
type Account struct {
	SettledCash            float64
	TotalPositionsExposure float64
	NetLiquidation         float64
	InitialMargin          float64
	MaintenanceMargin      float64
	BuyingPower            float64
	ExcessLiquidity        float64
	Cushion                float64
	Leverage               float64
	NetLeverage            float64
}

// DeriveAccount computes the Account snapshot from a Portfolio and the
// long/short market-value split across positions (needed only for
// NetLeverage; everything else uses |exposure|).
func DeriveAccount(p *Portfolio, longValue, shortValue float64) Account {
	exposure := 0.0
	for _, pos := range p.PositionsByID {
		mv := pos.MarketValue(pos.LastPrice)
		if mv < 0 {
			exposure += -mv
		} else {
			exposure += mv
		}
	}

	a := Account{
		SettledCash:            p.Cash,
		TotalPositionsExposure: exposure,
		NetLiquidation:         p.PortfolioValue,
		InitialMargin:          0.5 * exposure,
		MaintenanceMargin:      0.25 * exposure,
	}

	equity := p.PortfolioValue
	bp := p.Cash + maxFloat(0, equity-a.InitialMargin)
	a.BuyingPower = bp

	excess := maxFloat(0, a.NetLiquidation-a.MaintenanceMargin)
	a.ExcessLiquidity = excess

	if a.NetLiquidation != 0 {
		a.Cushion = excess / a.NetLiquidation
		a.Leverage = exposure / a.NetLiquidation
		a.NetLeverage = (longValue - shortValue) / a.NetLiquidation
	}

	return a
}

// HasBuyingPower reports whether the account can absorb an additional
// required amount of capital.
func (a Account) HasBuyingPower(required float64) bool {
	return a.BuyingPower >= required
}

// WouldTriggerMarginCall reports whether adding additionalMargin would
// push excess liquidity below zero.
func (a Account) WouldTriggerMarginCall(additionalMargin float64) bool {
	return a.ExcessLiquidity-additionalMargin < 0
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
