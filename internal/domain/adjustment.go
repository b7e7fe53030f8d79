package domain

import "time"

// AdjustmentKind distinguishes the corporate-action types that mutate a
// bar's OHLC/volume on read.
type AdjustmentKind string

const (
	Split    AdjustmentKind = "split"
	Dividend AdjustmentKind = "dividend"
	Merger   AdjustmentKind = "merger"
	SpinOff  AdjustmentKind = "spinoff"
)

// DividendPayKind distinguishes cash vs. stock dividends.
type DividendPayKind string

const (
	CashDividend  DividendPayKind = "cash"
	StockDividend DividendPayKind = "stock"
)

// Adjustment is one corporate action effective on a given date for an
// asset. Only the fields relevant to Kind are populated:
//   - Split:    Ratio (new_shares / old_shares multiplier applied to volume;
//               price divides by Ratio)
//   - Dividend: Amount (cash) and PayKind
//   - Merger:   Ratio and TargetAssetID
//   - SpinOff:  Ratio and NewAssetID
type Adjustment struct {
	AssetID       AssetID
	EffectiveDate time.Time
	Kind          AdjustmentKind
	Ratio         float64
	Amount        float64
	PayKind       DividendPayKind
	TargetAssetID AssetID
	NewAssetID    AssetID
}

// AppliesTo reports whether this adjustment is in effect for a bar dated
// barTS as of asOf: bar.ts < eff <= as_of (strict lower bound — Open
// Question 4, resolved in favor of the source's test suite: a bar exactly
// at the effective date has not yet had the adjustment applied).
func (a Adjustment) AppliesTo(barTS, asOf time.Time) bool {
	return barTS.Before(a.EffectiveDate) && !a.EffectiveDate.After(asOf)
}

// Apply mutates bar in place per the adjustment kind. Adjustments compose
// multiplicatively (splits, mergers) or additively (cash dividends) in
// chronological order; callers apply them in effective-date order.
func (a Adjustment) Apply(bar *Bar) {
	switch a.Kind {
	case Split:
		if a.Ratio == 0 {
			return
		}
		bar.Open /= a.Ratio
		bar.High /= a.Ratio
		bar.Low /= a.Ratio
		bar.Close /= a.Ratio
		bar.Volume *= a.Ratio
	case Dividend:
		if a.PayKind == CashDividend {
			bar.Open -= a.Amount
			bar.High -= a.Amount
			bar.Low -= a.Amount
			bar.Close -= a.Amount
		}
	case Merger:
		if a.Ratio == 0 {
			return
		}
		bar.Open *= a.Ratio
		bar.High *= a.Ratio
		bar.Low *= a.Ratio
		bar.Close *= a.Ratio
		bar.Volume /= a.Ratio
	case SpinOff:
		if a.Ratio == 0 {
			return
		}
		bar.Open /= a.Ratio
		bar.High /= a.Ratio
		bar.Low /= a.Ratio
		bar.Close /= a.Ratio
	}
}
