package bundle

import (
	"context"
	"sort"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
)

// Contract is one expiring future in a ContractChain.
type Contract struct {
	AssetID    domain.AssetID
	Expiration time.Time
}

// ContractChain orders a future's successive expiring contracts.
type ContractChain struct {
	Contracts []Contract // must be sorted by Expiration ascending
}

// NewContractChain sorts contracts by expiration and returns the chain.
func NewContractChain(contracts []Contract) ContractChain {
	sorted := append([]Contract(nil), contracts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Expiration.Before(sorted[j].Expiration) })
	return ContractChain{Contracts: sorted}
}

// RollRule selects when the chain rolls from the front contract to the
// next one.
type RollRule interface {
	ShouldRoll(ts time.Time, front, next Contract, frontBar, nextBar domain.Bar) bool
}

// CalendarDaysBeforeExpiry rolls N calendar days before the front
// contract's expiration.
type CalendarDaysBeforeExpiry struct{ Days int }

func (r CalendarDaysBeforeExpiry) ShouldRoll(ts time.Time, front, _ Contract, _, _ domain.Bar) bool {
	return !ts.Before(front.Expiration.AddDate(0, 0, -r.Days))
}

// VolumeFlip rolls once the next contract's volume exceeds the front
// contract's.
type VolumeFlip struct{}

func (VolumeFlip) ShouldRoll(_ time.Time, _, _ Contract, frontBar, nextBar domain.Bar) bool {
	return nextBar.Volume > frontBar.Volume
}

// OpenInterestFlip is identical in shape to VolumeFlip but documents
// intent for open-interest-driven rolls when a reader supplies OI instead
// of volume in the Bar.Volume slot (open interest is out of the Bar data
// model; callers that track it populate a parallel series and compare
// there instead of through this type in that case).
type OpenInterestFlip struct{}

func (OpenInterestFlip) ShouldRoll(_ time.Time, _, _ Contract, frontOI, nextOI domain.Bar) bool {
	return nextOI.Volume > frontOI.Volume
}

// AdjustmentStyle is how a continuous-futures series stitches price
// discontinuities across a roll.
type AdjustmentStyle string

const (
	AdjustmentNone          AdjustmentStyle = "none"
	AdjustmentPanamaCanal   AdjustmentStyle = "panama_canal" // multiplicative, cumulative
	AdjustmentBackwardRatio AdjustmentStyle = "backward_ratio"
	AdjustmentAdditive      AdjustmentStyle = "additive"
)

// ContinuousFutureReader synthesizes a perpetual series from a
// ContractChain, a RollRule, and an AdjustmentStyle. The adjustment ratio
// is recomputed at each roll as next.close / current.close (multiplicative
// styles) or next.close - current.close (additive), and is applied
// forward: bars before a roll keep their raw contract price, bars from
// the roll onward are scaled by the cumulative ratio so the stitched
// series has no discontinuity at the roll date.
type ContinuousFutureReader struct {
	underlying ports_BarReader
	chain      ContractChain
	roll       RollRule
	style      AdjustmentStyle
}

// ports_BarReader is a structural alias kept local to avoid an import
// cycle with internal/ports from within internal/bundle (bundle
// implements ports.BarReader; this field only needs its method set).
type ports_BarReader interface {
	GetBar(ctx context.Context, asset domain.AssetID, ts time.Time) (domain.Bar, error)
	GetBars(ctx context.Context, asset domain.AssetID, start, end time.Time) ([]domain.Bar, error)
}

// NewContinuousFutureReader composes a perpetual reader over underlying
// (typically a DailyReader) using chain, roll, and style.
func NewContinuousFutureReader(underlying ports_BarReader, chain ContractChain, roll RollRule, style AdjustmentStyle) *ContinuousFutureReader {
	return &ContinuousFutureReader{underlying: underlying, chain: chain, roll: roll, style: style}
}

// Series synthesizes the adjusted perpetual series across [start, end],
// rolling through the chain and applying the configured AdjustmentStyle
// cumulatively at each roll boundary.
func (r *ContinuousFutureReader) Series(ctx context.Context, start, end time.Time) ([]domain.Bar, error) {
	if len(r.chain.Contracts) == 0 {
		return nil, errs.New(errs.InvalidData, "continuous future: empty contract chain")
	}

	var out []domain.Bar
	ratio := 1.0 // cumulative multiplicative adjustment
	offset := 0.0 // cumulative additive adjustment
	front := 0
	windowStart := start

	for front < len(r.chain.Contracts) {
		current := r.chain.Contracts[front]
		bars, err := r.underlying.GetBars(ctx, current.AssetID, windowStart, end)
		if err != nil {
			return nil, err
		}

		rolled := false
		for _, b := range bars {
			adjusted := b
			r.applyCumulative(&adjusted, ratio, offset)
			out = append(out, adjusted)

			if front+1 < len(r.chain.Contracts) {
				next := r.chain.Contracts[front+1]
				nextBar, err := r.underlying.GetBar(ctx, next.AssetID, b.Timestamp)
				if err == nil && r.roll.ShouldRoll(b.Timestamp, current, next, b, nextBar) {
					ratio, offset = r.rollAdjustment(ratio, offset, b.Close, nextBar.Close)
					front++
					windowStart = b.Timestamp.Add(time.Nanosecond)
					rolled = true
					break
				}
			}
		}
		if !rolled {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *ContinuousFutureReader) rollAdjustment(ratio, offset, currentClose, nextClose float64) (float64, float64) {
	switch r.style {
	case AdjustmentPanamaCanal, AdjustmentBackwardRatio:
		if currentClose != 0 {
			ratio *= nextClose / currentClose
		}
		return ratio, offset
	case AdjustmentAdditive:
		return ratio, offset + (nextClose - currentClose)
	default:
		return ratio, offset
	}
}

func (r *ContinuousFutureReader) applyCumulative(b *domain.Bar, ratio, offset float64) {
	switch r.style {
	case AdjustmentPanamaCanal, AdjustmentBackwardRatio:
		b.Open *= ratio
		b.High *= ratio
		b.Low *= ratio
		b.Close *= ratio
	case AdjustmentAdditive:
		b.Open += offset
		b.High += offset
		b.Low += offset
		b.Close += offset
	}
}
