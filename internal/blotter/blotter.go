package blotter

import (
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
)

// ModelPair is a (slippage, commission) pair overridden per asset class.
type ModelPair struct {
	Slippage   SlippageModel
	Commission CommissionModel
}

// Blotter stores open orders, a transaction log, and per-asset-class
// slippage/commission overrides, and matches orders against bars as the
// engine advances.
type Blotter struct {
	open         map[string]*domain.Order
	log          []domain.Transaction
	defaultPair  ModelPair
	overrides    map[domain.AssetType]ModelPair
	cancelPolicy CancelPolicy
	submitSeq    uint64
	locked       bool // true during initialize/before_trading_start
}

// New builds a Blotter with defaultPair used for any asset type lacking
// an override, and NeverCancel as the default cancel policy.
func New(defaultPair ModelPair) *Blotter {
	return &Blotter{
		open:         make(map[string]*domain.Order),
		overrides:    make(map[domain.AssetType]ModelPair),
		defaultPair:  defaultPair,
		cancelPolicy: NeverCancel{},
	}
}

// SetOverride installs a slippage/commission pair for one asset type.
func (b *Blotter) SetOverride(t domain.AssetType, pair ModelPair) { b.overrides[t] = pair }

// SetCancelPolicy replaces the blotter's cancel policy.
func (b *Blotter) SetCancelPolicy(p CancelPolicy) { b.cancelPolicy = p }

// Lock rejects further Submit calls — set while the engine is running
// initialize/before_trading_start.
func (b *Blotter) Lock() { b.locked = true }

// Unlock allows Submit again, once before_trading_start has completed.
func (b *Blotter) Unlock() { b.locked = false }

func (b *Blotter) pairFor(t domain.AssetType) ModelPair {
	if pair, ok := b.overrides[t]; ok {
		return pair
	}
	return b.defaultPair
}

// PairFor returns the slippage/commission pair currently in effect for
// t — the default pair if no override has been set. Used by
// algorithm.Context.SetSlippage/SetCommission to seed an override with
// the sibling model left unchanged.
func (b *Blotter) PairFor(t domain.AssetType) ModelPair { return b.pairFor(t) }

// Submit enqueues order, assigning it a monotonically increasing
// SubmitSeq used to break same-bar ties FIFO.
func (b *Blotter) Submit(order domain.Order) (domain.Order, error) {
	if b.locked {
		return domain.Order{}, errs.New(errs.OrderDuringInitialize, "blotter: cannot submit orders before trading starts")
	}
	if order.RequestedQty <= 1e-9 {
		return domain.Order{}, errs.New(errs.BadOrderParameters, "blotter: order quantity %g below epsilon", order.RequestedQty)
	}
	b.submitSeq++
	order.SubmitSeq = b.submitSeq
	order.Status = domain.OrderOpen
	b.open[order.ID] = &order
	return order, nil
}

// Cancel transitions order.ID to terminal Cancelled, if still open.
func (b *Blotter) Cancel(orderID string) error {
	order, ok := b.open[orderID]
	if !ok {
		return errs.New(errs.InvalidOrder, "blotter: unknown order %q", orderID)
	}
	order.Status = domain.OrderCancelled
	delete(b.open, orderID)
	return nil
}

// CurrentSeq returns the SubmitSeq assigned to the most recently
// submitted order (0 if none yet). The engine snapshots this before
// running handle_data so that ProcessBarUpTo can exclude orders
// submitted during the callback that's about to run, giving them their
// default next-bar fill.
func (b *Blotter) CurrentSeq() uint64 { return b.submitSeq }

// OpenOrders returns every currently open order, sorted by submission
// order.
func (b *Blotter) OpenOrders() []domain.Order {
	out := make([]domain.Order, 0, len(b.open))
	for _, o := range b.open {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmitSeq < out[j].SubmitSeq })
	return out
}

// SweepCancellations cancels every open order that fails the cancel
// policy as of ts, independent of whether a bar was delivered for its
// asset this tick. Run by the engine at SessionEnd so stale orders for
// assets that didn't trade today are still cleared.
func (b *Blotter) SweepCancellations(ts time.Time) []domain.Order {
	var cancelled []domain.Order
	for id, order := range b.open {
		if b.cancelPolicy.ShouldCancel(*order, ts) {
			order.Status = domain.OrderCancelled
			cancelled = append(cancelled, *order)
			delete(b.open, id)
		}
	}
	return cancelled
}

// ProcessBar matches every open order with a bar present in bars,
// oldest-submitted-first, applying per-asset-class slippage and
// commission, and returns the resulting transactions. Orders whose asset
// has no bar this tick stay open untouched. Assets that fail their
// cancel policy are cancelled before matching.
//
// ProcessBar matches every eligible open order regardless of when it was
// submitted. The engine uses this directly only when Options.SameBarFills
// is set; the default next-bar timing goes through ProcessBarUpTo.
func (b *Blotter) ProcessBar(ts time.Time, assetTypes map[domain.AssetID]domain.AssetType, bars map[domain.AssetID]domain.Bar) []domain.Transaction {
	return b.ProcessBarUpTo(ts, assetTypes, bars, math.MaxUint64)
}

// ProcessBarUpTo is ProcessBar restricted to orders with SubmitSeq <=
// maxSeq, so an order submitted during this tick's handle_data (whose
// seq exceeds the snapshot CurrentSeq taken before the callback ran)
// stays open and is eligible no earlier than the next tick's match step.
func (b *Blotter) ProcessBarUpTo(ts time.Time, assetTypes map[domain.AssetID]domain.AssetType, bars map[domain.AssetID]domain.Bar, maxSeq uint64) []domain.Transaction {
	orders := b.OpenOrders()
	var txns []domain.Transaction
	budgetByAsset := make(map[domain.AssetID]float64)

	for _, order := range orders {
		if order.SubmitSeq > maxSeq {
			continue
		}
		bar, ok := bars[order.Asset]
		if !ok {
			continue
		}

		if b.cancelPolicy.ShouldCancel(order, ts) {
			delete(b.open, order.ID)
			continue
		}

		if !activates(order, bar) {
			continue
		}

		budget, seeded := budgetByAsset[order.Asset]
		if !seeded {
			budget = bar.Volume
		}

		pair := b.pairFor(assetTypes[order.Asset])
		fillQty, fillPrice := pair.Slippage.Fill(order, bar, budget)
		if order.Type.Kind == domain.StopOrder {
			// A triggered stop executes at the conservative
			// max(stop,open)/min(stop,open) price rather than a
			// close-based slippage estimate.
			fillPrice = FillPriceForStop(order, bar)
		}
		fillQty, fillPrice = boundByLimit(order, fillQty, fillPrice)
		if fillQty <= 0 {
			continue
		}

		budgetByAsset[order.Asset] = budget - fillQty
		commission := pair.Commission.Commission(order, fillQty, fillPrice)

		signed := fillQty
		if order.Side == domain.Sell {
			signed = -fillQty
		}
		txn := domain.Transaction{
			AssetID:      order.Asset,
			OrderID:      order.ID,
			Timestamp:    ts,
			SignedAmount: signed,
			Price:        fillPrice,
			Commission:   commission,
			Side:         order.Side,
		}
		txns = append(txns, txn)

		live := b.open[order.ID]
		live.RecordFill(fillQty)
		if live.Status.Terminal() {
			delete(b.open, order.ID)
		}
	}
	return txns
}

// activates reports whether order's type triggers against bar, per the
// conservative activation rules:
// a Buy-Stop triggers iff bar.high >= stop; a Sell-Stop iff bar.low <=
// stop; a Buy-Limit iff bar.low <= limit; a Sell-Limit iff bar.high >=
// limit. Stop-limit orders require both legs.
func activates(order domain.Order, bar domain.Bar) bool {
	switch order.Type.Kind {
	case domain.MarketOrder:
		return true
	case domain.LimitOrder:
		return limitActivates(order, bar)
	case domain.StopOrder:
		return stopActivates(order, bar)
	case domain.StopLimitOrder:
		return stopActivates(order, bar) && limitActivates(order, bar)
	default:
		return false
	}
}

func limitActivates(order domain.Order, bar domain.Bar) bool {
	if order.Side == domain.Buy {
		return bar.Low <= order.Type.LimitPx
	}
	return bar.High >= order.Type.LimitPx
}

func stopActivates(order domain.Order, bar domain.Bar) bool {
	if order.Side == domain.Buy {
		return bar.High >= order.Type.StopPx
	}
	return bar.Low <= order.Type.StopPx
}

// boundByLimit caps a slippage model's fill price at the order's limit
// (if any): a triggered buy limit never pays more than LimitPx and a
// triggered sell limit never receives less. qty is returned unchanged;
// stop fill prices are set separately by FillPriceForStop.
func boundByLimit(order domain.Order, qty, price float64) (float64, float64) {
	switch order.Type.Kind {
	case domain.LimitOrder, domain.StopLimitOrder:
		if order.Side == domain.Buy && price > order.Type.LimitPx {
			return qty, order.Type.LimitPx
		}
		if order.Side == domain.Sell && price < order.Type.LimitPx {
			return qty, order.Type.LimitPx
		}
	}
	return qty, price
}

// FillPriceForStop returns the conservative stop-activation fill price:
// max(stop, open) for a buy, min(stop, open) for a sell.
func FillPriceForStop(order domain.Order, bar domain.Bar) float64 {
	if order.Side == domain.Buy {
		if order.Type.StopPx > bar.Open {
			return order.Type.StopPx
		}
		return bar.Open
	}
	if order.Type.StopPx < bar.Open {
		return order.Type.StopPx
	}
	return bar.Open
}
