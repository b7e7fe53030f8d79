// Package ledger records transactions against a Portfolio's positions,
// maintaining a queryable fill history on top of domain's lot-based
// cost-basis accounting.
package ledger

import (
	"sort"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
)

// Ledger wraps a Portfolio's positions and keeps an append-only
// transaction log, indexed globally and per asset for date-range
// reconciliation queries.
type Ledger struct {
	portfolio  *domain.Portfolio
	method     domain.CostBasisMethod
	log        []domain.Transaction
	byAsset    map[domain.AssetID][]int // indices into log, insertion order
	wins       int
	losses     int
	realized   float64
}

// New builds a Ledger over portfolio, using method for every position it
// creates. The method is fixed for the lifetime of the ledger — existing
// positions already carry their own method per domain.Position.
func New(portfolio *domain.Portfolio, method domain.CostBasisMethod) *Ledger {
	return &Ledger{
		portfolio: portfolio,
		method:    method,
		byAsset:   make(map[domain.AssetID][]int),
	}
}

// RecordTransaction applies txn to the underlying position (Buy or Sell,
// per txn.Side), appends it to the log, and tracks win/loss counts for
// GetPnLSummary. Returns the realized P&L from this fill (zero for
// buys).
func (l *Ledger) RecordTransaction(txn domain.Transaction) (float64, error) {
	pos := l.portfolio.Position(txn.AssetID, l.method)

	var realized float64
	switch txn.Side {
	case domain.Buy:
		pos.Buy(txn.Qty(), txn.Price, txn.Timestamp, txn.ID)
	case domain.Sell:
		var err error
		realized, err = pos.Sell(txn.Qty(), txn.Price)
		if err != nil {
			return 0, errs.Wrap(errs.Invariant, err, "ledger: recording transaction %s", txn.ID)
		}
	default:
		return 0, errs.New(errs.Invariant, "ledger: unknown transaction side %q", txn.Side)
	}

	l.portfolio.Cash += txn.CashDelta()
	l.portfolio.PrunePosition(txn.AssetID)

	idx := len(l.log)
	l.log = append(l.log, txn)
	l.byAsset[txn.AssetID] = append(l.byAsset[txn.AssetID], idx)

	if txn.Side == domain.Sell {
		l.realized += realized
		switch {
		case realized > 0:
			l.wins++
		case realized < 0:
			l.losses++
		}
	}

	return realized, nil
}

// ApplyCorporateAction restates an open position for a Split or cash
// Dividend crossing its effective date during the run. A Split scales
// quantity and every lot's cost basis by Ratio (and LastPrice, so the
// position stays continuous with the unadjusted go-forward price feed —
// DataPortal's retroactive bar adjustment only ever touches historical
// reads, never the live current bar, so the engine applies the economic
// effect here instead). A cash Dividend credits qty*Amount to the
// portfolio's cash. Merger and SpinOff are not yet handled here — no
// SPEC_FULL.md scenario exercises a cross-asset corporate action inside
// a running position, so wiring them would be unexercised code.
func (l *Ledger) ApplyCorporateAction(asset domain.AssetID, adj domain.Adjustment) error {
	pos, ok := l.portfolio.PositionsByID[asset]
	if !ok || pos.Qty == 0 {
		return nil
	}

	switch adj.Kind {
	case domain.Split:
		if adj.Ratio == 0 {
			return errs.New(errs.InvalidData, "ledger: split adjustment for asset %d has zero ratio", asset)
		}
		pos.Qty *= adj.Ratio
		pos.AverageCost /= adj.Ratio
		pos.LastPrice /= adj.Ratio
		for i := range pos.Lots {
			pos.Lots[i].Qty *= adj.Ratio
			pos.Lots[i].CostBasisPS /= adj.Ratio
		}
	case domain.Dividend:
		if adj.PayKind == domain.CashDividend {
			l.portfolio.Cash += pos.Qty * adj.Amount
		}
	}
	return nil
}

// UnrealizedPnL sums qty*(price-avg_cost) across every open position,
// marking each at prices[asset] (positions absent from prices use their
// last-marked price).
func (l *Ledger) UnrealizedPnL(prices map[domain.AssetID]float64) float64 {
	var total float64
	for id, pos := range l.portfolio.PositionsByID {
		price := pos.LastPrice
		if px, ok := prices[id]; ok {
			price = px
		}
		total += pos.UnrealizedPnL(price)
	}
	return total
}

// PnLSummary is the aggregate performance snapshot returned by
// GetPnLSummary.
type PnLSummary struct {
	Realized   float64
	Unrealized float64
	Total      float64
	Wins       int
	Losses     int
	Trades     int
	WinRate    float64
}

// GetPnLSummary reports realized, unrealized, and total P&L plus
// win/loss/trade counts. Trades counts Sell fills with a non-zero
// realized P&L (wins + losses; a break-even sell is not counted) —
// win_rate is wins / (wins+losses), or zero if there are none.
func (l *Ledger) GetPnLSummary(prices map[domain.AssetID]float64) PnLSummary {
	unrealized := l.UnrealizedPnL(prices)
	closed := l.wins + l.losses
	summary := PnLSummary{
		Realized:   l.realized,
		Unrealized: unrealized,
		Total:      l.realized + unrealized,
		Wins:       l.wins,
		Losses:     l.losses,
		Trades:     closed,
	}
	if closed > 0 {
		summary.WinRate = float64(l.wins) / float64(closed)
	}
	return summary
}

// Transactions returns every recorded transaction, oldest first.
func (l *Ledger) Transactions() []domain.Transaction {
	out := make([]domain.Transaction, len(l.log))
	copy(out, l.log)
	return out
}

// TransactionsForAsset returns asset's transactions, oldest first.
func (l *Ledger) TransactionsForAsset(asset domain.AssetID) []domain.Transaction {
	idxs := l.byAsset[asset]
	out := make([]domain.Transaction, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, l.log[i])
	}
	return out
}

// TransactionsInRange returns every transaction with start <= ts < end,
// oldest first. Used for date-range reconciliation queries.
func (l *Ledger) TransactionsInRange(start, end time.Time) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, txn := range l.log {
		if !txn.Timestamp.Before(start) && txn.Timestamp.Before(end) {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
