package main

import (
	"fmt"

	"github.com/alejandrodnm/backalpha/internal/algorithm"
	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/engine"
)

// buyHoldShares is how many shares of each universe asset buyAndHold
// buys the first time it sees a bar for that asset.
const buyHoldShares = 10.0

// buyAndHold is the reference strategy wired into the CLI: on the first
// bar it sees for each asset, buy buyHoldShares and then never trade
// again. It exists to exercise the engine end to end,
// not as investment advice.
func buyAndHold(universe []domain.AssetID) engine.Callbacks {
	bought := make(map[domain.AssetID]bool, len(universe))

	return engine.Callbacks{
		Initialize: func(ctx *algorithm.Context) error {
			return nil
		},
		HandleData: func(ctx *algorithm.Context, data engine.BarData) error {
			for _, asset := range universe {
				if bought[asset] {
					continue
				}
				if _, ok := data.Bar(asset); !ok {
					continue
				}
				if _, err := ctx.Order(asset, buyHoldShares); err != nil {
					return fmt.Errorf("buy_and_hold: order asset %d: %w", asset, err)
				}
				bought[asset] = true
			}
			return nil
		},
		Analyze: func(ctx *algorithm.Context) error {
			return nil
		},
	}
}

// strategyByName resolves the -strategy flag to a Callbacks builder.
// Real use of this engine links a user-authored strategy package instead
// of selecting one by name; this registry exists only so the CLI has
// something runnable out of the box.
func strategyByName(name string, universe []domain.AssetID) (engine.Callbacks, error) {
	switch name {
	case "", "buy_and_hold", "buyhold":
		return buyAndHold(universe), nil
	default:
		return engine.Callbacks{}, fmt.Errorf("unknown strategy %q (known: buy_and_hold)", name)
	}
}
