// Package plugins provides the pure balance-limit functions a strategy
// consults before sizing its target and source books. Each plugin is a
// pure function of an order book and a balance snapshot; it owns no state
// and performs no I/O, mirroring the headroom-computation style of a
// RemainingBudget calculation but generalized from a single risk budget to
// the spec's {target_limit, source_limit} contract.
package plugins

import (
	"github.com/shopspring/decimal"

	"mirrormaker/internal/orderbook"
	"mirrormaker/pkg/types"
)

// Limits is what a balance-limit plugin reports for one account/market
// pair: the top of book it saw, and how much volume the account's
// balances allow quoting on each side.
type Limits struct {
	TopBidPrice  decimal.Decimal
	TopAskPrice  decimal.Decimal
	LimitInBase  decimal.Decimal // max base volume quotable on asks
	LimitInQuote decimal.Decimal // max quote volume quotable on bids
}

// Func computes Limits from a market's current book and an account's
// balance snapshot.
type Func func(ob *orderbook.Orderbook, balances map[string]types.Balance, base, quote string) Limits

// BalanceLimit is the default plugin: it caps ask-side (base-selling)
// volume at the free base balance, and bid-side (quote-spending) volume at
// the free quote balance. A missing currency yields a zero limit on that
// side, which AdjustVolumeSimple turns into an empty side rather than an
// error.
func BalanceLimit(ob *orderbook.Orderbook, balances map[string]types.Balance, base, quote string) Limits {
	lim := Limits{
		LimitInBase:  decimal.Zero,
		LimitInQuote: decimal.Zero,
	}
	if bid, ok := ob.Best(types.Buy); ok {
		lim.TopBidPrice = bid.Price
	}
	if ask, ok := ob.Best(types.Sell); ok {
		lim.TopAskPrice = ask.Price
	}
	if b, ok := balances[base]; ok {
		lim.LimitInBase = b.Free
	}
	if q, ok := balances[quote]; ok {
		lim.LimitInQuote = q.Free
	}
	return lim
}
