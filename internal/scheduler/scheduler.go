// Package scheduler implements the "Smart" diff algorithm: it turns a
// current resting-order set plus a desired order book into a minimal
// ordered sequence of create/cancel actions, subject to chunking and side
// caps, grounded on the match-or-cancel reconciliation loop used for a
// single bid/ask pair and generalized to arbitrary price-point grids.
package scheduler

import (
	"sort"

	"github.com/shopspring/decimal"

	"mirrormaker/internal/market"
	"mirrormaker/internal/orderbook"
	"mirrormaker/pkg/types"
)

// Options configures one schedule() call.
type Options struct {
	Market types.MarketId

	// AskPoints/BidPoints are the price grids the desired book was built
	// on (after spread). An existing resting order whose price is not on
	// the grid is treated as divergent. A nil slice disables grid
	// alignment for that side (desired prices are matched directly).
	AskPoints []decimal.Decimal
	BidPoints []decimal.Decimal

	MaxAmountPerOrder decimal.Decimal // zero means unbounded

	LimitAsksBase  decimal.Decimal // zero means unbounded
	LimitBidsQuote decimal.Decimal // zero means unbounded

	PricePrecision  int32
	AmountTolerance decimal.Decimal // an amount delta greater than this forces a cancel/recreate

	OrderType types.OrderType
}

// Schedule diffs current against desired and returns the ordered action
// list: cancel asks, cancel bids, create asks (best-first), create bids
// (best-first).
func Schedule(current *market.OpenOrders, desired *orderbook.Orderbook, opts Options) []Action {
	cancelAsks, createAsks := diffSide(current, desired, types.Sell, opts)
	cancelBids, createBids := diffSide(current, desired, types.Buy, opts)

	createAsks = applyCap(createAsks, opts.LimitAsksBase, false)
	createBids = applyCap(createBids, opts.LimitBidsQuote, true)

	out := make([]Action, 0, len(cancelAsks)+len(cancelBids)+len(createAsks)+len(createBids))
	out = append(out, cancelAsks...)
	out = append(out, cancelBids...)
	out = append(out, createAsks...)
	out = append(out, createBids...)
	return out
}

type desiredLevel struct {
	price  decimal.Decimal
	amount decimal.Decimal
}

func diffSide(current *market.OpenOrders, desired *orderbook.Orderbook, side types.Side, opts Options) (cancels, creates []Action) {
	grid := opts.AskPoints
	if side == types.Buy {
		grid = opts.BidPoints
	}
	var gridKeys map[string]bool
	if grid != nil {
		gridKeys = make(map[string]bool, len(grid))
		for _, p := range grid {
			gridKeys[p.Round(opts.PricePrecision).String()] = true
		}
	}

	desiredByKey := make(map[string]desiredLevel)
	for _, lv := range desired.Levels(side) {
		key := lv.Price.Round(opts.PricePrecision).String()
		desiredByKey[key] = desiredLevel{price: lv.Price.Round(opts.PricePrecision), amount: lv.Amount}
	}

	covered := make(map[string]bool)
	tolerance := opts.AmountTolerance

	for _, order := range current.BySide(side) {
		key := order.PriceString
		if key == "" {
			key = order.Price.Round(opts.PricePrecision).String()
		}

		if gridKeys != nil && !gridKeys[key] {
			cancels = append(cancels, cancelAction(opts.Market, side, order, key))
			continue
		}
		want, ok := desiredByKey[key]
		if !ok {
			cancels = append(cancels, cancelAction(opts.Market, side, order, key))
			continue
		}
		diff := want.amount.Sub(order.Amount).Abs()
		if diff.GreaterThan(tolerance) {
			cancels = append(cancels, cancelAction(opts.Market, side, order, key))
			continue
		}
		covered[key] = true
	}

	type pricedLevel struct {
		key string
		lv  desiredLevel
	}
	pending := make([]pricedLevel, 0, len(desiredByKey))
	for key, lv := range desiredByKey {
		if covered[key] {
			continue
		}
		pending = append(pending, pricedLevel{key: key, lv: lv})
	}
	if side == types.Buy {
		sort.Slice(pending, func(i, j int) bool { return pending[i].lv.price.GreaterThan(pending[j].lv.price) })
	} else {
		sort.Slice(pending, func(i, j int) bool { return pending[i].lv.price.LessThan(pending[j].lv.price) })
	}

	for _, pl := range pending {
		creates = append(creates, chunkCreates(opts.Market, side, pl.lv.price, pl.lv.amount, opts.MaxAmountPerOrder, opts.OrderType)...)
	}
	return cancels, creates
}

func cancelAction(market types.MarketId, side types.Side, order types.Order, key string) Action {
	return Action{Type: ActionCancel, Market: market, Side: side, OrderID: order.ID, Price: key}
}

func chunkCreates(market types.MarketId, side types.Side, price, amount, maxPerOrder decimal.Decimal, orderType types.OrderType) []Action {
	if maxPerOrder.IsZero() || amount.LessThanOrEqual(maxPerOrder) {
		return []Action{{
			Type:   ActionCreate,
			Market: market,
			Side:   side,
			Order: types.Order{
				MarketID:    market,
				Price:       price,
				PriceString: price.String(),
				Amount:      amount,
				Side:        side,
				Type:        orderType,
			},
		}}
	}

	var out []Action
	remaining := amount
	for remaining.IsPositive() {
		chunk := maxPerOrder
		if remaining.LessThan(chunk) {
			chunk = remaining
		}
		out = append(out, Action{
			Type:   ActionCreate,
			Market: market,
			Side:   side,
			Order: types.Order{
				MarketID:    market,
				Price:       price,
				PriceString: price.String(),
				Amount:      chunk,
				Side:        side,
				Type:        orderType,
			},
		})
		remaining = remaining.Sub(chunk)
	}
	return out
}

// applyCap enforces a side cap over an ordered (best-first) list of create
// actions, truncating or dropping the furthest-from-top entries once the
// cap is reached. quoteCapped selects whether the cap is measured in
// quote (price*amount, used for bids) or base (amount, used for asks)
// terms.
func applyCap(creates []Action, limit decimal.Decimal, quoteCapped bool) []Action {
	if limit.IsZero() {
		return creates
	}
	remaining := limit
	out := make([]Action, 0, len(creates))
	for _, a := range creates {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		amount := a.Order.Amount
		var consumed decimal.Decimal
		if quoteCapped {
			notional := a.Order.Price.Mul(amount)
			if notional.LessThanOrEqual(remaining) {
				consumed = amount
				remaining = remaining.Sub(notional)
			} else {
				consumed = remaining.Div(a.Order.Price)
				remaining = decimal.Zero
			}
		} else {
			if amount.LessThanOrEqual(remaining) {
				consumed = amount
				remaining = remaining.Sub(amount)
			} else {
				consumed = remaining
				remaining = decimal.Zero
			}
		}
		if consumed.IsPositive() {
			a.Order.Amount = consumed
			out = append(out, a)
		}
	}
	return out
}
