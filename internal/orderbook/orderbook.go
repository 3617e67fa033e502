// Package orderbook implements the side-indexed order book model and its
// algebra: aggregation onto externally supplied price grids, multiplicative
// spread application, and volume adjustment under base/quote balance
// limits. All arithmetic is done with github.com/shopspring/decimal —
// binary floating point never touches a price or an amount.
package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"mirrormaker/internal/errs"
	"mirrormaker/pkg/types"
)

// level is one price/amount pair held in a side's btree.
type level struct {
	price  decimal.Decimal
	amount decimal.Decimal
}

// Orderbook is a pair of ordered maps from price to amount: bids descending
// (best bid first), asks ascending (best ask first). No price appears on
// both sides; amounts are always strictly positive.
type Orderbook struct {
	bids *btree.BTreeG[*level]
	asks *btree.BTreeG[*level]
}

// New returns an empty order book.
func New() *Orderbook {
	return &Orderbook{
		bids: btree.NewBTreeG(func(a, b *level) bool { return a.price.GreaterThan(b.price) }),
		asks: btree.NewBTreeG(func(a, b *level) bool { return a.price.LessThan(b.price) }),
	}
}

func (ob *Orderbook) sideTree(side types.Side) *btree.BTreeG[*level] {
	if side == types.Buy {
		return ob.bids
	}
	return ob.asks
}

// Update inserts or replaces the level at order.Price with order.Amount. A
// zero amount removes the level; a negative amount is rejected with an
// InvariantViolation and leaves the book unchanged. The opposite side is left
// untouched even if this would cross the book — crossing is a scheduler
// concern, not an Orderbook one (see spec edge-case policy).
func (ob *Orderbook) Update(order types.Order) error {
	if order.Amount.IsNegative() {
		return &errs.InvariantViolation{What: fmt.Sprintf("negative amount %s at price %s", order.Amount, order.Price)}
	}
	tree := ob.sideTree(order.Side)
	if order.Amount.IsZero() {
		tree.Delete(&level{price: order.Price})
		return nil
	}
	tree.Set(&level{price: order.Price, amount: order.Amount})
	return nil
}

// Delete idempotently removes the level at (side, price).
func (ob *Orderbook) Delete(side types.Side, price decimal.Decimal) {
	ob.sideTree(side).Delete(&level{price: price})
}

// Best returns the best bid or ask (highest bid / lowest ask). ok is false
// if that side is empty.
func (ob *Orderbook) Best(side types.Side) (types.OrderbookLevel, bool) {
	lv, ok := ob.sideTree(side).Min()
	if !ok {
		return types.OrderbookLevel{}, false
	}
	return types.OrderbookLevel{Price: lv.price, Amount: lv.amount}, true
}

// Levels returns a side's levels best-first.
func (ob *Orderbook) Levels(side types.Side) []types.OrderbookLevel {
	tree := ob.sideTree(side)
	out := make([]types.OrderbookLevel, 0, tree.Len())
	tree.Scan(func(lv *level) bool {
		out = append(out, types.OrderbookLevel{Price: lv.price, Amount: lv.amount})
		return true
	})
	return out
}

// IsCrossed reports whether the best bid is not strictly below the best ask.
func (ob *Orderbook) IsCrossed() bool {
	bid, okB := ob.Best(types.Buy)
	ask, okA := ob.Best(types.Sell)
	if !okB || !okA {
		return false
	}
	return !bid.Price.LessThan(ask.Price)
}

// Clone returns a deep copy.
func (ob *Orderbook) Clone() *Orderbook {
	out := New()
	for _, lv := range ob.Levels(types.Buy) {
		out.bids.Set(&level{price: lv.Price, amount: lv.Amount})
	}
	for _, lv := range ob.Levels(types.Sell) {
		out.asks.Set(&level{price: lv.Price, amount: lv.Amount})
	}
	return out
}

// Spread returns a new book with every bid price multiplied by
// (1 - bidBps) and every ask price multiplied by (1 + askBps). bidBps and
// askBps are non-negative fractions (0.01 = 1%). Zero spread is the
// identity transform.
func (ob *Orderbook) Spread(bidBps, askBps decimal.Decimal) *Orderbook {
	out := New()
	one := decimal.NewFromInt(1)
	bidFactor := one.Sub(bidBps)
	askFactor := one.Add(askBps)

	for _, lv := range ob.Levels(types.Buy) {
		out.bids.Set(&level{price: lv.Price.Mul(bidFactor), amount: lv.Amount})
	}
	for _, lv := range ob.Levels(types.Sell) {
		out.asks.Set(&level{price: lv.Price.Mul(askFactor), amount: lv.Amount})
	}
	return out
}

// AdjustVolumeSimple walks asks ascending, capping cumulative base volume
// at asksBaseLimit, and walks bids descending, capping cumulative quote
// volume (price*amount) at bidsQuoteLimit. Levels beyond the cap are
// dropped; the boundary level is truncated to fit exactly. When sideSwap is
// true, the roles are reversed: the ask limit is read in quote terms and
// the bid limit in base terms — used when limits are measured against the
// opposite account's currency.
func (ob *Orderbook) AdjustVolumeSimple(asksLimit, bidsLimit decimal.Decimal, sideSwap bool) *Orderbook {
	out := New()

	asksBase, bidsQuote := asksLimit, bidsLimit

	remainingAsks := asksBase
	for _, lv := range ob.Levels(types.Sell) {
		if remainingAsks.LessThanOrEqual(decimal.Zero) {
			break
		}
		var consumed decimal.Decimal
		if sideSwap {
			// limit is quote (price*amount)
			notional := lv.Price.Mul(lv.Amount)
			if notional.LessThanOrEqual(remainingAsks) {
				consumed = lv.Amount
				remainingAsks = remainingAsks.Sub(notional)
			} else {
				consumed = remainingAsks.Div(lv.Price)
				remainingAsks = decimal.Zero
			}
		} else {
			if lv.Amount.LessThanOrEqual(remainingAsks) {
				consumed = lv.Amount
				remainingAsks = remainingAsks.Sub(lv.Amount)
			} else {
				consumed = remainingAsks
				remainingAsks = decimal.Zero
			}
		}
		if consumed.IsPositive() {
			out.asks.Set(&level{price: lv.Price, amount: consumed})
		}
	}

	remainingBids := bidsQuote
	for _, lv := range ob.Levels(types.Buy) {
		if remainingBids.LessThanOrEqual(decimal.Zero) {
			break
		}
		var consumed decimal.Decimal
		if sideSwap {
			// limit is base
			if lv.Amount.LessThanOrEqual(remainingBids) {
				consumed = lv.Amount
				remainingBids = remainingBids.Sub(lv.Amount)
			} else {
				consumed = remainingBids
				remainingBids = decimal.Zero
			}
		} else {
			notional := lv.Price.Mul(lv.Amount)
			if notional.LessThanOrEqual(remainingBids) {
				consumed = lv.Amount
				remainingBids = remainingBids.Sub(notional)
			} else {
				consumed = remainingBids.Div(lv.Price)
				remainingBids = decimal.Zero
			}
		}
		if consumed.IsPositive() {
			out.bids.Set(&level{price: lv.Price, amount: consumed})
		}
	}

	return out
}
