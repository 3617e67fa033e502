package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mirrormaker/pkg/types"
)

// OpenOrders is the side-indexed cache of a market's resting orders, with a
// secondary index by order id. A single (side, price) slot may transiently
// hold more than one order during a diff cycle; Reconcile collapses
// duplicates by keeping the exchange's view and dropping the rest.
type OpenOrders struct {
	mu      sync.RWMutex
	byPrice map[types.Side]map[string][]types.Order // side -> price string -> orders
	byID    map[types.Side]map[string]types.Order    // side -> order id -> order
}

// NewOpenOrders returns an empty cache.
func NewOpenOrders() *OpenOrders {
	return &OpenOrders{
		byPrice: map[types.Side]map[string][]types.Order{
			types.Buy:  {},
			types.Sell: {},
		},
		byID: map[types.Side]map[string]types.Order{
			types.Buy:  {},
			types.Sell: {},
		},
	}
}

// Insert adds or replaces an order in both indices.
func (o *OpenOrders) Insert(order types.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.insertLocked(order)
}

func (o *OpenOrders) insertLocked(order types.Order) {
	key := order.PriceString
	if key == "" {
		key = order.Price.String()
	}
	bucket := o.byPrice[order.Side][key]
	replaced := false
	for i, existing := range bucket {
		if existing.ID == order.ID {
			bucket[i] = order
			replaced = true
			break
		}
	}
	if !replaced {
		bucket = append(bucket, order)
	}
	o.byPrice[order.Side][key] = bucket
	o.byID[order.Side][order.ID] = order
}

// Remove deletes an order by (side, id) from both indices.
func (o *OpenOrders) Remove(side types.Side, orderID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removeLocked(side, orderID)
}

func (o *OpenOrders) removeLocked(side types.Side, orderID string) {
	order, ok := o.byID[side][orderID]
	if !ok {
		return
	}
	delete(o.byID[side], orderID)
	key := order.PriceString
	if key == "" {
		key = order.Price.String()
	}
	bucket := o.byPrice[side][key]
	for i, existing := range bucket {
		if existing.ID == orderID {
			o.byPrice[side][key] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
}

// BySide returns every order resting on one side, in no particular order.
func (o *OpenOrders) BySide(side types.Side) []types.Order {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.Order, 0, len(o.byID[side]))
	for _, order := range o.byID[side] {
		out = append(out, order)
	}
	return out
}

// ByID looks up an order by (side, id).
func (o *OpenOrders) ByID(side types.Side, orderID string) (types.Order, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	order, ok := o.byID[side][orderID]
	return order, ok
}

// AtPrice returns the orders resting at an exact PriceString on one side.
func (o *OpenOrders) AtPrice(side types.Side, priceString string) []types.Order {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]types.Order(nil), o.byPrice[side][priceString]...)
}

// Reconcile merges the exchange's authoritative open-order list into the
// cache: orders on the exchange but missing locally are inserted; orders
// held locally but absent from the exchange list are removed, unless they
// were placed more recently than grace ago (they may simply not have
// propagated to the exchange's own view yet); orders present in both with a
// mismatched amount adopt the exchange's value. placedAt supplies each
// locally cached order's placement time for the grace check.
func (o *OpenOrders) Reconcile(side types.Side, exchangeOrders []types.Order, placedAt map[string]time.Time, now time.Time, grace time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	exchangeByID := make(map[string]types.Order, len(exchangeOrders))
	for _, eo := range exchangeOrders {
		exchangeByID[eo.ID] = eo
	}

	for id, local := range o.byID[side] {
		if exch, ok := exchangeByID[id]; ok {
			if !exch.Amount.Equal(local.Amount) {
				exch.Side = side
				o.insertLocked(exch)
			}
			continue
		}
		if t, ok := placedAt[id]; ok && now.Sub(t) < grace {
			continue // too young to have propagated; don't prune yet
		}
		o.removeLocked(side, id)
	}

	for id, exch := range exchangeByID {
		if _, ok := o.byID[side][id]; !ok {
			exch.Side = side
			o.insertLocked(exch)
		}
	}
}

// SideVolume returns the cumulative amount resting on a side.
func (o *OpenOrders) SideVolume(side types.Side) decimal.Decimal {
	total := decimal.Zero
	for _, order := range o.BySide(side) {
		total = total.Add(order.Amount)
	}
	return total
}
