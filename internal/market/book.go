// Package market owns a single market's order book and resting-order cache.
// A Market is exclusively owned by one account; its Orderbook and
// OpenOrders are mutated only by that market's own fetch/stream handlers,
// matching the single-writer ownership rule of the concurrency model.
package market

import (
	"sync"

	"github.com/shopspring/decimal"

	"mirrormaker/internal/orderbook"
	"mirrormaker/pkg/types"
)

// Market mirrors spec's Market value: identity, mode flags, precision, and
// the owned Orderbook/OpenOrders pair.
type Market struct {
	mu sync.RWMutex

	ID        types.MarketId
	AccountID types.AccountId
	Mode      types.ModeFlags
	Config    types.MarketConfig

	ob   *orderbook.Orderbook
	open *OpenOrders
}

// New creates an empty market owned by account.
func New(id types.MarketId, accountID types.AccountId, mode types.ModeFlags, cfg types.MarketConfig) *Market {
	return &Market{
		ID:        id,
		AccountID: accountID,
		Mode:      mode,
		Config:    cfg,
		ob:        orderbook.New(),
		open:      NewOpenOrders(),
	}
}

// Orderbook returns the market's book. Callers outside the owning market
// must treat it as read-only.
func (m *Market) Orderbook() *orderbook.Orderbook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ob
}

// OpenOrders returns the market's resting-order cache.
func (m *Market) OpenOrders() *OpenOrders {
	return m.open
}

// ReplaceOrderbook swaps in a freshly fetched snapshot. Only the market's
// own fetch handler should call this.
func (m *Market) ReplaceOrderbook(ob *orderbook.Orderbook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ob = ob
}

// ApplyLevel applies a single incremental book update (from a public
// websocket diff) to the live book.
func (m *Market) ApplyLevel(order types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ob.Update(order)
}

// MinAmount is the market's minimum tradable amount, used by aggregation
// and order-back as the floor below which a level or hedge is dropped.
func (m *Market) MinAmount() decimal.Decimal {
	return m.Config.MinAmount
}
