// Package types defines the shared vocabulary used across all packages:
// sides, decimal price/amount pairs, orders, market and account metadata,
// and the exchange-facing event payloads. It has no dependencies on
// internal packages so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or orderbook entry.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"

	// Ask/Bid are the market-making aliases for Sell/Buy.
	Ask = Sell
	Bid = Buy
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the order lifecycles the scheduler and order-back
// protocol can request from an exchange adapter.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// AccountId, MarketId and StrategyId are integer handles into the Reactor's
// arenas. Callbacks and cross-references pass these ids rather than owning
// references, avoiding the cyclic strategy<->market<->account object graph
// of the source system.
type AccountId int
type MarketId int
type StrategyId int

// PricePoint is an externally supplied ordinate around which a desired
// orderbook is constructed (see Orderbook.Aggregate).
type PricePoint struct {
	Price decimal.Decimal
}

// Order is a single order, either resting on an exchange or about to be
// created. PriceString is the canonical wire rendering of Price; once set
// it is immutable and is the identity used for compare-and-cancel decisions
// (two orders with equal PriceString are considered the same price level
// regardless of any later re-rounding of Price itself).
type Order struct {
	MarketID MarketId
	ID       string // exchange-assigned id, empty until placed

	// ClientOrderID is generated once per dispatch attempt and handed to
	// the adapter alongside the order, so a venue that supports idempotent
	// order creation can de-duplicate a retried CreateOrder call.
	ClientOrderID string

	Price       decimal.Decimal
	PriceString string
	Amount      decimal.Decimal
	Side        Side
	Type        OrderType
}

// OrderbookLevel is a single price/amount pair on one side of a book.
type OrderbookLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Balance is a single currency's holdings on an account.
type Balance struct {
	Currency string
	Free     decimal.Decimal
	Locked   decimal.Decimal
	Total    decimal.Decimal
}

// ModeFlags are the set of booleans that decide what a Market does each
// tick and what feeds it subscribes to.
type ModeFlags struct {
	FetchPublicOrderbook bool
	FetchPrivateBalance  bool
	ListenPublicTrades   bool
	WSPrivate            bool
	WSPublic             bool
}

// MarketConfig is the static, externally supplied description of a market
// on one account, as returned by an adapter's MarketConfig call.
type MarketConfig struct {
	Base            string
	Quote           string
	MinPrice        decimal.Decimal
	MaxPrice        decimal.Decimal
	MinAmount       decimal.Decimal
	AmountPrecision int32
	PricePrecision  int32
}

// PublicTrade is a trade observed on a market's public feed.
type PublicTrade struct {
	MarketID  MarketId
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Side      Side
	Total     decimal.Decimal // always Price * Amount; never read from the wire
	Timestamp time.Time
}

// PrivateTrade is a fill notification for one of the account's own orders.
type PrivateTrade struct {
	ID        string // trade id
	OrderID   string
	MarketID  MarketId
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Side      Side
	Timestamp time.Time
}

// ExchangeErrorClass names the transient/permanent classes of a failed
// exchange call. The executor does not read it: it classifies failures by
// the errs package's TransientExchangeError and PermanentExchangeError types.
type ExchangeErrorClass int

const (
	ErrClassTransient ExchangeErrorClass = iota
	ErrClassPermanent
)
