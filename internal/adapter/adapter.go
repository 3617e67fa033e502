// Package adapter defines the exchange adapter contract. A concrete
// adapter is a bidirectional channel offering snapshot order books,
// private/public trade streams, order placement/cancellation, and balance
// queries for one exchange. The engine treats every adapter as an
// external collaborator: core packages depend only on this interface.
package adapter

import (
	"context"

	"mirrormaker/pkg/types"
)

// Exchange is the contract every concrete venue driver must satisfy.
type Exchange interface {
	// Markets lists the market ids this adapter serves.
	Markets(ctx context.Context) ([]types.MarketId, error)

	// Resolve maps the adapter's own external market symbol (as named in
	// a strategy configuration document, e.g. "BTC-USD") to the handle
	// used in every other call. Adapters own their symbol table; the
	// reactor never invents handles itself.
	Resolve(ctx context.Context, symbol string) (types.MarketId, error)

	// MarketConfig returns the static trading rules for one market.
	MarketConfig(ctx context.Context, market types.MarketId) (types.MarketConfig, error)

	// FetchOrderbook returns a full snapshot to the requested depth (0 = full book).
	FetchOrderbook(ctx context.Context, market types.MarketId, depth int) (Snapshot, error)

	// CreateOrder places an order and returns the exchange-assigned id.
	CreateOrder(ctx context.Context, order types.Order) (string, error)

	// CancelOrder cancels a resting order. ok is false if it was already gone.
	CancelOrder(ctx context.Context, market types.MarketId, orderID string) (ok bool, err error)

	// FetchOpenOrders returns the exchange's authoritative resting-order list.
	FetchOpenOrders(ctx context.Context, market types.MarketId) ([]types.Order, error)

	// FetchBalances returns every currency balance visible to this credential.
	FetchBalances(ctx context.Context) ([]types.Balance, error)

	// Streamer optionally exposes push feeds; adapters without streaming
	// support return an error from Stream.
	Streamer
}

// Snapshot is a point-in-time order book read from an adapter.
type Snapshot struct {
	Market types.MarketId
	Bids   []types.OrderbookLevel
	Asks   []types.OrderbookLevel
}

// Streamer exposes an adapter's push feeds. Callbacks run on the
// adapter's own goroutine and must not block.
type Streamer interface {
	// Stream connects public and/or private feeds depending on mode flags
	// and invokes the supplied callbacks until ctx is cancelled.
	Stream(ctx context.Context, market types.MarketId, mode types.ModeFlags, cb Callbacks) error
}

// Callbacks are the event sinks a Streamer drives.
type Callbacks struct {
	OnPublicTrade  func(types.PublicTrade)
	OnPrivateTrade func(types.PrivateTrade)
	OnBookUpdate   func(types.Order)
}

// Capabilities lets a strategy or plugin probe what an adapter supports
// instead of relying on dynamic respond_to?-style probing.
type Capabilities struct {
	SupportsLimitAsksBase  bool
	SupportsLimitBidsQuote bool
	SupportsBalances       bool
}
