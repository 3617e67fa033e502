package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"mirrormaker/internal/adapter"
	"mirrormaker/internal/config"
	"mirrormaker/pkg/types"
)

// polygonChainID is the default chain this driver signs for. A sample
// adapter has no per-account override for it; a production driver would
// add one to config.AccountConfig.
const polygonChainID = 137

// Adapter wires the REST client and WebSocket feeds together behind the
// adapter.Exchange contract.
type Adapter struct {
	client *Client
	auth   *Auth

	wsPublicURL  string
	wsPrivateURL string
	logger       *slog.Logger
}

// New builds a polymarket Adapter from one account's configuration. It
// satisfies the reactor.Driver function type.
func New(cfg config.AccountConfig, logger *slog.Logger) (adapter.Exchange, error) {
	var auth *Auth
	if cfg.PrivateKey != "" {
		a, err := NewAuth(cfg, polygonChainID)
		if err != nil {
			return nil, fmt.Errorf("polymarket auth: %w", err)
		}
		if cfg.APIKey != "" && cfg.APISecret != "" {
			a.SetCredentials(Credentials{APIKey: cfg.APIKey, Secret: cfg.APISecret, Passphrase: cfg.Passphrase})
		}
		auth = a
	}

	return &Adapter{
		client:       NewClient(cfg, auth, false, logger),
		auth:         auth,
		wsPublicURL:  cfg.WSPublicURL,
		wsPrivateURL: cfg.WSPrivateURL,
		logger:       logger.With("component", "polymarket_adapter"),
	}, nil
}

func (a *Adapter) Markets(ctx context.Context) ([]types.MarketId, error) { return a.client.Markets(ctx) }

func (a *Adapter) Resolve(ctx context.Context, symbol string) (types.MarketId, error) {
	return a.client.Resolve(ctx, symbol)
}

func (a *Adapter) MarketConfig(ctx context.Context, market types.MarketId) (types.MarketConfig, error) {
	return a.client.MarketConfig(ctx, market)
}

func (a *Adapter) FetchOrderbook(ctx context.Context, market types.MarketId, depth int) (adapter.Snapshot, error) {
	return a.client.FetchOrderbook(ctx, market, depth)
}

func (a *Adapter) CreateOrder(ctx context.Context, order types.Order) (string, error) {
	return a.client.CreateOrder(ctx, order)
}

func (a *Adapter) CancelOrder(ctx context.Context, market types.MarketId, orderID string) (bool, error) {
	return a.client.CancelOrder(ctx, market, orderID)
}

func (a *Adapter) FetchOpenOrders(ctx context.Context, market types.MarketId) ([]types.Order, error) {
	return a.client.FetchOpenOrders(ctx, market)
}

func (a *Adapter) FetchBalances(ctx context.Context) ([]types.Balance, error) {
	return a.client.FetchBalances(ctx)
}

// Stream runs whichever feeds mode requires for the given market and
// blocks until ctx is cancelled or a feed exits with an error.
func (a *Adapter) Stream(ctx context.Context, market types.MarketId, mode types.ModeFlags, cb adapter.Callbacks) error {
	sym, err := a.client.symbolFor(market)
	if err != nil {
		return err
	}

	var feeds []*wsFeed
	if mode.WSPublic {
		feeds = append(feeds, newWSFeed(a.wsPublicURL, "market", sym, nil, a.logger))
	}
	if mode.WSPrivate {
		feeds = append(feeds, newWSFeed(a.wsPrivateURL, "user", sym, a.auth, a.logger))
	}
	if len(feeds) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	errCh := make(chan error, len(feeds))
	for _, f := range feeds {
		go func(f *wsFeed) {
			go a.pump(ctx, market, f, cb)
			errCh <- f.run(ctx)
		}(f)
	}

	return <-errCh
}

func (a *Adapter) pump(ctx context.Context, market types.MarketId, f *wsFeed, cb adapter.Callbacks) {
	for {
		select {
		case <-ctx.Done():
			return

		case evt := <-f.bookCh:
			if cb.OnBookUpdate == nil {
				continue
			}
			for _, l := range evt.Bids {
				cb.OnBookUpdate(toOrderUpdate(market, types.Buy, l))
			}
			for _, l := range evt.Asks {
				cb.OnBookUpdate(toOrderUpdate(market, types.Sell, l))
			}

		case evt := <-f.tradeCh:
			if cb.OnPublicTrade == nil {
				continue
			}
			cb.OnPublicTrade(toPublicTrade(market, evt))

		case evt := <-f.privateCh:
			if cb.OnPrivateTrade == nil {
				continue
			}
			cb.OnPrivateTrade(toPrivateTrade(market, evt))
		}
	}
}

func toOrderUpdate(market types.MarketId, side types.Side, l wireWSLevel) types.Order {
	price, _ := decimal.NewFromString(l.Price)
	amount, _ := decimal.NewFromString(l.Size)
	return types.Order{
		MarketID:    market,
		Price:       price,
		PriceString: l.Price,
		Amount:      amount,
		Side:        side,
	}
}

func toPublicTrade(market types.MarketId, evt wireWSTradeEvent) types.PublicTrade {
	price, _ := decimal.NewFromString(evt.Price)
	amount, _ := decimal.NewFromString(evt.Size)
	return types.PublicTrade{
		MarketID:  market,
		Price:     price,
		Amount:    amount,
		Side:      types.Side(evt.Side),
		Total:     price.Mul(amount),
		Timestamp: time.Unix(evt.Timestamp, 0),
	}
}

func toPrivateTrade(market types.MarketId, evt wireWSPrivateEvent) types.PrivateTrade {
	price, _ := decimal.NewFromString(evt.Price)
	amount, _ := decimal.NewFromString(evt.Size)
	return types.PrivateTrade{
		ID:        evt.TradeID,
		OrderID:   evt.OrderID,
		MarketID:  market,
		Price:     price,
		Amount:    amount,
		Side:      types.Side(evt.Side),
		Timestamp: time.Unix(evt.Timestamp, 0),
	}
}
