package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"mirrormaker/internal/adapter"
	"mirrormaker/internal/config"
	"mirrormaker/internal/errs"
	"mirrormaker/pkg/types"
)

// Client implements the REST half of adapter.Exchange (Adapter adds the
// streaming half). It assigns a stable integer MarketId to each market
// symbol the first time Resolve sees it, then speaks the wire protocol
// purely in terms of that venue's own string symbol.
type Client struct {
	http    *resty.Client
	auth    *Auth
	limiter *categoryLimiter
	dryRun  bool
	logger  *slog.Logger

	mu      sync.Mutex
	bySym   map[string]types.MarketId
	symbols map[types.MarketId]string
	nextID  int
}

// NewClient builds a REST client against an account's configured base URL.
// auth may be nil for accounts that only read public data.
func NewClient(cfg config.AccountConfig, auth *Auth, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Client{
		http:    httpClient,
		auth:    auth,
		limiter: newCategoryLimiter(),
		dryRun:  dryRun,
		logger:  logger.With("component", "polymarket_client"),
		bySym:   make(map[string]types.MarketId),
		symbols: make(map[types.MarketId]string),
	}
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wireBook struct {
	Market string      `json:"market"`
	Bids   []wireLevel `json:"bids"`
	Asks   []wireLevel `json:"asks"`
}

type wireMarketConfig struct {
	Symbol          string `json:"symbol"`
	Base            string `json:"base"`
	Quote           string `json:"quote"`
	MinPrice        string `json:"min_price"`
	MaxPrice        string `json:"max_price"`
	MinAmount       string `json:"min_amount"`
	AmountPrecision int32  `json:"amount_precision"`
	PricePrecision  int32  `json:"price_precision"`
}

type wireOrderRequest struct {
	Market        string `json:"market"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	Type          string `json:"type"`
	ClientOrderID string `json:"client_order_id"`
}

type wireOrderResponse struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

type wireOpenOrder struct {
	ID     string `json:"id"`
	Market string `json:"market"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Size   string `json:"size"`
	Type   string `json:"type"`
}

type wireBalance struct {
	Currency string `json:"currency"`
	Free     string `json:"free"`
	Locked   string `json:"locked"`
	Total    string `json:"total"`
}

// Resolve assigns (or returns the existing) handle for a market symbol.
func (c *Client) Resolve(ctx context.Context, symbol string) (types.MarketId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.bySym[symbol]; ok {
		return id, nil
	}
	id := types.MarketId(c.nextID)
	c.nextID++
	c.bySym[symbol] = id
	c.symbols[id] = symbol
	return id, nil
}

func (c *Client) symbolFor(id types.MarketId) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sym, ok := c.symbols[id]
	if !ok {
		return "", &errs.ConfigurationError{Field: "market", Reason: fmt.Sprintf("unresolved market id %d", id)}
	}
	return sym, nil
}

// Markets returns every market this client has resolved so far.
func (c *Client) Markets(ctx context.Context) ([]types.MarketId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.MarketId, 0, len(c.symbols))
	for id := range c.symbols {
		out = append(out, id)
	}
	return out, nil
}

func (c *Client) MarketConfig(ctx context.Context, market types.MarketId) (types.MarketConfig, error) {
	sym, err := c.symbolFor(market)
	if err != nil {
		return types.MarketConfig{}, err
	}
	if err := c.limiter.book.wait(ctx); err != nil {
		return types.MarketConfig{}, err
	}

	var out wireMarketConfig
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("market", sym).
		SetResult(&out).
		Get("/markets/" + sym)
	if err != nil {
		return types.MarketConfig{}, &errs.TransientExchangeError{Op: "market_config", Err: err}
	}
	if resp.IsError() {
		return types.MarketConfig{}, &errs.PermanentExchangeError{Op: "market_config", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}

	minPrice, _ := decimal.NewFromString(out.MinPrice)
	maxPrice, _ := decimal.NewFromString(out.MaxPrice)
	minAmount, _ := decimal.NewFromString(out.MinAmount)
	return types.MarketConfig{
		Base:            out.Base,
		Quote:           out.Quote,
		MinPrice:        minPrice,
		MaxPrice:        maxPrice,
		MinAmount:       minAmount,
		AmountPrecision: out.AmountPrecision,
		PricePrecision:  out.PricePrecision,
	}, nil
}

func (c *Client) FetchOrderbook(ctx context.Context, market types.MarketId, depth int) (adapter.Snapshot, error) {
	sym, err := c.symbolFor(market)
	if err != nil {
		return adapter.Snapshot{}, err
	}
	if err := c.limiter.book.wait(ctx); err != nil {
		return adapter.Snapshot{}, err
	}

	var out wireBook
	req := c.http.R().SetContext(ctx).SetQueryParam("market", sym).SetResult(&out)
	if depth > 0 {
		req.SetQueryParam("depth", fmt.Sprintf("%d", depth))
	}
	resp, err := req.Get("/book")
	if err != nil {
		return adapter.Snapshot{}, &errs.TransientExchangeError{Op: "fetch_orderbook", Err: err}
	}
	if resp.IsError() {
		return adapter.Snapshot{}, &errs.PermanentExchangeError{Op: "fetch_orderbook", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}

	snap := adapter.Snapshot{Market: market}
	for _, l := range out.Bids {
		snap.Bids = append(snap.Bids, toLevel(l))
	}
	for _, l := range out.Asks {
		snap.Asks = append(snap.Asks, toLevel(l))
	}
	return snap, nil
}

func toLevel(l wireLevel) types.OrderbookLevel {
	p, _ := decimal.NewFromString(l.Price)
	a, _ := decimal.NewFromString(l.Size)
	return types.OrderbookLevel{Price: p, Amount: a}
}

func (c *Client) CreateOrder(ctx context.Context, order types.Order) (string, error) {
	sym, err := c.symbolFor(order.MarketID)
	if err != nil {
		return "", err
	}
	if c.dryRun {
		return fmt.Sprintf("dry-run-%s-%s", sym, order.PriceString), nil
	}
	if err := c.limiter.order.wait(ctx); err != nil {
		return "", err
	}

	body := wireOrderRequest{
		Market:        sym,
		Side:          string(order.Side),
		Price:         order.PriceString,
		Size:          order.Amount.String(),
		Type:          string(order.Type),
		ClientOrderID: order.ClientOrderID,
	}

	var out wireOrderResponse
	resp, err := c.authenticated(ctx, http.MethodPost, "/orders", body, &out)
	if err != nil {
		return "", &errs.TransientExchangeError{Op: "create_order", Err: err}
	}
	if resp.IsError() || out.Error != "" {
		return "", &errs.PermanentExchangeError{Op: "create_order", Err: fmt.Errorf("%s (status %d)", out.Error, resp.StatusCode())}
	}
	return out.OrderID, nil
}

func (c *Client) CancelOrder(ctx context.Context, market types.MarketId, orderID string) (bool, error) {
	if c.dryRun {
		return true, nil
	}
	if err := c.limiter.cancel.wait(ctx); err != nil {
		return false, err
	}

	resp, err := c.authenticated(ctx, http.MethodDelete, "/orders/"+orderID, nil, nil)
	if err != nil {
		return false, &errs.TransientExchangeError{Op: "cancel_order", Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if resp.IsError() {
		return false, &errs.PermanentExchangeError{Op: "cancel_order", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	return true, nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, market types.MarketId) ([]types.Order, error) {
	sym, err := c.symbolFor(market)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.book.wait(ctx); err != nil {
		return nil, err
	}

	var out []wireOpenOrder
	resp, err := c.authenticated(ctx, http.MethodGet, "/orders?market="+sym, nil, &out)
	if err != nil {
		return nil, &errs.TransientExchangeError{Op: "fetch_open_orders", Err: err}
	}
	if resp.IsError() {
		return nil, &errs.PermanentExchangeError{Op: "fetch_open_orders", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}

	orders := make([]types.Order, 0, len(out))
	for _, o := range out {
		price, _ := decimal.NewFromString(o.Price)
		amount, _ := decimal.NewFromString(o.Size)
		orders = append(orders, types.Order{
			MarketID:    market,
			ID:          o.ID,
			Price:       price,
			PriceString: o.Price,
			Amount:      amount,
			Side:        types.Side(o.Side),
			Type:        types.OrderType(o.Type),
		})
	}
	return orders, nil
}

func (c *Client) FetchBalances(ctx context.Context) ([]types.Balance, error) {
	var out []wireBalance
	resp, err := c.authenticated(ctx, http.MethodGet, "/balances", nil, &out)
	if err != nil {
		return nil, &errs.TransientExchangeError{Op: "fetch_balances", Err: err}
	}
	if resp.IsError() {
		return nil, &errs.PermanentExchangeError{Op: "fetch_balances", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}

	balances := make([]types.Balance, 0, len(out))
	for _, b := range out {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		total, _ := decimal.NewFromString(b.Total)
		balances = append(balances, types.Balance{Currency: b.Currency, Free: free, Locked: locked, Total: total})
	}
	return balances, nil
}

// authenticated attaches L2 HMAC headers (deriving them fresh per call,
// since each signature is timestamp-bound) before issuing the request.
func (c *Client) authenticated(ctx context.Context, method, path string, body, result interface{}) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if result != nil {
		req.SetResult(result)
	}
	bodyStr := ""
	if body != nil {
		req.SetBody(body)
	}
	if c.auth != nil {
		headers, err := c.auth.L2Headers(method, path, bodyStr)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		req.SetHeaders(headers)
	}
	return req.Execute(method, path)
}
