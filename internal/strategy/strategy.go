// Package strategy implements the order-back market-making strategy: each
// tick it aggregates a single source book onto a price-point grid, limits
// volume against balance-plugin headroom, applies a spread, and returns the
// desired target book. Fills on the target are batched within a grace
// window and hedged back onto the source.
package strategy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mirrormaker/internal/errs"
	"mirrormaker/internal/fx"
	"mirrormaker/internal/market"
	"mirrormaker/internal/orderbook"
	"mirrormaker/internal/plugins"
	"mirrormaker/pkg/types"
)

// Side selects which side(s) of the book a strategy quotes.
type Side string

const (
	SideAsks Side = "asks"
	SideBids Side = "bids"
	SideBoth Side = "both"
)

// Config enumerates an order-back strategy's external parameters.
type Config struct {
	LevelsPriceStep    decimal.Decimal
	LevelsPriceFunc    PriceFunc
	LevelsCount        int
	SpreadBids         decimal.Decimal
	SpreadAsks         decimal.Decimal
	Side               Side
	EnableOrderback    bool
	MinOrderBackAmount decimal.Decimal
	OrderbackGraceTime time.Duration // default 1s
	OrderbackType      types.OrderType
	ApplySafeLimitsOnSource bool
}

// Validate enforces the configuration invariants the spec's
// ConfigurationError taxonomy entry names.
func (c Config) Validate() error {
	if c.LevelsCount < 1 {
		return &errs.ConfigurationError{Field: "levels_count", Reason: "must be >= 1"}
	}
	if c.SpreadBids.IsNegative() {
		return &errs.ConfigurationError{Field: "spread_bids", Reason: "must be >= 0"}
	}
	if c.SpreadAsks.IsNegative() {
		return &errs.ConfigurationError{Field: "spread_asks", Reason: "must be >= 0"}
	}
	switch c.OrderbackType {
	case types.OrderTypeLimit, types.OrderTypeMarket:
	default:
		return &errs.ConfigurationError{Field: "orderback_type", Reason: "unknown order type"}
	}
	return nil
}

// CallResult is what Call returns each tick: the desired book, plus the
// spread-adjusted price-point grids its levels lie on. The scheduler
// cancels resting orders whose price is off these grids; it does not snap
// created orders onto them, but places them at the desired book's prices.
type CallResult struct {
	Desired   *orderbook.Orderbook
	AskPoints []decimal.Decimal
	BidPoints []decimal.Decimal
}

// Strategy is the minimal capability every strategy variant implements.
type Strategy interface {
	Call() (*CallResult, error)
	NotifyPrivateTrade(trade types.PrivateTrade, trust bool)
}

// HedgeSink receives the grouped create-order actions order-back produces.
// The reactor wires this to the source account's executor queue.
type HedgeSink interface {
	PushHedge(accountID types.AccountId, strategyID types.StrategyId, orders []types.Order)
}

// Orderback is the spec's order-back strategy variant: mirror a single
// source book onto a target with spread and volume limits, and hedge
// target fills back onto the source.
type Orderback struct {
	ID types.StrategyId

	cfg Config

	target       *market.Market
	targetLimits plugins.Func
	targetBase   string
	targetQuote  string
	targetBal    func() map[string]types.Balance

	source       *market.Market
	sourceLimits plugins.Func
	sourceBase   string
	sourceQuote  string
	sourceBal    func() map[string]types.Balance
	sourceAccountID types.AccountId

	fx   fx.Provider
	sink HedgeSink

	logger *slog.Logger

	mu         sync.Mutex
	pending    map[pendingKey]pendingEntry
	timer      *time.Timer
	timerArmed bool
}

type pendingKey struct {
	tradeID string
	orderID string
}

type pendingEntry struct {
	price  decimal.Decimal
	amount decimal.Decimal
	side   types.Side
}

// Deps bundles Orderback's external collaborators, supplied at
// construction so the type itself stays free of reactor-level wiring
// concerns.
type Deps struct {
	ID              types.StrategyId
	Target          *market.Market
	TargetLimits    plugins.Func
	TargetBase      string
	TargetQuote     string
	TargetBalances  func() map[string]types.Balance
	Source          *market.Market
	SourceLimits    plugins.Func
	SourceBase      string
	SourceQuote     string
	SourceBalances  func() map[string]types.Balance
	SourceAccountID types.AccountId
	FX              fx.Provider
	Sink            HedgeSink
	Logger          *slog.Logger
}

// New constructs an order-back strategy. cfg must already have passed
// Validate.
func New(cfg Config, d Deps) *Orderback {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OrderbackGraceTime <= 0 {
		cfg.OrderbackGraceTime = time.Second
	}
	return &Orderback{
		ID:              d.ID,
		cfg:             cfg,
		target:          d.Target,
		targetLimits:    d.TargetLimits,
		targetBase:      d.TargetBase,
		targetQuote:     d.TargetQuote,
		targetBal:       d.TargetBalances,
		source:          d.Source,
		sourceLimits:    d.SourceLimits,
		sourceBase:      d.SourceBase,
		sourceQuote:     d.SourceQuote,
		sourceBal:       d.SourceBalances,
		sourceAccountID: d.SourceAccountID,
		fx:              d.FX,
		sink:            d.Sink,
		logger:          logger.With("component", "orderback", "strategy", d.ID),
		pending:         make(map[pendingKey]pendingEntry),
	}
}

// Call computes the desired target book for this tick.
func (s *Orderback) Call() (*CallResult, error) {
	if s.source == nil {
		return nil, &errs.ConfigurationError{Field: "sources", Reason: "exactly one source must be configured"}
	}
	if s.targetBase == "" || s.targetQuote == "" || s.sourceBase == "" || s.sourceQuote == "" {
		return nil, &errs.ConfigurationError{Field: "currencies", Reason: "base/quote currency missing from account"}
	}

	targetLim := s.targetLimits(s.target.Orderbook(), s.targetBal(), s.targetBase, s.targetQuote)
	sourceLim := s.sourceLimits(s.source.Orderbook(), s.sourceBal(), s.sourceBase, s.sourceQuote)

	precision := s.target.Config.PricePrecision
	top := s.source.Orderbook()

	var askPoints, bidPoints []decimal.Decimal
	if s.cfg.Side == SideAsks || s.cfg.Side == SideBoth {
		if best, ok := top.Best(types.Sell); ok {
			askPoints = BuildPricePoints(best.Price, s.cfg.LevelsCount, s.cfg.LevelsPriceFunc, s.cfg.LevelsPriceStep, types.Sell, precision)
		}
	}
	if s.cfg.Side == SideBids || s.cfg.Side == SideBoth {
		if best, ok := top.Best(types.Buy); ok {
			bidPoints = BuildPricePoints(best.Price, s.cfg.LevelsCount, s.cfg.LevelsPriceFunc, s.cfg.LevelsPriceStep, types.Buy, precision)
		}
	}

	agg := top.Aggregate(bidPoints, askPoints, s.target.MinAmount())
	desired := agg.ToOrderbook()

	desired = desired.AdjustVolumeSimple(targetLim.LimitInBase, targetLim.LimitInQuote, false)
	if s.cfg.ApplySafeLimitsOnSource {
		desired = desired.AdjustVolumeSimple(sourceLim.LimitInBase, sourceLim.LimitInQuote, false)
	}

	desired = desired.Spread(s.cfg.SpreadBids, s.cfg.SpreadAsks)

	one := decimal.NewFromInt(1)
	for i, p := range askPoints {
		askPoints[i] = p.Mul(one.Add(s.cfg.SpreadAsks))
	}
	for i, p := range bidPoints {
		bidPoints[i] = p.Mul(one.Sub(s.cfg.SpreadBids))
	}

	return &CallResult{Desired: desired, AskPoints: askPoints, BidPoints: bidPoints}, nil
}

// NotifyPrivateTrade reacts to a fill on the target market.
func (s *Orderback) NotifyPrivateTrade(trade types.PrivateTrade, trust bool) {
	if !s.cfg.EnableOrderback || trade.MarketID != s.target.ID {
		return
	}

	if trust {
		s.orderBack(trade, types.Order{
			MarketID: trade.MarketID,
			ID:       trade.OrderID,
			Price:    trade.Price,
			Amount:   trade.Amount,
			Side:     trade.Side,
		})
		return
	}

	bidOrder, onBid := s.target.OpenOrders().ByID(types.Buy, trade.OrderID)
	askOrder, onAsk := s.target.OpenOrders().ByID(types.Sell, trade.OrderID)
	if onBid && onAsk {
		s.logger.Error("order present on both sides of open orders", "order_id", trade.OrderID)
		return
	}
	if onBid {
		s.orderBack(trade, bidOrder)
		return
	}
	if onAsk {
		s.orderBack(trade, askOrder)
		return
	}
	s.logger.Warn("fill for unknown resting order", "order_id", trade.OrderID)
}

// orderBack computes the hedge price/side for one fill and buffers it.
func (s *Orderback) orderBack(trade types.PrivateTrade, order types.Order) {
	hedgeSide := order.Side.Opposite()

	var price decimal.Decimal
	if order.Side == types.Sell {
		price = order.Price.Div(decimal.NewFromInt(1).Add(s.cfg.SpreadAsks))
	} else {
		price = order.Price.Div(decimal.NewFromInt(1).Sub(s.cfg.SpreadBids))
	}

	if s.fx != nil {
		rate, ok := s.fx.Rate()
		if !ok {
			s.logger.Warn("fx rate not ready, rescheduling hedge", "error", (&errs.FxUnavailable{}).Error())
			time.AfterFunc(time.Second, func() { s.orderBack(trade, order) })
			return
		}
		price = fx.Apply(rate, price)
	}

	s.mu.Lock()
	s.pending[pendingKey{tradeID: trade.ID, orderID: order.ID}] = pendingEntry{
		price:  price,
		amount: trade.Amount,
		side:   hedgeSide,
	}
	if !s.timerArmed {
		s.timerArmed = true
		s.timer = time.AfterFunc(s.cfg.OrderbackGraceTime, s.flushOrderback)
	}
	s.mu.Unlock()
}

// flushOrderback groups the pending buffer by (price, side), emits hedge
// orders for every group clearing the minimum amount, and resets state.
func (s *Orderback) flushOrderback() {
	s.mu.Lock()
	entries := s.pending
	s.pending = make(map[pendingKey]pendingEntry)
	s.timerArmed = false
	s.mu.Unlock()

	type groupKey struct {
		price string
		side  types.Side
	}
	groups := make(map[groupKey]decimal.Decimal)
	prices := make(map[groupKey]decimal.Decimal)
	for _, e := range entries {
		k := groupKey{price: e.price.String(), side: e.side}
		groups[k] = groups[k].Add(e.amount)
		prices[k] = e.price
	}

	minAmount := s.cfg.MinOrderBackAmount
	if sourceMin := s.source.MinAmount(); sourceMin.GreaterThan(minAmount) {
		minAmount = sourceMin
	}

	var out []types.Order
	for k, rawAmount := range groups {
		price := prices[k].Round(s.source.Config.PricePrecision)
		amount := rawAmount.Round(s.source.Config.AmountPrecision)
		if amount.LessThanOrEqual(minAmount) {
			continue
		}
		out = append(out, types.Order{
			MarketID:    s.source.ID,
			Price:       price,
			PriceString: price.String(),
			Amount:      amount,
			Side:        k.side,
			Type:        s.cfg.OrderbackType,
		})
	}

	if len(out) == 0 {
		return
	}
	if s.sink == nil {
		s.logger.Warn("no hedge sink configured, dropping order-back actions", "count", len(out))
		return
	}
	s.sink.PushHedge(s.sourceAccountID, s.ID, out)
}
