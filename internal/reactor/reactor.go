// Package reactor owns every account, market, and strategy, and drives
// their periodic ticks and background loops: balance refresh, reconciliation,
// order-count gauges, and the public/private stream lifecycle. It is the
// single assembly point where config-level string identifiers are resolved
// into the integer handles the rest of the engine uses.
package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"mirrormaker/internal/account"
	"mirrormaker/internal/adapter"
	"mirrormaker/internal/config"
	"mirrormaker/internal/errs"
	"mirrormaker/internal/executor"
	"mirrormaker/internal/fx"
	"mirrormaker/internal/market"
	"mirrormaker/internal/metrics"
	"mirrormaker/internal/orderbook"
	"mirrormaker/internal/plugins"
	"mirrormaker/internal/scheduler"
	"mirrormaker/internal/store"
	"mirrormaker/internal/strategy"
	"mirrormaker/pkg/types"
)

// Driver builds a concrete exchange adapter for one configured account.
// The reactor resolves AccountConfig.DriverName against a registry of
// these, supplied by the process entry point so the reactor itself never
// names a concrete venue.
type Driver func(cfg config.AccountConfig, logger *slog.Logger) (adapter.Exchange, error)

const (
	balanceRefreshInterval = 23 * time.Second
	reconcileInterval      = 600 * time.Second
	gaugeInterval          = 30 * time.Second
)

type accountState struct {
	id      types.AccountId
	cfg     config.AccountConfig
	adapter adapter.Exchange
	account *account.Account
	exec    *executor.Executor

	mu        sync.RWMutex
	connected bool
}

func (a *accountState) setConnected(v bool) {
	a.mu.Lock()
	a.connected = v
	a.mu.Unlock()
}

func (a *accountState) isConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

type marketState struct {
	id      types.MarketId
	symbol  string
	account *accountState
	m       *market.Market

	mu            sync.Mutex
	streamStarted bool
}

type strategyState struct {
	id  types.StrategyId
	cfg config.StrategyConfig

	targetAccount *accountState
	targetMarket  *marketState
	sourceAccount *accountState
	sourceMarket  *marketState

	strategy          *strategy.Orderback
	fxProvider        *fx.Static
	maxAmountPerOrder decimal.Decimal

	// stopped is set once this strategy's tick loop has exited after a
	// FatalReactorError. Other strategies are unaffected.
	stopped atomic.Bool
}

// Reactor is the top-level owner of every account, market, and strategy.
type Reactor struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	sink   *metrics.Sink
	hedge  *executor.HedgeRouter

	accounts   map[string]*accountState
	markets    map[string]*marketState // key: accountID + "|" + symbol
	strategies map[string]*strategyState

	// targetListeners routes a target market's private-trade callback to
	// every strategy that targets it (ordinarily exactly one).
	targetListeners map[*marketState][]*strategyState

	nextAccountID int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires accounts, markets, and strategies from cfg. It performs no
// network I/O; Run does the rest.
func New(cfg *config.Config, drivers map[string]Driver, logger *slog.Logger) (*Reactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	r := &Reactor{
		cfg:             cfg,
		logger:          logger.With("component", "reactor"),
		store:           st,
		accounts:        make(map[string]*accountState),
		markets:         make(map[string]*marketState),
		strategies:      make(map[string]*strategyState),
		targetListeners: make(map[*marketState][]*strategyState),
	}

	if cfg.Metrics.Enabled {
		r.sink = metrics.New(cfg.Metrics.Addr, r.logger)
	}

	hedgeExecutors := make(map[types.AccountId]*executor.Executor)
	for _, ac := range cfg.Accounts {
		driver, ok := drivers[ac.DriverName]
		if !ok {
			return nil, &errs.ConfigurationError{Field: "accounts[].driver_name", Reason: "unknown driver: " + ac.DriverName}
		}
		ex, err := driver(ac, logger)
		if err != nil {
			return nil, fmt.Errorf("build adapter for account %s: %w", ac.ID, err)
		}

		id := types.AccountId(r.nextAccountID)
		r.nextAccountID++

		acct := account.New(id, ac.DriverName, account.Flags{DryRun: cfg.DryRun})
		if cached, err := r.store.LoadBalances(ac.ID); err == nil && cached != nil {
			acct.SetBalances(cached)
		}

		rate := ac.RateLimitRPS
		if rate <= 0 {
			rate = 5
		}
		as := &accountState{
			id:      id,
			cfg:     ac,
			adapter: ex,
			account: acct,
			exec:    executor.New(id, ex, rate, r.logger),
		}
		r.accounts[ac.ID] = as
		hedgeExecutors[id] = as.exec
	}
	r.hedge = &executor.HedgeRouter{Executors: hedgeExecutors}

	for _, sc := range cfg.Strategies {
		if err := r.setupStrategy(sc); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", sc.ID, err)
		}
	}

	return r, nil
}

func (r *Reactor) setupStrategy(sc config.StrategyConfig) error {
	targetAcct, ok := r.accounts[sc.Target.AccountID]
	if !ok {
		return &errs.ConfigurationError{Field: "target.account_id", Reason: "unknown account"}
	}
	sourceRef := sc.Sources[0]
	sourceAcct, ok := r.accounts[sourceRef.AccountID]
	if !ok {
		return &errs.ConfigurationError{Field: "sources[].account_id", Reason: "unknown account"}
	}

	targetMarket := r.getOrCreateMarket(targetAcct, sc.Target.MarketID)
	targetMarket.m.Mode.WSPrivate = true
	targetMarket.m.Mode.FetchPrivateBalance = true

	sourceMarket := r.getOrCreateMarket(sourceAcct, sourceRef.MarketID)
	sourceMarket.m.Mode.FetchPublicOrderbook = true
	sourceMarket.m.Mode.ListenPublicTrades = true
	sourceMarket.m.Mode.WSPublic = true

	step, err := decimal.NewFromString(nonEmpty(sc.Params.LevelsPriceStep, "0"))
	if err != nil {
		return &errs.ConfigurationError{Field: "params.levels_price_step", Reason: err.Error()}
	}
	spreadBids, err := decimal.NewFromString(nonEmpty(sc.Params.SpreadBids, "0"))
	if err != nil {
		return &errs.ConfigurationError{Field: "params.spread_bids", Reason: err.Error()}
	}
	spreadAsks, err := decimal.NewFromString(nonEmpty(sc.Params.SpreadAsks, "0"))
	if err != nil {
		return &errs.ConfigurationError{Field: "params.spread_asks", Reason: err.Error()}
	}
	minOrderBack, err := decimal.NewFromString(nonEmpty(sc.Params.MinOrderBackAmount, "0"))
	if err != nil {
		return &errs.ConfigurationError{Field: "params.min_order_back_amount", Reason: err.Error()}
	}
	maxPerOrder, err := decimal.NewFromString(nonEmpty(sc.Params.MaxAmountPerOrder, "0"))
	if err != nil {
		return &errs.ConfigurationError{Field: "params.max_amount_per_order", Reason: err.Error()}
	}

	orderbackType := types.OrderType(sc.Params.OrderbackType)
	if orderbackType == "" {
		orderbackType = types.OrderTypeLimit
	}

	graceTime := time.Duration(sc.Params.OrderbackGraceTime * float64(time.Second))

	scfg := strategy.Config{
		LevelsPriceStep:         step,
		LevelsPriceFunc:         strategy.PriceFunc(sc.Params.LevelsPriceFunc),
		LevelsCount:             sc.Params.LevelsCount,
		SpreadBids:              spreadBids,
		SpreadAsks:              spreadAsks,
		Side:                    strategy.Side(sc.Params.Side),
		EnableOrderback:         sc.Params.EnableOrderback,
		MinOrderBackAmount:      minOrderBack,
		OrderbackGraceTime:      graceTime,
		OrderbackType:           orderbackType,
		ApplySafeLimitsOnSource: sc.Params.ApplySafeLimitsOnSource,
	}
	if err := scfg.Validate(); err != nil {
		return err
	}

	var fxProvider *fx.Static
	if sc.FX != nil {
		fxProvider = fx.NewStatic()
		if sc.FX.Rate > 0 {
			fxProvider.SetRate(decimal.NewFromFloat(sc.FX.Rate))
		}
	}

	strategyID := types.StrategyId(len(r.strategies))

	balances := func(as *accountState) func() map[string]types.Balance {
		return func() map[string]types.Balance { return as.account.Snapshot() }
	}

	var fxForDeps fx.Provider
	if fxProvider != nil {
		fxForDeps = fxProvider
	}

	st := strategy.New(scfg, strategy.Deps{
		ID:              strategyID,
		Target:          targetMarket.m,
		TargetLimits:    plugins.BalanceLimit,
		TargetBase:      targetMarket.m.Config.Base,
		TargetQuote:     targetMarket.m.Config.Quote,
		TargetBalances:  balances(targetAcct),
		Source:          sourceMarket.m,
		SourceLimits:    plugins.BalanceLimit,
		SourceBase:      sourceMarket.m.Config.Base,
		SourceQuote:     sourceMarket.m.Config.Quote,
		SourceBalances:  balances(sourceAcct),
		SourceAccountID: sourceAcct.id,
		FX:              fxForDeps,
		Sink:            r.hedge,
		Logger:          r.logger,
	})

	ss := &strategyState{
		id:                strategyID,
		cfg:               sc,
		targetAccount:     targetAcct,
		targetMarket:      targetMarket,
		sourceAccount:     sourceAcct,
		sourceMarket:      sourceMarket,
		strategy:          st,
		fxProvider:        fxProvider,
		maxAmountPerOrder: maxPerOrder,
	}
	r.strategies[sc.ID] = ss
	r.targetListeners[targetMarket] = append(r.targetListeners[targetMarket], ss)

	targetAcct.exec.CreateQueue(strategyID, true)
	sourceAcct.exec.CreateQueue(strategyID, false)

	return nil
}

func (r *Reactor) getOrCreateMarket(as *accountState, symbol string) *marketState {
	key := as.cfg.ID + "|" + symbol
	if ms, ok := r.markets[key]; ok {
		return ms
	}
	id := types.MarketId(len(r.markets))
	cfg := types.MarketConfig{PricePrecision: 8, AmountPrecision: 8}
	ms := &marketState{
		id:      id,
		symbol:  symbol,
		account: as,
		m:       market.New(id, as.id, types.ModeFlags{}, cfg),
	}
	r.markets[key] = ms
	return ms
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Run performs the reactor's startup sequence and then blocks its
// background loops until ctx is cancelled.
func (r *Reactor) Run(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if r.sink != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.sink.Start(); err != nil {
				r.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	for _, ac := range r.accounts {
		if err := r.resolveMarkets(ac); err != nil {
			r.logger.Error("failed to resolve account markets", "account", ac.cfg.ID, "error", err)
		}
	}

	for _, ms := range r.markets {
		r.startMarket(ms)
	}

	r.refreshAllBalances()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.balanceLoop()
	}()

	if !r.cfg.DryRun {
		for _, ac := range r.accounts {
			ac.exec.Start(r.ctx)
		}
	}

	for _, ss := range r.strategies {
		r.wg.Add(1)
		go func(ss *strategyState) {
			defer r.wg.Done()
			r.tickLoop(ss)
		}(ss)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reconcileLoop()
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.gaugeLoop()
	}()

	<-r.ctx.Done()
	return nil
}

// resolveMarkets asks each market's adapter to resolve the configured
// symbol into its real handle and trading rules. Markets whose resolution
// fails are left with their placeholder config and flagged in the log; the
// reactor does not abort startup over one bad market.
func (r *Reactor) resolveMarkets(ac *accountState) error {
	for _, ms := range r.markets {
		if ms.account != ac {
			continue
		}
		id, err := ac.adapter.Resolve(r.ctx, ms.symbol)
		if err != nil {
			r.logger.Error("market resolve failed", "account", ac.cfg.ID, "market", ms.symbol, "error", err)
			continue
		}
		cfg, err := ac.adapter.MarketConfig(r.ctx, id)
		if err != nil {
			r.logger.Error("market config fetch failed", "account", ac.cfg.ID, "market", ms.symbol, "error", err)
			continue
		}
		ms.mu.Lock()
		ms.id = id
		ms.m.ID = id
		ms.m.Config = cfg
		ms.mu.Unlock()
	}
	return nil
}

// startMarket fetches the initial order book snapshot (if flagged) and
// launches the reconnecting stream goroutine for a market's public and/or
// private feeds.
func (r *Reactor) startMarket(ms *marketState) {
	ms.mu.Lock()
	if ms.streamStarted {
		ms.mu.Unlock()
		return
	}
	ms.streamStarted = true
	ms.mu.Unlock()

	if ms.m.Mode.FetchPublicOrderbook {
		snap, err := ms.account.adapter.FetchOrderbook(r.ctx, ms.id, 0)
		if err != nil {
			r.logger.Error("initial orderbook fetch failed", "market", ms.symbol, "error", err)
		} else {
			ob := orderbook.New()
			for _, lv := range snap.Bids {
				_ = ob.Update(types.Order{Price: lv.Price, Amount: lv.Amount, Side: types.Buy})
			}
			for _, lv := range snap.Asks {
				_ = ob.Update(types.Order{Price: lv.Price, Amount: lv.Amount, Side: types.Sell})
			}
			ms.m.ReplaceOrderbook(ob)
		}
	}

	if !ms.m.Mode.WSPublic && !ms.m.Mode.WSPrivate {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.streamLoop(ms)
	}()
}

func (r *Reactor) streamLoop(ms *marketState) {
	backoff := time.Second
	cb := adapter.Callbacks{
		OnPublicTrade: func(t types.PublicTrade) {
			if r.sink != nil {
				r.sink.MarketVolume.WithLabelValues(ms.symbol).Add(t.Total.InexactFloat64())
			}
		},
		OnPrivateTrade: func(t types.PrivateTrade) {
			r.dispatchPrivateTrade(ms, t)
		},
		OnBookUpdate: func(o types.Order) {
			if err := ms.m.ApplyLevel(o); err != nil {
				r.logger.Error("book update rejected", "market", ms.symbol, "error", err)
			}
		},
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		ms.account.setConnected(true)
		err := ms.account.adapter.Stream(r.ctx, ms.id, ms.m.Mode, cb)
		ms.account.setConnected(false)

		if r.ctx.Err() != nil {
			return
		}
		r.logger.Error("stream disconnected, reconnecting", "market", ms.symbol, "error", err, "backoff", backoff)

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *Reactor) dispatchPrivateTrade(ms *marketState, t types.PrivateTrade) {
	for _, ss := range r.targetListeners[ms] {
		ss.strategy.NotifyPrivateTrade(t, false)
	}
}

func (r *Reactor) refreshAllBalances() {
	for _, ac := range r.accounts {
		r.refreshBalances(ac)
	}
}

func (r *Reactor) refreshBalances(ac *accountState) {
	balances, err := ac.adapter.FetchBalances(r.ctx)
	if err != nil {
		r.logger.Error("balance refresh failed", "account", ac.cfg.ID, "error", err)
		return
	}
	ac.account.SetBalances(balances)
	if err := r.store.SaveBalances(ac.cfg.ID, balances); err != nil {
		r.logger.Error("balance cache save failed", "account", ac.cfg.ID, "error", err)
	}
}

func (r *Reactor) balanceLoop() {
	ticker := time.NewTicker(balanceRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.refreshAllBalances()
		}
	}
}

func (r *Reactor) reconcileLoop() {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			for _, ss := range r.strategies {
				if err := ss.targetAccount.exec.FetchOpenOrders(r.ctx, ss.targetMarket.m, nil, 0); err != nil {
					r.logger.Error("reconciliation failed", "strategy", ss.cfg.ID, "error", err)
				}
			}
		}
	}
}

func (r *Reactor) gaugeLoop() {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.updateGauges()
		}
	}
}

func (r *Reactor) updateGauges() {
	if r.sink == nil {
		return
	}
	for _, ms := range r.markets {
		r.sink.OrderCount.WithLabelValues(string(types.Buy), ms.symbol).Set(float64(len(ms.m.OpenOrders().BySide(types.Buy))))
		r.sink.OrderCount.WithLabelValues(string(types.Sell), ms.symbol).Set(float64(len(ms.m.OpenOrders().BySide(types.Sell))))
	}
	for _, ac := range r.accounts {
		for currency, bal := range ac.account.Snapshot() {
			r.sink.AccountBalance.WithLabelValues(ac.cfg.ID, "free", currency).Set(bal.Free.InexactFloat64())
			r.sink.AccountBalance.WithLabelValues(ac.cfg.ID, "locked", currency).Set(bal.Locked.InexactFloat64())
			r.sink.AccountBalance.WithLabelValues(ac.cfg.ID, "total", currency).Set(bal.Total.InexactFloat64())
		}
	}
}

func (r *Reactor) tickLoop(ss *strategyState) {
	if ss.cfg.Delay > 0 {
		select {
		case <-time.After(ss.cfg.Delay):
		case <-r.ctx.Done():
			return
		}
	}

	first := true
	for {
		if ss.stopped.Load() {
			return
		}

		period := ss.cfg.Period
		if ss.cfg.PeriodRandomDelay > 0 {
			period += time.Duration(rand.Int63n(int64(ss.cfg.PeriodRandomDelay) + 1))
		}

		timer := time.NewTimer(period)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		skip := first && ss.cfg.DelayFirstExecute
		first = false
		if skip {
			continue
		}
		r.tick(ss)

		if ss.stopped.Load() {
			return
		}
	}
}

// tick is the hot path: refresh the source book, ask the strategy for a
// desired target book, and push the diff to the target's executor. A
// recovered panic is fatal to this strategy only: it is wrapped in a
// FatalReactorError, logged with its backtrace, and the strategy's tick
// loop exits. Other strategies continue ticking.
func (r *Reactor) tick(ss *strategyState) {
	defer func() {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			fatal := &errs.FatalReactorError{StrategyID: int(ss.id), Err: err}
			r.logger.Error("tick panicked, stopping strategy", "strategy", ss.cfg.ID, "error", fatal, "stack", string(debug.Stack()))
			ss.stopped.Store(true)
		}
	}()

	if !ss.targetAccount.isConnected() || !ss.sourceAccount.isConnected() {
		return
	}

	if ss.sourceMarket.m.Mode.FetchPublicOrderbook {
		snap, err := ss.sourceAccount.adapter.FetchOrderbook(r.ctx, ss.sourceMarket.id, 0)
		if err != nil {
			r.logger.Error("source orderbook refresh failed", "strategy", ss.cfg.ID, "error", err)
			return
		}
		ob := orderbook.New()
		for _, lv := range snap.Bids {
			_ = ob.Update(types.Order{Price: lv.Price, Amount: lv.Amount, Side: types.Buy})
		}
		for _, lv := range snap.Asks {
			_ = ob.Update(types.Order{Price: lv.Price, Amount: lv.Amount, Side: types.Sell})
		}
		ss.sourceMarket.m.ReplaceOrderbook(ob)
	}

	result, err := ss.strategy.Call()
	if err != nil {
		r.logger.Error("strategy call failed", "strategy", ss.cfg.ID, "error", err)
		return
	}
	if result == nil || result.Desired == nil {
		return
	}

	desired := result.Desired
	askPoints, bidPoints := result.AskPoints, result.BidPoints

	if ss.fxProvider != nil {
		rate, ok := ss.fxProvider.Rate()
		if !ok {
			r.logger.Warn("fx rate not ready, skipping tick", "strategy", ss.cfg.ID, "error", (&errs.FxUnavailable{}).Error())
			return
		}
		desired = applyFX(desired, rate)
		askPoints = applyFXPoints(askPoints, rate)
		bidPoints = applyFXPoints(bidPoints, rate)
	}

	if r.cfg.DryRun || ss.targetAccount.account.Flags.DryRun {
		return
	}

	opts := scheduler.Options{
		Market:            ss.targetMarket.id,
		AskPoints:         askPoints,
		BidPoints:         bidPoints,
		MaxAmountPerOrder: ss.maxAmountPerOrder,
		PricePrecision:    ss.targetMarket.m.Config.PricePrecision,
		AmountTolerance:   decimal.New(1, -ss.targetMarket.m.Config.AmountPrecision),
		OrderType:         types.OrderTypeLimit,
	}

	actions := scheduler.Schedule(ss.targetMarket.m.OpenOrders(), desired, opts)
	if len(actions) == 0 {
		return
	}
	ss.targetAccount.exec.Push(ss.id, actions)
}

func applyFX(ob *orderbook.Orderbook, rate decimal.Decimal) *orderbook.Orderbook {
	out := orderbook.New()
	for _, lv := range ob.Levels(types.Buy) {
		_ = out.Update(types.Order{Price: fx.Apply(rate, lv.Price), Amount: lv.Amount, Side: types.Buy})
	}
	for _, lv := range ob.Levels(types.Sell) {
		_ = out.Update(types.Order{Price: fx.Apply(rate, lv.Price), Amount: lv.Amount, Side: types.Sell})
	}
	return out
}

func applyFXPoints(points []decimal.Decimal, rate decimal.Decimal) []decimal.Decimal {
	if points == nil {
		return nil
	}
	out := make([]decimal.Decimal, len(points))
	for i, p := range points {
		out[i] = fx.Apply(rate, p)
	}
	return out
}

// Stop halts the metrics server, executors, and every background loop,
// then waits for them to exit.
func (r *Reactor) Stop() {
	r.logger.Info("shutting down")
	if r.cancel != nil {
		r.cancel()
	}
	if r.sink != nil {
		if err := r.sink.Stop(); err != nil {
			r.logger.Error("metrics server stop error", "error", err)
		}
	}
	for _, ac := range r.accounts {
		if err := ac.exec.Stop(); err != nil {
			r.logger.Error("executor stop error", "account", ac.cfg.ID, "error", err)
		}
	}
	r.wg.Wait()
	if err := r.store.Close(); err != nil {
		r.logger.Error("store close error", "error", err)
	}
	r.logger.Info("shutdown complete")
}
