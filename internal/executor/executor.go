// Package executor drains per-(account, strategy) FIFO action queues
// against a rate limit, classifies exchange failures as transient or
// permanent, and reconciles a market's resting-order cache against the
// exchange's authoritative view.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	tomb "gopkg.in/tomb.v2"

	"mirrormaker/internal/adapter"
	"mirrormaker/internal/errs"
	"mirrormaker/internal/market"
	"mirrormaker/internal/scheduler"
	"mirrormaker/pkg/types"
)

const (
	maxTransientRetries = 3
	retryBaseDelay      = 200 * time.Millisecond
)

// Executor owns one account's outbound connection: it is the sole writer
// to that account's adapter.
type Executor struct {
	accountID types.AccountId
	adapter   adapter.Exchange
	rate      *TokenBucket
	logger    *slog.Logger

	mu          sync.Mutex
	order       []types.StrategyId // round-robin order of known strategies
	queues      map[types.StrategyId][]scheduler.Action
	purgeOnPush map[types.StrategyId]bool // per-queue: true replaces on push, false appends

	t tomb.Tomb
}

// New constructs an executor for one account. ratePerSecond is the
// account's published request budget.
func New(accountID types.AccountId, ex adapter.Exchange, ratePerSecond float64, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		accountID:   accountID,
		adapter:     ex,
		rate:        NewTokenBucket(ratePerSecond, ratePerSecond),
		logger:      logger.With("component", "executor", "account", accountID),
		queues:      make(map[types.StrategyId][]scheduler.Action),
		purgeOnPush: make(map[types.StrategyId]bool),
	}
}

// CreateQueue idempotently registers a strategy's queue. purgeOnPush set
// to true (the default for market-making scheduler output) means Push
// atomically replaces the queue; false means Push appends, which an
// order-back hedge queue needs so a later hedge batch never erases an
// earlier one still awaiting dispatch.
func (e *Executor) CreateQueue(strategyID types.StrategyId, purgeOnPush bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queues[strategyID]; ok {
		return
	}
	e.queues[strategyID] = nil
	e.purgeOnPush[strategyID] = purgeOnPush
	e.order = append(e.order, strategyID)
}

// Push installs actions for a strategy, following that queue's
// purge-on-push setting (see CreateQueue).
func (e *Executor) Push(strategyID types.StrategyId, actions []scheduler.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queues[strategyID]; !ok {
		e.order = append(e.order, strategyID)
		e.purgeOnPush[strategyID] = true
	}
	if e.purgeOnPush[strategyID] {
		e.queues[strategyID] = actions
	} else {
		e.queues[strategyID] = append(e.queues[strategyID], actions...)
	}
}

// QueueLen reports a strategy's current queue depth, for tests and
// metrics.
func (e *Executor) QueueLen(strategyID types.StrategyId) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queues[strategyID])
}

func (e *Executor) popNext() (types.StrategyId, scheduler.Action, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < len(e.order); i++ {
		sid := e.order[0]
		e.order = append(e.order[1:], sid) // rotate for round-robin fairness
		q := e.queues[sid]
		if len(q) == 0 {
			continue
		}
		action := q[0]
		e.queues[sid] = q[1:]
		return sid, action, true
	}
	return 0, scheduler.Action{}, false
}

// Start spawns the account's dispatcher goroutine, which drains queues in
// round-robin order honoring the rate limiter, until ctx is cancelled.
func (e *Executor) Start(ctx context.Context) {
	e.t.Go(func() error {
		return e.dispatchLoop(ctx)
	})
}

// Stop signals the dispatcher to exit and waits for it to do so.
func (e *Executor) Stop() error {
	e.t.Kill(nil)
	return e.t.Wait()
}

func (e *Executor) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-e.t.Dying():
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		_, action, ok := e.popNext()
		if !ok {
			select {
			case <-e.t.Dying():
				return nil
			case <-ctx.Done():
				return nil
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		if err := e.rate.Wait(ctx); err != nil {
			return nil
		}
		e.dispatch(ctx, action)
	}
}

func (e *Executor) dispatch(ctx context.Context, action scheduler.Action) {
	var err error
	for attempt := 0; ; attempt++ {
		err = e.execute(ctx, action)
		if err == nil {
			return
		}

		var transient *errs.TransientExchangeError
		if !errors.As(err, &transient) {
			var permanent *errs.PermanentExchangeError
			if errors.As(err, &permanent) {
				e.logger.Error("permanent exchange error, dropping action", "op", action.Type, "error", err)
			} else {
				e.logger.Error("unclassified exchange error, dropping action", "op", action.Type, "error", err)
			}
			return
		}

		if attempt >= maxTransientRetries {
			e.logger.Error("transient error exceeded retry budget, dropping action", "op", action.Type, "error", err)
			return
		}
		delay := retryBaseDelay * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (e *Executor) execute(ctx context.Context, action scheduler.Action) error {
	switch action.Type {
	case scheduler.ActionCreate:
		order := action.Order
		if order.ClientOrderID == "" {
			order.ClientOrderID = uuid.NewString()
		}
		_, err := e.adapter.CreateOrder(ctx, order)
		return err
	case scheduler.ActionCancel, scheduler.ActionStop:
		_, err := e.adapter.CancelOrder(ctx, action.Market, action.OrderID)
		return err
	case scheduler.ActionStopAll:
		orders, err := e.adapter.FetchOpenOrders(ctx, action.Market)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if _, err := e.adapter.CancelOrder(ctx, action.Market, o.ID); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// FetchOpenOrders reconciles m's open-orders cache against the exchange's
// authoritative list, ignoring orders younger than grace (they may not
// have propagated yet).
func (e *Executor) FetchOpenOrders(ctx context.Context, m *market.Market, placedAt map[string]time.Time, grace time.Duration) error {
	orders, err := e.adapter.FetchOpenOrders(ctx, m.ID)
	if err != nil {
		return err
	}
	var bids, asks []types.Order
	for _, o := range orders {
		if o.Side == types.Buy {
			bids = append(bids, o)
		} else {
			asks = append(asks, o)
		}
	}
	now := time.Now()
	m.OpenOrders().Reconcile(types.Buy, bids, placedAt, now, grace)
	m.OpenOrders().Reconcile(types.Sell, asks, placedAt, now, grace)
	return nil
}
