package executor

import (
	"mirrormaker/internal/scheduler"
	"mirrormaker/pkg/types"
)

// HedgeRouter implements strategy.HedgeSink by converting grouped
// order-back orders into create actions on the named account's executor.
// It is defined here (rather than imported from strategy) so the
// strategy package stays free of an executor dependency.
type HedgeRouter struct {
	Executors map[types.AccountId]*Executor
}

// PushHedge routes a strategy's hedge orders to its source account's
// executor queue. That queue must have been created with
// purgeOnPush=false so a later hedge batch never erases an earlier one.
func (r *HedgeRouter) PushHedge(accountID types.AccountId, strategyID types.StrategyId, orders []types.Order) {
	ex, ok := r.Executors[accountID]
	if !ok {
		return
	}
	actions := make([]scheduler.Action, len(orders))
	for i, o := range orders {
		actions[i] = scheduler.Action{
			Type:   scheduler.ActionCreate,
			Market: o.MarketID,
			Side:   o.Side,
			Order:  o,
		}
	}
	ex.Push(strategyID, actions)
}
