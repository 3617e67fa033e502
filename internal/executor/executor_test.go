package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mirrormaker/internal/adapter"
	"mirrormaker/internal/scheduler"
	"mirrormaker/pkg/types"
)

type noopAdapter struct{}

func (noopAdapter) Markets(ctx context.Context) ([]types.MarketId, error) { return nil, nil }
func (noopAdapter) Resolve(ctx context.Context, symbol string) (types.MarketId, error) {
	return 0, nil
}
func (noopAdapter) MarketConfig(ctx context.Context, m types.MarketId) (types.MarketConfig, error) {
	return types.MarketConfig{}, nil
}
func (noopAdapter) FetchOrderbook(ctx context.Context, m types.MarketId, depth int) (adapter.Snapshot, error) {
	return adapter.Snapshot{}, nil
}
func (noopAdapter) CreateOrder(ctx context.Context, order types.Order) (string, error) {
	return "id", nil
}
func (noopAdapter) CancelOrder(ctx context.Context, m types.MarketId, orderID string) (bool, error) {
	return true, nil
}
func (noopAdapter) FetchOpenOrders(ctx context.Context, m types.MarketId) ([]types.Order, error) {
	return nil, nil
}
func (noopAdapter) FetchBalances(ctx context.Context) ([]types.Balance, error) { return nil, nil }
func (noopAdapter) Stream(ctx context.Context, m types.MarketId, mode types.ModeFlags, cb adapter.Callbacks) error {
	return nil
}

// property 7: push(S, A1); push(S, A2) leaves the queue equal to A2 under
// the default purge_on_push behavior.
func TestExecutor_PurgeOnPush(t *testing.T) {
	ex := New(1, noopAdapter{}, 100, nil)
	ex.CreateQueue(1, true)

	a1 := []scheduler.Action{{Type: scheduler.ActionCreate}, {Type: scheduler.ActionCreate}}
	a2 := []scheduler.Action{{Type: scheduler.ActionCancel}}

	ex.Push(1, a1)
	require.Equal(t, 2, ex.QueueLen(1))

	ex.Push(1, a2)
	require.Equal(t, 1, ex.QueueLen(1))
}

func TestExecutor_AppendQueueGrows(t *testing.T) {
	ex := New(1, noopAdapter{}, 100, nil)
	ex.CreateQueue(1, false)

	ex.Push(1, []scheduler.Action{{Type: scheduler.ActionCreate}})
	ex.Push(1, []scheduler.Action{{Type: scheduler.ActionCreate}})

	require.Equal(t, 2, ex.QueueLen(1))
}
