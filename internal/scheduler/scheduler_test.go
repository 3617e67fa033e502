package scheduler

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mirrormaker/internal/market"
	"mirrormaker/internal/orderbook"
	"mirrormaker/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func openOrdersWithBids(t *testing.T, levels map[string]string) *market.OpenOrders {
	t.Helper()
	oo := market.NewOpenOrders()
	for price, amount := range levels {
		oo.Insert(types.Order{
			ID:          "ord-" + price,
			Price:       d(price),
			PriceString: d(price).String(),
			Amount:      d(amount),
			Side:        types.Buy,
		})
	}
	return oo
}

func bookWithBids(t *testing.T, levels map[string]string) *orderbook.Orderbook {
	t.Helper()
	ob := orderbook.New()
	for price, amount := range levels {
		require.NoError(t, ob.Update(types.Order{Side: types.Buy, Price: d(price), Amount: d(amount)}))
	}
	return ob
}

// Scenario D — scheduler diff.
func TestSchedule_ScenarioD(t *testing.T) {
	current := openOrdersWithBids(t, map[string]string{"100": "1", "99": "1"})
	desired := bookWithBids(t, map[string]string{"100": "1", "98": "1"})

	actions := Schedule(current, desired, Options{
		Market:          1,
		PricePrecision:  2,
		AmountTolerance: d("0.0001"),
		OrderType:       types.OrderTypeLimit,
	})

	require.Len(t, actions, 2)
	require.Equal(t, ActionCancel, actions[0].Type)
	require.Equal(t, "ord-99", actions[0].OrderID)
	require.Equal(t, ActionCreate, actions[1].Type)
	require.True(t, actions[1].Order.Price.Equal(d("98")))
	require.True(t, actions[1].Order.Amount.Equal(d("1")))
}

// property 4: current == desired (price-aligned) produces no actions.
func TestSchedule_NoopWhenAligned(t *testing.T) {
	current := openOrdersWithBids(t, map[string]string{"100": "1", "99": "2"})
	desired := bookWithBids(t, map[string]string{"100": "1", "99": "2"})

	actions := Schedule(current, desired, Options{
		Market:          1,
		PricePrecision:  2,
		AmountTolerance: d("0.0001"),
		OrderType:       types.OrderTypeLimit,
	})
	require.Empty(t, actions)
}

// property 5: applying the action list abstractly to current converges on
// desired, modulo precision.
func TestSchedule_Converges(t *testing.T) {
	current := openOrdersWithBids(t, map[string]string{"100": "1", "99": "1", "97": "5"})
	desired := bookWithBids(t, map[string]string{"100": "1", "98": "2"})

	actions := Schedule(current, desired, Options{
		Market:          1,
		PricePrecision:  2,
		AmountTolerance: d("0.0001"),
		OrderType:       types.OrderTypeLimit,
	})

	result := applyAbstractly(current, actions)
	want := map[string]string{"100": "1", "98": "2"}
	require.Equal(t, want, result)
}

// applyAbstractly simulates the executor applying a cancel/create action
// list to an OpenOrders cache, returning the resulting bid ladder.
func applyAbstractly(current *market.OpenOrders, actions []Action) map[string]string {
	state := map[string]string{}
	for _, o := range current.BySide(types.Buy) {
		state[o.Price.String()] = o.Amount.String()
	}
	for _, a := range actions {
		switch a.Type {
		case ActionCancel:
			for k := range state {
				if k == a.Price {
					delete(state, k)
				}
			}
		case ActionCreate:
			state[a.Order.Price.String()] = a.Order.Amount.String()
		}
	}
	return state
}
