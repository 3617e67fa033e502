package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mirrormaker/internal/account"
	"mirrormaker/internal/market"
	"mirrormaker/internal/plugins"
	"mirrormaker/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type capturingSink struct {
	got  []types.Order
	done chan struct{}
}

func newCapturingSink() *capturingSink {
	return &capturingSink{done: make(chan struct{}, 1)}
}

func (c *capturingSink) PushHedge(accountID types.AccountId, strategyID types.StrategyId, orders []types.Order) {
	c.got = append(c.got, orders...)
	c.done <- struct{}{}
}

func testStrategy(t *testing.T, cfg Config, sink HedgeSink) *Orderback {
	t.Helper()
	tgt := market.New(1, 1, types.ModeFlags{}, types.MarketConfig{PricePrecision: 2, AmountPrecision: 8})
	src := market.New(2, 2, types.ModeFlags{}, types.MarketConfig{PricePrecision: 2, AmountPrecision: 8})
	acc := account.New(1, "test", account.Flags{})
	return New(cfg, Deps{
		ID:              1,
		Target:          tgt,
		TargetLimits:    plugins.BalanceLimit,
		TargetBase:      "BASE",
		TargetQuote:     "QUOTE",
		TargetBalances:  acc.Snapshot,
		Source:          src,
		SourceLimits:    plugins.BalanceLimit,
		SourceBase:      "BASE",
		SourceQuote:     "QUOTE",
		SourceBalances:  acc.Snapshot,
		SourceAccountID: 2,
		Sink:            sink,
	})
}

// Scenario E — order-back grouping.
func TestOrderback_ScenarioE(t *testing.T) {
	sink := newCapturingSink()
	cfg := Config{
		LevelsCount:        1,
		SpreadAsks:         d("0.01"),
		OrderbackGraceTime: 50 * time.Millisecond,
		MinOrderBackAmount: d("0.1"),
		OrderbackType:      types.OrderTypeLimit,
		EnableOrderback:    true,
	}
	s := testStrategy(t, cfg, sink)

	s.orderBack(types.PrivateTrade{ID: "t1", OrderID: "o1", MarketID: 1, Amount: d("0.5")}, types.Order{Price: d("101"), Amount: d("0.5"), Side: types.Sell})
	s.orderBack(types.PrivateTrade{ID: "t2", OrderID: "o2", MarketID: 1, Amount: d("0.3")}, types.Order{Price: d("101"), Amount: d("0.3"), Side: types.Sell})

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatal("hedge not emitted")
	}

	require.Len(t, sink.got, 1)
	hedge := sink.got[0]
	require.Equal(t, types.Buy, hedge.Side)
	require.True(t, hedge.Amount.Equal(d("0.8")), "got %s", hedge.Amount)
	want := d("101").Div(d("1.01")).Round(2)
	require.True(t, hedge.Price.Equal(want), "got %s want %s", hedge.Price, want)
	require.Equal(t, want.String(), hedge.PriceString, "PriceString must reflect the rounded price")
}

// property 6: grouping is a total partition and conserves amount.
func TestOrderback_GroupingConservesAmount(t *testing.T) {
	sink := newCapturingSink()
	cfg := Config{
		LevelsCount:        1,
		OrderbackGraceTime: 30 * time.Millisecond,
		MinOrderBackAmount: decimal.Zero,
		OrderbackType:      types.OrderTypeLimit,
		EnableOrderback:    true,
	}
	s := testStrategy(t, cfg, sink)

	trades := []struct {
		price  string
		amount string
		side   types.Side
	}{
		{"100", "1", types.Sell},
		{"100", "2", types.Sell},
		{"99", "3", types.Buy},
	}
	total := decimal.Zero
	for i, tr := range trades {
		total = total.Add(d(tr.amount))
		s.orderBack(types.PrivateTrade{ID: string(rune('a' + i)), OrderID: string(rune('A' + i)), MarketID: 1, Amount: d(tr.amount)}, types.Order{Price: d(tr.price), Amount: d(tr.amount), Side: tr.side})
	}

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatal("hedge not emitted")
	}

	sumOut := decimal.Zero
	seenKeys := map[string]bool{}
	for _, o := range sink.got {
		key := o.Price.String() + string(o.Side)
		require.False(t, seenKeys[key], "duplicate group key %s", key)
		seenKeys[key] = true
		sumOut = sumOut.Add(o.Amount)
	}
	require.True(t, sumOut.Equal(total), "got %s want %s", sumOut, total)
}
