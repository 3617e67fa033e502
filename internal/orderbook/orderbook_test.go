package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mirrormaker/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newBook(t *testing.T, bids, asks [][2]string) *Orderbook {
	t.Helper()
	ob := New()
	for _, lv := range bids {
		require.NoError(t, ob.Update(types.Order{Side: types.Buy, Price: d(lv[0]), Amount: d(lv[1])}))
	}
	for _, lv := range asks {
		require.NoError(t, ob.Update(types.Order{Side: types.Sell, Price: d(lv[0]), Amount: d(lv[1])}))
	}
	return ob
}

// Scenario A: aggregation onto a price grid.
func TestAggregate_ScenarioA(t *testing.T) {
	ob := newBook(t, [][2]string{{"100", "1"}, {"99", "2"}, {"98", "5"}}, nil)

	points := []decimal.Decimal{d("100"), d("99.5"), d("99"), d("98")}
	agg := ob.Aggregate(points, nil, decimal.Zero)

	want := map[string]string{"100": "1", "99": "2", "98": "5"}
	got := map[string]string{}
	for _, b := range agg.Bids {
		got[b.Point.String()] = b.Amount.String()
	}
	require.Equal(t, want, got)
}

// aggregation idempotence: aggregating an already-aggregated book onto
// the same points is a no-op.
func TestAggregate_Idempotent(t *testing.T) {
	ob := newBook(t, [][2]string{{"100", "1"}, {"99", "2"}, {"98", "5"}}, nil)
	points := []decimal.Decimal{d("100"), d("99"), d("98")}

	once := ob.Aggregate(points, nil, decimal.Zero).ToOrderbook()
	twice := once.Aggregate(points, nil, decimal.Zero).ToOrderbook()

	require.Equal(t, once.Levels(types.Buy), twice.Levels(types.Buy))
}

func TestAggregate_DropsBelowMinAmount(t *testing.T) {
	ob := newBook(t, [][2]string{{"100", "0.5"}, {"99", "2"}}, nil)
	points := []decimal.Decimal{d("100"), d("99")}
	agg := ob.Aggregate(points, nil, d("1"))
	require.Len(t, agg.Bids, 1)
	require.Equal(t, "99", agg.Bids[0].Point.String())
}

func TestAggregate_SourceWorseThanEveryPointIsDropped(t *testing.T) {
	ob := newBook(t, [][2]string{{"50", "3"}}, nil)
	points := []decimal.Decimal{d("100"), d("99")}
	agg := ob.Aggregate(points, nil, decimal.Zero)
	require.Empty(t, agg.Bids)
}

// Scenario B: spread.
func TestSpread_ScenarioB(t *testing.T) {
	ob := newBook(t, [][2]string{{"100", "1"}}, [][2]string{{"101", "1"}})
	spread := ob.Spread(d("0.01"), d("0.01"))

	bid, ok := spread.Best(types.Buy)
	require.True(t, ok)
	require.True(t, bid.Price.Equal(d("99")))

	ask, ok := spread.Best(types.Sell)
	require.True(t, ok)
	require.True(t, ask.Price.Equal(d("102.01")))
}

// zero-spread identity: applying a zero spread changes nothing.
func TestSpread_ZeroIsIdentity(t *testing.T) {
	ob := newBook(t, [][2]string{{"100", "1"}, {"99", "3"}}, [][2]string{{"101", "2"}})
	spread := ob.Spread(decimal.Zero, decimal.Zero)

	require.Equal(t, ob.Levels(types.Buy), spread.Levels(types.Buy))
	require.Equal(t, ob.Levels(types.Sell), spread.Levels(types.Sell))
}

// Scenario C: volume adjustment.
func TestAdjustVolumeSimple_ScenarioC(t *testing.T) {
	ob := newBook(t,
		[][2]string{{"100", "2"}, {"99", "3"}},
		[][2]string{{"101", "1"}, {"102", "4"}},
	)

	adjusted := ob.AdjustVolumeSimple(d("3"), d("249.5"), false)

	asks := adjusted.Levels(types.Sell)
	require.Len(t, asks, 2)
	require.True(t, asks[0].Amount.Equal(d("1")))
	require.True(t, asks[1].Amount.Equal(d("2"))) // truncated from 4 to fit the 3 base cap

	bids := adjusted.Levels(types.Buy)
	require.Len(t, bids, 2)
	require.True(t, bids[0].Amount.Equal(d("2")))
	require.True(t, bids[1].Amount.Equal(d("0.5"))) // 249.5 - 200 = 49.5 quote left, /99 = 0.5
}

// adjust_volume_simple extremes: a zero limit drops every level on that
// side; an unbounded limit keeps every level untouched.
func TestAdjustVolumeSimple_Extremes(t *testing.T) {
	ob := newBook(t, [][2]string{{"100", "2"}}, [][2]string{{"101", "1"}})

	zeroed := ob.AdjustVolumeSimple(decimal.Zero, decimal.Zero, false)
	require.Empty(t, zeroed.Levels(types.Sell))
	require.Empty(t, zeroed.Levels(types.Buy))

	huge := d("1000000000")
	unbounded := ob.AdjustVolumeSimple(huge, huge, false)
	require.Equal(t, ob.Levels(types.Sell), unbounded.Levels(types.Sell))
	require.Equal(t, ob.Levels(types.Buy), unbounded.Levels(types.Buy))
}

func TestUpdate_NegativeAmountIsInvariantViolation(t *testing.T) {
	ob := New()
	err := ob.Update(types.Order{Side: types.Buy, Price: d("100"), Amount: d("-1")})
	require.Error(t, err)
}

func TestUpdate_ZeroAmountDeletes(t *testing.T) {
	ob := newBook(t, [][2]string{{"100", "1"}}, nil)
	require.NoError(t, ob.Update(types.Order{Side: types.Buy, Price: d("100"), Amount: decimal.Zero}))
	_, ok := ob.Best(types.Buy)
	require.False(t, ok)
}
