package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"

	"mirrormaker/pkg/types"
)

// ProvenanceEntry records one source level folded into an aggregated
// bucket, so a strategy can explain where a quoted level's volume came
// from.
type ProvenanceEntry struct {
	SourcePrice  decimal.Decimal
	SourceAmount decimal.Decimal
}

// Bucket is one point on an aggregated side: the point's nominal price,
// its summed amount, and the source levels that fed it.
type Bucket struct {
	Point      decimal.Decimal
	Amount     decimal.Decimal
	Provenance []ProvenanceEntry
}

// AggregatedOrderbook is an Orderbook quantized onto externally supplied
// price points, with per-bucket source provenance retained.
type AggregatedOrderbook struct {
	Bids []Bucket // descending by Point
	Asks []Bucket // ascending by Point
}

// ToOrderbook drops provenance and returns a plain Orderbook, discarding
// buckets with a zero amount.
func (a *AggregatedOrderbook) ToOrderbook() *Orderbook {
	out := New()
	for _, b := range a.Bids {
		if b.Amount.IsPositive() {
			out.bids.Set(&level{price: b.Point, amount: b.Amount})
		}
	}
	for _, b := range a.Asks {
		if b.Amount.IsPositive() {
			out.asks.Set(&level{price: b.Point, amount: b.Amount})
		}
	}
	return out
}

// Aggregate quantizes the book's bids and asks onto the supplied price
// points. Each source level is assigned to the nearest-but-not-better
// point: for bids, the highest point at or below the source price; for
// asks, the lowest point at or above the source price. A source level
// worse than every point (no qualifying point exists) has nowhere to be
// represented and is dropped. Buckets whose total amount ends up below
// minAmount are dropped from the result entirely (not zeroed — a point
// either carries tradable size or does not appear).
func (ob *Orderbook) Aggregate(bidPoints, askPoints []decimal.Decimal, minAmount decimal.Decimal) *AggregatedOrderbook {
	return &AggregatedOrderbook{
		Bids: aggregateSide(ob.Levels(types.Buy), bidPoints, types.Buy, minAmount),
		Asks: aggregateSide(ob.Levels(types.Sell), askPoints, types.Sell, minAmount),
	}
}

func aggregateSide(sourceLevels []types.OrderbookLevel, points []decimal.Decimal, side types.Side, minAmount decimal.Decimal) []Bucket {
	sorted := make([]decimal.Decimal, len(points))
	copy(sorted, points)
	if side == types.Buy {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].GreaterThan(sorted[j]) })
	} else {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	}

	buckets := make([]Bucket, len(sorted))
	for i, p := range sorted {
		buckets[i] = Bucket{Point: p, Amount: decimal.Zero}
	}

	for _, src := range sourceLevels {
		idx := nearestNotBetter(sorted, src.Price, side)
		if idx < 0 {
			continue // worse than every point: nowhere to carry it, dropped
		}
		buckets[idx].Amount = buckets[idx].Amount.Add(src.Amount)
		buckets[idx].Provenance = append(buckets[idx].Provenance, ProvenanceEntry{
			SourcePrice:  src.Price,
			SourceAmount: src.Amount,
		})
	}

	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		if b.Amount.GreaterThanOrEqual(minAmount) && b.Amount.IsPositive() {
			out = append(out, b)
		}
	}
	return out
}

// nearestNotBetter finds, in a slice sorted best-first, the index of the
// point nearest to but not better than price. For bids (descending
// points) that is the highest point <= price. For asks (ascending
// points) that is the lowest point >= price. Returns -1 if price is worse
// than every point.
func nearestNotBetter(sorted []decimal.Decimal, price decimal.Decimal, side types.Side) int {
	best := -1
	for i, p := range sorted {
		if side == types.Buy {
			if p.LessThanOrEqual(price) {
				best = i
				break
			}
		} else {
			if p.GreaterThanOrEqual(price) {
				best = i
				break
			}
		}
	}
	return best
}
