package strategy

import (
	"github.com/shopspring/decimal"

	"mirrormaker/pkg/types"
)

// PriceFunc selects how successive price points move away from the top of
// book.
type PriceFunc string

const (
	PriceFuncConstant    PriceFunc = "constant"
	PriceFuncLinear      PriceFunc = "linear"
	PriceFuncExponential PriceFunc = "exponential"
)

// BuildPricePoints returns count price points moving away from top toward
// the book's far side (descending for bids, ascending for asks), spaced
// according to fn. Constant and exponential grids start at top; the linear
// grid's first point is already one step away from it. Results are rounded
// to pricePrecision and deduplicated, preserving best-first order.
func BuildPricePoints(top decimal.Decimal, count int, fn PriceFunc, step decimal.Decimal, side types.Side, pricePrecision int32) []decimal.Decimal {
	if count <= 0 {
		return nil
	}
	sign := decimal.NewFromInt(1)
	if side == types.Buy {
		sign = decimal.NewFromInt(-1)
	}

	raw := make([]decimal.Decimal, 0, count)
	switch fn {
	case PriceFuncLinear:
		cum := decimal.Zero
		for i := 0; i < count; i++ {
			cum = cum.Add(step.Mul(decimal.NewFromInt(int64(i + 1))))
			raw = append(raw, top.Add(sign.Mul(cum)))
		}
	case PriceFuncExponential:
		factor := decimal.NewFromInt(1).Add(sign.Mul(step))
		price := top
		for i := 0; i < count; i++ {
			raw = append(raw, price)
			price = price.Mul(factor)
		}
	default: // constant
		for i := 0; i < count; i++ {
			raw = append(raw, top.Add(sign.Mul(step.Mul(decimal.NewFromInt(int64(i))))))
		}
	}

	seen := make(map[string]bool, len(raw))
	out := make([]decimal.Decimal, 0, len(raw))
	for _, p := range raw {
		rounded := p.Round(pricePrecision)
		key := rounded.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rounded)
	}
	return out
}
