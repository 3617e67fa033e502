package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell {
		t.Errorf("Buy.Opposite() = %v, want Sell", Buy.Opposite())
	}
	if Sell.Opposite() != Buy {
		t.Errorf("Sell.Opposite() = %v, want Buy", Sell.Opposite())
	}
}

func TestAskBidAliasSellBuy(t *testing.T) {
	if Ask != Sell {
		t.Errorf("Ask = %v, want Sell", Ask)
	}
	if Bid != Buy {
		t.Errorf("Bid = %v, want Buy", Bid)
	}
}

func TestPublicTradeTotalIsPriceTimesAmount(t *testing.T) {
	trade := PublicTrade{
		Price:  decimal.NewFromFloat(1.25),
		Amount: decimal.NewFromFloat(4),
	}
	trade.Total = trade.Price.Mul(trade.Amount)

	want := decimal.NewFromFloat(5)
	if !trade.Total.Equal(want) {
		t.Errorf("Total = %v, want %v", trade.Total, want)
	}
}

func TestOrderPriceStringIsIdentityAcrossRerounding(t *testing.T) {
	a := Order{Price: decimal.NewFromFloat(10.001), PriceString: "10.00"}
	b := Order{Price: decimal.NewFromFloat(9.999), PriceString: "10.00"}

	if a.PriceString != b.PriceString {
		t.Fatalf("expected equal PriceString for same rounded level")
	}
}
