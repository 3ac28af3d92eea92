package executor

import (
	"backsim/internal/candle"
	"backsim/internal/money"
	"testing"
)

func closeCandle(price float64) candle.Candle {
	d := money.FromFloat(price)
	return candle.Candle{TimestampMs: 1000, Open: d, High: d, Low: d, Close: d, Volume: money.FromInt(1)}
}

func TestExecuteMarketBuyScenario(t *testing.T) {
	e := New(money.FromFloat(0.001), money.FromFloat(0.0005))
	order := Order{ID: e.NextOrderID(), Side: Buy, Size: money.FromFloat(1.0)}
	fill, err := e.ExecuteMarket(order, closeCandle(2000))
	if err != nil {
		t.Fatalf("ExecuteMarket: %v", err)
	}
	if fill.FillPrice.String() != "2001" {
		t.Fatalf("fill price = %s, want 2001", fill.FillPrice.String())
	}
	if fill.Commission.String() != "2.001" {
		t.Fatalf("commission = %s, want 2.001", fill.Commission.String())
	}
}

func TestExecuteMarketSellScenario(t *testing.T) {
	e := New(money.FromFloat(0.001), money.FromFloat(0.0005))
	order := Order{ID: e.NextOrderID(), Side: Sell, Size: money.FromFloat(1.0)}
	fill, err := e.ExecuteMarket(order, closeCandle(2000))
	if err != nil {
		t.Fatalf("ExecuteMarket: %v", err)
	}
	if fill.FillPrice.String() != "1999" {
		t.Fatalf("fill price = %s, want 1999", fill.FillPrice.String())
	}
	if fill.Commission.String() != "1.999" {
		t.Fatalf("commission = %s, want 1.999", fill.Commission.String())
	}
}

func TestExecuteMarketZeroSizeRejected(t *testing.T) {
	e := New(money.ZERO, money.ZERO)
	order := Order{ID: e.NextOrderID(), Side: Buy, Size: money.ZERO}
	if _, err := e.ExecuteMarket(order, closeCandle(100)); err == nil {
		t.Fatalf("expected error for zero-size order")
	}
}

func TestNextOrderIDMonotonic(t *testing.T) {
	e := New(money.ZERO, money.ZERO)
	a := e.NextOrderID()
	b := e.NextOrderID()
	if b != a+1 {
		t.Fatalf("order ids should be monotonic, got %d then %d", a, b)
	}
}
