package analyzer

import (
	"math"
	"testing"

	"backsim/internal/account"
	"backsim/internal/money"
)

func snap(ts int64, equity float64) account.Snapshot {
	d := money.FromFloat(equity)
	return account.Snapshot{Timestamp: ts, Equity: d, Balance: d, UnrealizedPnL: money.ZERO}
}

func TestDrawdownScenario(t *testing.T) {
	curve := []account.Snapshot{
		snap(1000, 10000),
		snap(2000, 11000),
		snap(3000, 9000),
		snap(4000, 10000),
	}
	m := Analyze(nil, curve, money.FromFloat(10000))
	if math.Abs(m.MaxDrawdown-0.1818) > 0.001 {
		t.Fatalf("MaxDrawdown = %f, want ~0.1818", m.MaxDrawdown)
	}
}

func TestEmptyCurveAllZeros(t *testing.T) {
	m := Analyze(nil, nil, money.FromFloat(10000))
	if m.MaxDrawdown != 0 || m.Sharpe != 0 || !m.NetProfit.IsZero() {
		t.Fatalf("expected all-zero metrics for empty curve, got %+v", m)
	}
}

func TestSinglePointCurveZeroVolatility(t *testing.T) {
	curve := []account.Snapshot{snap(1000, 10000)}
	m := Analyze(nil, curve, money.FromFloat(10000))
	if m.Sharpe != 0 {
		t.Fatalf("expected zero sharpe for single-point curve, got %f", m.Sharpe)
	}
}

func TestProfitFactorInfinitySentinel(t *testing.T) {
	trades := []account.Trade{
		{PnL: money.FromFloat(100)},
		{PnL: money.FromFloat(50)},
	}
	curve := []account.Snapshot{snap(1000, 10000), snap(2000, 10150)}
	m := Analyze(trades, curve, money.FromFloat(10000))
	if m.ProfitFactor.String() != "999" {
		t.Fatalf("ProfitFactor = %s, want 999", m.ProfitFactor.String())
	}
}

func TestNetProfitExact(t *testing.T) {
	trades := []account.Trade{
		{PnL: money.FromFloat(100)},
		{PnL: money.FromFloat(-40)},
	}
	curve := []account.Snapshot{snap(1000, 10000), snap(2000, 10060)}
	m := Analyze(trades, curve, money.FromFloat(10000))
	if m.NetProfit.String() != "60" {
		t.Fatalf("NetProfit = %s, want 60", m.NetProfit.String())
	}
	if m.WinningCount != 1 || m.LosingCount != 1 {
		t.Fatalf("win/loss counts wrong: %d/%d", m.WinningCount, m.LosingCount)
	}
}
