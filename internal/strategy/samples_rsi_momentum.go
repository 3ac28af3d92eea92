package strategy

import (
	"fmt"

	"backsim/internal/account"
	"backsim/internal/candle"
	"backsim/internal/indicator"
	"backsim/internal/money"
)

// RSIMomentum is a mean-reversion strategy driven by RSI oversold/
// overbought levels, adapted from the teacher's
// libs/strategies/rsi_momentum.go onto the Decimal indicator dictionary.
type RSIMomentum struct {
	cache           *indicator.Cache
	period          int
	oversold        money.Decimal
	overbought      money.Decimal
	riskPerTrade    money.Decimal
	stopFraction    money.Decimal
}

// NewRSIMomentum constructs the sample strategy with the classic 30/70
// thresholds over the given RSI period.
func NewRSIMomentum(cache *indicator.Cache, period int, riskPerTrade, stopFraction money.Decimal) *RSIMomentum {
	return &RSIMomentum{
		cache:        cache,
		period:       period,
		oversold:     money.FromInt(30),
		overbought:   money.FromInt(70),
		riskPerTrade: riskPerTrade,
		stopFraction: stopFraction,
	}
}

func (s *RSIMomentum) Init(ctx Context) error { return nil }

func (s *RSIMomentum) PopulateIndicators(series *candle.Series) error {
	_, err := s.cache.GetOrCompute(indicator.Spec{Name: "rsi", Kernel: "rsi", Period: s.period}, series)
	return err
}

// GenerateEntrySignal emits EntryLong when RSI dips below the oversold
// level and EntryShort when it rises above the overbought level.
func (s *RSIMomentum) GenerateEntrySignal(series *candle.Series, index int) (*Signal, error) {
	rsi, ok := series.IndicatorAt("rsi", index)
	if !ok {
		return nil, nil
	}
	price := series.Candles[index].Close
	ts := series.Candles[index].TimestampMs

	if rsi.LessThan(s.oversold) {
		return &Signal{
			Kind: EntryLong, Pair: series.Pair, Side: SideBuy, Price: price,
			Strength: 0.6, Timestamp: ts,
			Metadata: map[string]any{"reason": fmt.Sprintf("rsi_oversold(%s)", rsi.String())},
		}, nil
	}
	if rsi.GreaterThan(s.overbought) {
		return &Signal{
			Kind: EntryShort, Pair: series.Pair, Side: SideSell, Price: price,
			Strength: 0.6, Timestamp: ts,
			Metadata: map[string]any{"reason": fmt.Sprintf("rsi_overbought(%s)", rsi.String())},
		}, nil
	}
	return nil, nil
}

// GenerateExitSignal closes a long once RSI crosses back above 50 and a
// short once it crosses back below 50, taking the mean-reversion target.
func (s *RSIMomentum) GenerateExitSignal(series *candle.Series, position *account.Position) (*Signal, error) {
	index := series.Len() - 1
	rsi, ok := series.IndicatorAt("rsi", index)
	if !ok {
		return nil, nil
	}
	mid := money.FromInt(50)
	price := series.Candles[index].Close
	ts := series.Candles[index].TimestampMs

	if position.Side == account.Long && rsi.GreaterThan(mid) {
		return &Signal{Kind: ExitLong, Pair: series.Pair, Side: SideSell, Price: price, Strength: 1, Timestamp: ts}, nil
	}
	if position.Side == account.Short && rsi.LessThan(mid) {
		return &Signal{Kind: ExitShort, Pair: series.Pair, Side: SideBuy, Price: price, Strength: 1, Timestamp: ts}, nil
	}
	return nil, nil
}

func (s *RSIMomentum) CalculatePositionSize(signal Signal, acct *account.Account) (money.Decimal, error) {
	riskAmount := acct.Equity.MustMul(s.riskPerTrade)
	stopDistance := signal.Price.MustMul(s.stopFraction)
	if stopDistance.IsZero() {
		return money.ZERO, fmt.Errorf("stop distance is zero")
	}
	return riskAmount.Div(stopDistance)
}

func (s *RSIMomentum) GetMetadata() Metadata {
	return Metadata{
		Name:           "rsi_momentum_v1",
		Version:        "1.0.0",
		Author:         "backsim",
		Timeframe:      "1h",
		StartupCandles: s.period + 1,
		Stoploss:       s.stopFraction.Neg(),
		TrailingStop:   false,
	}
}

func (s *RSIMomentum) GetParameters() []Parameter {
	return []Parameter{
		{Name: "period", Kind: ParamInt, IntMin: 7, IntMax: 28, IntStep: 1},
		{Name: "risk_per_trade", Kind: ParamDecimal, DecMin: money.FromFloat(0.001), DecMax: money.FromFloat(0.05), DecStep: money.FromFloat(0.001)},
	}
}
