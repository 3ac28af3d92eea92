package strategy

import (
	"fmt"

	"backsim/internal/account"
	"backsim/internal/candle"
	"backsim/internal/indicator"
	"backsim/internal/money"
)

// MACrossover is a trend-following strategy based on moving-average
// alignment (golden/death cross), adapted from the teacher's
// libs/strategies/ma_crossover.go: float64 AnalysisInput fields become
// indicator-dictionary reads against a Decimal candle.Series, and the
// ATR-based stop/target construction becomes a fixed-fraction stop feeding
// CalculatePositionSize's risk sizing.
type MACrossover struct {
	cache         *indicator.Cache
	riskPerTrade  money.Decimal
	stopFraction  money.Decimal
}

// NewMACrossover constructs the sample strategy. riskPerTrade is the
// fraction of account equity risked per trade (e.g. 0.01 = 1%);
// stopFraction is the fractional distance from entry to stop-loss.
func NewMACrossover(cache *indicator.Cache, riskPerTrade, stopFraction money.Decimal) *MACrossover {
	return &MACrossover{cache: cache, riskPerTrade: riskPerTrade, stopFraction: stopFraction}
}

func (s *MACrossover) Init(ctx Context) error { return nil }

// PopulateIndicators installs sma20/sma50/sma200 into the series via the
// shared cache, keyed by fingerprint so repeated runs against identical
// data reuse the computation.
func (s *MACrossover) PopulateIndicators(series *candle.Series) error {
	specs := []indicator.Spec{
		{Name: "sma20", Kernel: "sma", Period: 20},
		{Name: "sma50", Kernel: "sma", Period: 50},
		{Name: "sma200", Kernel: "sma", Period: 200},
	}
	for _, spec := range specs {
		if _, err := s.cache.GetOrCompute(spec, series); err != nil {
			return fmt.Errorf("populating %s: %w", spec.Name, err)
		}
	}
	return nil
}

// GenerateEntrySignal emits EntryLong on a golden cross (sma20>sma50>sma200
// with price above sma20) and EntryShort on the mirrored death cross.
func (s *MACrossover) GenerateEntrySignal(series *candle.Series, index int) (*Signal, error) {
	sma20, ok20 := series.IndicatorAt("sma20", index)
	sma50, ok50 := series.IndicatorAt("sma50", index)
	sma200, ok200 := series.IndicatorAt("sma200", index)
	if !ok20 || !ok50 || !ok200 {
		return nil, nil
	}
	price := series.Candles[index].Close
	ts := series.Candles[index].TimestampMs

	if sma20.GreaterThan(sma50) && sma50.GreaterThan(sma200) && price.GreaterThan(sma20) {
		return &Signal{
			Kind:      EntryLong,
			Pair:      series.Pair,
			Side:      SideBuy,
			Price:     price,
			Strength:  0.65,
			Timestamp: ts,
			Metadata:  map[string]any{"reason": "golden_cross"},
		}, nil
	}
	if sma20.LessThan(sma50) && sma50.LessThan(sma200) && price.LessThan(sma20) {
		return &Signal{
			Kind:      EntryShort,
			Pair:      series.Pair,
			Side:      SideSell,
			Price:     price,
			Strength:  0.65,
			Timestamp: ts,
			Metadata:  map[string]any{"reason": "death_cross"},
		}, nil
	}
	return nil, nil
}

// GenerateExitSignal closes the position on a crossover reversal: a long
// exits once sma20 falls back below sma50, a short exits once it rises
// back above.
func (s *MACrossover) GenerateExitSignal(series *candle.Series, position *account.Position) (*Signal, error) {
	index := series.Len() - 1
	sma20, ok20 := series.IndicatorAt("sma20", index)
	sma50, ok50 := series.IndicatorAt("sma50", index)
	if !ok20 || !ok50 {
		return nil, nil
	}
	price := series.Candles[index].Close
	ts := series.Candles[index].TimestampMs

	if position.Side == account.Long && sma20.LessThan(sma50) {
		return &Signal{Kind: ExitLong, Pair: series.Pair, Side: SideSell, Price: price, Strength: 1, Timestamp: ts}, nil
	}
	if position.Side == account.Short && sma20.GreaterThan(sma50) {
		return &Signal{Kind: ExitShort, Pair: series.Pair, Side: SideBuy, Price: price, Strength: 1, Timestamp: ts}, nil
	}
	return nil, nil
}

// CalculatePositionSize sizes the position so that a move of stopFraction
// against the signal's price risks exactly riskPerTrade of equity.
func (s *MACrossover) CalculatePositionSize(signal Signal, acct *account.Account) (money.Decimal, error) {
	riskAmount := acct.Equity.MustMul(s.riskPerTrade)
	stopDistance := signal.Price.MustMul(s.stopFraction)
	if stopDistance.IsZero() {
		return money.ZERO, fmt.Errorf("stop distance is zero")
	}
	size, err := riskAmount.Div(stopDistance)
	if err != nil {
		return money.ZERO, err
	}
	return size, nil
}

func (s *MACrossover) GetMetadata() Metadata {
	return Metadata{
		Name:           "ma_crossover_v1",
		Version:        "1.0.0",
		Author:         "backsim",
		Timeframe:      "1h",
		StartupCandles: 200,
		Stoploss:       s.stopFraction.Neg(),
		TrailingStop:   false,
	}
}

func (s *MACrossover) GetParameters() []Parameter {
	return []Parameter{
		{Name: "risk_per_trade", Kind: ParamDecimal, DecMin: money.FromFloat(0.001), DecMax: money.FromFloat(0.05), DecStep: money.FromFloat(0.001)},
		{Name: "stop_fraction", Kind: ParamDecimal, DecMin: money.FromFloat(0.005), DecMax: money.FromFloat(0.05), DecStep: money.FromFloat(0.005)},
	}
}
