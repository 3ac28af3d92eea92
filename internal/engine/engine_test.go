package engine

import (
	"context"
	"testing"

	"backsim/internal/account"
	"backsim/internal/candle"
	"backsim/internal/executor"
	"backsim/internal/money"
	"backsim/internal/strategy"
)

func buildCandles(closes []float64, startMs int64) []candle.Candle {
	out := make([]candle.Candle, len(closes))
	for i, c := range closes {
		d := money.FromFloat(c)
		out[i] = candle.Candle{
			TimestampMs: startMs + int64(i)*60000,
			Open:        d, High: d, Low: d, Close: d,
			Volume: money.FromInt(1),
		}
	}
	return out
}

// flatStrategy never emits a signal; used to test the no-signal invariant.
type flatStrategy struct{}

func (flatStrategy) Init(strategy.Context) error                        { return nil }
func (flatStrategy) PopulateIndicators(*candle.Series) error            { return nil }
func (flatStrategy) GenerateEntrySignal(*candle.Series, int) (*strategy.Signal, error) {
	return nil, nil
}
func (flatStrategy) GenerateExitSignal(*candle.Series, *account.Position) (*strategy.Signal, error) {
	return nil, nil
}
func (flatStrategy) CalculatePositionSize(strategy.Signal, *account.Account) (money.Decimal, error) {
	return money.ZERO, nil
}
func (flatStrategy) GetMetadata() strategy.Metadata { return strategy.Metadata{Name: "flat"} }
func (flatStrategy) GetParameters() []strategy.Parameter { return nil }

func baseConfig(initialCapital float64) Config {
	return Config{
		Pair:           "BTC-USD",
		Timeframe:      "1m",
		StartTime:      0,
		EndTime:        1,
		InitialCapital: money.FromFloat(initialCapital),
		CommissionRate: money.ZERO,
		Slippage:       money.ZERO,
		EnableShort:    true,
		MaxPositions:   1,
		Seed:           1,
	}
}

func TestRunNoSignalsFlatEquity(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	series, err := candle.NewSeries("BTC-USD", "1m", buildCandles(closes, 1000))
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	exec := executor.New(money.ZERO, money.ZERO)
	e := New(exec, nil)
	res, err := e.Run(context.Background(), baseConfig(10000), series, flatStrategy{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(res.Trades))
	}
	if len(res.EquityCurve) != series.Len() {
		t.Fatalf("equity curve length = %d, want %d", len(res.EquityCurve), series.Len())
	}
	for _, snap := range res.EquityCurve {
		if !snap.Equity.Equal(money.FromFloat(10000)) || !snap.Balance.Equal(money.FromFloat(10000)) || !snap.UnrealizedPnL.IsZero() {
			t.Fatalf("expected flat equity snapshot, got %+v", snap)
		}
	}
	if e.State() != Complete {
		t.Fatalf("state = %v, want Complete", e.State())
	}
}

func TestRunInsufficientDataFails(t *testing.T) {
	series, err := candle.NewSeries("BTC-USD", "1m", buildCandles([]float64{100, 101, 102}, 1000))
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	exec := executor.New(money.ZERO, money.ZERO)
	e := New(exec, nil)
	_, err = e.Run(context.Background(), baseConfig(10000), series, flatStrategy{})
	if err == nil {
		t.Fatalf("expected InsufficientData error")
	}
	if e.State() != ErrorState {
		t.Fatalf("state = %v, want ErrorState", e.State())
	}
}

// longOnceStrategy enters long on the first candle and exits on the second.
type longOnceStrategy struct{ entered bool }

func (s *longOnceStrategy) Init(strategy.Context) error             { return nil }
func (s *longOnceStrategy) PopulateIndicators(*candle.Series) error { return nil }
func (s *longOnceStrategy) GenerateEntrySignal(series *candle.Series, index int) (*strategy.Signal, error) {
	if s.entered || index != 0 {
		return nil, nil
	}
	s.entered = true
	return &strategy.Signal{Kind: strategy.EntryLong, Pair: series.Pair, Side: strategy.SideBuy, Price: series.Candles[index].Close, Timestamp: series.Candles[index].TimestampMs}, nil
}
func (s *longOnceStrategy) GenerateExitSignal(series *candle.Series, pos *account.Position) (*strategy.Signal, error) {
	lastIdx := series.Len() - 1
	if series.Candles[lastIdx].TimestampMs == pos.EntryTime {
		return nil, nil
	}
	// exit on the very next candle after entry
	for i := 0; i < series.Len(); i++ {
		if series.Candles[i].TimestampMs == pos.EntryTime && i+1 < series.Len() {
			return &strategy.Signal{Kind: strategy.ExitLong, Pair: series.Pair, Side: strategy.SideSell, Price: series.Candles[i+1].Close, Timestamp: series.Candles[i+1].TimestampMs}, nil
		}
	}
	return nil, nil
}
func (s *longOnceStrategy) CalculatePositionSize(sig strategy.Signal, acct *account.Account) (money.Decimal, error) {
	return money.ONE, nil
}
func (s *longOnceStrategy) GetMetadata() strategy.Metadata      { return strategy.Metadata{Name: "long_once"} }
func (s *longOnceStrategy) GetParameters() []strategy.Parameter { return nil }

func TestRunZeroCostRoundTripPnL(t *testing.T) {
	closes := make([]float64, 12)
	for i := range closes {
		closes[i] = 100
	}
	closes[1] = 110
	series, err := candle.NewSeries("BTC-USD", "1m", buildCandles(closes, 1000))
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	exec := executor.New(money.ZERO, money.ZERO)
	e := New(exec, nil)
	res, err := e.Run(context.Background(), baseConfig(10000), series, &longOnceStrategy{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected exactly 1 trade, got %d", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.PnL.String() != "10" {
		t.Fatalf("PnL = %s, want 10 (close[1]-close[0])*size", trade.PnL.String())
	}
}

func TestRunForcesFinalClose(t *testing.T) {
	closes := make([]float64, 11)
	for i := range closes {
		closes[i] = 100
	}
	series, err := candle.NewSeries("BTC-USD", "1m", buildCandles(closes, 1000))
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	exec := executor.New(money.ZERO, money.ZERO)
	e := New(exec, nil)

	strat := &entryOnlyStrategy{}
	res, err := e.Run(context.Background(), baseConfig(10000), series, strat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected the residual position force-closed into exactly 1 trade, got %d", len(res.Trades))
	}
}

// entryOnlyStrategy enters on the first candle and never signals an exit,
// relying on the engine's final-candle forced closure.
type entryOnlyStrategy struct{ entered bool }

func (s *entryOnlyStrategy) Init(strategy.Context) error             { return nil }
func (s *entryOnlyStrategy) PopulateIndicators(*candle.Series) error { return nil }
func (s *entryOnlyStrategy) GenerateEntrySignal(series *candle.Series, index int) (*strategy.Signal, error) {
	if s.entered || index != 0 {
		return nil, nil
	}
	s.entered = true
	return &strategy.Signal{Kind: strategy.EntryLong, Pair: series.Pair, Side: strategy.SideBuy, Price: series.Candles[index].Close, Timestamp: series.Candles[index].TimestampMs}, nil
}
func (s *entryOnlyStrategy) GenerateExitSignal(*candle.Series, *account.Position) (*strategy.Signal, error) {
	return nil, nil
}
func (s *entryOnlyStrategy) CalculatePositionSize(strategy.Signal, *account.Account) (money.Decimal, error) {
	return money.ONE, nil
}
func (s *entryOnlyStrategy) GetMetadata() strategy.Metadata      { return strategy.Metadata{Name: "entry_only"} }
func (s *entryOnlyStrategy) GetParameters() []strategy.Parameter { return nil }
