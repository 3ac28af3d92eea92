// Package strategy defines the capability set the engine drives a
// strategy through, plus a thread-safe registry. Generalized from the
// teacher's libs/strategies (a single Analyze(input) -> Signal call) into
// the spec's explicit lifecycle: PopulateIndicators, per-index entry/exit
// signal generation, position sizing, and metadata/parameter
// introspection, all against the Decimal candle.Series.
package strategy

import (
	"context"

	"backsim/internal/account"
	"backsim/internal/candle"
	"backsim/internal/money"
)

// SignalKind is the closed set of signal kinds a strategy may emit.
type SignalKind int

const (
	EntryLong SignalKind = iota
	EntryShort
	ExitLong
	ExitShort
	Hold
)

// Side mirrors account.Side for signal construction without importing
// account's full position machinery into call sites that only build
// signals.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// Signal is a strategy's decision at one candle index, consumed once by
// the engine.
type Signal struct {
	Kind      SignalKind
	Pair      string
	Side      Side
	Price     money.Decimal
	Strength  float64 // 0..1
	Timestamp int64
	Metadata  map[string]any
}

// ParameterKind is the closed set of tunable-parameter shapes a strategy
// may expose for the optimizer's Cartesian sweep.
type ParameterKind int

const (
	ParamInt ParameterKind = iota
	ParamDecimal
	ParamBool
	ParamDiscrete
)

// Parameter describes one tunable strategy parameter.
type Parameter struct {
	Name     string
	Kind     ParameterKind
	IntMin   int
	IntMax   int
	IntStep  int
	DecMin   money.Decimal
	DecMax   money.Decimal
	DecStep  money.Decimal
	Discrete []string
}

// Metadata describes a strategy's identity and operating envelope.
type Metadata struct {
	Name           string
	Version        string
	Author         string
	Timeframe      string
	StartupCandles int
	MinimalROI     map[string]money.Decimal
	Stoploss       money.Decimal
	TrailingStop   bool
}

// Context is supplied by the engine to Init; it carries no exchange
// handle during backtest, only the run's context.Context (its Done
// channel for cooperative cancellation and the obs.RunInfo that
// obs.Event reads).
type Context struct {
	context.Context
}

// Strategy is the capability set §6 requires. The engine supplies a
// borrowed *candle.Series; implementations must not mutate candles, only
// add indicator vectors via PopulateIndicators.
type Strategy interface {
	Init(ctx Context) error
	PopulateIndicators(series *candle.Series) error
	GenerateEntrySignal(series *candle.Series, index int) (*Signal, error)
	GenerateExitSignal(series *candle.Series, position *account.Position) (*Signal, error)
	CalculatePositionSize(signal Signal, acct *account.Account) (money.Decimal, error)
	GetMetadata() Metadata
	GetParameters() []Parameter
}
