// Package simerr defines the typed error kinds used across the simulator so
// callers can classify failures with errors.Is instead of parsing strings.
package simerr

import "errors"

// Configuration errors: terminal at load time.
var (
	ErrInvalidTimeRange      = errors.New("invalid time range")
	ErrInvalidInitialCapital = errors.New("invalid initial capital")
	ErrInvalidRates          = errors.New("invalid rates")
	ErrInvalidMaxPositions   = errors.New("invalid max positions")
)

// Data errors: terminal at load time.
var (
	ErrNoData           = errors.New("no data")
	ErrDataNotSorted    = errors.New("data not sorted")
	ErrInvalidData      = errors.New("invalid data")
	ErrParseError       = errors.New("parse error")
	ErrFileNotFound     = errors.New("file not found")
	ErrInsufficientData = errors.New("insufficient data")
)

// Arithmetic errors: abort the run, corruption beats silent miscomputation.
var (
	ErrDivideByZero = errors.New("divide by zero")
	ErrOverflow     = errors.New("overflow")
)

// State errors: programmer error, terminal.
var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPositionAlreadyExists  = errors.New("position already exists")
	ErrNoPosition             = errors.New("no position")
)

// Execution errors: recovered locally by the event loop (log and skip).
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidPositionSize = errors.New("invalid position size")
)

// Strategy errors: abort the run with cause preserved.
var (
	ErrStrategyInitFailed          = errors.New("strategy init failed")
	ErrIndicatorCalculationFailed  = errors.New("indicator calculation failed")
	ErrSignalGenerationFailed      = errors.New("signal generation failed")
)
