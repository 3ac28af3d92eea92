// Package candle defines the OHLCV bar type and an owned series of bars
// carrying a parallel indicator dictionary, plus the invariant checks the
// engine applies when ingesting a candle stream.
package candle

import (
	"fmt"

	"backsim/internal/money"
	"backsim/internal/simerr"
)

// microsecondThreshold is the magnitude above which a timestamp is
// interpreted as microseconds rather than milliseconds.
const microsecondThreshold = 1_000_000_000_000_000

// Candle is a single aggregated OHLCV bar.
type Candle struct {
	TimestampMs int64
	Open        money.Decimal
	High        money.Decimal
	Low         money.Decimal
	Close       money.Decimal
	Volume      money.Decimal
}

// NormalizeTimestamp converts a raw timestamp to milliseconds, dividing by
// 1000 when the magnitude indicates microseconds.
func NormalizeTimestamp(raw int64) int64 {
	if raw > microsecondThreshold || raw < -microsecondThreshold {
		return raw / 1000
	}
	return raw
}

// Validate checks the per-candle OHLC invariants: low <= open,close <= high
// and volume >= 0.
func (c Candle) Validate() error {
	if c.Low.GreaterThan(c.Open) || c.Open.GreaterThan(c.High) {
		return fmt.Errorf("candle at %d: open %s out of [low,high]: %w", c.TimestampMs, c.Open.String(), simerr.ErrInvalidData)
	}
	if c.Low.GreaterThan(c.Close) || c.Close.GreaterThan(c.High) {
		return fmt.Errorf("candle at %d: close %s out of [low,high]: %w", c.TimestampMs, c.Close.String(), simerr.ErrInvalidData)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candle at %d: negative volume: %w", c.TimestampMs, simerr.ErrInvalidData)
	}
	return nil
}

// NaN is the placeholder value kernels write into an indicator vector
// before its warm-up index. Decimal has no native NaN bit pattern, so
// warm-up is tracked out of band by Series (see SetIndicator's
// warmupCount and IndicatorAt's ok return) rather than by comparing
// against this value; NaN exists only so kernels have something to write.
var NaN = money.ZERO

// Series is an owned, ordered sequence of candles for one pair/timeframe,
// plus a dictionary of parallel indicator vectors keyed by name. The
// engine owns a Series for the duration of a run; strategies receive a
// borrowed reference and may add indicator vectors but must not mutate
// candles.
type Series struct {
	Pair       string
	Timeframe  string
	Candles    []Candle
	indicators map[string][]money.Decimal
	// warmup records, per indicator key, how many leading entries are
	// sentinel (not-a-number) placeholders rather than computed values.
	warmup map[string]int
}

// NewSeries constructs a Series and validates its invariants: non-empty,
// strictly increasing timestamps, and per-candle OHLC bounds.
func NewSeries(pair, timeframe string, candles []Candle) (*Series, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("empty candle stream: %w", simerr.ErrNoData)
	}
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if i > 0 && c.TimestampMs <= candles[i-1].TimestampMs {
			return nil, fmt.Errorf("candle %d timestamp %d not strictly after %d: %w",
				i, c.TimestampMs, candles[i-1].TimestampMs, simerr.ErrDataNotSorted)
		}
	}
	return &Series{
		Pair:       pair,
		Timeframe:  timeframe,
		Candles:    candles,
		indicators: make(map[string][]money.Decimal),
		warmup:     make(map[string]int),
	}, nil
}

// Len returns the number of candles in the series.
func (s *Series) Len() int { return len(s.Candles) }

// ClosePrices returns the close-price vector, the common input to every
// indicator kernel.
func (s *Series) ClosePrices() []money.Decimal {
	out := make([]money.Decimal, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// SetIndicator installs a computed indicator vector under name, along with
// the count of leading sentinel entries. The vector must be the same
// length as the candle series.
func (s *Series) SetIndicator(name string, values []money.Decimal, warmupCount int) error {
	if len(values) != len(s.Candles) {
		return fmt.Errorf("indicator %q length %d != series length %d: %w",
			name, len(values), len(s.Candles), simerr.ErrInvalidData)
	}
	s.indicators[name] = values
	s.warmup[name] = warmupCount
	return nil
}

// Indicator returns the full vector for name and whether it is present.
func (s *Series) Indicator(name string) ([]money.Decimal, bool) {
	v, ok := s.indicators[name]
	return v, ok
}

// IndicatorAt returns the value of indicator name at index i, and whether
// that value is past its warm-up (i.e. not the not-a-number sentinel). A
// strategy must not treat a pre-warm-up read as a legitimate zero.
func (s *Series) IndicatorAt(name string, i int) (money.Decimal, bool) {
	v, ok := s.indicators[name]
	if !ok || i < 0 || i >= len(v) {
		return NaN, false
	}
	warm := s.warmup[name]
	if i < warm {
		return NaN, false
	}
	return v[i], true
}

// IndicatorNames lists the installed indicator keys, for invalidation and
// diagnostics.
func (s *Series) IndicatorNames() []string {
	names := make([]string, 0, len(s.indicators))
	for k := range s.indicators {
		names = append(names, k)
	}
	return names
}

// InvalidateSubstring removes every installed indicator whose key contains
// substr, used when a data source advances and cached vectors no longer
// apply.
func (s *Series) InvalidateSubstring(substr string) {
	for k := range s.indicators {
		if containsSubstr(k, substr) {
			delete(s.indicators, k)
			delete(s.warmup, k)
		}
	}
}

func containsSubstr(s, substr string) bool {
	if substr == "" {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
