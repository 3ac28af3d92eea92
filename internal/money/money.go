// Package money implements the simulator's exact-arithmetic foundation.
//
// The reference design calls for a signed 128-bit integer scaled by 10^9.
// Rather than hand-roll that envelope, Decimal wraps github.com/shopspring/
// decimal (arbitrary precision, backed by math/big) and enforces the same
// failure modes explicitly: divide-by-zero and malformed-string parsing
// return typed errors instead of panicking, and arithmetic that would
// exceed the 128-bit envelope's significant-digit budget returns Overflow
// rather than silently succeeding with an oversized value. Every monetary
// quantity in the simulator (prices, sizes, P&L, equity, commission) is a
// Decimal; only statistics that are inherently floating (Sharpe, mean,
// stdev) convert to float64, and only at that boundary.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"backsim/internal/simerr"
)

// maxDigits bounds the significant-digit count a Decimal may carry,
// mirroring the ~38 significant decimal digits available in a signed
// 128-bit integer scaled by 10^9.
const maxDigits = 38

// Decimal is an exact base-10 value. The zero value is ZERO.
type Decimal struct {
	d decimal.Decimal
}

// ZERO and ONE are the spec's required constants.
var (
	ZERO = Decimal{d: decimal.Zero}
	ONE  = Decimal{d: decimal.NewFromInt(1)}
)

// FromInt constructs an exact Decimal from an integer.
func FromInt(v int64) Decimal {
	return Decimal{d: decimal.NewFromInt(v)}
}

// FromFloat constructs a best-effort Decimal from a float64. Lossy by
// nature; prefer FromString for values that must round exactly.
func FromFloat(v float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(v)}
}

// FromString constructs an exact Decimal from its base-10 string
// representation. Returns ErrParseError on malformed input.
func FromString(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZERO, fmt.Errorf("parsing %q: %w: %w", s, simerr.ErrParseError, err)
	}
	return Decimal{d: d}, nil
}

func (d Decimal) digits() int {
	coeff := d.d.Coefficient()
	return len(coeff.String())
}

func (d Decimal) checkOverflow(op string) error {
	if d.digits() > maxDigits {
		return fmt.Errorf("%s result exceeds %d significant digits: %w", op, maxDigits, simerr.ErrOverflow)
	}
	return nil
}

// Add returns a+b, or ErrOverflow if the result exceeds the significand
// envelope.
func (a Decimal) Add(b Decimal) (Decimal, error) {
	r := Decimal{d: a.d.Add(b.d)}
	if err := r.checkOverflow("add"); err != nil {
		return ZERO, err
	}
	return r, nil
}

// Sub returns a-b, or ErrOverflow if the result exceeds the significand
// envelope.
func (a Decimal) Sub(b Decimal) (Decimal, error) {
	r := Decimal{d: a.d.Sub(b.d)}
	if err := r.checkOverflow("sub"); err != nil {
		return ZERO, err
	}
	return r, nil
}

// Mul returns a*b, or ErrOverflow if the result exceeds the significand
// envelope. The product is exact: it is not rounded or rescaled to 9
// decimal places (only Div rounds).
func (a Decimal) Mul(b Decimal) (Decimal, error) {
	r := Decimal{d: a.d.Mul(b.d)}
	if err := r.checkOverflow("mul"); err != nil {
		return ZERO, err
	}
	return r, nil
}

// Div returns a/b rounded to 9 decimal places. Returns ErrDivideByZero
// when b is zero.
func (a Decimal) Div(b Decimal) (Decimal, error) {
	if b.IsZero() {
		return ZERO, fmt.Errorf("dividing %s by zero: %w", a.d.String(), simerr.ErrDivideByZero)
	}
	r := Decimal{d: a.d.DivRound(b.d, 9)}
	if err := r.checkOverflow("div"); err != nil {
		return ZERO, err
	}
	return r, nil
}

// MustAdd/MustSub/MustMul panic on overflow. Reserved for call sites that
// have already bounded their inputs (tests, constant folding); production
// engine code should use the error-returning forms.
func (a Decimal) MustAdd(b Decimal) Decimal {
	r, err := a.Add(b)
	if err != nil {
		panic(err)
	}
	return r
}

func (a Decimal) MustSub(b Decimal) Decimal {
	r, err := a.Sub(b)
	if err != nil {
		panic(err)
	}
	return r
}

func (a Decimal) MustMul(b Decimal) Decimal {
	r, err := a.Mul(b)
	if err != nil {
		panic(err)
	}
	return r
}

// Neg returns -a.
func (a Decimal) Neg() Decimal { return Decimal{d: a.d.Neg()} }

// Abs returns |a|.
func (a Decimal) Abs() Decimal { return Decimal{d: a.d.Abs()} }

// Cmp returns -1, 0, or 1 per standard comparison semantics.
func (a Decimal) Cmp(b Decimal) int { return a.d.Cmp(b.d) }

// IsZero reports whether a == 0.
func (a Decimal) IsZero() bool { return a.d.IsZero() }

// IsPositive reports whether a > 0.
func (a Decimal) IsPositive() bool { return a.d.IsPositive() }

// IsNegative reports whether a < 0.
func (a Decimal) IsNegative() bool { return a.d.IsNegative() }

// GreaterThan reports whether a > b.
func (a Decimal) GreaterThan(b Decimal) bool { return a.d.GreaterThan(b.d) }

// LessThan reports whether a < b.
func (a Decimal) LessThan(b Decimal) bool { return a.d.LessThan(b.d) }

// GreaterThanOrEqual reports whether a >= b.
func (a Decimal) GreaterThanOrEqual(b Decimal) bool { return a.d.GreaterThanOrEqual(b.d) }

// LessThanOrEqual reports whether a <= b.
func (a Decimal) LessThanOrEqual(b Decimal) bool { return a.d.LessThanOrEqual(b.d) }

// Equal reports whether a == b.
func (a Decimal) Equal(b Decimal) bool { return a.d.Equal(b.d) }

// Float64 converts to float64. Lossy; reserved for statistical boundaries
// (Sharpe, mean, stdev) where floating semantics are inherent.
func (a Decimal) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// String renders the exact base-10 representation.
func (a Decimal) String() string { return a.d.String() }

// MarshalJSON renders the Decimal as a JSON number string, matching
// shopspring/decimal's own wire convention.
func (a Decimal) MarshalJSON() ([]byte, error) { return a.d.MarshalJSON() }

// UnmarshalJSON parses a JSON number or string into a Decimal.
func (a *Decimal) UnmarshalJSON(b []byte) error { return a.d.UnmarshalJSON(b) }

// Max returns the greater of a and b.
func Max(a, b Decimal) Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b Decimal) Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
