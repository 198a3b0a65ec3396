// Package qty converts raw desired quantities into exchange-legal quantity
// strings: step-aligned, bounded precision, never scientific notation.
package qty

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidQuantity marks input the formatter refuses to coerce: negative,
// non-finite, or a non-positive step.
var ErrInvalidQuantity = errors.New("invalid quantity")

// maxDecimals caps output precision; Bybit spot never quotes finer than 8.
const maxDecimals = 8

// StepDecimals returns the number of significant decimal places of step in
// its canonical representation, capped at maxDecimals. A step of 1e-05 yields
// 5, a step of 0.00100 yields 3.
func StepDecimals(step decimal.Decimal) int {
	s := step.String() // trims trailing zeros, plain notation
	if i := strings.IndexByte(s, '.'); i >= 0 {
		n := len(s) - i - 1
		if n > maxDecimals {
			return maxDecimals
		}
		return n
	}
	return 0
}

// Format rounds raw toward zero to the nearest lower multiple of step and
// renders it with at most 8 decimal places, trailing zeros stripped. Zero
// input yields "0". The result never exceeds raw and never contains an
// exponent.
func Format(raw, step decimal.Decimal) (string, error) {
	if raw.Sign() < 0 {
		return "", fmt.Errorf("%w: negative quantity %s", ErrInvalidQuantity, raw)
	}
	if step.Sign() <= 0 {
		return "", fmt.Errorf("%w: non-positive step %s", ErrInvalidQuantity, step)
	}
	if raw.IsZero() {
		return "0", nil
	}

	decimals := int32(StepDecimals(step))
	aligned := raw.Div(step).Floor().Mul(step).Truncate(decimals)
	if aligned.Sign() <= 0 {
		return "0", nil
	}
	return aligned.String(), nil
}

// FormatFloat is Format for float64 input; NaN and ±Inf are rejected rather
// than silently coerced.
func FormatFloat(raw float64, step decimal.Decimal) (string, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return "", fmt.Errorf("%w: non-finite quantity %v", ErrInvalidQuantity, raw)
	}
	return Format(decimal.NewFromFloat(raw), step)
}
