// Package fixedpoint implements deterministic fixed-point transcendental
// approximations at scale 10^6, used by the LMSR kernel to compute
// exp(q/b) and ln(sum).
//
// These are intentionally primitive truncated Taylor series, not
// library-grade transcendentals: the traded price is a defined function
// of this exact series, so any replica that recomputes it must reproduce
// it bit-for-bit. Swapping in a higher-order approximation (or
// math.Exp/math.Log) is a forking change to the protocol, not an
// accuracy improvement.
package fixedpoint

import (
	"errors"

	"github.com/atmx/lmsr-market/internal/safemath"
)

// Scale is the fixed-point scale: a raw value v represents v/Scale.
const Scale uint64 = 1_000_000

// ErrInvalidArgument is returned by Ln when its argument is below Scale
// (i.e. the represented rational is below 1.0), which this truncated
// series does not support.
var ErrInvalidArgument = errors.New("fixedpoint: argument out of domain")

// Mul computes (a*b)/Scale with a 128-bit intermediate product, so
// a and b can each be up to 64 bits wide without overflowing before the
// division.
func Mul(a, b uint64) (uint64, error) {
	return safemath.SafeDivHighPrecision(a, b, Scale)
}

// Div computes (a*Scale)/b with a 128-bit intermediate product.
// Fails with safemath.ErrDivisionByZero if b == 0.
func Div(a, b uint64) (uint64, error) {
	return safemath.SafeDivHighPrecision(a, Scale, b)
}

// Exp approximates exp(x) for fixed-point x (scale Scale) by the cubic
// Taylor truncation:
//
//	exp(x) ≈ 1 + x + x²/2 + x³/6
//
// Callers must keep x bounded (in this engine, x = q/b stays within a
// few tenths of Scale) — the series is not valid far outside that range
// and is not meant to be; it is the defined pricing function, not a
// general-purpose exponential.
func Exp(x uint64) (uint64, error) {
	x2, err := Mul(x, x)
	if err != nil {
		return 0, err
	}
	half, err := Div(x2, 2*Scale)
	if err != nil {
		return 0, err
	}

	x3, err := Mul(x2, x)
	if err != nil {
		return 0, err
	}
	sixth, err := Div(x3, 6*Scale)
	if err != nil {
		return 0, err
	}

	sum, err := safemath.SafeAdd(Scale, x)
	if err != nil {
		return 0, err
	}
	sum, err = safemath.SafeAdd(sum, half)
	if err != nil {
		return 0, err
	}
	sum, err = safemath.SafeAdd(sum, sixth)
	if err != nil {
		return 0, err
	}
	return sum, nil
}

// Ln approximates ln(y) for fixed-point y >= Scale (i.e. the represented
// rational is >= 1.0) by the cubic Taylor truncation around 1:
//
//	ln(y) ≈ (y-1) - (y-1)²/2 + (y-1)³/3
//
// Returns ErrInvalidArgument if y < Scale.
func Ln(y uint64) (uint64, error) {
	if y < Scale {
		return 0, ErrInvalidArgument
	}
	z := y - Scale // y - 1, exact since y >= Scale

	z2, err := Mul(z, z)
	if err != nil {
		return 0, err
	}
	z3, err := Mul(z2, z)
	if err != nil {
		return 0, err
	}

	z2Over2, err := Div(z2, 2*Scale)
	if err != nil {
		return 0, err
	}
	z3Over3, err := Div(z3, 3*Scale)
	if err != nil {
		return 0, err
	}

	tmp, err := safemath.SafeSub(z, z2Over2)
	if err != nil {
		return 0, err
	}
	out, err := safemath.SafeAdd(tmp, z3Over3)
	if err != nil {
		return 0, err
	}
	return out, nil
}
