// internal/math/fixedpoint.go
package math

import (
	"errors"
	"math/big"
)

// MarketDecimals is the number of decimals of the unit factor space.
// A factor of 10^MarketDecimals means 1.0; USD values are scaled by the
// same power so that token_amount * unit_price = usd_value.
const MarketDecimals = 20

var (
	// Unit is 10^MarketDecimals, the fixed-point representation of 1.0.
	Unit = Exp10(MarketDecimals)

	maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

var (
	ErrOverflow       = errors.New("math: value out of 128-bit range")
	ErrUnderflow      = errors.New("math: unsigned value underflows zero")
	ErrDivisionByZero = errors.New("math: division by zero")
)

// Rounding selects the direction for lossy divisions. Every division site
// in the accounting core states its rounding explicitly.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

// Exp10 returns 10^n as a fresh big.Int.
func Exp10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// U returns a fresh unsigned big.Int from an int64 literal. Panics on
// negative input; only used for constants and tests.
func U(v int64) *big.Int {
	if v < 0 {
		panic("math: U called with negative value")
	}
	return big.NewInt(v)
}

// CheckU128 verifies that v fits in [0, 2^128).
func CheckU128(v *big.Int) error {
	if v.Sign() < 0 {
		return ErrUnderflow
	}
	if v.Cmp(maxU128) > 0 {
		return ErrOverflow
	}
	return nil
}

// CheckI128 verifies that v fits in [-2^127, 2^127).
func CheckI128(v *big.Int) error {
	if v.Cmp(minI128) < 0 || v.Cmp(maxI128) > 0 {
		return ErrOverflow
	}
	return nil
}

// MulDiv computes a * b / den with the given rounding. All inputs are
// treated as unsigned; the result is checked against the u128 range.
func MulDiv(a, b, den *big.Int, r Rounding) (*big.Int, error) {
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if a.Sign() < 0 || b.Sign() < 0 || den.Sign() < 0 {
		return nil, ErrUnderflow
	}
	num := new(big.Int).Mul(a, b)
	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if r == RoundUp && rem.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if err := CheckU128(q); err != nil {
		return nil, err
	}
	return q, nil
}

// Div computes a / b with explicit rounding over unsigned inputs. Used at
// every usd-to-token-amount conversion site.
func Div(a, b *big.Int, r Rounding) (*big.Int, error) {
	return MulDiv(a, big.NewInt(1), b, r)
}

// MulDivSigned computes a * b / den where a may be negative; b and den are
// unsigned. The quotient is truncated toward zero and checked against i128.
func MulDivSigned(a, b, den *big.Int) (*big.Int, error) {
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	num := new(big.Int).Mul(a, b)
	q := new(big.Int).Quo(num, den)
	if err := CheckI128(q); err != nil {
		return nil, err
	}
	return q, nil
}

// ApplyFactor computes value * factor / Unit, rounding down.
func ApplyFactor(value, factor *big.Int) (*big.Int, error) {
	return MulDiv(value, factor, Unit, RoundDown)
}

// ApplyFactorRoundUp computes value * factor / Unit, rounding up.
func ApplyFactorRoundUp(value, factor *big.Int) (*big.Int, error) {
	return MulDiv(value, factor, Unit, RoundUp)
}

// ApplySignedFactor computes value * factor / Unit where value is signed
// and factor is unsigned, truncating toward zero.
func ApplySignedFactor(value, factor *big.Int) (*big.Int, error) {
	if factor.Sign() < 0 {
		return nil, ErrUnderflow
	}
	return MulDivSigned(value, factor, Unit)
}

// DivToFactor computes num * Unit / den as a factor.
func DivToFactor(num, den *big.Int, roundUp bool) (*big.Int, error) {
	r := RoundDown
	if roundUp {
		r = RoundUp
	}
	return MulDiv(num, Unit, den, r)
}

// DivToFactorSigned computes num * Unit / den where num may be negative,
// truncating toward zero.
func DivToFactorSigned(num, den *big.Int) (*big.Int, error) {
	return MulDivSigned(num, Unit, den)
}

// AddSigned adds a signed delta to an unsigned value. The result must stay
// in the u128 range; a delta driving the value below zero is an underflow.
func AddSigned(value, delta *big.Int) (*big.Int, error) {
	if value.Sign() < 0 {
		return nil, ErrUnderflow
	}
	out := new(big.Int).Add(value, delta)
	if err := CheckU128(out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddDelta adds two signed values, checking the i128 range.
func AddDelta(a, b *big.Int) (*big.Int, error) {
	out := new(big.Int).Add(a, b)
	if err := CheckI128(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToOppositeSigned negates an unsigned value into the signed space.
func ToOppositeSigned(v *big.Int) (*big.Int, error) {
	if v.Sign() < 0 {
		return nil, ErrUnderflow
	}
	out := new(big.Int).Neg(v)
	if err := CheckI128(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToSigned reinterprets an unsigned value as signed, checking i128.
func ToSigned(v *big.Int) (*big.Int, error) {
	if v.Sign() < 0 {
		return nil, ErrUnderflow
	}
	out := new(big.Int).Set(v)
	if err := CheckI128(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Diff returns |a - b|.
func Diff(a, b *big.Int) *big.Int {
	return new(big.Int).Abs(new(big.Int).Sub(a, b))
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b as a fresh value.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(v)
}
