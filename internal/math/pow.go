// internal/math/pow.go
package math

import "math/big"

// fracBits is the number of binary digits used to approximate the
// fractional part of an exponent. 64 bits keep the error far below the
// unit precision for every factor the config space allows.
const fracBits = 64

// ApplyExponentFactor computes value^exponent in the fixed-point space:
// both value and exponent carry MarketDecimals decimals, and so does the
// result. The result is truncated toward zero.
//
// The integer part of the exponent is handled by exponentiation by
// squaring; the fractional part by iterated square roots over its binary
// expansion (x^(2^-k) is k nested square roots of x).
func ApplyExponentFactor(value, exponent *big.Int) (*big.Int, error) {
	if value.Sign() < 0 || exponent.Sign() < 0 {
		return nil, ErrUnderflow
	}
	if exponent.Sign() == 0 {
		return new(big.Int).Set(Unit), nil
	}
	if value.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if exponent.Cmp(Unit) == 0 {
		out := new(big.Int).Set(value)
		if err := CheckU128(out); err != nil {
			return nil, err
		}
		return out, nil
	}

	intPart, fracPart := new(big.Int).QuoRem(exponent, Unit, new(big.Int))

	result := new(big.Int).Set(Unit)
	if intPart.Sign() > 0 {
		p, err := fixedPowInt(value, intPart)
		if err != nil {
			return nil, err
		}
		result = p
	}

	if fracPart.Sign() > 0 {
		p, err := fixedPowFrac(value, fracPart)
		if err != nil {
			return nil, err
		}
		var err2 error
		result, err2 = fixedMul(result, p)
		if err2 != nil {
			return nil, err2
		}
	}

	if err := CheckU128(result); err != nil {
		return nil, err
	}
	return result, nil
}

// fixedMul multiplies two fixed-point values: a * b / Unit, truncated.
func fixedMul(a, b *big.Int) (*big.Int, error) {
	out := new(big.Int).Mul(a, b)
	out.Quo(out, Unit)
	if err := CheckU128(out); err != nil {
		return nil, err
	}
	return out, nil
}

// fixedPowInt raises a fixed-point base to a non-negative integer power by
// squaring. Overflow checks run on every multiply.
func fixedPowInt(base, n *big.Int) (*big.Int, error) {
	result := new(big.Int).Set(Unit)
	acc := new(big.Int).Set(base)
	e := new(big.Int).Set(n)

	for e.Sign() > 0 {
		if e.Bit(0) == 1 {
			var err error
			result, err = fixedMul(result, acc)
			if err != nil {
				return nil, err
			}
		}
		e.Rsh(e, 1)
		if e.Sign() > 0 {
			var err error
			acc, err = fixedMul(acc, acc)
			if err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// fixedPowFrac raises base to frac/Unit where 0 < frac < Unit.
// frac is first converted to a fracBits-wide binary fraction; each set bit
// k contributes base^(2^-(k+1)), computed as k+1 nested square roots.
func fixedPowFrac(base, frac *big.Int) (*big.Int, error) {
	// bits = frac * 2^fracBits / Unit, truncated
	bits := new(big.Int).Lsh(frac, fracBits)
	bits.Quo(bits, Unit)

	result := new(big.Int).Set(Unit)
	root := new(big.Int).Set(base)
	for k := 0; k < fracBits; k++ {
		root = fixedSqrt(root)
		if bits.Bit(fracBits-1-k) == 1 {
			var err error
			result, err = fixedMul(result, root)
			if err != nil {
				return nil, err
			}
		}
		if root.Cmp(Unit) == 0 {
			// Further roots are all exactly one; remaining bits are no-ops.
			break
		}
	}
	return result, nil
}

// fixedSqrt returns the fixed-point square root: sqrt(v * Unit), truncated.
func fixedSqrt(v *big.Int) *big.Int {
	return new(big.Int).Sqrt(new(big.Int).Mul(v, Unit))
}
