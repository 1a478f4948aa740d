package math_test

import (
	"math/big"
	"testing"

	fpmath "gmsol/internal/math"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad literal: " + s)
	}
	return v
}

// ============================================================================
// Test: ApplyFactor / MulDiv
// ============================================================================

func TestApplyFactor_Basic(t *testing.T) {
	// value * 0.5
	half := new(big.Int).Quo(fpmath.Unit, big.NewInt(2))
	got, err := fpmath.ApplyFactor(big.NewInt(1000), half)
	if err != nil {
		t.Fatalf("ApplyFactor: %v", err)
	}
	if got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("got %s, want 500", got)
	}
}

func TestApplyFactor_RoundsDown(t *testing.T) {
	third := new(big.Int).Quo(fpmath.Unit, big.NewInt(3))
	got, err := fpmath.ApplyFactor(big.NewInt(10), third)
	if err != nil {
		t.Fatalf("ApplyFactor: %v", err)
	}
	if got.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("got %s, want 3 (round down)", got)
	}

	up, err := fpmath.ApplyFactorRoundUp(big.NewInt(10), third)
	if err != nil {
		t.Fatalf("ApplyFactorRoundUp: %v", err)
	}
	if up.Cmp(big.NewInt(4)) != 0 {
		t.Errorf("got %s, want 4 (round up)", up)
	}
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	_, err := fpmath.MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0), fpmath.RoundDown)
	if err != fpmath.ErrDivisionByZero {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 127)
	_, err := fpmath.MulDiv(huge, huge, big.NewInt(1), fpmath.RoundDown)
	if err != fpmath.ErrOverflow {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

// ============================================================================
// Test: signed helpers
// ============================================================================

func TestAddSigned_Underflow(t *testing.T) {
	_, err := fpmath.AddSigned(big.NewInt(5), big.NewInt(-6))
	if err != fpmath.ErrUnderflow {
		t.Errorf("got %v, want ErrUnderflow", err)
	}
}

func TestAddSigned_Basic(t *testing.T) {
	got, err := fpmath.AddSigned(big.NewInt(5), big.NewInt(-5))
	if err != nil {
		t.Fatalf("AddSigned: %v", err)
	}
	if got.Sign() != 0 {
		t.Errorf("got %s, want 0", got)
	}
}

func TestToOppositeSigned(t *testing.T) {
	got, err := fpmath.ToOppositeSigned(big.NewInt(42))
	if err != nil {
		t.Fatalf("ToOppositeSigned: %v", err)
	}
	if got.Cmp(big.NewInt(-42)) != 0 {
		t.Errorf("got %s, want -42", got)
	}

	// 2^127 does not fit in i128 once negated... it does (-2^127 is the
	// minimum), but 2^127 itself as positive signed would overflow.
	tooBig := new(big.Int).Lsh(big.NewInt(1), 127)
	if _, err := fpmath.ToSigned(tooBig); err != fpmath.ErrOverflow {
		t.Errorf("ToSigned(2^127): got %v, want ErrOverflow", err)
	}
	if _, err := fpmath.ToOppositeSigned(tooBig); err != nil {
		t.Errorf("ToOppositeSigned(2^127): unexpected error %v", err)
	}
}

func TestDiff(t *testing.T) {
	if got := fpmath.Diff(big.NewInt(3), big.NewInt(10)); got.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("got %s, want 7", got)
	}
	if got := fpmath.Diff(big.NewInt(10), big.NewInt(3)); got.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("got %s, want 7", got)
	}
}

// ============================================================================
// Test: DivToFactor
// ============================================================================

func TestDivToFactor(t *testing.T) {
	// 1/4 as a factor
	got, err := fpmath.DivToFactor(big.NewInt(1), big.NewInt(4), false)
	if err != nil {
		t.Fatalf("DivToFactor: %v", err)
	}
	want := new(big.Int).Quo(fpmath.Unit, big.NewInt(4))
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestDivToFactor_RoundUp(t *testing.T) {
	down, _ := fpmath.DivToFactor(big.NewInt(1), big.NewInt(3), false)
	up, _ := fpmath.DivToFactor(big.NewInt(1), big.NewInt(3), true)
	diff := new(big.Int).Sub(up, down)
	if diff.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("round-up should exceed round-down by 1, got %s", diff)
	}
}

func TestClamp(t *testing.T) {
	lo, hi := big.NewInt(-10), big.NewInt(10)
	if got := fpmath.Clamp(big.NewInt(-20), lo, hi); got.Cmp(lo) != 0 {
		t.Errorf("clamp low: got %s", got)
	}
	if got := fpmath.Clamp(big.NewInt(20), lo, hi); got.Cmp(hi) != 0 {
		t.Errorf("clamp high: got %s", got)
	}
	if got := fpmath.Clamp(big.NewInt(5), lo, hi); got.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("clamp mid: got %s", got)
	}
}

func TestCheckU128_Bounds(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	if err := fpmath.CheckU128(max); err != nil {
		t.Errorf("max u128 should pass: %v", err)
	}
	over := new(big.Int).Add(max, big.NewInt(1))
	if err := fpmath.CheckU128(over); err != fpmath.ErrOverflow {
		t.Errorf("got %v, want ErrOverflow", err)
	}
	if err := fpmath.CheckU128(big.NewInt(-1)); err != fpmath.ErrUnderflow {
		t.Errorf("got %v, want ErrUnderflow", err)
	}
}
