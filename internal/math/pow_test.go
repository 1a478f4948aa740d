package math_test

import (
	"math/big"
	"testing"

	fpmath "gmsol/internal/math"
)

func TestApplyExponentFactor_ZeroExponent(t *testing.T) {
	got, err := fpmath.ApplyExponentFactor(big.NewInt(12345), big.NewInt(0))
	if err != nil {
		t.Fatalf("ApplyExponentFactor: %v", err)
	}
	if got.Cmp(fpmath.Unit) != 0 {
		t.Errorf("x^0: got %s, want %s", got, fpmath.Unit)
	}
}

func TestApplyExponentFactor_ExponentOne(t *testing.T) {
	v := bi("123456789000000000000")
	got, err := fpmath.ApplyExponentFactor(v, fpmath.Unit)
	if err != nil {
		t.Fatalf("ApplyExponentFactor: %v", err)
	}
	if got.Cmp(v) != 0 {
		t.Errorf("x^1: got %s, want %s", got, v)
	}
}

func TestApplyExponentFactor_Square(t *testing.T) {
	// 3.0^2 = 9.0
	three := new(big.Int).Mul(fpmath.Unit, big.NewInt(3))
	two := new(big.Int).Mul(fpmath.Unit, big.NewInt(2))
	got, err := fpmath.ApplyExponentFactor(three, two)
	if err != nil {
		t.Fatalf("ApplyExponentFactor: %v", err)
	}
	want := new(big.Int).Mul(fpmath.Unit, big.NewInt(9))
	if got.Cmp(want) != 0 {
		t.Errorf("3^2: got %s, want %s", got, want)
	}
}

func TestApplyExponentFactor_SquareRoot(t *testing.T) {
	// 4.0^0.5 = 2.0 exactly
	four := new(big.Int).Mul(fpmath.Unit, big.NewInt(4))
	half := new(big.Int).Quo(fpmath.Unit, big.NewInt(2))
	got, err := fpmath.ApplyExponentFactor(four, half)
	if err != nil {
		t.Fatalf("ApplyExponentFactor: %v", err)
	}
	want := new(big.Int).Mul(fpmath.Unit, big.NewInt(2))
	// Truncation may shave the last digit; allow error of 1 part in 10^18.
	tolerance := big.NewInt(100)
	if fpmath.Diff(got, want).Cmp(tolerance) > 0 {
		t.Errorf("4^0.5: got %s, want ~%s", got, want)
	}
}

func TestApplyExponentFactor_OnePointFive(t *testing.T) {
	// 4.0^1.5 = 8.0
	four := new(big.Int).Mul(fpmath.Unit, big.NewInt(4))
	exp := new(big.Int).Quo(new(big.Int).Mul(fpmath.Unit, big.NewInt(3)), big.NewInt(2))
	got, err := fpmath.ApplyExponentFactor(four, exp)
	if err != nil {
		t.Fatalf("ApplyExponentFactor: %v", err)
	}
	want := new(big.Int).Mul(fpmath.Unit, big.NewInt(8))
	tolerance := big.NewInt(1000)
	if fpmath.Diff(got, want).Cmp(tolerance) > 0 {
		t.Errorf("4^1.5: got %s, want ~%s", got, want)
	}
}

func TestApplyExponentFactor_ZeroBase(t *testing.T) {
	got, err := fpmath.ApplyExponentFactor(big.NewInt(0), fpmath.Unit)
	if err != nil {
		t.Fatalf("ApplyExponentFactor: %v", err)
	}
	if got.Sign() != 0 {
		t.Errorf("0^1: got %s, want 0", got)
	}
}

func TestApplyExponentFactor_NegativeInput(t *testing.T) {
	if _, err := fpmath.ApplyExponentFactor(big.NewInt(-1), fpmath.Unit); err != fpmath.ErrUnderflow {
		t.Errorf("negative base: got %v, want ErrUnderflow", err)
	}
	if _, err := fpmath.ApplyExponentFactor(fpmath.Unit, big.NewInt(-1)); err != fpmath.ErrUnderflow {
		t.Errorf("negative exponent: got %v, want ErrUnderflow", err)
	}
}
