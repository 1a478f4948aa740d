package state_test

import (
	"math/big"
	"testing"

	fpmath "gmsol/internal/math"
	"gmsol/internal/state"
)

// ============================================================================
// Test: Pool deltas
// ============================================================================

func TestPool_DeltaSequenceEqualsSum(t *testing.T) {
	p := state.NewPool(false)
	deltas := []int64{100, -30, 250, -120, 7}

	var sum int64
	for _, d := range deltas {
		if err := p.ApplyDeltaToLongAmount(big.NewInt(d)); err != nil {
			t.Fatalf("apply delta %d: %v", d, err)
		}
		sum += d
	}

	if p.LongAmount().Cmp(big.NewInt(sum)) != 0 {
		t.Errorf("long amount: got %s, want %d", p.LongAmount(), sum)
	}
	if p.ShortAmount().Sign() != 0 {
		t.Errorf("short amount should be untouched, got %s", p.ShortAmount())
	}
}

func TestPool_DeltaUnderflow(t *testing.T) {
	p := state.NewPool(false)
	if err := p.ApplyDeltaToLongAmount(big.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	err := p.ApplyDeltaToLongAmount(big.NewInt(-11))
	if err != fpmath.ErrUnderflow {
		t.Errorf("got %v, want ErrUnderflow", err)
	}
	// Amount must be unchanged after the failed delta.
	if p.LongAmount().Cmp(big.NewInt(10)) != 0 {
		t.Errorf("failed delta mutated the pool: %s", p.LongAmount())
	}
}

// ============================================================================
// Test: pure pools
// ============================================================================

func TestPool_PureRedirectsShortSide(t *testing.T) {
	p := state.NewPool(true)
	if err := p.ApplyDeltaToShortAmount(big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}
	if p.MergedAmount().Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("merged: got %s, want 1000", p.MergedAmount())
	}
}

func TestPool_PureHalvesQueries(t *testing.T) {
	p := state.NewPool(true)
	if err := p.ApplyDeltaToLongAmount(big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}

	long, short := p.LongAmount(), p.ShortAmount()
	if long.Cmp(short) != 0 {
		t.Errorf("pure pool sides differ: long=%s short=%s", long, short)
	}
	if long.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("got %s, want half of merged (500)", long)
	}
}

// ============================================================================
// Test: CancelAmounts
// ============================================================================

func TestPool_CancelAmounts(t *testing.T) {
	p := state.NewPool(false)
	_ = p.ApplyDeltaToLongAmount(big.NewInt(300))
	_ = p.ApplyDeltaToShortAmount(big.NewInt(120))

	c := p.CancelAmounts()
	if c.LongAmount().Cmp(big.NewInt(180)) != 0 {
		t.Errorf("long: got %s, want 180", c.LongAmount())
	}
	if c.ShortAmount().Sign() != 0 {
		t.Errorf("short: got %s, want 0", c.ShortAmount())
	}

	// Original pool untouched.
	if p.LongAmount().Cmp(big.NewInt(300)) != 0 {
		t.Errorf("CancelAmounts mutated the receiver")
	}
}

func TestPool_CloneIsDeep(t *testing.T) {
	p := state.NewPool(false)
	_ = p.ApplyDeltaToLongAmount(big.NewInt(50))

	c := p.Clone()
	_ = c.ApplyDeltaToLongAmount(big.NewInt(50))

	if p.LongAmount().Cmp(big.NewInt(50)) != 0 {
		t.Errorf("clone shares state with original")
	}
}
