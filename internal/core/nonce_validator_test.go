package core

import (
	"testing"

	"gmsol/internal/state"
)

func TestNonceValidator_StrictOrdering(t *testing.T) {
	v := NewNonceValidator()
	owner := state.TokenFromString("owner-a").Bytes()

	for n := uint64(0); n < 3; n++ {
		if err := v.Validate(owner, n, false); err != nil {
			t.Fatalf("nonce %d rejected: %v", n, err)
		}
	}
	if v.Expected(owner) != 3 {
		t.Errorf("expected next nonce 3, got %d", v.Expected(owner))
	}
}

func TestNonceValidator_StaleNonce(t *testing.T) {
	v := NewNonceValidator()
	owner := state.TokenFromString("owner-a").Bytes()

	if err := v.Validate(owner, 0, false); err != nil {
		t.Fatalf("nonce 0 rejected: %v", err)
	}

	// A stale nonce on a known duplicate is a redelivery, not an error.
	if err := v.Validate(owner, 0, true); err != nil {
		t.Errorf("duplicate redelivery rejected: %v", err)
	}
	if err := v.Validate(owner, 0, false); err == nil {
		t.Error("expected out-of-order error for stale non-duplicate")
	}
	if v.OutOfOrder(owner) != 1 {
		t.Errorf("expected 1 out-of-order, got %d", v.OutOfOrder(owner))
	}
}

func TestNonceValidator_Gap(t *testing.T) {
	v := NewNonceValidator()
	owner := state.TokenFromString("owner-a").Bytes()

	if err := v.Validate(owner, 2, false); err == nil {
		t.Error("expected gap error")
	}
	if v.Gaps(owner) != 1 {
		t.Errorf("expected 1 gap, got %d", v.Gaps(owner))
	}
	// The expected nonce does not move on a rejected request.
	if v.Expected(owner) != 0 {
		t.Errorf("expected next nonce 0, got %d", v.Expected(owner))
	}
}

func TestNonceValidator_IndependentOwners(t *testing.T) {
	v := NewNonceValidator()
	a := state.TokenFromString("owner-a").Bytes()
	b := state.TokenFromString("owner-b").Bytes()

	if err := v.Validate(a, 0, false); err != nil {
		t.Fatalf("owner a nonce 0 rejected: %v", err)
	}
	if err := v.Validate(b, 0, false); err != nil {
		t.Fatalf("owner b nonce 0 rejected: %v", err)
	}
}

func TestNonceValidator_SnapshotRestore(t *testing.T) {
	v := NewNonceValidator()
	owner := state.TokenFromString("owner-a").Bytes()
	for n := uint64(0); n < 5; n++ {
		if err := v.Validate(owner, n, false); err != nil {
			t.Fatalf("nonce %d rejected: %v", n, err)
		}
	}

	restored := NewNonceValidator()
	for k, next := range v.Snapshot() {
		restored.Restore(k, next)
	}
	if restored.Expected(owner) != 5 {
		t.Errorf("expected next nonce 5 after restore, got %d", restored.Expected(owner))
	}
	if err := restored.Validate(owner, 5, false); err != nil {
		t.Errorf("nonce 5 rejected after restore: %v", err)
	}
}
