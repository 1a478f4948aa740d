package core

import (
	"fmt"
)

// NonceValidator enforces per-owner nonce ordering on action creation.
// Owners sign strictly increasing nonces, so a replayed or reordered
// request is detectable before it reaches the engine state.
// Not thread-safe; only accessed from the engine goroutine.
type NonceValidator struct {
	expectedNext map[string]uint64
	gaps         map[string]int64
	outOfOrder   map[string]int64
}

func NewNonceValidator() *NonceValidator {
	return &NonceValidator{
		expectedNext: make(map[string]uint64),
		gaps:         make(map[string]int64),
		outOfOrder:   make(map[string]int64),
	}
}

func ownerKey(owner [32]byte) string {
	return fmt.Sprintf("%x", owner)
}

// Validate checks the nonce against the owner's expected next value.
// A stale nonce on a known-duplicate request is fine; a stale nonce on a
// new request means out-of-order delivery, and a gap means a lost request.
func (v *NonceValidator) Validate(owner [32]byte, nonce uint64, isDuplicate bool) error {
	key := ownerKey(owner)
	expected := v.expectedNext[key]

	if nonce < expected {
		if isDuplicate {
			return nil
		}
		v.outOfOrder[key]++
		return fmt.Errorf("out-of-order action: owner=%s, expected=%d, got=%d", key, expected, nonce)
	}
	if nonce == expected {
		v.expectedNext[key] = expected + 1
		return nil
	}
	v.gaps[key]++
	return fmt.Errorf("nonce gap: owner=%s, expected=%d, got=%d", key, expected, nonce)
}

// Expected returns the next nonce an owner must use.
func (v *NonceValidator) Expected(owner [32]byte) uint64 {
	return v.expectedNext[ownerKey(owner)]
}

// Restore sets an owner's expected nonce during recovery.
func (v *NonceValidator) Restore(owner string, next uint64) {
	v.expectedNext[owner] = next
}

// Snapshot returns the per-owner expected nonces.
func (v *NonceValidator) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(v.expectedNext))
	for k, n := range v.expectedNext {
		out[k] = n
	}
	return out
}

// Gaps returns the gap count observed for an owner.
func (v *NonceValidator) Gaps(owner [32]byte) int64 {
	return v.gaps[ownerKey(owner)]
}

// OutOfOrder returns the out-of-order count observed for an owner.
func (v *NonceValidator) OutOfOrder(owner [32]byte) int64 {
	return v.outOfOrder[ownerKey(owner)]
}
