package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "gmsol:genesis:v1"

// StateHasher maintains the hash chain over the event log.
type StateHasher struct {
	parent [32]byte
}

// NewStateHasher initializes the chain at the genesis hash.
func NewStateHasher() *StateHasher {
	return &StateHasher{parent: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash advances the chain: SHA-256(parent || sequence || digest).
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.parent[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.parent = hash
	return hash
}

// GetParent returns the current chain tip.
func (h *StateHasher) GetParent() [32]byte {
	return h.parent
}

// SetParent resets the chain tip, used when restoring from a snapshot.
func (h *StateHasher) SetParent(hash [32]byte) {
	h.parent = hash
}
