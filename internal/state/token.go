package state

import "encoding/hex"

// Token is a 32-byte mint identifier.
type Token [32]byte

// Zero reports whether the token is the all-zero identifier.
func (t Token) Zero() bool {
	return t == Token{}
}

// Bytes returns the raw mint bytes, the key type used by oracle price maps.
func (t Token) Bytes() [32]byte {
	return t
}

func (t Token) String() string {
	return hex.EncodeToString(t[:8])
}

// TokenFromString builds a Token from an arbitrary label. Used by tests and
// by the ingestion shell when upstream identifies tokens symbolically.
func TokenFromString(s string) Token {
	var t Token
	copy(t[:], s)
	return t
}
