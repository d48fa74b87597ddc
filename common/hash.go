// Package common defines the small set of shared value types — hashes,
// node identifiers and byte-slice helpers — used across every package in
// the signed-state core. No business logic lives here, only the types
// that let unrelated packages agree on wire-level shapes without
// importing each other.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the size in bytes of a root hash. The design specifies a
// 384-bit digest (e.g. SHA-384/Keccak-384 family), so 48 bytes.
const HashLength = 48

// Hash is the 384-bit digest identifying a signed state's root.
type Hash [HashLength]byte

// BytesToHash right-aligns b into a Hash (zero bytes fill the left),
// truncating from the left if b is
// longer than HashLength (mirrors the address/hash helper convention used
// throughout this package).
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// IsZero reports whether h is the zero hash (i.e. unset).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashLength)
	copy(out, h[:])
	return out
}

// Hex returns the 0x-prefixed hex encoding of the hash.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// Format implements fmt.Formatter so that Hash prints sensibly with %v/%s/%x.
func (h Hash) Format(s fmt.State, c rune) {
	fmt.Fprintf(s, "%"+string(c), h.Bytes())
}

// HashFromHex parses a 0x-prefixed or bare hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("common: invalid hash hex: %w", err)
	}
	if len(b) != HashLength {
		return Hash{}, fmt.Errorf("common: hash must be %d bytes, got %d", HashLength, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}
