package common

import (
	"encoding/hex"
	"fmt"
)

// AddressLength matches a standard 20-byte account address, reused here
// as the node identifier width for the staked address book.
const AddressLength = 20

// NodeID identifies a participant in the address book. It reuses the
// standard 20-byte account address shape rather than inventing a new
// wire width, since node ids and account addresses share the same
// derivation (public-key hash).
type NodeID [AddressLength]byte

// BytesToNodeID right-aligns b into a NodeID.
func BytesToNodeID(b []byte) NodeID {
	var a NodeID
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// Hex returns the 0x-prefixed hex encoding of the node id.
func (a NodeID) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a NodeID) String() string {
	return a.Hex()
}

// IsZero reports whether a is the zero node id.
func (a NodeID) IsZero() bool {
	return a == NodeID{}
}

// Less provides a deterministic ascending order, matching the established
// addressAscending sort helpers used for validator ordering.
func Less(a, b NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// NodeIDFromHex parses a 0x-prefixed or bare hex string into a NodeID.
func NodeIDFromHex(s string) (NodeID, error) {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("common: invalid node id hex: %w", err)
	}
	if len(b) != AddressLength {
		return NodeID{}, fmt.Errorf("common: node id must be %d bytes, got %d", AddressLength, len(b))
	}
	var a NodeID
	copy(a[:], b)
	return a, nil
}
