package signedstate

import "github.com/tos-network/sigstate/common"

// SavedSignature is the (round, nodeId, signature) tuple buffered until
// its round's state is tracked.
type SavedSignature struct {
	Round  uint64
	Signer common.NodeID
	Sig    []byte
}
