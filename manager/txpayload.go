package manager

import (
	"encoding/binary"
	"errors"

	"github.com/tos-network/sigstate/common"
)

// TxType tags a state-signature system transaction.
type TxType byte

const (
	// TxFreeze marks the payload as carrying a freeze-state signature.
	TxFreeze TxType = 0x01
	// TxNormal marks the payload as carrying a normal round signature.
	TxNormal TxType = 0x02
)

// ErrShortPayload is returned by DecodeTxPayload when the input is
// shorter than the fixed-width prefix.
var ErrShortPayload = errors.New("manager: state-signature payload too short")

// ErrUnknownTxType is returned by DecodeTxPayload for an unrecognized
// type tag.
var ErrUnknownTxType = errors.New("manager: unknown state-signature tx type")

// EncodeTxPayload builds the bit-exact state-signature system-transaction
// payload: 1 byte type tag, 8 bytes round (big-endian), 48 bytes hash,
// then the variable-length signature.
func EncodeTxPayload(typ TxType, round uint64, hash common.Hash, sig []byte) []byte {
	out := make([]byte, 1+8+common.HashLength+len(sig))
	out[0] = byte(typ)
	binary.BigEndian.PutUint64(out[1:9], round)
	copy(out[9:9+common.HashLength], hash[:])
	copy(out[9+common.HashLength:], sig)
	return out
}

// TxPayload is the decoded form of EncodeTxPayload's output.
type TxPayload struct {
	Type      TxType
	Round     uint64
	Hash      common.Hash
	Signature []byte
}

// DecodeTxPayload parses a payload produced by EncodeTxPayload.
func DecodeTxPayload(b []byte) (TxPayload, error) {
	const prefixLen = 1 + 8 + common.HashLength
	if len(b) < prefixLen {
		return TxPayload{}, ErrShortPayload
	}
	typ := TxType(b[0])
	if typ != TxFreeze && typ != TxNormal {
		return TxPayload{}, ErrUnknownTxType
	}
	round := binary.BigEndian.Uint64(b[1:9])
	var hash common.Hash
	copy(hash[:], b[9:9+common.HashLength])
	sig := append([]byte(nil), b[prefixLen:]...)
	return TxPayload{Type: typ, Round: round, Hash: hash, Signature: sig}, nil
}
