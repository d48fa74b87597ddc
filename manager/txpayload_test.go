package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/sigstate/common"
)

func TestTxPayloadRoundTrip(t *testing.T) {
	hash := common.BytesToHash([]byte("some 48 byte root hash goes here"))
	sig := []byte("deadbeefdeadbeefdeadbeef")

	payload := EncodeTxPayload(TxNormal, 42, hash, sig)
	require.Equal(t, 1+8+common.HashLength+len(sig), len(payload))
	require.Equal(t, byte(TxNormal), payload[0])

	decoded, err := DecodeTxPayload(payload)
	require.NoError(t, err)
	require.Equal(t, TxNormal, decoded.Type)
	require.Equal(t, uint64(42), decoded.Round)
	require.Equal(t, hash, decoded.Hash)
	require.Equal(t, sig, decoded.Signature)
}

func TestTxPayloadRejectsShortInput(t *testing.T) {
	_, err := DecodeTxPayload([]byte{0x02, 0x00})
	require.ErrorIs(t, err, ErrShortPayload)
}

func TestTxPayloadRejectsUnknownType(t *testing.T) {
	hash := common.BytesToHash([]byte("x"))
	payload := EncodeTxPayload(TxNormal, 1, hash, nil)
	payload[0] = 0xFF
	_, err := DecodeTxPayload(payload)
	require.ErrorIs(t, err, ErrUnknownTxType)
}
