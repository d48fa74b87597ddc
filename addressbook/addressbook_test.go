package addressbook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/sigstate/common"
)

func TestAddressBookBasics(t *testing.T) {
	n1 := common.BytesToNodeID([]byte{1})
	n2 := common.BytesToNodeID([]byte{2})
	ab := New(map[common.NodeID]Entry{
		n1: {PublicKey: []byte("pk1"), Stake: 25},
		n2: {PublicKey: []byte("pk2"), Stake: 75},
	})

	require.Equal(t, uint64(100), ab.TotalStake())
	require.Equal(t, 2, ab.Size())
	require.Equal(t, uint64(25), ab.Stake(n1))
	require.True(t, ab.Contains(n1))
	require.False(t, ab.Contains(common.BytesToNodeID([]byte{9})))
	require.Len(t, ab.Members(), 2)
}
