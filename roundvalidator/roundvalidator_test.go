package roundvalidator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/sigstate/common"
)

func nodeID(b byte) common.NodeID { return common.BytesToNodeID([]byte{b}) }
func hash(b byte) common.Hash     { return common.BytesToHash([]byte{b}) }

func TestValidHappyPath(t *testing.T) {
	v := New(10, 100)
	d := v.ReportSelfHash(hash(0xAA))
	require.Equal(t, Undecided, d.Status)

	v.ReportNetworkHash(nodeID(1), 25, hash(0xAA))
	d = v.ReportNetworkHash(nodeID(2), 50, hash(0xAA))
	require.Equal(t, Valid, d.Status)
	require.True(t, d.Newly)
}

func TestSelfISS(t *testing.T) {
	v := New(10, 100)
	v.ReportSelfHash(hash(0x01)) // this node's own hash

	v.ReportNetworkHash(nodeID(2), 25, hash(0x02))
	d := v.ReportNetworkHash(nodeID(3), 25, hash(0x02)) // 50 stake on 0x02 decides it
	v.ReportNetworkHash(nodeID(4), 25, hash(0x02))      // 75 stake on 0x02, already decided
	require.Equal(t, SelfISS, d.Status)
	require.Equal(t, hash(0x01), d.SelfHash)
	require.Equal(t, hash(0x02), d.ConsensusHash)
}

func TestCatastrophicISSImmediate(t *testing.T) {
	v := New(10, 100)
	v.ReportNetworkHash(nodeID(1), 25, hash(1))
	v.ReportNetworkHash(nodeID(2), 25, hash(2))
	v.ReportNetworkHash(nodeID(3), 25, hash(3))
	d := v.ReportNetworkHash(nodeID(4), 25, hash(4))
	require.Equal(t, CatastrophicISS, d.Status)
}

func TestLackOfDataOnlySelfReported(t *testing.T) {
	v := New(10, 100)
	v.ReportSelfHash(hash(1))
	d := v.OutOfTime(100)
	require.Equal(t, LackOfData, d.Status)
	require.True(t, d.Newly)
}

func TestCatastrophicLackOfDataHighReportNoDecision(t *testing.T) {
	v := New(10, 100)
	// Three different hashes reported with stake summing to 75 (> 2/3).
	// Hash 3's 35 crosses 1/3, but the other 40 reported stake is not below
	// 1/3, so the finder cannot decide; the rest is not above 2/3 either, so
	// it is not catastrophic yet. The window closes with the finder still
	// undecided and more than 2/3 of the stake reported.
	v.ReportNetworkHash(nodeID(1), 20, hash(1))
	v.ReportNetworkHash(nodeID(2), 20, hash(2))
	v.ReportNetworkHash(nodeID(3), 35, hash(3))
	require.Equal(t, Undecided, v.Status())
	d := v.OutOfTime(100)
	require.Equal(t, CatastrophicLackOfData, d.Status)
}

func TestDecidedButSelfHashMissingWaitsThenLacksData(t *testing.T) {
	v := New(10, 100)
	v.ReportNetworkHash(nodeID(1), 25, hash(1))
	d := v.ReportNetworkHash(nodeID(2), 50, hash(1)) // decided, no self hash yet
	require.Equal(t, Undecided, d.Status)

	d = v.OutOfTime(100)
	require.Equal(t, LackOfData, d.Status)
}

func TestDispatchFiresExactlyOnce(t *testing.T) {
	v := New(10, 100)
	v.ReportSelfHash(hash(1))
	v.ReportNetworkHash(nodeID(1), 25, hash(1))
	d1 := v.ReportNetworkHash(nodeID(2), 50, hash(1))
	require.True(t, d1.Newly)

	d2 := v.ReportNetworkHash(nodeID(3), 25, hash(1))
	require.False(t, d2.Newly, "a decision must dispatch exactly once")
}
