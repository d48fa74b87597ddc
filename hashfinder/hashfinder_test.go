package hashfinder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/sigstate/common"
)

func nodeID(b byte) common.NodeID { return common.BytesToNodeID([]byte{b}) }
func hash(b byte) common.Hash     { return common.BytesToHash([]byte{b}) }

func TestFinderDecidesOnStrongMinorityWithNoRoomForRival(t *testing.T) {
	f := New(10, 100)
	f.AddHash(nodeID(1), 25, hash(0xAA))
	require.Equal(t, Undecided, f.Status())
	f.AddHash(nodeID(2), 50, hash(0xAA)) // 75 total for hash AA
	require.Equal(t, Decided, f.Status())
	h, ok := f.ConsensusHash()
	require.True(t, ok)
	require.Equal(t, hash(0xAA), h)
}

func TestFinderCatastrophicISSFourWaySplit(t *testing.T) {
	f := New(10, 100)
	f.AddHash(nodeID(1), 25, hash(1))
	f.AddHash(nodeID(2), 25, hash(2))
	f.AddHash(nodeID(3), 25, hash(3))
	f.AddHash(nodeID(4), 25, hash(4))
	require.Equal(t, CatastrophicISS, f.Status())
	_, ok := f.ConsensusHash()
	require.False(t, ok)
}

func TestFinderUndecidedUntilEnoughStake(t *testing.T) {
	f := New(10, 100)
	f.AddHash(nodeID(1), 25, hash(1))
	require.Equal(t, Undecided, f.Status())
}

func TestFinderIgnoresDuplicateReportsFromSameSigner(t *testing.T) {
	f := New(10, 100)
	f.AddHash(nodeID(1), 25, hash(1))
	f.AddHash(nodeID(1), 25, hash(2)) // same signer, different hash: ignored
	require.Equal(t, uint64(25), f.ReportedStake())
}

// TestFinderDecidesOnNonMultipleOfThreeTotal exercises a total stake that
// doesn't divide evenly by 3, where floor-division thresholds would wrongly
// stay Undecided: leading=40, rival=33, 27 unreported. Exact 1/3 of 100 is
// 33.33, so the rival's 33 is below it and the leading partition should
// decide.
func TestFinderDecidesOnNonMultipleOfThreeTotal(t *testing.T) {
	f := New(10, 100)
	f.AddHash(nodeID(2), 33, hash(0xBB))
	f.AddHash(nodeID(1), 40, hash(0xAA))
	require.Equal(t, Decided, f.Status())
	h, ok := f.ConsensusHash()
	require.True(t, ok)
	require.Equal(t, hash(0xAA), h)
}

// TestFinderCatastrophicISSOnNonMultipleOfThreeTotal covers the matching
// 2/3 boundary: 33/33/17/17 of 100 fully reported. Exact 2/3 of 100 is
// 66.67, and the non-leading stake of 67 exceeds it, so this must reach
// CatastrophicISS rather than fall through to a weaker status.
func TestFinderCatastrophicISSOnNonMultipleOfThreeTotal(t *testing.T) {
	f := New(10, 100)
	f.AddHash(nodeID(1), 33, hash(1))
	f.AddHash(nodeID(2), 33, hash(2))
	f.AddHash(nodeID(3), 17, hash(3))
	f.AddHash(nodeID(4), 17, hash(4))
	require.Equal(t, CatastrophicISS, f.Status())
	_, ok := f.ConsensusHash()
	require.False(t, ok)
}

func TestFinderDecisionIsMonotone(t *testing.T) {
	f := New(10, 100)
	f.AddHash(nodeID(1), 25, hash(1))
	f.AddHash(nodeID(2), 50, hash(1)) // decides hash(1)
	require.Equal(t, Decided, f.Status())

	// Further conflicting reports must not flip the decision.
	f.AddHash(nodeID(3), 25, hash(2))
	f.AddHash(nodeID(4), 25, hash(3))
	require.Equal(t, Decided, f.Status())
	h, _ := f.ConsensusHash()
	require.Equal(t, hash(1), h)
}
