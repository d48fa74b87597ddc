// Package hashfinder implements ConsensusHashFinder: partition-and-count
// signatures to find the single hash with strong-minority (> 1/3) stake
// support that no other reported hash can rival.
//
// The per-partition contributor bookkeeping is backed by
// deckarep/golang-set — a natural fit for "this node id has already
// contributed to this partition" membership tracking.
package hashfinder

import (
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/tos-network/sigstate/common"
)

// Status is the ConsensusHashFinder's decision state.
type Status int

const (
	Undecided Status = iota
	Decided
	CatastrophicISS
)

func (s Status) String() string {
	switch s {
	case Undecided:
		return "UNDECIDED"
	case Decided:
		return "DECIDED"
	case CatastrophicISS:
		return "CATASTROPHIC_ISS"
	default:
		return "UNKNOWN"
	}
}

// PartitionInfo tracks one distinct reported hash's support.
type PartitionInfo struct {
	Hash         common.Hash
	StakeSum     uint64
	Contributors mapset.Set // of common.NodeID
}

// Finder is ConsensusHashFinder: given a round and total stake, accepts
// add_hash(node_id, stake, hash) reports and recomputes its decision
// status after each one.
type Finder struct {
	mu sync.Mutex

	round         uint64
	totalStake    uint64
	reportedStake uint64
	reported      map[common.NodeID]bool
	partitions    map[common.Hash]*PartitionInfo

	status        Status
	consensusHash common.Hash
}

// New constructs a Finder for round, given the total stake in the
// address book backing this round.
func New(round uint64, totalStake uint64) *Finder {
	return &Finder{
		round:      round,
		totalStake: totalStake,
		reported:   make(map[common.NodeID]bool),
		partitions: make(map[common.Hash]*PartitionInfo),
	}
}

// Round returns the round this Finder tracks.
func (f *Finder) Round() uint64 { return f.round }

// AddHash reports that signer (carrying stake) observed hash for this
// round. Idempotent per signer: later reports from the same signer are
// ignored, enforcing a per-node single-report invariant.
// Decisions are monotone — once Decided or CatastrophicISS, further
// reports are accepted for bookkeeping but never change the status.
func (f *Finder) AddHash(signer common.NodeID, stake uint64, hash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.reported[signer] {
		return
	}
	f.reported[signer] = true
	f.reportedStake += stake

	p, ok := f.partitions[hash]
	if !ok {
		p = &PartitionInfo{Hash: hash, Contributors: mapset.NewSet()}
		f.partitions[hash] = p
	}
	p.StakeSum += stake
	p.Contributors.Add(signer)

	if f.status != Undecided {
		return
	}
	f.recompute()
}

// recompute implements the decision table below. Caller must hold f.mu.
func (f *Finder) recompute() {
	leading := f.leadingPartitionLocked()
	if leading == nil {
		return
	}

	if f.exceedsThirdLocked(leading.StakeSum) && f.belowThirdLocked(f.reportedStake-leading.StakeSum) {
		f.status = Decided
		f.consensusHash = leading.Hash
		return
	}
	if f.exceedsTwoThirdsLocked(f.reportedStake - leading.StakeSum) {
		f.status = CatastrophicISS
		return
	}
}

func (f *Finder) leadingPartitionLocked() *PartitionInfo {
	var best *PartitionInfo
	for _, p := range f.partitions {
		if best == nil || p.StakeSum > best.StakeSum {
			best = p
		}
	}
	return best
}

// belowThirdLocked/exceedsThirdLocked/exceedsTwoThirdsLocked implement the
// fixed-point comparisons "< total/3", "> total/3" and "> 2*total/3" by
// cross-multiplication, so they stay exact when totalStake isn't a
// multiple of 3 (floor division would silently round the threshold down).
func (f *Finder) belowThirdLocked(stake uint64) bool {
	return 3*stake < f.totalStake
}
func (f *Finder) exceedsThirdLocked(stake uint64) bool {
	return 3*stake > f.totalStake
}
func (f *Finder) exceedsTwoThirdsLocked(stake uint64) bool {
	return 3*stake > 2*f.totalStake
}

// Status returns the current decision status.
func (f *Finder) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// ConsensusHash returns the decided hash and true, or the zero hash and
// false if not yet (or never) decided.
func (f *Finder) ConsensusHash() (common.Hash, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == Decided {
		return f.consensusHash, true
	}
	return common.Hash{}, false
}

// ReportedStake returns the total stake that has reported so far.
func (f *Finder) ReportedStake() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reportedStake
}

// Partitions returns a snapshot of the current per-hash partitions, for
// diagnostics/ISS dump payloads.
func (f *Finder) Partitions() []PartitionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PartitionInfo, 0, len(f.partitions))
	for _, p := range f.partitions {
		out = append(out, *p)
	}
	return out
}
