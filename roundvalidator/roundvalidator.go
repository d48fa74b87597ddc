// Package roundvalidator implements RoundHashValidator: combines a
// self-reported hash with a hashfinder.Finder to classify a round as
// VALID, SELF_ISS, CATASTROPHIC_ISS or LACK_OF_DATA.
package roundvalidator

import (
	"sync"

	"github.com/tos-network/sigstate/common"
	"github.com/tos-network/sigstate/hashfinder"
)

// Status is the per-round decision.
type Status int

const (
	Undecided Status = iota
	Valid
	SelfISS
	CatastrophicISS
	LackOfData
	CatastrophicLackOfData
)

func (s Status) String() string {
	switch s {
	case Undecided:
		return "UNDECIDED"
	case Valid:
		return "VALID"
	case SelfISS:
		return "SELF_ISS"
	case CatastrophicISS:
		return "CATASTROPHIC_ISS"
	case LackOfData:
		return "LACK_OF_DATA"
	case CatastrophicLackOfData:
		return "CATASTROPHIC_LACK_OF_DATA"
	default:
		return "UNKNOWN"
	}
}

// Decided reports whether s is a terminal, already-dispatched status.
func (s Status) Decided() bool { return s != Undecided }

// Validator is RoundHashValidator: one per round, living until the round
// leaves the ISS detector's tracking window.
type Validator struct {
	mu sync.Mutex

	round      uint64
	selfHash   *common.Hash
	finder     *hashfinder.Finder
	status     Status
	dispatched bool
}

// New constructs an undecided Validator for round, backed by a fresh
// hashfinder.Finder seeded with totalStake.
func New(round uint64, totalStake uint64) *Validator {
	return &Validator{round: round, finder: hashfinder.New(round, totalStake)}
}

func (v *Validator) Round() uint64 { return v.round }

// Status returns the current decision.
func (v *Validator) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// SelfHash returns the self-reported hash, if any.
func (v *Validator) SelfHash() (common.Hash, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selfHash == nil {
		return common.Hash{}, false
	}
	return *v.selfHash, true
}

// Decision is the outcome of an operation that may cross a decision
// boundary: the new status and, if this call is the one that produced a
// terminal VALID/SELF_ISS decision, the consensus hash to report
// alongside it (for state_hash_validity dispatch).
type Decision struct {
	Status        Status
	Newly         bool // true iff this call is the one that produced Status
	SelfHash      common.Hash
	ConsensusHash common.Hash
}

// ReportSelfHash records this node's own computed hash for the round,
// exactly once per round; subsequent calls are ignored.
func (v *Validator) ReportSelfHash(h common.Hash) Decision {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selfHash == nil {
		v.selfHash = &h
	}
	return v.recomputeLocked()
}

// ReportNetworkHash feeds one more (signer, stake, hash) observation into
// the underlying hashfinder and re-evaluates the decision table.
func (v *Validator) ReportNetworkHash(signer common.NodeID, stake uint64, h common.Hash) Decision {
	v.finder.AddHash(signer, stake, h)
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recomputeLocked()
}

// recomputeLocked implements the classification decision table. Caller
// must hold v.mu.
func (v *Validator) recomputeLocked() Decision {
	if v.status.Decided() && v.dispatched {
		return Decision{Status: v.status}
	}

	fStatus := v.finder.Status()
	if fStatus == hashfinder.CatastrophicISS {
		return v.decideLocked(CatastrophicISS, common.Hash{})
	}
	if fStatus == hashfinder.Decided {
		consensusHash, _ := v.finder.ConsensusHash()
		if v.selfHash == nil {
			return Decision{Status: Undecided} // waits for self hash
		}
		if *v.selfHash == consensusHash {
			return v.decideLocked(Valid, consensusHash)
		}
		return v.decideLocked(SelfISS, consensusHash)
	}
	return Decision{Status: Undecided}
}

// decideLocked sets the terminal status exactly once and reports whether
// this call is the one that produced it (Newly=true fires the dispatcher
// exactly once per round). Caller must hold v.mu.
func (v *Validator) decideLocked(status Status, consensusHash common.Hash) Decision {
	newly := !v.dispatched
	v.status = status
	v.dispatched = true
	var self common.Hash
	if v.selfHash != nil {
		self = *v.selfHash
	}
	return Decision{Status: status, Newly: newly, SelfHash: self, ConsensusHash: consensusHash}
}

// OutOfTime is invoked when the round leaves the tracking window. It
// forces a terminal decision if one hasn't already fired:
//   - DECIDED but self-hash missing -> LACK_OF_DATA (with warning, left to
//     the caller to log).
//   - UNDECIDED and reported stake > 2/3 of total -> CATASTROPHIC_LACK_OF_DATA.
//   - UNDECIDED and reported stake <= 2/3 -> LACK_OF_DATA.
//
// If the validator already reached a terminal decision, OutOfTime is a
// no-op and returns Newly=false.
func (v *Validator) OutOfTime(totalStake uint64) Decision {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status.Decided() && v.dispatched {
		return Decision{Status: v.status}
	}

	fStatus := v.finder.Status()
	if fStatus == hashfinder.Decided && v.selfHash == nil {
		consensusHash, _ := v.finder.ConsensusHash()
		return v.decideLocked(LackOfData, consensusHash)
	}
	if fStatus != hashfinder.Decided {
		reported := v.finder.ReportedStake()
		if 3*reported > 2*totalStake {
			return v.decideLocked(CatastrophicLackOfData, common.Hash{})
		}
		return v.decideLocked(LackOfData, common.Hash{})
	}
	// Decided with matching/mismatching self hash but recomputeLocked
	// hasn't run since: finish the decision now.
	return v.recomputeLocked()
}
