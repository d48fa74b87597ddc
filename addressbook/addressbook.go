// Package addressbook implements the AddressBook collaborator consumed by
// the signed-state core: an immutable per-round roster mapping
// node id -> {public key, stake}.
//
// The shape generalizes a staking NodeRecord{Operator, SelfStake/
// TotalStake, Status} and its registered/active-status bookkeeping from
// on-chain storage slots to an immutable in-memory roster, since here
// the address book is a consumed collaborator rather than something this
// core persists.
package addressbook

import (
	"sort"

	"github.com/tos-network/sigstate/common"
)

// Entry is one roster member: public key and stake weight.
type Entry struct {
	PublicKey []byte
	Stake     uint64
}

// AddressBook is immutable once built: no method mutates it. A new round
// with a different roster constructs a new AddressBook and atomically
// swaps it in at the call site (e.g. SigSet.PruneInvalidSignatures).
type AddressBook struct {
	entries    map[common.NodeID]Entry
	totalStake uint64
	ordered    []common.NodeID // ascending, matches addressAscending convention
}

// New builds an AddressBook from a map of roster entries.
func New(entries map[common.NodeID]Entry) *AddressBook {
	ab := &AddressBook{entries: make(map[common.NodeID]Entry, len(entries))}
	for id, e := range entries {
		ab.entries[id] = e
		ab.totalStake += e.Stake
		ab.ordered = append(ab.ordered, id)
	}
	sort.Slice(ab.ordered, func(i, j int) bool {
		return common.Less(ab.ordered[i], ab.ordered[j])
	})
	return ab
}

// Stake returns the stake weight for id, 0 if unknown.
func (ab *AddressBook) Stake(id common.NodeID) uint64 {
	return ab.entries[id].Stake
}

// PublicKey returns the public key bytes for id, nil if unknown.
func (ab *AddressBook) PublicKey(id common.NodeID) []byte {
	return ab.entries[id].PublicKey
}

// Contains reports whether id is a roster member.
func (ab *AddressBook) Contains(id common.NodeID) bool {
	_, ok := ab.entries[id]
	return ok
}

// TotalStake returns the sum of all member stakes.
func (ab *AddressBook) TotalStake() uint64 { return ab.totalStake }

// Size returns the number of roster members.
func (ab *AddressBook) Size() int { return len(ab.entries) }

// Members returns node ids in deterministic ascending order.
func (ab *AddressBook) Members() []common.NodeID {
	out := make([]common.NodeID, len(ab.ordered))
	copy(out, ab.ordered)
	return out
}
