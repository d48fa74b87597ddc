// Package notifier implements synchronous dispatch for the manager's
// notification categories: typed function values invoked inline, the
// same shape as a consensus Reactor's onQC func(*QC) field invoked
// directly from vote handling rather than fanned out over a channel.
// Synchronous dispatch is the safe default given that handlers may hold
// short reservations on the state being reported.
package notifier

import "github.com/tos-network/sigstate/common"

// StateRef is the minimal shape a notification carries about a signed
// state: enough to identify it without this package importing
// signedstate, so notifier depends only on common.
type StateRef interface {
	Round() uint64
	RootHash() common.Hash
}

// Notifier holds one callback slot per dispatch category. A nil callback
// is a no-op; callers register only what they need.
type Notifier struct {
	OnStateHashed               func(round uint64, hash common.Hash)
	OnNewSignedStateBeingTracked func(state StateRef)
	OnStateHasEnoughSignatures  func(state StateRef)
	OnStateLacksSignatures      func(state StateRef)
	OnNewLatestCompleteState    func(state StateRef)
	OnSelfISS                   func(round uint64, selfHash, consensusHash common.Hash)
	OnCatastrophicISS           func(round uint64, selfHash common.Hash)
	OnStateHashValidity         func(round uint64, selfHash, consensusHash common.Hash)
}

func (n *Notifier) stateHashed(round uint64, hash common.Hash) {
	if n != nil && n.OnStateHashed != nil {
		n.OnStateHashed(round, hash)
	}
}

// Dispatch helpers are exported under a fixed verb ("Fire...") so call
// sites read like the synchronous event they are, not a getter.

func (n *Notifier) FireStateHashed(round uint64, hash common.Hash) { n.stateHashed(round, hash) }

func (n *Notifier) FireNewSignedStateBeingTracked(s StateRef) {
	if n != nil && n.OnNewSignedStateBeingTracked != nil {
		n.OnNewSignedStateBeingTracked(s)
	}
}

func (n *Notifier) FireStateHasEnoughSignatures(s StateRef) {
	if n != nil && n.OnStateHasEnoughSignatures != nil {
		n.OnStateHasEnoughSignatures(s)
	}
}

func (n *Notifier) FireStateLacksSignatures(s StateRef) {
	if n != nil && n.OnStateLacksSignatures != nil {
		n.OnStateLacksSignatures(s)
	}
}

func (n *Notifier) FireNewLatestCompleteState(s StateRef) {
	if n != nil && n.OnNewLatestCompleteState != nil {
		n.OnNewLatestCompleteState(s)
	}
}

func (n *Notifier) FireSelfISS(round uint64, selfHash, consensusHash common.Hash) {
	if n != nil && n.OnSelfISS != nil {
		n.OnSelfISS(round, selfHash, consensusHash)
	}
}

func (n *Notifier) FireCatastrophicISS(round uint64, selfHash common.Hash) {
	if n != nil && n.OnCatastrophicISS != nil {
		n.OnCatastrophicISS(round, selfHash)
	}
}

func (n *Notifier) FireStateHashValidity(round uint64, selfHash, consensusHash common.Hash) {
	if n != nil && n.OnStateHashValidity != nil {
		n.OnStateHashValidity(round, selfHash, consensusHash)
	}
}
