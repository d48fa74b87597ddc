// Package signedstate implements the central SignedState value object and
// its SigSet: a snapshot of application state at a round boundary,
// identified by its root hash, carrying the set of node signatures
// collected over that hash.
package signedstate

import (
	"errors"
	"sync"
	"time"

	"github.com/tos-network/sigstate/addressbook"
	"github.com/tos-network/sigstate/common"
	"github.com/tos-network/sigstate/config"
	"github.com/tos-network/sigstate/crypto"
	"github.com/tos-network/sigstate/refcount"
)

// ErrHashAlreadySet is returned by SetRootHash if called more than once:
// once assigned, a root hash is never mutated.
var ErrHashAlreadySet = errors.New("signedstate: root hash already set")

// ErrHashMissing is returned when an operation requiring a hashed state
// (e.g. adding a complete signed state) is invoked before hashing
// completed.
var ErrHashMissing = errors.New("signedstate: root hash not yet set")

// SignedState is the central entity: a versioned, reference-counted
// snapshot of state at a consensus round.
type SignedState struct {
	mu sync.RWMutex

	round       uint64
	rootHash    common.Hash
	hashed      bool
	events      []Event
	sigSet      *SigSet
	addressBook *addressbook.AddressBook

	freezeState  bool
	stateToSave  bool
	creationTime time.Time
	history      *History

	refs *refcount.Counter
}

// New constructs a fresh, unhashed SignedState for round. The address
// book is the roster this round's signatures must be validated against;
// it never changes for the lifetime of the state except via
// PruneInvalidSignatures (e.g. after a reconnect with a newer book).
func New(round uint64, book *addressbook.AddressBook, onArchive, onRelease func()) *SignedState {
	s := &SignedState{
		round:        round,
		addressBook:  book,
		creationTime: time.Now(),
		history:      NewHistory(32),
	}
	s.refs = refcount.New(onArchive, onRelease)
	s.history.Record(TransitionCreated)
	return s
}

func (s *SignedState) Round() uint64 { return s.round }

// RootHash implements notifier.StateRef.
func (s *SignedState) RootHash() common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootHash
}

func (s *SignedState) IsHashed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashed
}

// SetRootHash assigns the root hash exactly once and binds the SigSet
// that will track signatures over it. threshold/verifier configure the
// completeness predicate.
func (s *SignedState) SetRootHash(h common.Hash, threshold config.ThresholdFraction, verifier crypto.SignatureVerifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashed {
		return ErrHashAlreadySet
	}
	s.rootHash = h
	s.hashed = true
	s.sigSet = NewSigSet(h, s.addressBook, threshold, verifier)
	s.history.Record(TransitionHashed)
	return nil
}

// SigSet returns the bound signature set, or nil if the state is unhashed.
func (s *SignedState) SigSet() *SigSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sigSet
}

// AddressBook returns the roster this state's signatures validate against.
func (s *SignedState) AddressBook() *addressbook.AddressBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addressBook
}

// SigningStake returns the total stake that has signed this state so far.
func (s *SignedState) SigningStake() uint64 {
	ss := s.SigSet()
	if ss == nil {
		return 0
	}
	return ss.SigningStake()
}

// IsComplete reports whether the bound SigSet has crossed the completion
// threshold. An unhashed state is never complete.
func (s *SignedState) IsComplete() bool {
	ss := s.SigSet()
	if ss == nil {
		return false
	}
	return ss.IsComplete()
}

func (s *SignedState) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *SignedState) SetEvents(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

func (s *SignedState) FreezeState() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freezeState
}

func (s *SignedState) SetFreezeState(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freezeState = v
}

func (s *SignedState) StateToSave() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateToSave
}

func (s *SignedState) SetStateToSave(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateToSave = v
}

func (s *SignedState) CreationTime() time.Time { return s.creationTime }

func (s *SignedState) History() *History { return s.history }

// Reservations exposes the underlying dual reference counter so
// statemap.Guard and the manager can take/release strong or weak
// reservations without this package needing to know about the map.
func (s *SignedState) Reservations() *refcount.Counter { return s.refs }

// ReserveStrong/ReleaseStrong/ReserveWeak/ReleaseWeak satisfy
// statemap.Reservable by delegating to the embedded refcount.Counter.
func (s *SignedState) ReserveStrong() error { return s.refs.ReserveStrong() }
func (s *SignedState) ReleaseStrong()       { s.refs.ReleaseStrong() }
func (s *SignedState) ReserveWeak() error   { return s.refs.ReserveWeak() }
func (s *SignedState) ReleaseWeak()         { s.refs.ReleaseWeak() }

// PruneInvalidSignatures re-validates the bound SigSet against a newer,
// trusted address book (e.g. on reconnect) and swaps the roster in.
func (s *SignedState) PruneInvalidSignatures(trusted *addressbook.AddressBook, verifier crypto.SignatureVerifier) {
	s.mu.Lock()
	ss := s.sigSet
	s.addressBook = trusted
	s.mu.Unlock()
	if ss != nil {
		ss.PruneInvalidSignatures(trusted, verifier)
	}
}
