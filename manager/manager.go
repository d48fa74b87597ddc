// Package manager implements SignedStateManager: the orchestrator that
// intakes freshly-hashed states, tracks signatures toward completion,
// promotes the latest complete state, and purges ancient ones. It is the
// single top-level mutex boundary over the state graph (the fresh/stale
// maps, last_state, last_complete, and the deferred-signature window);
// hashing and signature verification run outside that lock.
package manager

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tos-network/sigstate/addressbook"
	"github.com/tos-network/sigstate/common"
	"github.com/tos-network/sigstate/config"
	"github.com/tos-network/sigstate/crypto"
	"github.com/tos-network/sigstate/gc"
	"github.com/tos-network/sigstate/log"
	"github.com/tos-network/sigstate/metrics"
	"github.com/tos-network/sigstate/notifier"
	"github.com/tos-network/sigstate/sequence"
	"github.com/tos-network/sigstate/signedstate"
	"github.com/tos-network/sigstate/statemap"
)

// ErrOutOfOrderRound is returned by AddUnsignedState for a round that
// doesn't strictly advance past the last tracked round.
var ErrOutOfOrderRound = errors.New("manager: out-of-order round")

// ErrHashMissing is returned by AddCompleteSignedState for a state that
// hasn't been hashed yet.
var ErrHashMissing = signedstate.ErrHashMissing

// SystemTransactionSubmitter submits the bit-exact state-signature
// payload built by EncodeTxPayload.
type SystemTransactionSubmitter interface {
	Submit(payload []byte) bool
}

// Deps bundles the Manager's collaborators. AddressBook, Signer, Hasher
// and Submitter are required; the rest are optional (nil is a documented
// no-op).
type Deps struct {
	AddressBook *addressbook.AddressBook
	SelfID      common.NodeID
	Signer      crypto.HashSigner
	Verifier    crypto.SignatureVerifier
	Hasher      crypto.TreeHasher
	Submitter   SystemTransactionSubmitter
	Notifier    *notifier.Notifier
	GC          *gc.Collector
	Config      config.Config

	// OnHashingFailure is the fatal-error consumer invoked when the
	// external hasher reports an error; AddUnsignedState then returns the
	// error to its caller. A nil value makes a hashing failure process-fatal:
	// it is logged via Crit, which terminates the process.
	OnHashingFailure func(err error)
}

// Manager is SignedStateManager.
type Manager struct {
	mu sync.Mutex

	book *addressbook.AddressBook

	signer    crypto.HashSigner
	verifier  crypto.SignatureVerifier
	hasher    crypto.TreeHasher
	submitter SystemTransactionSubmitter
	notify    *notifier.Notifier
	gc        *gc.Collector
	cfg       config.Config
	selfID    common.NodeID
	onFatal   func(err error)

	fresh *statemap.Map[*signedstate.SignedState] // StrongHolding
	stale *statemap.Map[*signedstate.SignedState] // WeakHolding

	hasLastState   bool
	lastStateRound uint64

	lastComplete *signedstate.SignedState

	futureSigs *sequence.Set[signedstate.SavedSignature]

	latestCompleteGroup singleflight.Group

	logger log.Logger
}

var (
	metricFreshLen     = metrics.NewRegisteredGauge("manager/fresh/len", nil)
	metricStaleLen     = metrics.NewRegisteredGauge("manager/stale/len", nil)
	metricOutOfOrder   = metrics.NewRegisteredCounter("manager/rejected/out_of_order", nil)
	metricPurged       = metrics.NewRegisteredCounter("manager/states/purged", nil)
	metricSigDropped   = metrics.NewRegisteredCounter("manager/signatures/dropped", nil)
	metricSigBuffered  = metrics.NewRegisteredCounter("manager/signatures/buffered", nil)
)

// New constructs an empty Manager.
func New(deps Deps) *Manager {
	cfg := deps.Config
	return &Manager{
		book:       deps.AddressBook,
		signer:     deps.Signer,
		verifier:   deps.Verifier,
		hasher:     deps.Hasher,
		submitter:  deps.Submitter,
		notify:     deps.Notifier,
		gc:         deps.GC,
		cfg:        cfg,
		selfID:     deps.SelfID,
		onFatal:    deps.OnHashingFailure,
		fresh:      statemap.New[*signedstate.SignedState](statemap.StrongHolding),
		stale:      statemap.New[*signedstate.SignedState](statemap.WeakHolding),
		futureSigs: sequence.NewSet[signedstate.SavedSignature](cfg.MaxAgeOfFutureStateSignatures),
		logger:     log.New("pkg", "manager"),
	}
}

// SetAddressBook atomically swaps in a newer roster (e.g. after a
// reconnect), for states constructed going forward.
func (m *Manager) SetAddressBook(book *addressbook.AddressBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book = book
}

func (m *Manager) newState(round uint64) *signedstate.SignedState {
	var s *signedstate.SignedState
	s = signedstate.New(round, m.book,
		func() {
			if m.gc != nil {
				m.gc.ArchiveBackground(s)
			}
		},
		func() {
			if m.gc != nil {
				m.gc.DeleteBackground(s)
			}
		},
	)
	return s
}

// AddUnsignedState hashes content, records this node's self-signature,
// and inserts the resulting state into fresh. round must strictly
// advance past the previously accepted round.
func (m *Manager) AddUnsignedState(ctx context.Context, round uint64, content any) (*signedstate.SignedState, error) {
	m.mu.Lock()
	if m.hasLastState && round <= m.lastStateRound {
		m.mu.Unlock()
		metricOutOfOrder.Inc(1)
		m.logger.Warn("rejecting out-of-order round", "round", round, "last_round", m.lastStateRound)
		return nil, ErrOutOfOrderRound
	}
	m.mu.Unlock()

	hash, err := m.awaitHash(ctx, content)
	if err != nil {
		if m.onFatal != nil {
			m.onFatal(err)
		} else {
			// HashingFailure is a design-violation error kind with no
			// registered fatal-error consumer: escalate to Crit, which
			// logs and terminates the process.
			m.logger.Crit("state hashing failed", "round", round, "err", err)
		}
		return nil, err
	}

	m.notify.FireStateHashed(round, hash)

	state := m.newState(round)
	if err := state.SetRootHash(hash, m.cfg.CompletionThresholdFraction, m.verifier); err != nil {
		return nil, err
	}

	var selfSig []byte
	if m.signer != nil {
		selfSig, err = m.signer.Sign(hash)
		if err != nil {
			return nil, err
		}
		state.History().Record(signedstate.TransitionSelfSigned)
	}

	m.mu.Lock()
	m.notify.FireNewSignedStateBeingTracked(state)
	m.lastStateRound = round
	m.hasLastState = true
	m.fresh.Put(state)
	state.ReleaseStrong() // hand off the constructor's owning reservation to fresh

	if m.submitter != nil && selfSig != nil {
		payload := EncodeTxPayload(TxNormal, round, hash, selfSig)
		m.submitter.Submit(payload)
	}

	pending := m.futureSigs.DrainRound(round)
	m.futureSigs.ShiftWindow(round + 1)
	m.purgeOldStatesLocked()
	m.updateGaugesLocked()

	// Keep state alive across the unlock below: verification (outside any
	// lock) must not race a concurrent purge archiving it out from under us.
	// state was just put into fresh under this same lock, so it is
	// guaranteed alive; a failure here is a reservation invariant violation.
	reserveErr := state.ReserveWeak()
	m.mu.Unlock()
	if reserveErr != nil {
		m.logger.Crit("failed to pin freshly-tracked state", "round", round, "err", reserveErr)
	}

	if selfSig != nil {
		m.verifyAndApplySignature(state, m.selfID, selfSig)
	}
	for _, saved := range pending {
		m.verifyAndApplySignature(state, saved.Signer, saved.Sig)
	}
	state.ReleaseWeak()

	return state, nil
}

func (m *Manager) awaitHash(ctx context.Context, content any) (common.Hash, error) {
	if m.hasher == nil {
		return common.Hash{}, errors.New("manager: no TreeHasher configured")
	}
	var hash common.Hash
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hashCh, errCh := m.hasher.DigestTreeAsync(gctx, content)
		select {
		case h := <-hashCh:
			hash = h
			return nil
		case err := <-errCh:
			return err
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// verifyAndApplySignature validates sig against state's SigSet with no
// manager lock held — ed25519 verification is the expensive part of
// handling a signature, and must finish before any lock is taken — then
// takes m.mu only to record the already-verified result. Must not be
// called while already holding m.mu.
func (m *Manager) verifyAndApplySignature(state *signedstate.SignedState, signer common.NodeID, sig []byte) {
	ss := state.SigSet()
	if ss == nil || !ss.VerifySignature(signer, sig) {
		metricSigDropped.Inc(1)
		return
	}
	m.mu.Lock()
	m.addVerifiedSignatureLocked(state, signer, sig)
	m.mu.Unlock()
}

// addVerifiedSignatureLocked records a signature already validated by
// verifyAndApplySignature, promoting state if this call crosses the
// completion threshold. Caller must hold m.mu.
func (m *Manager) addVerifiedSignatureLocked(state *signedstate.SignedState, signer common.NodeID, sig []byte) {
	ss := state.SigSet()
	if ss == nil {
		return
	}
	result := ss.AddVerified(signer, sig)
	if !result.Added {
		metricSigDropped.Inc(1)
		return
	}
	if result.NewlyComplete {
		state.History().Record(signedstate.TransitionComplete)
		m.stateNewlyCompleteLocked(state)
	}
}

// PreConsensusSignature reports a signature observed ahead of (or
// alongside) consensus. If round's state is tracked and incomplete, the
// signature is validated (outside any lock) and applied; otherwise it is
// buffered in the deferred-signature window, subject to that window's
// boundary rules.
func (m *Manager) PreConsensusSignature(round uint64, signer common.NodeID, sig []byte) {
	m.mu.Lock()
	state, tracked := m.lookupTrackedLocked(round)
	tracked = tracked && !state.IsComplete()
	var reserveErr error
	if tracked {
		// Pin state alive so verification below can safely run lock-free.
		// state came from a map lookup under this same lock, so it is
		// guaranteed alive; a failure here is a reservation invariant
		// violation, not an expected race.
		reserveErr = state.ReserveWeak()
	}
	if !tracked {
		if m.futureSigs.Append(round, signedstate.SavedSignature{Round: round, Signer: signer, Sig: sig}) {
			metricSigBuffered.Inc(1)
		}
	}
	m.mu.Unlock()

	if reserveErr != nil {
		m.logger.Crit("failed to pin tracked state for signature verification", "round", round, "err", reserveErr)
	}

	if tracked {
		m.verifyAndApplySignature(state, signer, sig)
		state.ReleaseWeak()
	}
}

// lookupTrackedLocked finds a state for round in fresh, stale, or the
// last-complete slot without taking any extra reservation. Caller must
// hold m.mu.
func (m *Manager) lookupTrackedLocked(round uint64) (*signedstate.SignedState, bool) {
	if guard, ok := m.fresh.Get(round, false); ok {
		guard.Close()
		return guard.Value(), true
	}
	if guard, ok := m.stale.Get(round, false); ok {
		guard.Close()
		return guard.Value(), true
	}
	if m.lastComplete != nil && m.lastComplete.Round() == round {
		return m.lastComplete, true
	}
	return nil, false
}

// stateNewlyCompleteLocked runs the promotion algorithm. Caller must
// hold m.mu.
func (m *Manager) stateNewlyCompleteLocked(state *signedstate.SignedState) {
	m.notify.FireStateHasEnoughSignatures(state)

	if m.lastComplete == nil || state.Round() > m.lastComplete.Round() {
		m.setLastCompleteLocked(state)
	}

	round := state.Round()
	if guard, ok := m.fresh.Get(round, false); ok {
		guard.Close()
		m.fresh.Remove(round)
	}
	if guard, ok := m.stale.Get(round, false); ok {
		guard.Close()
		m.stale.Remove(round)
	}
}

// setLastCompleteLocked strong-reserves state into the last_complete
// slot, demotes every fresh state with a smaller round into stale, and
// notifies observers. Caller must hold m.mu.
func (m *Manager) setLastCompleteLocked(state *signedstate.SignedState) {
	if err := state.ReserveStrong(); err != nil {
		// state is reachable from fresh (which itself holds a strong
		// reservation) under this same lock, so this can only fail if a
		// reservation invariant was already broken elsewhere: a design
		// violation, fatal per ReservationAfterDestruction.
		m.logger.Crit("failed to reserve newly-complete state", "round", state.Round(), "err", err)
	}
	state.History().Record(signedstate.TransitionBecameLatest)
	prior := m.lastComplete
	m.lastComplete = state

	round := state.Round()
	m.fresh.AtomicIteration(func(it *statemap.Iterator[*signedstate.SignedState]) {
		it.Each(func(r uint64, v *signedstate.SignedState, remove func()) {
			if r >= round {
				return
			}
			v.History().Record(signedstate.TransitionMovedToStale)
			m.stale.Put(v) // takes its own weak reservation first
			remove()       // then releases fresh's strong reservation: may archive
		})
	})

	if prior != nil {
		prior.ReleaseStrong()
	}

	m.notify.FireNewLatestCompleteState(state)
}

// purgeOldStatesLocked drops every fresh/stale state older than the
// retention window, emitting state_lacks_signatures for each. Caller
// must hold m.mu.
func (m *Manager) purgeOldStatesLocked() {
	keep := m.cfg.RoundsToKeepForSigning
	if !m.hasLastState || m.lastStateRound+1 < keep {
		return
	}
	earliestPermitted := m.lastStateRound - keep + 1

	m.fresh.AtomicIteration(func(it *statemap.Iterator[*signedstate.SignedState]) {
		it.Each(func(r uint64, v *signedstate.SignedState, remove func()) {
			if r >= earliestPermitted {
				return
			}
			m.notify.FireStateLacksSignatures(v)
			v.History().Record(signedstate.TransitionPurged)
			remove()
			metricPurged.Inc(1)
		})
	})
	m.stale.AtomicIteration(func(it *statemap.Iterator[*signedstate.SignedState]) {
		it.Each(func(r uint64, v *signedstate.SignedState, remove func()) {
			if r >= earliestPermitted {
				return
			}
			m.notify.FireStateLacksSignatures(v)
			v.History().Record(signedstate.TransitionPurged)
			remove()
			metricPurged.Inc(1)
		})
	})

	if m.lastComplete != nil && m.lastComplete.Round() < earliestPermitted {
		m.lastComplete.ReleaseStrong()
		m.lastComplete = nil
	}
}

func (m *Manager) updateGaugesLocked() {
	metricFreshLen.Update(int64(m.fresh.Len()))
	metricStaleLen.Update(int64(m.stale.Len()))
}

// AddCompleteSignedState inserts a state (typically loaded from disk or
// received while reconnecting as a learner) that already carries a root
// hash. source names where it came from, for logging only (e.g. "disk",
// "reconnect:<peer>"). Its signatures are re-validated against the
// trusted address book before insertion; if it turns out complete and
// newer than the current best, it is promoted immediately.
func (m *Manager) AddCompleteSignedState(state *signedstate.SignedState, trustedBook *addressbook.AddressBook, source string) error {
	if !state.IsHashed() {
		// HashMissing is a design-violation error kind: a caller is only
		// ever supposed to reach here with an already-hashed state.
		m.logger.Crit("add complete signed state called before hashing", "round", state.Round(), "source", source)
		return ErrHashMissing
	}
	m.logger.Debug("adding complete signed state", "round", state.Round(), "source", source)
	state.PruneInvalidSignatures(trustedBook, m.verifier)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fresh.Put(state)
	if state.IsComplete() && (m.lastComplete == nil || state.Round() > m.lastComplete.Round()) {
		m.stateNewlyCompleteLocked(state)
	}
	m.updateGaugesLocked()
	return nil
}

// Find returns a weakly-reserved guard over the state matching
// (round, hash), if tracked in fresh or stale.
func (m *Manager) Find(round uint64, hash common.Hash) (*statemap.Guard[*signedstate.SignedState], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	predicate := func(s *signedstate.SignedState) bool {
		return s.Round() == round && s.RootHash() == hash
	}
	if guard, ok := m.fresh.Find(false, predicate); ok {
		return guard, true
	}
	return m.stale.Find(false, predicate)
}

// LatestComplete returns the most recently promoted complete state,
// strongly reserved for the caller, plus a release function the caller
// must call exactly once when done. The underlying lookup is
// singleflight-deduplicated across concurrent callers; the reservation
// itself is always taken independently per caller.
func (m *Manager) LatestComplete() (*signedstate.SignedState, func(), bool) {
	v, _, _ := m.latestCompleteGroup.Do("latest_complete", func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.lastComplete, nil
	})
	state, _ := v.(*signedstate.SignedState)
	if state == nil {
		return nil, nil, false
	}
	if err := state.ReserveStrong(); err != nil {
		return nil, nil, false
	}
	return state, state.ReleaseStrong, true
}

// LatestImmutable is an alias for LatestComplete: the only
// finalized/immutable reference this manager holds is the last complete
// state, so the two operations are equivalent here.
func (m *Manager) LatestImmutable() (*signedstate.SignedState, func(), bool) {
	return m.LatestComplete()
}

// LastStateRound returns the round of the most recently added unsigned
// state, and whether one has been added yet.
func (m *Manager) LastStateRound() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStateRound, m.hasLastState
}
