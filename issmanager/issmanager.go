// Package issmanager implements ConsensusHashManager, the ISS Detector:
// it drives a windowed sequence of roundvalidator.Validator instances
// across the non-ancient round window, and dispatches the failure-taxonomy
// actions (log, metric, callback) for whatever each validator decides.
package issmanager

import (
	"errors"
	"sync"

	"github.com/tos-network/sigstate/common"
	"github.com/tos-network/sigstate/config"
	"github.com/tos-network/sigstate/log"
	"github.com/tos-network/sigstate/metrics"
	"github.com/tos-network/sigstate/roundvalidator"
	"github.com/tos-network/sigstate/sequence"
)

// ErrNonIncreasingRound is returned by RoundCompleted when r does not
// advance the manager's previous round. Most callers should handle this
// error directly; MustRoundCompleted is provided for callers that prefer
// a panic on this programmer error instead.
var ErrNonIncreasingRound = errors.New("issmanager: round_completed called with a non-increasing round")

// AddressBook is the minimal view issmanager needs of the per-round
// roster: just its total stake, used to seed each round's Validator and
// to judge catastrophic-lack-of-data on eviction.
type AddressBook interface {
	TotalStake() uint64
}

var (
	metricSelfISS         = metrics.NewRegisteredCounter("issmanager/outcome/self_iss", nil)
	metricCatastrophic    = metrics.NewRegisteredCounter("issmanager/outcome/catastrophic_iss", nil)
	metricLackOfData      = metrics.NewRegisteredCounter("issmanager/outcome/lack_of_data", nil)
	metricValid           = metrics.NewRegisteredCounter("issmanager/outcome/valid", nil)
	metricTrackedRounds   = metrics.NewRegisteredGauge("issmanager/rounds/tracked", nil)
)

// Manager is ConsensusHashManager.
type Manager struct {
	mu sync.Mutex

	cfg      config.Config
	window   *sequence.Map[*roundvalidator.Validator]
	hasPrev  bool
	prevRound uint64

	logger log.Logger

	limiters map[roundvalidator.Status]*rateLimiter

	onSelfISS         func(round uint64, selfHash, consensusHash common.Hash)
	onCatastrophicISS func(round uint64, selfHash common.Hash)
	onStateHashValidity func(round uint64, selfHash, consensusHash common.Hash)
	onLackOfData      func(round uint64)
}

// Hooks bundles the dispatch callbacks issmanager fires. Any nil field is
// a no-op for that category.
type Hooks struct {
	OnSelfISS           func(round uint64, selfHash, consensusHash common.Hash)
	OnCatastrophicISS   func(round uint64, selfHash common.Hash)
	OnStateHashValidity func(round uint64, selfHash, consensusHash common.Hash)
	OnLackOfData        func(round uint64)
}

// New constructs a Manager with an empty window of capacity
// cfg.RoundsNonAncient.
func New(cfg config.Config, hooks Hooks) *Manager {
	return &Manager{
		cfg:                 cfg,
		window:              sequence.NewMap[*roundvalidator.Validator](cfg.RoundsNonAncient),
		logger:              log.New("pkg", "issmanager"),
		limiters: map[roundvalidator.Status]*rateLimiter{
			roundvalidator.SelfISS:                newRateLimiter(cfg.ISSLogInterval()),
			roundvalidator.CatastrophicISS:         newRateLimiter(cfg.ISSLogInterval()),
			roundvalidator.LackOfData:              newRateLimiter(cfg.ISSLogInterval()),
			roundvalidator.CatastrophicLackOfData:  newRateLimiter(cfg.ISSLogInterval()),
		},
		onSelfISS:           hooks.OnSelfISS,
		onCatastrophicISS:   hooks.OnCatastrophicISS,
		onStateHashValidity: hooks.OnStateHashValidity,
		onLackOfData:        hooks.OnLackOfData,
	}
}

// RoundCompleted advances the tracking window to include round r: it
// rejects decreases, shifts the window (forcing OutOfTime on evicted
// rounds only when r is the immediate successor of the previous round —
// a gap silently shifts without counting evicted rounds as evidence of
// catastrophe), then inserts a fresh validator for r.
func (m *Manager) RoundCompleted(r uint64, book AddressBook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasPrev && r <= m.prevRound {
		return ErrNonIncreasingRound
	}
	contiguous := m.hasPrev && r == m.prevRound+1

	evicted := m.window.ShiftWindow(r)
	if contiguous {
		for _, e := range evicted {
			m.finalizeLocked(e.Value, book.TotalStake())
		}
	}
	// A gap (boot or reconnect) shifts the window silently: those rounds
	// were never evidence of catastrophe, so we don't force their
	// validators through OutOfTime.

	m.window.Put(r, roundvalidator.New(r, book.TotalStake()))
	m.hasPrev = true
	m.prevRound = r
	metricTrackedRounds.Update(int64(m.window.Len()))
	return nil
}

// MustRoundCompleted calls RoundCompleted and panics on error. Most
// callers should prefer RoundCompleted and handle the error directly.
func (m *Manager) MustRoundCompleted(r uint64, book AddressBook) {
	if err := m.RoundCompleted(r, book); err != nil {
		panic(err)
	}
}

// StateHashed reports this node's own computed hash for round to the
// tracked validator, if the round is still within the window.
func (m *Manager) StateHashed(round uint64, hash common.Hash) {
	v, ok := m.window.Get(round)
	if !ok {
		return // round already ancient or not yet opened; nothing to report to
	}
	d := v.ReportSelfHash(hash)
	m.handleDecision(round, d)
}

// PostConsensusSignature reports a network-observed hash for round.
// Signature validity is assumed pre-filtered by the caller (the
// consensus engine) — this method does not re-verify.
func (m *Manager) PostConsensusSignature(round uint64, signer common.NodeID, stake uint64, hash common.Hash) {
	v, ok := m.window.Get(round)
	if !ok {
		return
	}
	d := v.ReportNetworkHash(signer, stake, hash)
	m.handleDecision(round, d)
}

func (m *Manager) finalizeLocked(v *roundvalidator.Validator, totalStake uint64) {
	d := v.OutOfTime(totalStake)
	m.handleDecision(v.Round(), d)
}

// handleDecision drives the failure-taxonomy actions: log, metric and
// hook callback for whichever outcome the validator just reached. Only a
// Newly-true decision dispatches; repeated reports after a terminal
// decision are no-ops by construction (roundvalidator enforces exactly-
// once dispatch per round).
func (m *Manager) handleDecision(round uint64, d roundvalidator.Decision) {
	if !d.Newly {
		return
	}
	switch d.Status {
	case roundvalidator.Valid:
		metricValid.Inc(1)
		m.dispatchStateHashValidity(round, d)
	case roundvalidator.SelfISS:
		metricSelfISS.Inc(1)
		m.logRateLimited(roundvalidator.SelfISS, func(suppressed uint64) {
			m.logger.Error("self ISS detected", "round", round, "self_hash", d.SelfHash, "consensus_hash", d.ConsensusHash, "suppressed", suppressed)
		})
		if m.onSelfISS != nil {
			m.onSelfISS(round, d.SelfHash, d.ConsensusHash)
		}
		m.dispatchStateHashValidity(round, d)
	case roundvalidator.CatastrophicISS, roundvalidator.CatastrophicLackOfData:
		metricCatastrophic.Inc(1)
		m.logRateLimited(d.Status, func(suppressed uint64) {
			m.logger.Error("catastrophic ISS detected", "round", round, "self_hash", d.SelfHash, "suppressed", suppressed, "status", d.Status.String())
		})
		if m.onCatastrophicISS != nil {
			m.onCatastrophicISS(round, d.SelfHash)
		}
	case roundvalidator.LackOfData:
		metricLackOfData.Inc(1)
		m.logRateLimited(roundvalidator.LackOfData, func(suppressed uint64) {
			m.logger.Warn("round lacked sufficient signatures before window closed", "round", round, "suppressed", suppressed)
		})
		if m.onLackOfData != nil {
			m.onLackOfData(round)
		}
	}
}

func (m *Manager) dispatchStateHashValidity(round uint64, d roundvalidator.Decision) {
	if m.onStateHashValidity != nil {
		m.onStateHashValidity(round, d.SelfHash, d.ConsensusHash)
	}
}

func (m *Manager) logRateLimited(status roundvalidator.Status, emit func(suppressed uint64)) {
	lim, ok := m.limiters[status]
	if !ok {
		emit(0)
		return
	}
	if allow, suppressed := lim.Allow(); allow {
		emit(suppressed)
	}
}

// TrackedRounds returns the number of rounds currently in the window (for
// tests/diagnostics).
func (m *Manager) TrackedRounds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window.Len()
}
