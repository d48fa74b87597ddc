package signedstate

import (
	"sync"

	"github.com/tos-network/sigstate/addressbook"
	"github.com/tos-network/sigstate/common"
	"github.com/tos-network/sigstate/config"
	"github.com/tos-network/sigstate/crypto"
)

// Signature is one (nodeId -> signature) entry. It carries no stake:
// SigSet looks stakes up in its current address book.
type Signature struct {
	Signer common.NodeID
	Sig    []byte
}

// SigSet is the per-state sparse signature set: append-only, idempotent
// per (state, nodeId), with a running signed-stake sum and a
// monotone-until-prune completeness predicate.
type SigSet struct {
	mu sync.RWMutex

	rootHash     common.Hash
	addressBook  *addressbook.AddressBook
	threshold    config.ThresholdFraction
	verifier     crypto.SignatureVerifier
	signatures   map[common.NodeID][]byte
	signingStake uint64
	complete     bool
}

// NewSigSet constructs an empty SigSet bound to a state's root hash and
// the address book that must be used to validate incoming signatures.
func NewSigSet(rootHash common.Hash, book *addressbook.AddressBook, threshold config.ThresholdFraction, verifier crypto.SignatureVerifier) *SigSet {
	return &SigSet{
		rootHash:    rootHash,
		addressBook: book,
		threshold:   threshold,
		verifier:    verifier,
		signatures:  make(map[common.NodeID][]byte),
	}
}

// AddResult tells the caller what happened so the manager can dispatch
// state_newly_complete exactly on the crossing edge.
type AddResult struct {
	Added          bool // false => duplicate or invalid, dropped silently
	NewlyComplete  bool // true => this call crossed the completion threshold
	Err            error
}

// Add validates sig against the bound address book and root hash, then
// appends it if the signer hasn't signed yet. Invalid signatures and
// duplicates are dropped silently (Added=false, Err=nil) — equivalent to
// never having received the signature.
func (s *SigSet) Add(signer common.NodeID, sig []byte) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.addressBook.Contains(signer) {
		return AddResult{} // SignerUnknown: dropped
	}
	if _, exists := s.signatures[signer]; exists {
		return AddResult{} // idempotent duplicate: dropped
	}
	if s.verifier != nil && !s.verifier.Verify(s.rootHash, sig, s.addressBook.PublicKey(signer)) {
		return AddResult{} // SignatureInvalid: dropped
	}

	s.signatures[signer] = append([]byte(nil), sig...)
	s.signingStake += s.addressBook.Stake(signer)

	wasComplete := s.complete
	s.complete = s.threshold.Exceeds(s.signingStake, s.addressBook.TotalStake())
	return AddResult{Added: true, NewlyComplete: !wasComplete && s.complete}
}

// VerifySignature reports whether sig is a well-formed, not-yet-seen
// signature from signer over this set's root hash, without recording
// anything. Callers that must not hold an outer lock while verifying
// (ed25519 verification is the expensive part of handling a signature)
// call this first, then AddVerified once they're ready to apply it.
func (s *SigSet) VerifySignature(signer common.NodeID, sig []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.addressBook.Contains(signer) {
		return false
	}
	if _, exists := s.signatures[signer]; exists {
		return false
	}
	if s.verifier != nil && !s.verifier.Verify(s.rootHash, sig, s.addressBook.PublicKey(signer)) {
		return false
	}
	return true
}

// AddVerified records a signature already validated by VerifySignature.
// It re-checks the duplicate condition under the write lock, since
// verification and recording are no longer a single atomic step, then
// applies the same bookkeeping as Add without re-running Verify.
func (s *SigSet) AddVerified(signer common.NodeID, sig []byte) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signatures[signer]; exists {
		return AddResult{} // raced with a concurrent add of the same signer
	}

	s.signatures[signer] = append([]byte(nil), sig...)
	s.signingStake += s.addressBook.Stake(signer)

	wasComplete := s.complete
	s.complete = s.threshold.Exceeds(s.signingStake, s.addressBook.TotalStake())
	return AddResult{Added: true, NewlyComplete: !wasComplete && s.complete}
}

// PruneInvalidSignatures re-validates every entry against trustedBook and
// drops those that no longer verify (signer removed from the roster, or
// the signature no longer checks out). Recomputes signing_stake from
// scratch and re-evaluates completeness, which may turn a previously
// complete SigSet incomplete again — the one path by which completeness
// is allowed to regress.
func (s *SigSet) PruneInvalidSignatures(trustedBook *addressbook.AddressBook, verifier crypto.SignatureVerifier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addressBook = trustedBook
	if verifier != nil {
		s.verifier = verifier
	}
	var newStake uint64
	for signer, sig := range s.signatures {
		if !trustedBook.Contains(signer) {
			delete(s.signatures, signer)
			continue
		}
		if s.verifier != nil && !s.verifier.Verify(s.rootHash, sig, trustedBook.PublicKey(signer)) {
			delete(s.signatures, signer)
			continue
		}
		newStake += trustedBook.Stake(signer)
	}
	s.signingStake = newStake
	s.complete = s.threshold.Exceeds(s.signingStake, trustedBook.TotalStake())
}

// SigningStake returns the current cached signed stake sum.
func (s *SigSet) SigningStake() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signingStake
}

// IsComplete reports the cached completeness predicate.
func (s *SigSet) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete
}

// Has reports whether signer already has a recorded signature.
func (s *SigSet) Has(signer common.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.signatures[signer]
	return ok
}

// Len returns the number of distinct signers recorded.
func (s *SigSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signatures)
}

// Signatures returns a snapshot copy of the current (signer -> sig) set.
func (s *SigSet) Signatures() map[common.NodeID][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[common.NodeID][]byte, len(s.signatures))
	for k, v := range s.signatures {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
