package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/sigstate/addressbook"
	"github.com/tos-network/sigstate/common"
	"github.com/tos-network/sigstate/config"
	"github.com/tos-network/sigstate/crypto"
	"github.com/tos-network/sigstate/notifier"
)

type fakeHasher struct{}

func (fakeHasher) DigestTreeAsync(ctx context.Context, state any) (<-chan common.Hash, <-chan error) {
	hashCh := make(chan common.Hash, 1)
	errCh := make(chan error, 1)
	b, _ := state.([]byte)
	hashCh <- common.BytesToHash(b)
	close(hashCh)
	close(errCh)
	return hashCh, errCh
}

type capturingSubmitter struct {
	payloads [][]byte
}

func (c *capturingSubmitter) Submit(payload []byte) bool {
	c.payloads = append(c.payloads, payload)
	return true
}

func nodeID(b byte) common.NodeID { return common.BytesToNodeID([]byte{b}) }

func fourNodeBook(t *testing.T) (*addressbook.AddressBook, []*crypto.Ed25519Signer, common.NodeID) {
	t.Helper()
	entries := make(map[common.NodeID]addressbook.Entry)
	signers := make([]*crypto.Ed25519Signer, 4)
	for i := 0; i < 4; i++ {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		s := crypto.NewEd25519SignerFromSeed(seed)
		signers[i] = s
		entries[nodeID(byte(i+1))] = addressbook.Entry{PublicKey: s.PublicKey(), Stake: 25}
	}
	return addressbook.New(entries), signers, nodeID(1)
}

func newTestManager(t *testing.T) (*Manager, *addressbook.AddressBook, []*crypto.Ed25519Signer, *capturingSubmitter) {
	t.Helper()
	book, signers, self := fourNodeBook(t)
	sub := &capturingSubmitter{}
	m := New(Deps{
		AddressBook: book,
		SelfID:      self,
		Signer:      signers[0],
		Verifier:    crypto.Ed25519Verifier{},
		Hasher:      fakeHasher{},
		Submitter:   sub,
		Notifier:    &notifier.Notifier{},
		Config:      config.Default(),
	})
	return m, book, signers, sub
}

func TestAddUnsignedStateHappyPathCompletion(t *testing.T) {
	m, book, signers, sub := newTestManager(t)

	state, err := m.AddUnsignedState(context.Background(), 1, []byte("round-1-content"))
	require.NoError(t, err)
	require.True(t, state.IsHashed())
	require.Len(t, sub.payloads, 1)

	// self-signature alone (25/100) isn't over the 1/3 threshold yet.
	require.False(t, state.IsComplete())

	hash := state.RootHash()
	// node 2 brings it to 50/100, crossing 1/3; node 3's signature arrives
	// after completion and is not applied.
	for i := 1; i < 3; i++ {
		sig, err := signers[i].Sign(hash)
		require.NoError(t, err)
		m.PreConsensusSignature(1, nodeID(byte(i+1)), sig)
	}
	require.True(t, state.IsComplete())

	latest, release, ok := m.LatestComplete()
	require.True(t, ok)
	require.Equal(t, uint64(1), latest.Round())
	release()

	_ = book
}

func TestAddUnsignedStateRejectsOutOfOrderRound(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.AddUnsignedState(context.Background(), 5, []byte("round-5"))
	require.NoError(t, err)

	_, err = m.AddUnsignedState(context.Background(), 5, []byte("round-5-again"))
	require.ErrorIs(t, err, ErrOutOfOrderRound)

	_, err = m.AddUnsignedState(context.Background(), 3, []byte("round-3"))
	require.ErrorIs(t, err, ErrOutOfOrderRound)
}

func TestPreConsensusSignatureBufferedAheadOfState(t *testing.T) {
	m, _, signers, _ := newTestManager(t)

	// Sign round 2 before it exists; the manager must buffer it and apply
	// it once round 2 is hashed.
	futureHash := common.BytesToHash([]byte("round-2-content"))
	sig, err := signers[1].Sign(futureHash)
	require.NoError(t, err)
	m.PreConsensusSignature(2, nodeID(2), sig)

	_, err = m.AddUnsignedState(context.Background(), 1, []byte("round-1-content"))
	require.NoError(t, err)

	state, err := m.AddUnsignedState(context.Background(), 2, []byte("round-2-content"))
	require.NoError(t, err)
	require.True(t, state.SigSet().Has(nodeID(2)))
}

func TestFindLocatesTrackedState(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	state, err := m.AddUnsignedState(context.Background(), 1, []byte("round-1-content"))
	require.NoError(t, err)

	guard, ok := m.Find(1, state.RootHash())
	require.True(t, ok)
	require.Equal(t, uint64(1), guard.Value().Round())
	guard.Close()

	_, ok = m.Find(1, common.BytesToHash([]byte("wrong")))
	require.False(t, ok)
}

func TestPurgeOldStatesEvictsBeyondRetentionWindow(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	m.cfg.RoundsToKeepForSigning = 2

	for r := uint64(1); r <= 4; r++ {
		_, err := m.AddUnsignedState(context.Background(), r, []byte{byte(r)})
		require.NoError(t, err)
	}

	// Only rounds 3 and 4 should remain trackable; round 1 was purged.
	_, ok := m.fresh.Get(1, false)
	require.False(t, ok)
	guard, ok := m.fresh.Get(4, false)
	require.True(t, ok)
	guard.Close()
}
