// Package crypto defines the cryptographic traits consumed by the
// signed-state core (HashSigner, SignatureVerifier, TreeHasher) and
// provides a default ed25519 + SHA3-384 implementation built on this
// module's ed25519 package and golang.org/x/crypto for tree hashing.
package crypto

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/tos-network/sigstate/common"
	"github.com/tos-network/sigstate/crypto/ed25519"
)

// ErrUnknownSigner is returned when no key material is registered for a
// node id.
var ErrUnknownSigner = errors.New("crypto: unknown signer")

// HashSigner signs a root hash, producing this node's own signature over
// it.
type HashSigner interface {
	Sign(h common.Hash) ([]byte, error)
}

// SignatureVerifier validates a signature over a hash under a public key.
// An async variant (parallel verification) is left to the caller: run
// Verify in its own goroutine to overlap verification with other work —
// the interface itself stays synchronous, matching how verification
// helpers are conventionally pushed onto worker pools by the caller,
// not the library.
type SignatureVerifier interface {
	Verify(h common.Hash, sig []byte, pubKey []byte) bool
}

// TreeHasher computes the Merkle root of an opaque application state
// asynchronously. The signed-state core only ever awaits the returned
// channel/error pair once; it never assumes anything about what is being
// hashed.
type TreeHasher interface {
	DigestTreeAsync(ctx context.Context, state any) (<-chan common.Hash, <-chan error)
}

// Ed25519Signer implements HashSigner with a single local keypair.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

// NewEd25519SignerFromSeed is deterministic, used by tests that need
// stable node identities across runs.
func NewEd25519SignerFromSeed(seed []byte) *Ed25519Signer {
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{priv: priv, pub: ed25519.PublicFromPrivate(priv)}
}

// PublicKey returns the raw public key bytes for address-book registration.
func (s *Ed25519Signer) PublicKey() []byte {
	return append([]byte(nil), s.pub...)
}

func (s *Ed25519Signer) Sign(h common.Hash) ([]byte, error) {
	return ed25519.Sign(s.priv, h.Bytes()), nil
}

// Ed25519Verifier implements SignatureVerifier for ed25519 public keys.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(h common.Hash, sig []byte, pubKey []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), h.Bytes(), sig)
}

// Sha3TreeHasher is a reference TreeHasher that hashes a []byte payload
// with SHA3-384, matching common.HashLength. Real deployments inject a
// hasher backed by the actual application Merkle tree; this exists so the
// manager and its tests have a working default without a VM/state
// dependency: the real Merkle tree format is consumed, not specified,
// by this package.
type Sha3TreeHasher struct{}

func (Sha3TreeHasher) DigestTreeAsync(ctx context.Context, state any) (<-chan common.Hash, <-chan error) {
	hashCh := make(chan common.Hash, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(hashCh)
		defer close(errCh)
		b, ok := state.([]byte)
		if !ok {
			errCh <- fmt.Errorf("crypto: Sha3TreeHasher requires []byte state, got %T", state)
			return
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		default:
		}
		sum := sha3.Sum384(b)
		hashCh <- common.BytesToHash(sum[:])
	}()
	return hashCh, errCh
}
