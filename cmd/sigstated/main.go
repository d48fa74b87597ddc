// Command sigstated is a minimal standalone demo of the signed-state
// lifecycle: it wires an in-memory address book, the default ed25519 +
// SHA3-384 crypto primitives, a disk-backed garbage collector, and the
// ISS detector together, then drives a handful of synthetic rounds
// through the manager to show the intake -> signature -> completion ->
// purge flow end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tos-network/sigstate/addressbook"
	"github.com/tos-network/sigstate/common"
	"github.com/tos-network/sigstate/config"
	"github.com/tos-network/sigstate/crypto"
	"github.com/tos-network/sigstate/gc"
	"github.com/tos-network/sigstate/gc/diskarchive"
	"github.com/tos-network/sigstate/issmanager"
	"github.com/tos-network/sigstate/log"
	"github.com/tos-network/sigstate/manager"
	"github.com/tos-network/sigstate/notifier"
	"github.com/tos-network/sigstate/signedstate"
)

var (
	nodesFlag = &cli.IntFlag{
		Name:  "nodes",
		Usage: "number of simulated address-book members",
		Value: 4,
	}
	roundsFlag = &cli.IntFlag{
		Name:  "rounds",
		Usage: "number of synthetic rounds to drive through the manager",
		Value: 8,
	}
	archiveDirFlag = &cli.StringFlag{
		Name:  "archive-dir",
		Usage: "directory for the disk-backed archive store",
		Value: "sigstated-archive",
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "enable debug-level logging",
	}
)

func main() {
	app := &cli.App{
		Name:  "sigstated",
		Usage: "signed-state lifecycle and ISS detector demo",
		Flags: []cli.Flag{nodesFlag, roundsFlag, archiveDirFlag, verboseFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	if ctx.Bool(verboseFlag.Name) {
		log.SetLevel(log.LevelDebug)
	}
	logger := log.New("cmd", "sigstated")

	numNodes := ctx.Int(nodesFlag.Name)
	numRounds := ctx.Int(roundsFlag.Name)

	signers := make([]*crypto.Ed25519Signer, numNodes)
	entries := make(map[common.NodeID]addressbook.Entry, numNodes)
	for i := 0; i < numNodes; i++ {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		s := crypto.NewEd25519SignerFromSeed(seed)
		signers[i] = s
		id := common.BytesToNodeID([]byte{byte(i + 1)})
		entries[id] = addressbook.Entry{PublicKey: s.PublicKey(), Stake: 25}
	}
	book := addressbook.New(entries)
	selfID := common.BytesToNodeID([]byte{1})

	archive, err := diskarchive.Open(ctx.String(archiveDirFlag.Name))
	if err != nil {
		return fmt.Errorf("open archive store: %w", err)
	}
	defer archive.Close()

	collector := gc.New(
		func(s *signedstate.SignedState) error {
			return archive.Put(s.Round(), s.RootHash(), time.Now())
		},
		func(s *signedstate.SignedState) error {
			logger.Debug("state deleted", "round", s.Round())
			return nil
		},
		0,
	)
	collector.Start()
	defer collector.Stop()

	n := &notifier.Notifier{
		OnNewLatestCompleteState: func(s notifier.StateRef) {
			logger.Info("new latest complete state", "round", s.Round(), "hash", s.RootHash())
		},
		OnSelfISS: func(round uint64, selfHash, consensusHash common.Hash) {
			logger.Warn("self ISS detected", "round", round, "self_hash", selfHash, "consensus_hash", consensusHash)
		},
		OnCatastrophicISS: func(round uint64, selfHash common.Hash) {
			logger.Error("catastrophic ISS detected", "round", round, "self_hash", selfHash)
		},
	}

	cfg := config.Default()
	iss := issmanager.New(cfg, issmanager.Hooks{
		OnSelfISS: func(round uint64, selfHash, consensusHash common.Hash) {
			n.FireSelfISS(round, selfHash, consensusHash)
		},
		OnCatastrophicISS: func(round uint64, selfHash common.Hash) {
			n.FireCatastrophicISS(round, selfHash)
		},
	})

	n.OnStateHashed = func(round uint64, hash common.Hash) {
		iss.StateHashed(round, hash)
	}

	mgr := manager.New(manager.Deps{
		AddressBook: book,
		SelfID:      selfID,
		Signer:      signers[0],
		Verifier:    crypto.Ed25519Verifier{},
		Hasher:      crypto.Sha3TreeHasher{},
		Submitter:   noopSubmitter{},
		Notifier:    n,
		GC:          collector,
		Config:      cfg,
	})

	for r := uint64(1); r <= uint64(numRounds); r++ {
		content := []byte(fmt.Sprintf("round-%d-payload", r))
		state, err := mgr.AddUnsignedState(context.Background(), r, content)
		if err != nil {
			logger.Error("add unsigned state failed", "round", r, "err", err)
			continue
		}
		iss.MustRoundCompleted(r, book)

		hash := state.RootHash()
		for i := 1; i < numNodes; i++ {
			sig, err := signers[i].Sign(hash)
			if err != nil {
				return err
			}
			mgr.PreConsensusSignature(r, common.BytesToNodeID([]byte{byte(i + 1)}), sig)
			if state.IsComplete() {
				break
			}
		}
	}

	if latest, release, ok := mgr.LatestComplete(); ok {
		logger.Info("final latest complete state", "round", latest.Round())
		release()
	}

	time.Sleep(10 * time.Millisecond) // let any background archive/delete settle for the demo
	return nil
}

type noopSubmitter struct{}

func (noopSubmitter) Submit(payload []byte) bool { return true }
