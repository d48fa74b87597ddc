package gc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/sigstate/addressbook"
	"github.com/tos-network/sigstate/signedstate"
)

func newTestState(t *testing.T, round uint64, onArchive, onRelease func()) *signedstate.SignedState {
	t.Helper()
	book := addressbook.New(nil)
	return signedstate.New(round, book, onArchive, onRelease)
}

func TestArchiveThenDeleteOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string

	c := New(
		func(s *signedstate.SignedState) error {
			mu.Lock()
			order = append(order, "archive")
			mu.Unlock()
			return nil
		},
		func(s *signedstate.SignedState) error {
			mu.Lock()
			order = append(order, "delete")
			mu.Unlock()
			return nil
		},
		0,
	)
	c.Start()
	defer c.Stop()

	var state *signedstate.SignedState
	state = newTestState(t, 1,
		func() { c.ArchiveBackground(state) },
		func() { c.DeleteBackground(state) },
	)

	state.ReleaseStrong() // strong 1->0: fires archive, then implicit weak release fires delete

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"archive", "delete"}, order)
}

func TestDeleteQueueOverflowFallsBackInline(t *testing.T) {
	var deletes int32
	var mu sync.Mutex

	c := New(nil, func(s *signedstate.SignedState) error {
		mu.Lock()
		deletes++
		mu.Unlock()
		return nil
	}, 1)
	// No Start(): exercise DeleteBackground's inline fallback directly by
	// filling the bounded queue past capacity without a draining worker.

	s1 := newTestState(t, 1, nil, nil)
	s2 := newTestState(t, 2, nil, nil)
	c.DeleteBackground(s1) // queued
	c.DeleteBackground(s2) // capacity 1 already used: inline delete

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, int32(1), deletes)
}

func TestStopDrainsRemainingWork(t *testing.T) {
	var archived int32
	var mu sync.Mutex
	c := New(func(s *signedstate.SignedState) error {
		mu.Lock()
		archived++
		mu.Unlock()
		return nil
	}, nil, 0)
	c.Start()

	for i := uint64(1); i <= 10; i++ {
		s := newTestState(t, i, nil, nil)
		c.ArchiveBackground(s)
	}
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, int32(10), archived)
}
