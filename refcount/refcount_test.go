package refcount

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStartsAtOneOne(t *testing.T) {
	c := New(nil, nil)
	require.Equal(t, int32(1), c.Strong())
	require.Equal(t, int32(1), c.Weak())
}

func TestStrongZeroFiresThenImplicitWeakRelease(t *testing.T) {
	var strongFired, weakFired bool
	c := New(func() { strongFired = true }, func() { weakFired = true })

	c.ReleaseStrong()
	require.True(t, strongFired)
	require.True(t, weakFired, "releasing the last strong reservation must release its implicit weak reservation")
	require.True(t, c.IsArchived())
	require.True(t, c.IsDeleted())
}

func TestWeakOutlivesStrong(t *testing.T) {
	var strongFired, weakFired bool
	c := New(func() { strongFired = true }, func() { weakFired = true })
	require.NoError(t, c.ReserveWeak()) // independent weak holder

	c.ReleaseStrong()
	require.True(t, strongFired)
	require.False(t, weakFired, "an independent weak reservation must keep the state alive")

	c.ReleaseWeak()
	require.True(t, weakFired)
}

func TestCallbacksFireExactlyOnce(t *testing.T) {
	var strongCount, weakCount int
	c := New(func() { strongCount++ }, func() { weakCount++ })
	require.NoError(t, c.ReserveStrong())
	// Two independent weak holders: the constructor's weak reservation is
	// released implicitly when strong reaches zero.
	require.NoError(t, c.ReserveWeak())
	require.NoError(t, c.ReserveWeak())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); c.ReleaseStrong() }()
	}
	wg.Wait()
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); c.ReleaseWeak() }()
	}
	wg.Wait()

	require.Equal(t, 1, strongCount)
	require.Equal(t, 1, weakCount)
}

func TestReservationAfterDestruction(t *testing.T) {
	c := New(nil, nil)
	c.ReleaseStrong() // strong->0, weak->0 too (no independent weak holder)
	require.ErrorIs(t, c.ReserveStrong(), ErrReservationAfterDestruction)
	require.ErrorIs(t, c.ReserveWeak(), ErrReservationAfterDestruction)
}

func TestReleaseBelowZeroPanics(t *testing.T) {
	c := New(nil, nil)
	c.ReleaseStrong()
	require.Panics(t, func() { c.ReleaseWeak() })
}
