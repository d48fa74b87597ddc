package statemap

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/sigstate/refcount"
)

type fakeState struct {
	round uint64
	refs  *refcount.Counter
}

func newFake(round uint64, onArchive, onRelease func()) *fakeState {
	return &fakeState{round: round, refs: refcount.New(onArchive, onRelease)}
}

func (f *fakeState) Round() uint64        { return f.round }
func (f *fakeState) ReserveStrong() error { return f.refs.ReserveStrong() }
func (f *fakeState) ReleaseStrong()       { f.refs.ReleaseStrong() }
func (f *fakeState) ReserveWeak() error   { return f.refs.ReserveWeak() }
func (f *fakeState) ReleaseWeak()         { f.refs.ReleaseWeak() }

func TestPutDisplacesPriorEntry(t *testing.T) {
	var archivedCount int32
	m := New[*fakeState](StrongHolding)
	s1 := newFake(10, func() { atomic.AddInt32(&archivedCount, 1) }, nil)
	s1b := newFake(10, func() { atomic.AddInt32(&archivedCount, 1) }, nil)

	m.Put(s1)
	s1.ReleaseStrong() // hand the constructor's reservation off to the map
	m.Put(s1b)         // displaces s1, releasing the map's strong hold on it
	require.Equal(t, int32(1), atomic.LoadInt32(&archivedCount))
	require.Equal(t, 1, m.Len())
}

func TestGetReturnsAdditionalReservation(t *testing.T) {
	m := New[*fakeState](StrongHolding)
	s := newFake(5, nil, nil)
	m.Put(s)
	s.ReleaseStrong() // hand the constructor's reservation off to the map

	g, ok := m.Get(5, true)
	require.True(t, ok)
	require.Equal(t, int32(2), s.refs.Strong(), "map hold + guard hold")
	g.Close()
	require.Equal(t, int32(1), s.refs.Strong())
}

func TestWeakHoldingMapNeverHandsOutStrongGuards(t *testing.T) {
	m := New[*fakeState](WeakHolding)
	s := newFake(1, nil, nil)
	m.Put(s)
	s.ReleaseStrong() // hand the constructor's reservation off to the map
	require.Equal(t, int32(1), s.refs.Weak())

	g, ok := m.Get(1, true) // ask for strong, but map is weak-holding
	require.True(t, ok)
	require.Equal(t, int32(2), s.refs.Weak(), "guard must take a weak reservation, not strong")
	g.Close()
}

func TestRemoveReleasesMapReservation(t *testing.T) {
	var released bool
	m := New[*fakeState](StrongHolding)
	s := newFake(1, nil, func() { released = true })
	m.Put(s)
	s.ReleaseStrong() // hand the constructor's reservation off to the map
	m.Remove(1)
	require.True(t, released)
	require.Equal(t, 0, m.Len())
}

func TestAtomicIterationRemove(t *testing.T) {
	m := New[*fakeState](StrongHolding)
	m.Put(newFake(1, nil, nil))
	m.Put(newFake(2, nil, nil))
	m.Put(newFake(3, nil, nil))

	m.AtomicIteration(func(it *Iterator[*fakeState]) {
		it.Each(func(round uint64, v *fakeState, remove func()) {
			if round < 3 {
				remove()
			}
		})
	})
	require.Equal(t, 1, m.Len())
	_, ok := m.Get(3, false)
	require.True(t, ok)
}
