// Package statemap implements SignedStateMap: a thread-safe
// round -> SignedState container that holds a reservation (strong or
// weak, per the map's configured Strength) for every entry it contains.
package statemap

import "sync"

// Strength selects which reservation tier a Map holds for its contents.
type Strength int

const (
	// StrongHolding maps hold a strong reservation (the primary tracker:
	// entries here are not archived).
	StrongHolding Strength = iota
	// WeakHolding maps hold only a weak reservation (the stale pool:
	// archival may proceed while the entry remains findable).
	WeakHolding
)

// Reservable is the subset of signedstate.SignedState this package needs:
// a round number and the ability to take/release reservations. Kept
// narrow and local (rather than importing signedstate), so the map works
// over any type with these methods, such as the fakes in its tests.
type Reservable interface {
	Round() uint64
	ReserveStrong() error
	ReleaseStrong()
	ReserveWeak() error
	ReleaseWeak()
}

// Guard wraps a value fetched from the map together with the extra
// reservation taken on access. Callers must call Close exactly once.
type Guard[T Reservable] struct {
	value  T
	strong bool
	closed bool
}

// Value returns the guarded value.
func (g *Guard[T]) Value() T { return g.value }

// Close releases the reservation this guard is holding. Safe to call at
// most once; a second call panics, since a double-release of a
// reservation is a programming error.
func (g *Guard[T]) Close() {
	if g.closed {
		panic("statemap: Guard closed twice")
	}
	g.closed = true
	if g.strong {
		g.value.ReleaseStrong()
	} else {
		g.value.ReleaseWeak()
	}
}

// Map is the thread-safe round -> T container. One exclusive lock guards
// all map operations; iteration is not reentrant.
type Map[T Reservable] struct {
	mu       sync.Mutex
	strength Strength
	entries  map[uint64]T
}

// New constructs an empty Map holding reservations at the given strength.
func New[T Reservable](strength Strength) *Map[T] {
	return &Map[T]{strength: strength, entries: make(map[uint64]T)}
}

func (m *Map[T]) reserveForMap(v T) {
	if m.strength == StrongHolding {
		_ = v.ReserveStrong()
	} else {
		_ = v.ReserveWeak()
	}
}

func (m *Map[T]) releaseForMap(v T) {
	if m.strength == StrongHolding {
		v.ReleaseStrong()
	} else {
		v.ReleaseWeak()
	}
}

// Put takes the map's configured reservation on v and stores it at
// v.Round(), displacing and releasing any prior entry for that round.
func (m *Map[T]) Put(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	round := v.Round()
	if prev, ok := m.entries[round]; ok {
		m.releaseForMap(prev)
	}
	m.reserveForMap(v)
	m.entries[round] = v
}

// Get returns a Guard carrying an additional reservation for the entry at
// round, at the strength requested by strong (never upgrading past the
// map's own configured strength: a WeakHolding map can only hand out weak
// guards). ok is false if round isn't tracked.
func (m *Map[T]) Get(round uint64, strong bool) (guard *Guard[T], ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, found := m.entries[round]
	if !found {
		return nil, false
	}
	wantStrong := strong && m.strength == StrongHolding
	if wantStrong {
		if err := v.ReserveStrong(); err != nil {
			return nil, false
		}
	} else {
		if err := v.ReserveWeak(); err != nil {
			return nil, false
		}
	}
	return &Guard[T]{value: v, strong: wantStrong}, true
}

// Remove releases the map's own reservation on the entry at round and
// drops it from the map.
func (m *Map[T]) Remove(round uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[round]
	if !ok {
		return
	}
	delete(m.entries, round)
	m.releaseForMap(v)
}

// Find returns a weakly- or strongly-reserved Guard for the first entry
// (in unspecified order) matching predicate.
func (m *Map[T]) Find(strong bool, predicate func(T) bool) (*Guard[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.entries {
		if predicate(v) {
			wantStrong := strong && m.strength == StrongHolding
			if wantStrong {
				if err := v.ReserveStrong(); err != nil {
					continue
				}
			} else {
				if err := v.ReserveWeak(); err != nil {
					continue
				}
			}
			return &Guard[T]{value: v, strong: wantStrong}, true
		}
	}
	return nil, false
}

// Iterator is handed to the callback in AtomicIteration. The remove
// function that Each passes to its callback releases the map's
// reservation for the current entry.
type Iterator[T Reservable] struct {
	m      *Map[T]
	rounds []uint64
}

// Each calls f for every currently tracked entry (a stable snapshot taken
// at AtomicIteration start). f may call the remove function it is given.
func (it *Iterator[T]) Each(f func(round uint64, v T, remove func())) {
	for _, round := range it.rounds {
		v, ok := it.m.entries[round]
		if !ok {
			continue // already removed by a prior callback in this pass
		}
		f(round, v, func() {
			delete(it.m.entries, round)
			it.m.releaseForMap(v)
		})
	}
}

// AtomicIteration holds the map's lock for the duration of f, handing it
// an Iterator capable of removal. Not reentrant: f must not call back
// into any other Map method on the same Map.
func (m *Map[T]) AtomicIteration(f func(*Iterator[T])) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rounds := make([]uint64, 0, len(m.entries))
	for r := range m.entries {
		rounds = append(rounds, r)
	}
	f(&Iterator[T]{m: m, rounds: rounds})
}

// Len returns the number of tracked entries.
func (m *Map[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
