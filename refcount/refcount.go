// Package refcount implements a dual strong/weak reference counter with
// one-shot destruction callbacks. It deliberately does not piggy-back on
// any language-level smart-pointer semantics: the callbacks encode
// domain-level archival, which is orthogonal to deallocation.
//
// A Counter starts with one strong reservation (the owner's) and the weak
// reservation that reservation implicitly holds. Strong reaching zero
// fires onStrongZero exactly once and releases the implicit weak
// reservation; weak reaching zero fires onWeakZero exactly once.
package refcount

import (
	"errors"
	"sync/atomic"
)

// ErrReservationAfterDestruction is returned when a reservation is
// attempted on a tier whose destruction callback has already fired.
var ErrReservationAfterDestruction = errors.New("refcount: reservation after destruction")

// Counter is safe for concurrent use from any goroutine.
type Counter struct {
	strong int32
	weak   int32

	strongDone int32 // 1 once onStrongZero has fired
	weakDone   int32 // 1 once onWeakZero has fired

	onStrongZero func()
	onWeakZero   func()
}

// New constructs a Counter already holding one strong reservation, which
// implicitly holds one weak reservation.
func New(onStrongZero, onWeakZero func()) *Counter {
	return &Counter{
		strong:       1,
		weak:         1,
		onStrongZero: onStrongZero,
		onWeakZero:   onWeakZero,
	}
}

// ReserveStrong adds a strong reservation (and, if this is the first
// outstanding one after zero, would be a bug to call — callers must only
// reserve while at least one reservation of equal or higher tier is
// already known to be alive, e.g. via a map lookup under lock).
func (c *Counter) ReserveStrong() error {
	if atomic.LoadInt32(&c.strongDone) == 1 {
		return ErrReservationAfterDestruction
	}
	if atomic.AddInt32(&c.strong, 1) == 1 {
		// Transitioned 0->1 after destruction raced us; undo and fail.
		atomic.AddInt32(&c.strong, -1)
		return ErrReservationAfterDestruction
	}
	return nil
}

// ReleaseStrong releases one strong reservation. When strong transitions
// 1->0, onStrongZero fires exactly once, followed by an implicit
// ReleaseWeak for the weak reservation taken at construction.
func (c *Counter) ReleaseStrong() {
	n := atomic.AddInt32(&c.strong, -1)
	if n < 0 {
		panic("refcount: strong released below zero")
	}
	if n == 0 {
		if atomic.CompareAndSwapInt32(&c.strongDone, 0, 1) {
			if c.onStrongZero != nil {
				c.onStrongZero()
			}
		}
		c.ReleaseWeak()
	}
}

// ReserveWeak adds a weak reservation.
func (c *Counter) ReserveWeak() error {
	if atomic.LoadInt32(&c.weakDone) == 1 {
		return ErrReservationAfterDestruction
	}
	if atomic.AddInt32(&c.weak, 1) == 1 {
		atomic.AddInt32(&c.weak, -1)
		return ErrReservationAfterDestruction
	}
	return nil
}

// ReleaseWeak releases one weak reservation. When weak transitions 1->0,
// onWeakZero fires exactly once.
func (c *Counter) ReleaseWeak() {
	n := atomic.AddInt32(&c.weak, -1)
	if n < 0 {
		panic("refcount: weak released below zero")
	}
	if n == 0 {
		if atomic.CompareAndSwapInt32(&c.weakDone, 0, 1) {
			if c.onWeakZero != nil {
				c.onWeakZero()
			}
		}
	}
}

// Strong returns the current strong reservation count.
func (c *Counter) Strong() int32 { return atomic.LoadInt32(&c.strong) }

// Weak returns the current weak reservation count.
func (c *Counter) Weak() int32 { return atomic.LoadInt32(&c.weak) }

// IsArchived reports whether onStrongZero has already fired.
func (c *Counter) IsArchived() bool { return atomic.LoadInt32(&c.strongDone) == 1 }

// IsDeleted reports whether onWeakZero has already fired.
func (c *Counter) IsDeleted() bool { return atomic.LoadInt32(&c.weakDone) == 1 }
