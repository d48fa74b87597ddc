package metrics

import (
	"sync"
	"sync/atomic"
)

// Enabled controls whether newly registered meters/counters/gauges record
// real values. It is independent of DefaultConfig.Enabled: nothing copies
// one into the other.
var Enabled = true

// Counter is a monotonic (or not) int64 counter, e.g. "states archived".
type Counter interface {
	Inc(delta int64)
	Count() int64
}

// Gauge holds an instantaneous value, e.g. "GC queue depth".
type Gauge interface {
	Update(v int64)
	Value() int64
}

// Meter tracks an event rate; this module only needs the running total —
// rate decay (as rcrowley/go-metrics' EWMA does) isn't exercised anywhere
// yet, so Meter here is a thin counter-shaped type kept distinct to match
// the established call-site naming (NewRegisteredMeter).
type Meter interface {
	Mark(n int64)
	Count() int64
}

type counter struct{ v int64 }

func (c *counter) Inc(delta int64) { atomic.AddInt64(&c.v, delta) }
func (c *counter) Count() int64    { return atomic.LoadInt64(&c.v) }

type gauge struct{ v int64 }

func (g *gauge) Update(v int64) { atomic.StoreInt64(&g.v, v) }
func (g *gauge) Value() int64   { return atomic.LoadInt64(&g.v) }

type meter struct{ v int64 }

func (m *meter) Mark(n int64) { atomic.AddInt64(&m.v, n) }
func (m *meter) Count() int64 { return atomic.LoadInt64(&m.v) }

type nopCounter struct{}

func (nopCounter) Inc(int64)   {}
func (nopCounter) Count() int64 { return 0 }

type nopGauge struct{}

func (nopGauge) Update(int64)  {}
func (nopGauge) Value() int64 { return 0 }

type nopMeter struct{}

func (nopMeter) Mark(int64)   {}
func (nopMeter) Count() int64 { return 0 }

// Registry is a named collection of metrics, using a
// DefaultRegistry / GetOrRegister idiom.
type Registry struct {
	mu sync.Mutex
	m  map[string]any
}

// DefaultRegistry is the process-wide registry new metrics attach to
// unless a caller passes a private Registry built with NewRegistry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]any)}
}

func (r *Registry) getOrRegister(name string, makeNew func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.m[name]; ok {
		return v
	}
	v := makeNew()
	r.m[name] = v
	return v
}

// Get returns a previously registered metric by name, or nil.
func (r *Registry) Get(name string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[name]
}

// NewRegisteredCounter creates or fetches a named Counter on r (or
// DefaultRegistry if r is nil), matching
// metrics.NewRegisteredCounter("signedstate/states/tracked", nil).
func NewRegisteredCounter(name string, r *Registry) Counter {
	if r == nil {
		r = DefaultRegistry
	}
	if !Enabled {
		return nopCounter{}
	}
	return r.getOrRegister(name, func() any { return &counter{} }).(Counter)
}

// NewRegisteredGauge creates or fetches a named Gauge.
func NewRegisteredGauge(name string, r *Registry) Gauge {
	if r == nil {
		r = DefaultRegistry
	}
	if !Enabled {
		return nopGauge{}
	}
	return r.getOrRegister(name, func() any { return &gauge{} }).(Gauge)
}

// NewRegisteredMeter creates or fetches a named Meter.
func NewRegisteredMeter(name string, r *Registry) Meter {
	if r == nil {
		r = DefaultRegistry
	}
	if !Enabled {
		return nopMeter{}
	}
	return r.getOrRegister(name, func() any { return &meter{} }).(Meter)
}
