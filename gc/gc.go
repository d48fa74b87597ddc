// Package gc implements SignedStateGarbageCollector: a single background
// worker draining two intake queues (archive, delete) produced by
// refcount.Counter's one-shot destruction callbacks. The archive queue is
// unbounded; the delete queue is bounded, with inline-delete fallback on
// overflow, logged at a limited rate.
package gc

import (
	"sync"
	"time"

	"github.com/tos-network/sigstate/log"
	"github.com/tos-network/sigstate/metrics"
	"github.com/tos-network/sigstate/signedstate"
)

const (
	// defaultDeleteQueueCapacity bounds the delete intake queue; beyond
	// this, DeleteBackground falls back to inline deletion.
	defaultDeleteQueueCapacity = 4096

	// batchSize bounds how many items one loop pass drains from each
	// queue, so a burst on one queue doesn't starve the other.
	batchSize = 256
)

// ArchiveHook persists a state's application-level summary. Called at
// most once per state (refcount.Counter's onStrongZero already fires
// exactly once).
type ArchiveHook func(*signedstate.SignedState) error

// DeleteHook releases whatever heavy internals a state owns and signals
// the record registry that the state is gone. Called at most once per
// state.
type DeleteHook func(*signedstate.SignedState) error

var (
	metricArchived     = metrics.NewRegisteredCounter("gc/states/archived", nil)
	metricDeleted      = metrics.NewRegisteredCounter("gc/states/deleted", nil)
	metricInlineDeletes = metrics.NewRegisteredCounter("gc/states/inline_deletes", nil)
	metricArchiveQueue = metrics.NewRegisteredGauge("gc/queue/archive_depth", nil)
	metricDeleteQueue  = metrics.NewRegisteredGauge("gc/queue/delete_depth", nil)
)

// Collector is SignedStateGarbageCollector.
type Collector struct {
	archiveHook ArchiveHook
	deleteHook  DeleteHook

	mu           sync.Mutex
	archiveQueue []*signedstate.SignedState
	deleteQueue  []*signedstate.SignedState
	deleteCap    int

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	logger      log.Logger
	overflowLog *rateLimiter
}

// New constructs a Collector. deleteQueueCapacity<=0 uses the default.
func New(archiveHook ArchiveHook, deleteHook DeleteHook, deleteQueueCapacity int) *Collector {
	if deleteQueueCapacity <= 0 {
		deleteQueueCapacity = defaultDeleteQueueCapacity
	}
	return &Collector{
		archiveHook: archiveHook,
		deleteHook:  deleteHook,
		deleteCap:   deleteQueueCapacity,
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      log.New("pkg", "gc"),
		overflowLog: newRateLimiter(time.Minute),
	}
}

// Start launches the background worker goroutine.
func (c *Collector) Start() {
	go c.loop()
}

// Stop signals the worker to finish its current drain and exit. It
// blocks until the worker has returned, making a best effort to finish
// whatever was already enqueued.
func (c *Collector) Stop() {
	close(c.quit)
	<-c.done
}

// ArchiveBackground enqueues state for archival. Enqueuing only fails
// (silently, a no-op) once the collector has been stopped.
func (c *Collector) ArchiveBackground(state *signedstate.SignedState) {
	select {
	case <-c.quit:
		return
	default:
	}
	c.mu.Lock()
	c.archiveQueue = append(c.archiveQueue, state)
	depth := len(c.archiveQueue)
	c.mu.Unlock()
	metricArchiveQueue.Update(int64(depth))
	c.signal()
}

// DeleteBackground enqueues state for deletion. If the bounded delete
// queue is full, it falls back to inline deletion on the calling
// goroutine, logged at most once per minute.
func (c *Collector) DeleteBackground(state *signedstate.SignedState) {
	select {
	case <-c.quit:
		return
	default:
	}
	c.mu.Lock()
	if len(c.deleteQueue) >= c.deleteCap {
		c.mu.Unlock()
		if allow, suppressed := c.overflowLog.Allow(); allow {
			c.logger.Warn("gc delete queue full, deleting inline", "round", state.Round(), "suppressed", suppressed)
		}
		metricInlineDeletes.Inc(1)
		c.tryDelete(state)
		return
	}
	c.deleteQueue = append(c.deleteQueue, state)
	depth := len(c.deleteQueue)
	c.mu.Unlock()
	metricDeleteQueue.Update(int64(depth))
	c.signal()
}

func (c *Collector) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Collector) loop() {
	defer close(c.done)
	for {
		c.drainOnce()
		select {
		case <-c.wake:
			continue
		case <-c.quit:
			c.drainOnce() // best-effort final drain
			return
		}
	}
}

// drainOnce pops up to batchSize items from each queue and processes
// them. It repeats until both queues are empty, so a burst larger than
// batchSize is fully drained before the loop blocks again.
func (c *Collector) drainOnce() {
	for {
		archiveBatch, deleteBatch := c.popBatches()
		if len(archiveBatch) == 0 && len(deleteBatch) == 0 {
			return
		}
		for _, s := range archiveBatch {
			c.tryArchive(s)
		}
		for _, s := range deleteBatch {
			c.tryDelete(s)
		}
	}
}

func (c *Collector) popBatches() (archiveBatch, deleteBatch []*signedstate.SignedState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.archiveQueue)
	if n > batchSize {
		n = batchSize
	}
	if n > 0 {
		archiveBatch = append([]*signedstate.SignedState(nil), c.archiveQueue[:n]...)
		c.archiveQueue = c.archiveQueue[n:]
	}
	metricArchiveQueue.Update(int64(len(c.archiveQueue)))

	n = len(c.deleteQueue)
	if n > batchSize {
		n = batchSize
	}
	if n > 0 {
		deleteBatch = append([]*signedstate.SignedState(nil), c.deleteQueue[:n]...)
		c.deleteQueue = c.deleteQueue[n:]
	}
	metricDeleteQueue.Update(int64(len(c.deleteQueue)))
	return
}

// tryArchive invokes the application's archive hook once. Idempotent:
// since this is only ever called from a refcount.Counter's onStrongZero
// firing (which itself fires exactly once), a state never passes through
// here twice.
func (c *Collector) tryArchive(s *signedstate.SignedState) {
	if c.archiveHook == nil {
		metricArchived.Inc(1)
		return
	}
	if err := c.archiveHook(s); err != nil {
		c.logger.Error("state archive hook failed", "round", s.Round(), "err", err)
		return
	}
	s.History().Record(signedstate.TransitionArchived)
	metricArchived.Inc(1)
}

// tryDelete releases the state's owned heap and signals the record
// registry. Idempotent for the same reason as tryArchive.
func (c *Collector) tryDelete(s *signedstate.SignedState) {
	if c.deleteHook == nil {
		metricDeleted.Inc(1)
		return
	}
	if err := c.deleteHook(s); err != nil {
		c.logger.Error("state delete hook failed", "round", s.Round(), "err", err)
		return
	}
	s.History().Record(signedstate.TransitionDeleted)
	metricDeleted.Inc(1)
}
