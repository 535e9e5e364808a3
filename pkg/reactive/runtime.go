// Package reactive implements the fine-grained signal/computation graph that
// drives re-rendering. Signals track the computations that read them;
// computations re-run when any of their sources change. All bookkeeping is
// O(1) per edge via parallel slot slices and swap-and-pop removal.
package reactive

import (
	"fmt"

	"github.com/petermattis/goid"
)

// Runtime bundles the graph-global state: the currently tracking listener,
// the pending computation queue, and batch nesting depth. Every signal and
// computation belongs to exactly one Runtime. A Runtime is single-threaded;
// asynchronous work must funnel writes back onto the owning goroutine.
type Runtime struct {
	listener   *Computation
	queue      []*Computation
	batchDepth int
	flushing   bool
	epoch      uint64

	gid    int64
	strict bool
}

// NewRuntime creates an empty reactive runtime owned by the calling
// goroutine.
func NewRuntime() *Runtime {
	return &Runtime{gid: goid.Get()}
}

// SetStrict enables goroutine-affinity checks. When strict, writes and
// computation runs from a goroutine other than the creating one panic
// instead of corrupting the graph silently.
func (rt *Runtime) SetStrict(strict bool) {
	rt.strict = strict
}

func (rt *Runtime) checkGoroutine() {
	if rt.strict && goid.Get() != rt.gid {
		panic(fmt.Sprintf("reactive: runtime owned by goroutine %d used from goroutine %d", rt.gid, goid.Get()))
	}
}

// Listener returns the computation currently being tracked, or nil.
func (rt *Runtime) Listener() *Computation {
	return rt.listener
}

// Batch defers flushing of the computation queue until fn returns. Nested
// batches compose; only the outermost batch flushes.
func (rt *Runtime) Batch(fn func()) {
	rt.batchDepth++
	defer func() {
		rt.batchDepth--
		if rt.batchDepth == 0 {
			rt.flush()
		}
	}()
	fn()
}

// Untrack runs fn with no active listener, so signal reads inside fn do not
// register dependencies.
func (rt *Runtime) Untrack(fn func()) {
	prev := rt.listener
	rt.listener = nil
	defer func() { rt.listener = prev }()
	fn()
}

// OnCleanup registers fn on the currently executing computation. It runs
// before the computation's next execution and on disposal. Outside a
// computation the call is a no-op.
func (rt *Runtime) OnCleanup(fn func()) {
	if rt.listener != nil {
		rt.listener.cleanups = append(rt.listener.cleanups, fn)
	}
}

func (rt *Runtime) enqueue(c *Computation) {
	rt.queue = append(rt.queue, c)
	if rt.batchDepth == 0 {
		rt.flush()
	}
}

// flush drains the queue FIFO. A computation that transitioned back to
// clean between enqueue and drain is skipped.
func (rt *Runtime) flush() {
	if rt.flushing {
		return
	}
	rt.flushing = true
	defer func() { rt.flushing = false }()

	for len(rt.queue) > 0 {
		c := rt.queue[0]
		rt.queue = rt.queue[1:]
		if c.disposed || c.state != StateStale {
			continue
		}
		c.run()
	}
}

func (rt *Runtime) nextEpoch() uint64 {
	rt.epoch++
	return rt.epoch
}
