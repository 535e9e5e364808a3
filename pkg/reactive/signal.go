package reactive

import "reflect"

// observerList is the untyped half of a signal: the computations observing
// it and, in a parallel slice, each observer's slot in its own sources list.
// The pairing invariant: observers[j].sources[observerSlots[j]] points back
// at this list with sourceSlots[observerSlots[j]] == j.
type observerList struct {
	observers     []*Computation
	observerSlots []int

	// Last tracking computation and its run epoch, used to keep a source
	// from being linked twice within a single run.
	trackedBy  *Computation
	trackEpoch uint64
}

// track links the runtime's current listener to this source in O(1).
func (o *observerList) track(rt *Runtime) {
	l := rt.listener
	if l == nil {
		return
	}
	if o.trackedBy == l && o.trackEpoch == l.epoch {
		return
	}
	o.trackedBy = l
	o.trackEpoch = l.epoch

	l.sources = append(l.sources, o)
	l.sourceSlots = append(l.sourceSlots, len(o.observers))
	o.observers = append(o.observers, l)
	o.observerSlots = append(o.observerSlots, len(l.sources)-1)
}

// unlinkObserver removes the observer at slot by swapping the last observer
// into its place and patching the moved observer's back-pointer.
func (o *observerList) unlinkObserver(slot int) {
	last := len(o.observers) - 1
	if slot != last {
		moved := o.observers[last]
		o.observers[slot] = moved
		o.observerSlots[slot] = o.observerSlots[last]
		moved.sourceSlots[o.observerSlots[slot]] = slot
	}
	o.observers = o.observers[:last]
	o.observerSlots = o.observerSlots[:last]
}

// notify marks every observer stale and schedules it.
func (o *observerList) notify(rt *Runtime) {
	if len(o.observers) == 0 {
		return
	}
	rt.Batch(func() {
		for _, c := range o.observers {
			if c.state == StateClean {
				c.state = StateStale
				rt.enqueue(c)
			}
		}
	})
}

// Signal holds a reactive value. Reads performed inside a running
// computation subscribe that computation; writes notify subscribers.
type Signal[T any] struct {
	observerList
	rt     *Runtime
	value  T
	equals func(a, b T) bool
}

// NewSignal creates a signal holding initial.
func NewSignal[T any](rt *Runtime, initial T) *Signal[T] {
	return &Signal[T]{rt: rt, value: initial}
}

// NewSignalEq creates a signal with a custom equality function used by Set
// to suppress no-op writes.
func NewSignalEq[T any](rt *Runtime, initial T, equals func(a, b T) bool) *Signal[T] {
	return &Signal[T]{rt: rt, value: initial, equals: equals}
}

// CreateSignal returns the (read, write) accessor pair for a fresh signal.
func CreateSignal[T any](rt *Runtime, initial T) (func() T, func(T)) {
	s := NewSignal(rt, initial)
	return s.Get, s.Set
}

// Get returns the current value, registering the active listener as an
// observer.
func (s *Signal[T]) Get() T {
	s.track(s.rt)
	return s.value
}

// Peek returns the current value without tracking.
func (s *Signal[T]) Peek() T {
	return s.value
}

// Set stores a new value and schedules observers. Writing a value equal to
// the current one is a no-op and produces no notifications.
func (s *Signal[T]) Set(value T) {
	s.rt.checkGoroutine()
	if s.equalValue(value) {
		return
	}
	s.value = value
	s.notify(s.rt)
}

func (s *Signal[T]) equalValue(v T) bool {
	if s.equals != nil {
		return s.equals(s.value, v)
	}
	return valueEqual(any(s.value), any(v))
}

// ObserverCount reports how many computations currently observe the signal.
func (s *Signal[T]) ObserverCount() int {
	return len(s.observers)
}

// valueEqual compares by identity/value equality without panicking on
// uncomparable types, which are always treated as changed.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
