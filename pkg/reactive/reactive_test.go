package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalGetSet(t *testing.T) {
	rt := NewRuntime()
	read, write := CreateSignal(rt, 42)

	assert.Equal(t, 42, read())
	write(100)
	assert.Equal(t, 100, read())
}

func TestEffectTracksReads(t *testing.T) {
	rt := NewRuntime()
	read, write := CreateSignal(rt, "a")

	var runs int
	var seen string
	CreateEffect(rt, func() {
		runs++
		seen = read()
	})

	require.Equal(t, 1, runs)
	assert.Equal(t, "a", seen)

	write("b")
	assert.Equal(t, 2, runs)
	assert.Equal(t, "b", seen)
}

func TestWriteSameValueDoesNotNotify(t *testing.T) {
	rt := NewRuntime()
	read, write := CreateSignal(rt, 7)

	var runs int
	CreateEffect(rt, func() {
		runs++
		read()
	})

	write(7)
	assert.Equal(t, 1, runs, "no-op write must not schedule observers")
}

func TestSlotInvariant(t *testing.T) {
	rt := NewRuntime()
	a := NewSignal(rt, 1)
	b := NewSignal(rt, 2)
	c := NewSignal(rt, 3)

	// Three effects over overlapping signal sets, re-run several times to
	// exercise swap-and-pop on both sides.
	e1 := CreateEffect(rt, func() { a.Get(); b.Get() })
	e2 := CreateEffect(rt, func() { b.Get(); c.Get() })
	e3 := CreateEffect(rt, func() { a.Get(); c.Get(); b.Get() })

	checkInvariant := func() {
		t.Helper()
		for _, s := range []*Signal[int]{a, b, c} {
			require.Len(t, s.observerSlots, len(s.observers))
			for j, obs := range s.observers {
				i := s.observerSlots[j]
				require.Same(t, &s.observerList, obs.sources[i], "observer's source slot must point back at the signal")
				require.Equal(t, j, obs.sourceSlots[i], "sourceSlots must hold the observer's slot in the signal")
			}
		}
		for _, c := range []*Computation{e1, e2, e3} {
			require.Len(t, c.sourceSlots, len(c.sources))
		}
	}

	checkInvariant()
	a.Set(10)
	checkInvariant()
	b.Set(20)
	checkInvariant()
	c.Set(30)
	checkInvariant()

	e2.Dispose()
	checkInvariant()
	assert.Zero(t, e2.SourceCount())

	a.Set(11)
	b.Set(21)
	checkInvariant()
}

func TestComputationCleanAfterRun(t *testing.T) {
	rt := NewRuntime()
	read, write := CreateSignal(rt, 0)

	c := CreateEffect(rt, func() {
		// Read twice; the source must still be linked exactly once.
		read()
		read()
	})

	assert.Equal(t, StateClean, c.State())
	assert.Equal(t, 1, c.SourceCount())

	write(1)
	assert.Equal(t, StateClean, c.State())
	assert.Equal(t, 1, c.SourceCount())
}

func TestBatchDefersFlush(t *testing.T) {
	rt := NewRuntime()
	readA, writeA := CreateSignal(rt, 1)
	readB, writeB := CreateSignal(rt, 2)

	var runs int
	var sum int
	CreateEffect(rt, func() {
		runs++
		sum = readA() + readB()
	})
	require.Equal(t, 1, runs)

	rt.Batch(func() {
		writeA(10)
		writeB(20)
		assert.Equal(t, 1, runs, "writes inside a batch must not flush")

		// Nested batch must not flush either.
		rt.Batch(func() {
			writeA(11)
		})
		assert.Equal(t, 1, runs)
	})

	assert.Equal(t, 2, runs, "one flush per outermost batch")
	assert.Equal(t, 31, sum)
}

func TestUntrack(t *testing.T) {
	rt := NewRuntime()
	tracked, writeTracked := CreateSignal(rt, 1)
	untracked, writeUntracked := CreateSignal(rt, 1)

	var runs int
	CreateEffect(rt, func() {
		runs++
		tracked()
		rt.Untrack(func() { untracked() })
	})

	writeUntracked(2)
	assert.Equal(t, 1, runs, "untracked read must not subscribe")

	writeTracked(2)
	assert.Equal(t, 2, runs)
}

func TestEffectCleanup(t *testing.T) {
	rt := NewRuntime()
	read, write := CreateSignal(rt, 0)

	var cleaned int
	c := CreateEffect(rt, func() func() {
		read()
		return func() { cleaned++ }
	})

	assert.Zero(t, cleaned)
	write(1)
	assert.Equal(t, 1, cleaned, "cleanup runs before re-run")
	c.Dispose()
	assert.Equal(t, 2, cleaned, "cleanup runs on disposal")

	write(2)
	assert.Equal(t, 2, cleaned, "disposed effect stays down")
}

func TestOnCleanup(t *testing.T) {
	rt := NewRuntime()
	read, write := CreateSignal(rt, 0)

	var cleaned int
	CreateEffect(rt, func() {
		read()
		rt.OnCleanup(func() { cleaned++ })
	})

	write(1)
	assert.Equal(t, 1, cleaned)

	// Outside a computation OnCleanup is a no-op.
	rt.OnCleanup(func() { cleaned += 100 })
	write(2)
	assert.Equal(t, 2, cleaned)
}

func TestCleanupPanicSwallowed(t *testing.T) {
	rt := NewRuntime()
	read, write := CreateSignal(rt, 0)

	var secondRan bool
	CreateEffect(rt, func() {
		read()
		rt.OnCleanup(func() { panic("bad cleanup") })
		rt.OnCleanup(func() { secondRan = true })
	})

	assert.NotPanics(t, func() { write(1) })
	assert.True(t, secondRan)
}

func TestComputationPanicRestoresListener(t *testing.T) {
	rt := NewRuntime()
	read, _ := CreateSignal(rt, 0)

	require.Panics(t, func() {
		CreateEffect(rt, func() {
			read()
			panic("component blew up")
		})
	})

	assert.Nil(t, rt.Listener(), "listener must be restored after a panic")
}

func TestObserverNotificationOrder(t *testing.T) {
	rt := NewRuntime()
	read, write := CreateSignal(rt, 0)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		CreateEffect(rt, func() {
			read()
			order = append(order, i)
		})
	}

	order = nil
	write(1)
	assert.Equal(t, []int{1, 2, 3}, order, "observers notified in registration order")
}

func TestUncomparableValuesAlwaysNotify(t *testing.T) {
	rt := NewRuntime()
	s := NewSignal[any](rt, nil)

	var runs int
	CreateEffect(rt, func() {
		runs++
		s.Get()
	})

	s.Set(map[string]any{"a": 1})
	s.Set(map[string]any{"a": 1})
	assert.Equal(t, 3, runs, "maps compare as changed on every write")
}
