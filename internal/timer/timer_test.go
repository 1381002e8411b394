package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/homegraph/internal/clock"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newEngine() (*Engine, *clock.Fake) {
	c := clock.NewFake(t0)
	return New(c), c
}

func TestOneShotFiresOnce(t *testing.T) {
	e, c := newEngine()
	calls := 0
	id := e.After(5*time.Second, func() { calls++ })
	require.NotEqual(t, None, id)

	assert.Equal(t, 0, e.Poll(c.Advance(4*time.Second)))
	assert.Equal(t, 1, e.Poll(c.Advance(time.Second)))
	assert.Equal(t, 0, e.Poll(c.Advance(time.Second)))
	assert.Equal(t, 0, e.Poll(c.Advance(time.Hour)))
	assert.Equal(t, 1, calls)
	assert.False(t, e.Pending(id))
	assert.Equal(t, 0, e.Len())
}

func TestOrderingAndFIFOForEqualTimes(t *testing.T) {
	e, c := newEngine()
	var order []string
	e.After(3*time.Second, func() { order = append(order, "c") })
	e.After(1*time.Second, func() { order = append(order, "a") })
	e.After(2*time.Second, func() { order = append(order, "b1") })
	e.After(2*time.Second, func() { order = append(order, "b2") })

	e.Poll(c.Advance(10 * time.Second))
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, order)
}

func TestToleranceWindow(t *testing.T) {
	e, c := newEngine()
	fired := false
	e.After(time.Second, func() { fired = true })

	e.Poll(c.Advance(time.Second - 2*time.Millisecond))
	assert.False(t, fired)
	e.Poll(c.Advance(1500 * time.Microsecond))
	assert.True(t, fired, "entry within the tolerance window should fire")
}

func TestPeriodicRearmedBeforeCallback(t *testing.T) {
	e, c := newEngine()
	var id ID
	var pendingInside []bool
	id = e.Every(10*time.Second, func() {
		pendingInside = append(pendingInside, e.Pending(id))
	})

	e.Poll(c.Advance(10 * time.Second))
	e.Poll(c.Advance(10 * time.Second))
	assert.Equal(t, []bool{true, true}, pendingInside)

	due, ok := e.NextDue()
	require.True(t, ok)
	assert.Equal(t, t0.Add(30*time.Second), due, "re-armed with the same period")
}

func TestPeriodicCancelsItself(t *testing.T) {
	e, c := newEngine()
	calls := 0
	var id ID
	id = e.Every(time.Second, func() {
		calls++
		if calls == 2 {
			e.Cancel(id)
		}
	})
	for i := 0; i < 5; i++ {
		e.Poll(c.Advance(time.Second))
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, e.Len())
}

func TestPeriodicSkipsMissedTicks(t *testing.T) {
	e, c := newEngine()
	calls := 0
	e.Every(time.Second, func() { calls++ })

	assert.Equal(t, 1, e.Poll(c.Advance(10*time.Second)))
	due, _ := e.NextDue()
	assert.Equal(t, c.Now().Add(time.Second), due)
	assert.Equal(t, 1, calls)
}

func TestCancelUnknownIsNoop(t *testing.T) {
	e, c := newEngine()
	fired := 0
	id := e.After(time.Second, func() { fired++ })
	e.Cancel(None)
	e.Cancel(id + 100)
	e.Poll(c.Advance(time.Second))
	e.Cancel(id)
	e.Cancel(id)
	assert.Equal(t, 1, fired)
}

func TestCancelBeforeFire(t *testing.T) {
	e, c := newEngine()
	fired := false
	id := e.After(time.Second, func() { fired = true })
	e.Cancel(id)
	e.Poll(c.Advance(time.Minute))
	assert.False(t, fired)
}

func TestCallbackSchedulesDueEntry(t *testing.T) {
	e, c := newEngine()
	var order []int
	e.After(time.Second, func() {
		order = append(order, 1)
		e.After(0, func() { order = append(order, 2) })
	})
	n := e.Poll(c.Advance(time.Second))
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 2}, order)
}

func TestSlowCallbackDrainsNewlyDue(t *testing.T) {
	e, c := newEngine()
	var order []string
	e.After(time.Second, func() {
		order = append(order, "slow")
		c.Advance(5 * time.Second)
	})
	e.After(3*time.Second, func() { order = append(order, "later") })

	n := e.Poll(c.Advance(time.Second))
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"slow", "later"}, order)
}

func TestUniqueIDs(t *testing.T) {
	e, _ := newEngine()
	seen := map[ID]bool{}
	for i := 0; i < 100; i++ {
		id := e.After(time.Duration(i)*time.Millisecond, func() {})
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestNilCallback(t *testing.T) {
	e, _ := newEngine()
	assert.Equal(t, None, e.Schedule(time.Second, nil, 0))
	assert.Equal(t, 0, e.Len())
}

func TestFiredCounter(t *testing.T) {
	e, c := newEngine()
	e.After(0, func() {})
	e.After(0, func() {})
	e.Poll(c.Now())
	assert.Equal(t, uint64(2), e.Fired())
}
