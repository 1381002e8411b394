// Package timer implements the cooperative software timer engine.
//
// An Engine is a single queue of scheduled callbacks ordered by fire time.
// It owns no goroutine and takes no locks: Schedule, Cancel and Poll must all
// be called from the main loop goroutine. Callbacks run synchronously inside
// Poll and may themselves schedule or cancel timers.
package timer

import (
	"time"

	"github.com/sweeney/homegraph/internal/clock"
)

// ID identifies a live timer entry. IDs are never reused while the engine
// lives, so cancelling a stale ID is always a safe no-op.
type ID uint64

// None is the zero ID. It is returned when nothing was scheduled and
// Cancel(None) does nothing.
const None ID = 0

// DefaultTolerance is how early an entry may fire relative to its due time.
const DefaultTolerance = time.Millisecond

type entry struct {
	at     time.Time
	fn     func()
	period time.Duration
	id     ID
}

// Engine is the timer queue. The zero value is not usable; call New.
type Engine struct {
	clock     clock.Clock
	tolerance time.Duration
	entries   []entry
	lastID    ID
	fired     uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithTolerance sets the early-fire window used by Poll.
func WithTolerance(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tolerance = d
		}
	}
}

// New returns an empty engine reading time from c.
func New(c clock.Clock, opts ...Option) *Engine {
	e := &Engine{clock: c, tolerance: DefaultTolerance}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Schedule arranges for fn to run delay from now. A positive period makes
// the entry periodic; it keeps its ID across re-arms so the callback can
// cancel itself. A nil fn schedules nothing and returns None.
func (e *Engine) Schedule(delay time.Duration, fn func(), period time.Duration) ID {
	if fn == nil {
		return None
	}
	if delay < 0 {
		delay = 0
	}
	if period < 0 {
		period = 0
	}
	e.lastID++
	id := e.lastID
	e.insert(entry{at: e.clock.Now().Add(delay), fn: fn, period: period, id: id})
	return id
}

// After schedules a one-shot callback.
func (e *Engine) After(delay time.Duration, fn func()) ID {
	return e.Schedule(delay, fn, 0)
}

// Every schedules a periodic callback whose first run is one period away.
func (e *Engine) Every(period time.Duration, fn func()) ID {
	return e.Schedule(period, fn, period)
}

// insert keeps entries ascending by fire time; equal times stay FIFO.
// The queue holds at most a few entries per node, so a linear scan is fine.
func (e *Engine) insert(en entry) {
	i := len(e.entries)
	for n := range e.entries {
		if en.at.Before(e.entries[n].at) {
			i = n
			break
		}
	}
	e.entries = append(e.entries, entry{})
	copy(e.entries[i+1:], e.entries[i:])
	e.entries[i] = en
}

// Cancel removes the entry with the given id. Unknown, fired or None ids
// are ignored.
func (e *Engine) Cancel(id ID) {
	if id == None {
		return
	}
	for n := range e.entries {
		if e.entries[n].id == id {
			e.removeAt(n)
			return
		}
	}
}

func (e *Engine) removeAt(n int) {
	copy(e.entries[n:], e.entries[n+1:])
	e.entries[len(e.entries)-1] = entry{}
	e.entries = e.entries[:len(e.entries)-1]
}

// Pending reports whether id is still queued.
func (e *Engine) Pending(id ID) bool {
	if id == None {
		return false
	}
	for _, en := range e.entries {
		if en.id == id {
			return true
		}
	}
	return false
}

// Poll runs every entry due at now (within the tolerance window) and keeps
// draining until nothing is due. The clock is re-read after each callback
// so time spent inside callbacks is accounted for. Periodic entries are
// re-queued before their callback runs. Poll returns the number of
// callbacks invoked.
func (e *Engine) Poll(now time.Time) int {
	n := 0
	for len(e.entries) > 0 {
		head := e.entries[0]
		if head.at.Sub(now) >= e.tolerance {
			break
		}
		e.removeAt(0)
		if head.period > 0 {
			next := head.at.Add(head.period)
			if !next.After(now) {
				// Missed ticks are skipped rather than replayed.
				next = now.Add(head.period)
			}
			e.insert(entry{at: next, fn: head.fn, period: head.period, id: head.id})
		}
		head.fn()
		n++
		e.fired++
		if t := e.clock.Now(); t.After(now) {
			now = t
		}
	}
	return n
}

// NextDue returns the fire time of the earliest entry.
func (e *Engine) NextDue() (time.Time, bool) {
	if len(e.entries) == 0 {
		return time.Time{}, false
	}
	return e.entries[0].at, true
}

// Len returns the number of queued entries.
func (e *Engine) Len() int { return len(e.entries) }

// Fired returns the total number of callbacks run since creation.
func (e *Engine) Fired() uint64 { return e.fired }
