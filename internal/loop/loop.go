// Package loop is the main-loop driver: the single goroutine allowed to
// touch node state and the timer engine.
//
// Work reaches the loop in two ways. Timers are polled from the engine on
// every iteration. Everything else (GPIO edges, control requests) is posted
// as a closure onto a bounded queue with Post, which never blocks the
// caller. A full queue drops the closure and counts the drop.
package loop

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sweeney/homegraph/internal/clock"
	"github.com/sweeney/homegraph/internal/timer"
)

const (
	// DefaultQueueSize bounds the deferred-callback queue.
	DefaultQueueSize = 64
	// DefaultMaxWait caps a single blocking wait in Run.
	DefaultMaxWait = time.Second
)

// Stats is a point-in-time view of loop counters.
type Stats struct {
	Queued     int
	Timers     int
	Dropped    uint64
	Processed  uint64
	TimerFires uint64
}

// Loop owns the deferred queue and drives the timer engine.
type Loop struct {
	clock   clock.Clock
	timers  *timer.Engine
	queue   chan func()
	maxWait time.Duration

	dropped   atomic.Uint64
	processed uint64

	// AfterStep, if set, runs on the loop goroutine after each iteration
	// that did work.
	AfterStep func(Stats)
}

// Option configures a Loop.
type Option func(*Loop)

// WithQueueSize sets the deferred queue bound.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.queue = make(chan func(), n)
		}
	}
}

// WithMaxWait caps how long Run blocks between iterations.
func WithMaxWait(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.maxWait = d
		}
	}
}

// New creates a loop around a timer engine.
func New(c clock.Clock, timers *timer.Engine, opts ...Option) *Loop {
	l := &Loop{
		clock:   c,
		timers:  timers,
		queue:   make(chan func(), DefaultQueueSize),
		maxWait: DefaultMaxWait,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Timers returns the engine driven by this loop.
func (l *Loop) Timers() *timer.Engine { return l.timers }

// Post queues fn to run on the loop goroutine. It is safe to call from any
// goroutine and never blocks. It returns false if the queue was full.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return true
	}
	select {
	case l.queue <- fn:
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

// Step runs one iteration without blocking: the callbacks queued at the
// time of the call, then every due timer. It returns the amount of work done.
// Must only be called from the loop goroutine.
func (l *Loop) Step() int {
	n := l.drain(len(l.queue))
	n += l.timers.Poll(l.clock.Now())
	if n > 0 && l.AfterStep != nil {
		l.AfterStep(l.Stats())
	}
	return n
}

func (l *Loop) drain(max int) int {
	n := 0
	for ; n < max; n++ {
		select {
		case fn := <-l.queue:
			fn()
			l.processed++
		default:
			return n
		}
	}
	return n
}

// Run drives the loop until ctx is cancelled. The only blocking point is
// the wait for the next timer, the next posted callback or cancellation.
func (l *Loop) Run(ctx context.Context) error {
	wake := time.NewTimer(l.maxWait)
	defer wake.Stop()

	for {
		l.Step()
		resetTimer(wake, l.nextWait())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			fn()
			l.processed++
			if l.AfterStep != nil {
				l.AfterStep(l.Stats())
			}
		case <-wake.C:
		}
	}
}

func (l *Loop) nextWait() time.Duration {
	due, ok := l.timers.NextDue()
	if !ok {
		return l.maxWait
	}
	d := due.Sub(l.clock.Now())
	if d > l.maxWait {
		return l.maxWait
	}
	if d < 0 {
		return 0
	}
	return d
}

// Stats returns the current counters. Call from the loop goroutine.
func (l *Loop) Stats() Stats {
	return Stats{
		Queued:     len(l.queue),
		Timers:     l.timers.Len(),
		Dropped:    l.dropped.Load(),
		Processed:  l.processed,
		TimerFires: l.timers.Fired(),
	}
}

// Dropped returns how many posted callbacks were discarded. Safe from any
// goroutine.
func (l *Loop) Dropped() uint64 { return l.dropped.Load() }

// resetTimer stops, drains and re-arms t.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
