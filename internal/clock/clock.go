// Package clock provides the time source used by the control graph.
// Everything that measures elapsed time takes a Clock so tests can drive
// time explicitly instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current instant.
//
// The returned time carries a monotonic reading when it comes from System,
// which is what short-window measurements (debounce, timers) rely on.
// Wall-clock seconds are taken from the same value via Unix().
type Clock interface {
	Now() time.Time
}

// System is the real clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Fake is a manually driven clock. It is safe for concurrent use because
// GPIO edge handlers read it from their own goroutine.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
