// Package filter holds the event suppression policies consulted by input
// nodes before they accept a physical event.
//
// A filter is not safe for concurrent use. Each one is owned by exactly one
// context: a GPIO edge handler for Debounce, the main loop for AntiRepeat.
package filter

import (
	"math"
	"time"
)

// Debounce suppresses events arriving within Window of the previously
// accepted event. It compares monotonic readings, so it is meant for short
// (millisecond) windows.
type Debounce struct {
	Window time.Duration

	last     time.Time
	accepted bool
}

// NewDebounce returns a debounce filter. A window <= 0 disables it.
func NewDebounce(window time.Duration) *Debounce {
	return &Debounce{Window: window}
}

// Suppress reports whether an event at now must be dropped. The reference
// time only moves when the event is accepted.
func (d *Debounce) Suppress(now time.Time) bool {
	if d.Window <= 0 {
		return false
	}
	if d.accepted && now.Sub(d.last) < d.Window {
		return true
	}
	d.last = now
	d.accepted = true
	return false
}

// Last returns the time of the last accepted event.
func (d *Debounce) Last() (time.Time, bool) {
	return d.last, d.accepted
}

// AntiRepeat is the coarse variant used by analog sources: it works on
// wall-clock whole seconds so it keeps working across long windows.
type AntiRepeat struct {
	Window time.Duration

	last     int64
	accepted bool
}

// NewAntiRepeat returns an anti-repetition filter. A window <= 0 disables it.
func NewAntiRepeat(window time.Duration) *AntiRepeat {
	return &AntiRepeat{Window: window}
}

// Suppress reports whether an event at now must be dropped.
func (a *AntiRepeat) Suppress(now time.Time) bool {
	if a.Window <= 0 {
		return false
	}
	secs := now.Unix()
	if a.accepted && secs-a.last < a.windowSeconds() {
		return true
	}
	a.last = secs
	a.accepted = true
	return false
}

func (a *AntiRepeat) windowSeconds() int64 {
	return int64(math.Ceil(a.Window.Seconds()))
}
