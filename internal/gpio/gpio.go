// Package gpio provides GPIO inputs and outputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing and simulation without hardware.
package gpio

import "fmt"

// Edge selects which transitions fire an input's handler.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	}
	return "none"
}

// Pull selects the input bias.
type Pull uint8

const (
	PullUp Pull = iota
	PullDown
	PullNone
)

// ParsePull maps a configuration string to a Pull. Empty means up.
func ParsePull(s string) (Pull, error) {
	switch s {
	case "", "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	case "none":
		return PullNone, nil
	}
	return PullUp, fmt.Errorf("unknown pull %q", s)
}

// EdgeHandler is called for each edge with the raw level after the edge.
//
// Handlers run in the hardware event context, not on the main loop. They
// must not touch node state; they may only read, filter and defer.
type EdgeHandler func(level bool)

// Input is a GPIO line configured as input.
type Input interface {
	// Read returns the current raw level.
	Read() (bool, error)

	// Watch installs handler for the given edges. Only one handler is
	// active per input; a second call replaces the first.
	Watch(edge Edge, handler EdgeHandler) error

	// Close releases the line.
	Close() error
}

// Output is a GPIO line configured as output.
type Output interface {
	Write(level bool) error
	Close() error
}

// Chip hands out lines by offset (BCM numbering on a Raspberry Pi).
type Chip interface {
	Input(pin int, pull Pull) (Input, error)
	Output(pin int, initial bool) (Output, error)
	Close() error
}
