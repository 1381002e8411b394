//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// RealChip hands out lines from an actual GPIO character device.
type RealChip struct {
	name string

	mu    sync.Mutex
	lines []*gpiocdev.Line
}

// NewRealChip checks that the named chip (e.g. "gpiochip0") can be opened.
func NewRealChip(name string) (*RealChip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	chip.Close()
	return &RealChip{name: name}, nil
}

func pullOption(p Pull) gpiocdev.LineReqOption {
	switch p {
	case PullDown:
		return gpiocdev.WithPullDown
	case PullNone:
		return gpiocdev.WithBiasDisabled
	}
	return gpiocdev.WithPullUp
}

func (c *RealChip) track(l *gpiocdev.Line) {
	c.mu.Lock()
	c.lines = append(c.lines, l)
	c.mu.Unlock()
}

func (c *RealChip) untrack(l *gpiocdev.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.lines {
		if x == l {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

// Input requests pin as an input. Edge detection is configured later by
// Watch, which reconfigures the line with an event handler.
func (c *RealChip) Input(pin int, pull Pull) (Input, error) {
	in := &realInput{chip: c, pin: pin, pull: pull}
	l, err := gpiocdev.RequestLine(c.name, pin, gpiocdev.AsInput, pullOption(pull))
	if err != nil {
		return nil, fmt.Errorf("request input pin %d: %w", pin, err)
	}
	in.line = l
	c.track(l)
	return in, nil
}

// Output requests pin as an output driven to initial.
func (c *RealChip) Output(pin int, initial bool) (Output, error) {
	l, err := gpiocdev.RequestLine(c.name, pin, gpiocdev.AsOutput(boolToInt(initial)))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	c.track(l)
	return &realOutput{chip: c, pin: pin, line: l}, nil
}

// Close releases every line requested through the chip. Lines are put back
// to input with pull-down, matching Pi boot defaults.
func (c *RealChip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, l := range c.lines {
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin: %w", err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin: %w", err))
		}
	}
	c.lines = nil
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

type realInput struct {
	chip *RealChip
	pin  int
	pull Pull
	line *gpiocdev.Line
}

func (i *realInput) Read() (bool, error) {
	v, err := i.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", i.pin, err)
	}
	return v != 0, nil
}

// Watch re-requests the line with edge detection. gpiocdev delivers events
// on its own goroutine, which plays the role of the interrupt context.
func (i *realInput) Watch(edge Edge, handler EdgeHandler) error {
	var edgeOpt gpiocdev.LineReqOption
	switch edge {
	case EdgeRising:
		edgeOpt = gpiocdev.WithRisingEdge
	case EdgeFalling:
		edgeOpt = gpiocdev.WithFallingEdge
	case EdgeBoth:
		edgeOpt = gpiocdev.WithBothEdges
	default:
		return nil
	}
	eh := func(evt gpiocdev.LineEvent) {
		handler(evt.Type == gpiocdev.LineEventRisingEdge)
	}

	i.chip.untrack(i.line)
	if err := i.line.Close(); err != nil {
		return fmt.Errorf("release pin %d: %w", i.pin, err)
	}
	l, err := gpiocdev.RequestLine(i.chip.name, i.pin,
		gpiocdev.AsInput, pullOption(i.pull), edgeOpt, gpiocdev.WithEventHandler(eh))
	if err != nil {
		return fmt.Errorf("watch pin %d: %w", i.pin, err)
	}
	i.line = l
	i.chip.track(l)
	return nil
}

func (i *realInput) Close() error {
	i.chip.untrack(i.line)
	return i.line.Close()
}

type realOutput struct {
	chip *RealChip
	pin  int
	line *gpiocdev.Line
}

func (o *realOutput) Write(level bool) error {
	if err := o.line.SetValue(boolToInt(level)); err != nil {
		return fmt.Errorf("write pin %d: %w", o.pin, err)
	}
	return nil
}

func (o *realOutput) Close() error {
	o.chip.untrack(o.line)
	return o.line.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
