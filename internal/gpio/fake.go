package gpio

import (
	"fmt"
	"sync"
)

// FakeChip is a test double that hands out in-memory pins.
type FakeChip struct {
	mu   sync.Mutex
	pins map[int]*FakePin

	// Closed tracks if Close was called
	Closed bool

	// RequestError, if set, is returned by Input and Output.
	RequestError error
}

// NewFakeChip creates an empty FakeChip.
func NewFakeChip() *FakeChip {
	return &FakeChip{pins: make(map[int]*FakePin)}
}

// Pin returns the pin at offset, creating it if needed. Tests use it to
// drive inputs and inspect outputs.
func (c *FakeChip) Pin(pin int) *FakePin {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pins[pin]
	if !ok {
		p = &FakePin{Offset: pin}
		c.pins[pin] = p
	}
	return p
}

// Input requests pin as an input. A pull-up pin idles high.
func (c *FakeChip) Input(pin int, pull Pull) (Input, error) {
	if c.RequestError != nil {
		return nil, c.RequestError
	}
	p := c.Pin(pin)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requested {
		return nil, fmt.Errorf("pin %d: already requested", pin)
	}
	p.requested = true
	p.IsOutput = false
	if pull == PullUp {
		p.level = true
	}
	return p, nil
}

// Output requests pin as an output driven to initial.
func (c *FakeChip) Output(pin int, initial bool) (Output, error) {
	if c.RequestError != nil {
		return nil, c.RequestError
	}
	p := c.Pin(pin)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requested {
		return nil, fmt.Errorf("pin %d: already requested", pin)
	}
	p.requested = true
	p.IsOutput = true
	p.level = initial
	return p, nil
}

// Close marks the chip and all its pins as closed.
func (c *FakeChip) Close() error {
	c.mu.Lock()
	pins := make([]*FakePin, 0, len(c.pins))
	for _, p := range c.pins {
		pins = append(pins, p)
	}
	c.Closed = true
	c.mu.Unlock()

	for _, p := range pins {
		p.Close()
	}
	return nil
}

// FakePin is an in-memory line. It implements both Input and Output.
type FakePin struct {
	Offset   int
	IsOutput bool

	// ReadError, if set, will be returned by Read()
	ReadError error
	// WriteError, if set, will be returned by Write()
	WriteError error

	mu        sync.Mutex
	requested bool
	closed    bool
	level     bool
	edge      Edge
	handler   EdgeHandler
	writes    []bool
}

// Read returns the current level.
func (p *FakePin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadError != nil {
		return false, p.ReadError
	}
	return p.level, nil
}

// Watch installs handler for edges matching edge.
func (p *FakePin) Watch(edge Edge, handler EdgeHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edge = edge
	p.handler = handler
	return nil
}

// Write records and applies level.
func (p *FakePin) Write(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteError != nil {
		return p.WriteError
	}
	p.level = level
	p.writes = append(p.writes, level)
	return nil
}

// Set drives the pin to level as the outside world would. If the level
// changes and the transition matches the watched edge, the handler runs
// synchronously on the caller's goroutine.
func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	changed := p.level != level
	p.level = level
	h := p.handler
	fire := changed && h != nil && !p.closed && edgeMatches(p.edge, level)
	p.mu.Unlock()

	if fire {
		h(level)
	}
}

// Pulse drives the pin to level and back again.
func (p *FakePin) Pulse(level bool) {
	p.Set(level)
	p.Set(!level)
}

func edgeMatches(e Edge, level bool) bool {
	switch e {
	case EdgeBoth:
		return true
	case EdgeRising:
		return level
	case EdgeFalling:
		return !level
	}
	return false
}

// Level returns the current level without honouring ReadError.
func (p *FakePin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Writes returns every level passed to Write, oldest first.
func (p *FakePin) Writes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.writes...)
}

// Watched returns the edge the pin is watching.
func (p *FakePin) Watched() Edge {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edge
}

// Closed reports whether Close was called.
func (p *FakePin) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close marks the pin as closed. Handlers stop firing.
func (p *FakePin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Reset clears write history and errors, keeping the current level.
func (p *FakePin) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = nil
	p.ReadError = nil
	p.WriteError = nil
	p.closed = false
}
