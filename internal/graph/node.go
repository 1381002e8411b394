// Package graph implements the propagation graph: the node kinds, the
// registry that owns and wires them, and the control actions they expose.
//
// Everything in this package runs on the main loop goroutine, with one
// exception: GPIO edge handlers, which only read the event, debounce it and
// hand the rest of the work to Env.Defer.
package graph

import (
	"bytes"
	"encoding/json"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/sweeney/homegraph/internal/clock"
	"github.com/sweeney/homegraph/internal/gpio"
	"github.com/sweeney/homegraph/internal/onewire"
	"github.com/sweeney/homegraph/internal/timer"
)

// Node is a stateful element of the graph. The set of kinds is closed: only
// this package can construct nodes.
type Node interface {
	Name() string
	ID() int
	Kind() Kind

	// Output is the primary output as a number: 0/1 for binary nodes, the
	// measured value for analog ones, NaN when not yet known.
	Output() float64

	// State is the node's full state vector.
	State() State

	// Propagate tells the node that origin changed. origin is nil when the
	// node itself is the source of the change.
	Propagate(origin Node)

	// Activate arms hardware handlers and periodic timers. It must not
	// propagate.
	Activate() error

	core() *base
}

// State is an ordered state vector. It encodes as an object keyed by field
// index: {"0":1,"1":0}.
type State []any

func (s State) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(i)))
		buf.WriteByte(':')
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			v = nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Observer is told about node state changes and hardware faults. Calls are
// made on the main loop goroutine.
type Observer interface {
	Changed(n Node)
	Fault(n Node, err error)
}

type nopObserver struct{}

func (nopObserver) Changed(Node)      {}
func (nopObserver) Fault(Node, error) {}

// Observers fans calls out to several observers in order.
type Observers []Observer

func (o Observers) Changed(n Node) {
	for _, x := range o {
		x.Changed(n)
	}
}

func (o Observers) Fault(n Node, err error) {
	for _, x := range o {
		x.Fault(n, err)
	}
}

// Env is what nodes need from the outside world.
type Env struct {
	Clock  clock.Clock
	Timers *timer.Engine

	// Defer queues work onto the main loop from an edge handler. It must
	// not block and returns false if the work was dropped.
	Defer func(func()) bool

	GPIO    gpio.Chip
	OneWire func(bus string) (onewire.Bus, error)

	Observer Observer
}

func (e *Env) fill() {
	if e.Clock == nil {
		e.Clock = clock.System{}
	}
	if e.Timers == nil {
		e.Timers = timer.New(e.Clock)
	}
	if e.Defer == nil {
		e.Defer = func(fn func()) bool { fn(); return true }
	}
	if e.Observer == nil {
		e.Observer = nopObserver{}
	}
}

// base carries what every kind shares. Kinds embed it.
type base struct {
	reg  *Registry
	self Node
	desc Descriptor
	kind Kind
	id   int

	ups   []int
	downs []int
}

func newBase(d Descriptor, k Kind) base {
	return base{desc: d, kind: k, id: -1}
}

func (b *base) Name() string { return b.desc.Name }
func (b *base) ID() int      { return b.id }
func (b *base) Kind() Kind   { return b.kind }
func (b *base) core() *base  { return b }

// Propagate by default forwards to downstream nodes.
func (b *base) Propagate(Node) { b.fanout() }

func (b *base) Activate() error { return nil }

func (b *base) env() *Env { return &b.reg.env }

func (b *base) now() time.Time { return b.reg.env.Clock.Now() }

// changed reports a state change without forwarding it.
func (b *base) changed() { b.reg.env.Observer.Changed(b.self) }

func (b *base) fanout() { b.reg.fanout(b.self) }

// emit reports a state change and forwards it downstream.
func (b *base) emit() {
	b.changed()
	b.fanout()
}

func (b *base) fault(op string, err error) {
	herr := &HardwareError{Node: b.desc.Name, Op: op, Err: err}
	log.Printf("graph: %v", herr)
	b.reg.env.Observer.Fault(b.self, herr)
}

func (b *base) upstream() []Node {
	out := make([]Node, len(b.ups))
	for i, u := range b.ups {
		out[i] = b.reg.nodes[u]
	}
	return out
}

// post defers fn from an edge handler, logging a dropped event.
func (b *base) post(fn func()) {
	if !b.reg.env.Defer(fn) {
		log.Printf("graph: %s: event dropped, queue full", b.desc.Name)
	}
}

func bit(v bool) int {
	if v {
		return 1
	}
	return 0
}

func bitf(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// high reads another node's output as a bit.
func high(n Node) bool {
	v := n.Output()
	return !math.IsNaN(v) && v != 0
}
