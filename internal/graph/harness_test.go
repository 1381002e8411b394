package graph

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/homegraph/internal/clock"
	"github.com/sweeney/homegraph/internal/gpio"
	"github.com/sweeney/homegraph/internal/loop"
	"github.com/sweeney/homegraph/internal/onewire"
	"github.com/sweeney/homegraph/internal/timer"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// recorder is an Observer that keeps a log of what happened.
type recorder struct {
	changes []string
	faults  []error
}

func (r *recorder) Changed(n Node) {
	r.changes = append(r.changes, fmt.Sprintf("%s=%v", n.Name(), n.Output()))
}

func (r *recorder) Fault(n Node, err error) {
	r.faults = append(r.faults, err)
}

func (r *recorder) reset() {
	r.changes = nil
	r.faults = nil
}

type harness struct {
	t    *testing.T
	clk  *clock.Fake
	loop *loop.Loop
	chip *gpio.FakeChip
	bus  *onewire.FakeBus
	rec  *recorder
	reg  *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(epoch)
	timers := timer.New(clk)
	l := loop.New(clk, timers)
	h := &harness{
		t:    t,
		clk:  clk,
		loop: l,
		chip: gpio.NewFakeChip(),
		bus:  onewire.NewFakeBus(),
		rec:  &recorder{},
	}
	h.reg = NewRegistry(Env{
		Clock:  clk,
		Timers: timers,
		Defer:  l.Post,
		GPIO:   h.chip,
		OneWire: func(string) (onewire.Bus, error) {
			return h.bus, nil
		},
		Observer: h.rec,
	})
	return h
}

// start builds, connects and activates descs.
func start(t *testing.T, descs ...Descriptor) *harness {
	t.Helper()
	h := newHarness(t)
	require.NoError(t, h.reg.Build(descs))
	require.NoError(t, h.reg.ActivateAll())
	return h
}

// advance moves time forward and runs one loop iteration.
func (h *harness) advance(d time.Duration) {
	h.clk.Advance(d)
	h.loop.Step()
}

// at moves time to epoch+d and runs one loop iteration.
func (h *harness) at(d time.Duration) {
	h.clk.Set(epoch.Add(d))
	h.loop.Step()
}

// press pulses a pull-down push button and lets the loop handle it.
func (h *harness) press(pin int) {
	h.chip.Pin(pin).Pulse(true)
	h.loop.Step()
}

func (h *harness) level(pin int, v bool) {
	h.chip.Pin(pin).Set(v)
	h.loop.Step()
}

func (h *harness) node(name string) Node {
	h.t.Helper()
	n, ok := h.reg.Lookup(name)
	require.True(h.t, ok, name)
	return n
}

func (h *harness) out(name string) float64 {
	return h.node(name).Output()
}

func (h *harness) act(name, action string, params map[string]string) {
	h.t.Helper()
	require.NoError(h.t, h.reg.Act(name, action, params))
}

func button(name string, pin int) Descriptor {
	return Descriptor{Name: name, Type: "pushbutton", Pin: ptr(pin), Pull: "down"}
}

func sensor(name string, pin int) Descriptor {
	return Descriptor{Name: name, Type: "levelbutton", Pin: ptr(pin), Pull: "down"}
}

func output(name string, pin int, up string) Descriptor {
	return Descriptor{Name: name, Type: "digitalout", Pin: ptr(pin), Upstream: []string{up}}
}
