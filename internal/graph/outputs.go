package graph

import (
	"math"
	"time"

	"github.com/sweeney/homegraph/internal/gpio"
	"github.com/sweeney/homegraph/internal/onewire"
)

// DigitalOutput drives a GPIO line from the node that triggered it.
type DigitalOutput struct {
	base
	pin    int
	output bool
	out    gpio.Output
}

func newDigitalOut(b base) (Node, error) {
	pin, err := b.desc.requirePin()
	if err != nil {
		return nil, err
	}
	def, err := b.desc.defaultBit()
	if err != nil {
		return nil, err
	}
	return &DigitalOutput{base: b, pin: pin, output: def}, nil
}

func (o *DigitalOutput) Output() float64 { return bitf(o.output) }

func (o *DigitalOutput) State() State { return State{bit(o.output)} }

func (o *DigitalOutput) Activate() error {
	chip := o.env().GPIO
	if chip == nil {
		return &HardwareError{Node: o.Name(), Op: "request", Err: errNoChip}
	}
	out, err := chip.Output(o.pin, o.output)
	if err != nil {
		return &HardwareError{Node: o.Name(), Op: "request", Err: err}
	}
	o.out = out
	return nil
}

// Propagate mirrors origin. It is a terminal node: nothing is forwarded.
func (o *DigitalOutput) Propagate(origin Node) {
	if origin == nil {
		return
	}
	o.output = high(origin) != o.desc.Invert
	o.changed()
	if o.out == nil {
		return
	}
	if err := o.out.Write(o.output); err != nil {
		o.fault("write", err)
	}
}

// OneWireBus runs a conversion every update_period and, once the sensors
// have settled, forwards to its thermometers.
type OneWireBus struct {
	base
	period    time.Duration
	settle    time.Duration
	initDelay time.Duration
	hasInit   bool

	bus         onewire.Bus
	conversions int
	ok          bool
}

func newOneWireBus(b base) (Node, error) {
	d := b.desc
	if d.Bus == "" {
		return nil, configErr(d.Name, "bus", ErrMissingField)
	}
	period, err := d.nonNegative("update_period", d.UpdatePeriod, DefaultBusPeriod)
	if err != nil {
		return nil, err
	}
	if period == 0 {
		return nil, configErr(d.Name, "update_period", ErrInvalidField, 0)
	}
	settle := intOr(d.SettleMS, DefaultSettleMS)
	if settle < 0 || time.Duration(settle)*time.Millisecond >= period {
		return nil, configErr(d.Name, "settle_ms", ErrInvalidField, settle)
	}
	initDelay, err := d.nonNegative("init_delay", d.InitDelay, 0)
	if err != nil {
		return nil, err
	}
	return &OneWireBus{
		base:      b,
		period:    period,
		settle:    time.Duration(settle) * time.Millisecond,
		initDelay: initDelay,
		hasInit:   d.InitDelay != nil,
	}, nil
}

func (w *OneWireBus) Output() float64 { return math.NaN() }

// State is [conversions, last conversion ok].
func (w *OneWireBus) State() State { return State{w.conversions, bit(w.ok)} }

// Activate opens the bus and starts the conversion cycle. A bus with no
// thermometers attached is left idle.
func (w *OneWireBus) Activate() error {
	if len(w.downs) == 0 {
		return nil
	}
	open := w.env().OneWire
	if open == nil {
		return &HardwareError{Node: w.Name(), Op: "open", Err: onewire.ErrNoDevice}
	}
	bus, err := open(w.desc.Bus)
	if err != nil {
		return &HardwareError{Node: w.Name(), Op: "open", Err: err}
	}
	w.bus = bus

	timers := w.env().Timers
	timers.Every(w.period, w.convert)
	if w.hasInit {
		timers.After(w.initDelay, w.convert)
	}
	return nil
}

func (w *OneWireBus) convert() {
	if err := w.bus.StartConversion(); err != nil {
		w.ok = false
		w.fault("convert", err)
		w.changed()
		return
	}
	w.conversions++
	w.ok = true
	w.env().Timers.After(w.settle, w.emit)
}

// Thermometer is one sensor on a OneWireBus.
type Thermometer struct {
	base
	value float64
}

func newThermometer(b base) (Node, error) {
	if b.desc.RomID == "" {
		return nil, configErr(b.desc.Name, "rom_id", ErrMissingField)
	}
	return &Thermometer{base: b, value: math.NaN()}, nil
}

func (t *Thermometer) Output() float64 { return t.value }

func (t *Thermometer) State() State { return State{t.value} }

// Propagate reads this sensor from the bus that just converted.
func (t *Thermometer) Propagate(origin Node) {
	w, ok := origin.(*OneWireBus)
	if !ok || w.bus == nil {
		return
	}
	v, err := w.bus.Read(t.desc.RomID)
	if err != nil {
		t.fault("read", err)
		return
	}
	t.value = v
	t.emit()
}
