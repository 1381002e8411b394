package graph

import (
	"errors"
	"time"

	"github.com/sweeney/homegraph/internal/control"
	"github.com/sweeney/homegraph/internal/filter"
	"github.com/sweeney/homegraph/internal/gpio"
	"github.com/sweeney/homegraph/internal/timer"
)

var errNoChip = errors.New("no gpio chip configured")

// PushButton latches its output to 1 on every accepted press and forwards
// each press once. The output never resets on its own.
type PushButton struct {
	base
	pin      int
	pull     gpio.Pull
	edge     gpio.Edge
	debounce time.Duration

	output  bool
	enabled bool
	in      gpio.Input
}

func newPushButton(b base) (Node, error) {
	d := b.desc
	pin, err := d.requirePin()
	if err != nil {
		return nil, err
	}
	pull, err := gpio.ParsePull(d.Pull)
	if err != nil {
		return nil, configErr(d.Name, "pull", ErrInvalidField, d.Pull)
	}
	var push bool
	switch d.PushType {
	case "", "push":
		push = true
	case "release":
	default:
		return nil, configErr(d.Name, "push_type", ErrInvalidField, d.PushType)
	}
	// Wiring decides which edge is the press.
	edge := gpio.EdgeFalling
	if push != d.Invert {
		edge = gpio.EdgeRising
	}
	return &PushButton{
		base:     b,
		pin:      pin,
		pull:     pull,
		edge:     edge,
		debounce: time.Duration(intOr(d.FilterMS, DefaultFilterMS)) * time.Millisecond,
		enabled:  true,
	}, nil
}

func (p *PushButton) Output() float64 { return bitf(p.output) }

func (p *PushButton) State() State { return State{bit(p.output), bit(p.enabled)} }

// Edge is the transition treated as a press.
func (p *PushButton) Edge() gpio.Edge { return p.edge }

func (p *PushButton) Activate() error {
	chip := p.env().GPIO
	if chip == nil {
		return &HardwareError{Node: p.Name(), Op: "request", Err: errNoChip}
	}
	in, err := chip.Input(p.pin, p.pull)
	if err != nil {
		return &HardwareError{Node: p.Name(), Op: "request", Err: err}
	}
	p.in = in

	// Runs in the edge handler context: filter and defer only.
	deb := filter.NewDebounce(p.debounce)
	clk := p.env().Clock
	if err := in.Watch(p.edge, func(bool) {
		if deb.Suppress(clk.Now()) {
			return
		}
		p.post(p.press)
	}); err != nil {
		return &HardwareError{Node: p.Name(), Op: "watch", Err: err}
	}
	return nil
}

func (p *PushButton) press() {
	if !p.enabled {
		return
	}
	p.output = true
	p.emit()
}

func (p *PushButton) actions() map[string]action {
	return map[string]action{
		"pushrelease": func(*control.Request) error {
			p.press()
			return nil
		},
		"enable": func(*control.Request) error {
			p.enabled = true
			p.changed()
			return nil
		},
		"disable": func(*control.Request) error {
			p.enabled = false
			p.changed()
			return nil
		},
	}
}

// LevelButton follows an on/off input such as a contact or presence
// sensor. Its output is the input level XOR invert.
type LevelButton struct {
	base
	pin       int
	pull      gpio.Pull
	debounce  time.Duration
	period    time.Duration
	initDelay time.Duration
	hasInit   bool

	output bool
	in     gpio.Input

	recheck  timer.ID
	checking bool
}

func newLevelButton(b base) (Node, error) {
	d := b.desc
	pin, err := d.requirePin()
	if err != nil {
		return nil, err
	}
	pull, err := gpio.ParsePull(d.Pull)
	if err != nil {
		return nil, configErr(d.Name, "pull", ErrInvalidField, d.Pull)
	}
	def, err := d.defaultBit()
	if err != nil {
		return nil, err
	}
	period, err := d.nonNegative("update_period", d.UpdatePeriod, 0)
	if err != nil {
		return nil, err
	}
	initDelay, err := d.nonNegative("init_delay", d.InitDelay, 0)
	if err != nil {
		return nil, err
	}
	return &LevelButton{
		base:      b,
		pin:       pin,
		pull:      pull,
		debounce:  time.Duration(intOr(d.FilterMS, DefaultFilterMS)) * time.Millisecond,
		period:    period,
		initDelay: initDelay,
		hasInit:   d.InitDelay != nil,
		output:    def,
	}, nil
}

func (l *LevelButton) Output() float64 { return bitf(l.output) }

func (l *LevelButton) State() State { return State{bit(l.output)} }

// Activate seeds the output from the pin without propagating, then arms
// the edge handler and the optional re-sample timers.
func (l *LevelButton) Activate() error {
	chip := l.env().GPIO
	if chip == nil {
		return &HardwareError{Node: l.Name(), Op: "request", Err: errNoChip}
	}
	in, err := chip.Input(l.pin, l.pull)
	if err != nil {
		return &HardwareError{Node: l.Name(), Op: "request", Err: err}
	}
	l.in = in

	if level, err := in.Read(); err != nil {
		l.fault("read", err)
	} else {
		l.output = level != l.desc.Invert
	}

	deb := filter.NewDebounce(l.debounce)
	clk := l.env().Clock
	if err := in.Watch(gpio.EdgeBoth, func(level bool) {
		if deb.Suppress(clk.Now()) {
			return
		}
		l.post(func() {
			l.set(level)
			l.armRecheck()
		})
	}); err != nil {
		return &HardwareError{Node: l.Name(), Op: "watch", Err: err}
	}

	timers := l.env().Timers
	if l.period > 0 {
		timers.Every(l.period, l.resample)
	}
	if l.hasInit {
		timers.After(l.initDelay, l.sample)
	}
	return nil
}

func (l *LevelButton) set(level bool) {
	l.output = level != l.desc.Invert
	l.emit()
}

// sample reads the pin and always propagates.
func (l *LevelButton) sample() {
	level, err := l.in.Read()
	if err != nil {
		l.fault("read", err)
		return
	}
	l.set(level)
}

// armRecheck re-reads the pin once the debounce window has closed, so an
// edge swallowed by the filter cannot leave the output stale.
func (l *LevelButton) armRecheck() {
	if l.debounce <= 0 {
		return
	}
	timers := l.env().Timers
	if l.checking {
		timers.Cancel(l.recheck)
	}
	l.checking = true
	l.recheck = timers.After(l.debounce, func() {
		l.checking = false
		l.resample()
	})
}

// resample corrects drift from a missed or filtered edge. It only
// propagates when the level disagrees with the output.
func (l *LevelButton) resample() {
	level, err := l.in.Read()
	if err != nil {
		l.fault("read", err)
		return
	}
	if out := level != l.desc.Invert; out != l.output {
		l.set(level)
	}
}
