package graph

import (
	"fmt"
	"time"

	"github.com/sweeney/homegraph/internal/control"
	"github.com/sweeney/homegraph/internal/timer"
)

// mode is the manual/auto flag shared by the switch kinds. A switch with
// no upstream nodes can only be driven by hand, so it starts manual.
type mode struct {
	manual bool
}

func initialMode(d Descriptor) mode {
	return mode{manual: len(d.Upstream) == 0}
}

// ToggleSwitch flips on every upstream trigger while in auto mode.
type ToggleSwitch struct {
	base
	mode
	output bool
	shadow bool
}

func newToggleSwitch(b base) (Node, error) {
	def, err := b.desc.defaultBit()
	if err != nil {
		return nil, err
	}
	return &ToggleSwitch{base: b, mode: initialMode(b.desc), output: def, shadow: def}, nil
}

func (s *ToggleSwitch) Output() float64 { return bitf(s.output) }

// State is [output, manual, shadow].
func (s *ToggleSwitch) State() State {
	return State{bit(s.output), bit(s.manual), bit(s.shadow)}
}

// Propagate reacts to the fact of a trigger, not to the origin's value.
func (s *ToggleSwitch) Propagate(Node) {
	if s.manual {
		return
	}
	s.shadow = !s.shadow
	s.output = s.shadow
	s.emit()
}

func (s *ToggleSwitch) force(v bool) {
	s.output = v
	if !s.manual {
		s.shadow = v
	}
	s.emit()
}

func (s *ToggleSwitch) actions() map[string]action {
	a := map[string]action{
		"on":     func(*control.Request) error { s.force(true); return nil },
		"off":    func(*control.Request) error { s.force(false); return nil },
		"toggle": func(*control.Request) error { s.force(!s.output); return nil },
	}
	if len(s.ups) > 0 {
		a["man"] = func(*control.Request) error {
			s.manual = true
			s.shadow = s.output
			s.changed()
			return nil
		}
		a["auto"] = func(*control.Request) error {
			s.manual = false
			s.shadow = s.output
			s.changed()
			return nil
		}
	}
	return a
}

// TimerMode decides what a trigger does while a TimedSwitch is running.
type TimerMode string

const (
	TimerRestart   TimerMode = "restart"
	TimerIgnore    TimerMode = "ignore"
	TimerIncrement TimerMode = "increment"
)

// TimedSwitch turns on when triggered and off again after a duration.
type TimedSwitch struct {
	base
	mode
	duration  time.Duration
	timerMode TimerMode
	def       bool

	output bool
	shadow bool
	timer  timer.ID
	incr   int
}

func newTimedSwitch(b base) (Node, error) {
	d := b.desc
	def, err := d.defaultBit()
	if err != nil {
		return nil, err
	}
	dur, err := d.timerDuration()
	if err != nil {
		return nil, err
	}
	tm := TimerMode(d.TimerMode)
	switch tm {
	case "":
		tm = TimerRestart
	case TimerRestart, TimerIgnore, TimerIncrement:
	default:
		return nil, configErr(d.Name, "timer_mode", ErrInvalidField, d.TimerMode)
	}
	return &TimedSwitch{
		base:      b,
		mode:      initialMode(d),
		duration:  dur,
		timerMode: tm,
		def:       def,
		output:    def,
		shadow:    def,
	}, nil
}

func (s *TimedSwitch) Output() float64 { return bitf(s.output) }

// State is [output, manual, timer active, shadow].
func (s *TimedSwitch) State() State {
	return State{bit(s.output), bit(s.manual), bit(s.running()), bit(s.shadow)}
}

func (s *TimedSwitch) running() bool { return s.timer != timer.None }

func (s *TimedSwitch) Propagate(Node) {
	if s.manual {
		return
	}
	if s.timerMode == TimerIgnore && s.running() {
		return
	}

	timers := s.env().Timers
	d := s.duration
	switch s.timerMode {
	case TimerRestart:
		timers.Cancel(s.timer)
	case TimerIncrement:
		timers.Cancel(s.timer)
		s.incr++
		d = s.duration * time.Duration(s.incr)
	}

	s.shadow = true
	s.output = true
	// Armed before emit so observers see the timer flag, but it cannot
	// fire until this propagation has returned to the loop.
	s.timer = timers.After(d, s.expire)
	s.emit()
}

func (s *TimedSwitch) expire() {
	s.timer = timer.None
	s.incr = 0
	s.output = false
	s.shadow = false
	s.emit()
}

func (s *TimedSwitch) timerOff() {
	s.env().Timers.Cancel(s.timer)
	s.timer = timer.None
	s.incr = 0
}

func (s *TimedSwitch) set(v bool) {
	s.timerOff()
	s.output = v
	s.emit()
}

func (s *TimedSwitch) actions() map[string]action {
	a := map[string]action{
		"on":     func(*control.Request) error { s.set(true); return nil },
		"off":    func(*control.Request) error { s.set(false); return nil },
		"toggle": func(*control.Request) error { s.set(!s.output); return nil },
	}
	if len(s.ups) > 0 {
		a["man"] = func(*control.Request) error {
			s.timerOff()
			s.manual = true
			s.changed()
			return nil
		}
		a["auto"] = func(*control.Request) error {
			s.timerOff()
			s.manual = false
			s.shadow = s.def
			s.output = s.def
			s.emit()
			return nil
		}
	}
	return a
}

// InputOp combines upstream bits in an OnOffSwitch.
type InputOp string

const (
	OpAnd InputOp = "and"
	OpOr  InputOp = "or"
	OpXor InputOp = "xor"
)

// OnOffSwitch is the combinational switch: its auto value is a reduction
// over every upstream output.
type OnOffSwitch struct {
	base
	mode
	op       InputOp
	duration time.Duration

	output bool
	shadow bool
	timer  timer.ID
}

func newOnOffSwitch(b base) (Node, error) {
	d := b.desc
	def, err := d.defaultBit()
	if err != nil {
		return nil, err
	}
	dur, err := d.timerDuration()
	if err != nil {
		return nil, err
	}
	op := InputOp(d.InputOp)
	switch op {
	case "":
		op = OpOr
	case OpAnd, OpOr, OpXor:
	default:
		return nil, configErr(d.Name, "input_op", ErrInvalidField, d.InputOp)
	}
	return &OnOffSwitch{
		base:     b,
		mode:     initialMode(d),
		op:       op,
		duration: dur,
		output:   def,
		shadow:   def,
	}, nil
}

func (s *OnOffSwitch) Output() float64 { return bitf(s.output) }

// State is [output, manual, timer active, shadow].
func (s *OnOffSwitch) State() State {
	return State{bit(s.output), bit(s.manual), bit(s.timer != timer.None), bit(s.shadow)}
}

func (s *OnOffSwitch) reduce() bool {
	var v bool
	if s.op == OpAnd {
		v = true
	}
	for _, u := range s.upstream() {
		switch s.op {
		case OpAnd:
			v = v && high(u)
		case OpOr:
			v = v || high(u)
		case OpXor:
			v = v != high(u)
		}
	}
	return v
}

// Propagate recomputes the shadow from all upstream nodes and always
// forwards, even in manual mode.
func (s *OnOffSwitch) Propagate(Node) {
	s.shadow = s.reduce()
	if !s.manual {
		s.output = s.shadow
	}
	s.emit()
}

func (s *OnOffSwitch) timerOff() {
	s.env().Timers.Cancel(s.timer)
	s.timer = timer.None
}

func (s *OnOffSwitch) set(v bool) {
	s.timerOff()
	s.output = v
	s.emit()
}

// timed forces v now and reverts after d: to the live shadow in auto mode,
// to the complement of v in manual mode.
func (s *OnOffSwitch) timed(v bool, d time.Duration) {
	s.timerOff()
	s.output = v
	s.timer = s.env().Timers.After(d, func() {
		s.timer = timer.None
		if s.manual {
			s.output = !v
		} else {
			s.output = s.shadow
		}
		s.emit()
	})
	s.emit()
}

func (s *OnOffSwitch) durationParam(req *control.Request) (time.Duration, error) {
	if _, ok := req.Param("duration"); !ok {
		return s.duration, nil
	}
	v, err := req.Float("duration")
	if err != nil || v <= 0 {
		return 0, &ControlError{Node: s.Name(), Action: "timer", Err: fmt.Errorf("%w: duration", ErrBadParam)}
	}
	return seconds(v), nil
}

func (s *OnOffSwitch) actions() map[string]action {
	a := map[string]action{
		"on":     func(*control.Request) error { s.set(true); return nil },
		"off":    func(*control.Request) error { s.set(false); return nil },
		"toggle": func(*control.Request) error { s.set(!s.output); return nil },
		"ontimer": func(req *control.Request) error {
			d, err := s.durationParam(req)
			if err != nil {
				return err
			}
			s.timed(true, d)
			return nil
		},
		"offtimer": func(req *control.Request) error {
			d, err := s.durationParam(req)
			if err != nil {
				return err
			}
			s.timed(false, d)
			return nil
		},
	}
	if len(s.ups) > 0 {
		a["man"] = func(*control.Request) error {
			s.timerOff()
			s.manual = true
			s.changed()
			return nil
		}
		a["auto"] = func(*control.Request) error {
			s.timerOff()
			s.manual = false
			s.output = s.shadow
			s.emit()
			return nil
		}
	}
	return a
}
