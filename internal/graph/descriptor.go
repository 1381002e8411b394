package graph

import (
	"strings"
	"time"
)

// Kind is a node type as written in configuration.
type Kind string

const (
	KindPushButton  Kind = "pushbutton"
	KindLevelButton Kind = "levelbutton"
	KindToggle      Kind = "toggleswitch"
	KindTimed       Kind = "timedswitch"
	KindOnOff       Kind = "onoffswitch"
	KindRegulator   Kind = "regulator"
	KindDigitalOut  Kind = "digitalout"
	KindOneWireBus  Kind = "onewirebus"
	KindThermometer Kind = "thermometer"
)

var kindAliases = map[string]Kind{
	"onoffbutton":         KindLevelButton,
	"combinationalswitch": KindOnOff,
}

// ParseKind resolves a type string, including aliases.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if k, ok := kindAliases[s]; ok {
		return k, true
	}
	k := Kind(s)
	_, ok := constructors[k]
	return k, ok
}

// Defaults.
const (
	DefaultFilterMS      = 400
	DefaultFilterReps    = 300
	DefaultTimerDuration = 60.0
	DefaultBusPeriod     = 600.0
	DefaultSettleMS      = 750
)

// Descriptor is one node's configuration. Durations are in seconds unless
// the field name says otherwise.
type Descriptor struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Upstream []string `yaml:"upstream,omitempty"`
	Web      *bool    `yaml:"web,omitempty"`

	Pin          *int   `yaml:"pin,omitempty"`
	Invert       bool   `yaml:"invert,omitempty"`
	Pull         string `yaml:"pull,omitempty"`
	PushType     string `yaml:"push_type,omitempty"`
	DefaultState int    `yaml:"default_state,omitempty"`
	FilterMS     *int   `yaml:"filter_ms,omitempty"`
	FilterReps   *int   `yaml:"filter_reps,omitempty"`

	UpdatePeriod *float64 `yaml:"update_period,omitempty"`
	InitDelay    *float64 `yaml:"init_delay,omitempty"`

	TimerDuration *float64 `yaml:"timer_duration,omitempty"`
	TimerMode     string   `yaml:"timer_mode,omitempty"`
	InputOp       string   `yaml:"input_op,omitempty"`

	Thresh     *float64 `yaml:"thresh,omitempty"`
	DeltaPlus  float64  `yaml:"delta_plus,omitempty"`
	DeltaMinus float64  `yaml:"delta_minus,omitempty"`

	Bus      string `yaml:"bus,omitempty"`
	SettleMS *int   `yaml:"settle_ms,omitempty"`
	RomID    string `yaml:"rom_id,omitempty"`
}

// WebEnabled reports whether control routes are registered for the node.
func (d Descriptor) WebEnabled() bool {
	return d.Web == nil || *d.Web
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func (d Descriptor) requirePin() (int, error) {
	if d.Pin == nil {
		return 0, configErr(d.Name, "pin", ErrMissingField)
	}
	if *d.Pin < 0 {
		return 0, configErr(d.Name, "pin", ErrInvalidField, *d.Pin)
	}
	return *d.Pin, nil
}

func (d Descriptor) defaultBit() (bool, error) {
	switch d.DefaultState {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, configErr(d.Name, "default_state", ErrInvalidField, d.DefaultState)
}

func (d Descriptor) timerDuration() (time.Duration, error) {
	v := floatOr(d.TimerDuration, DefaultTimerDuration)
	if v <= 0 {
		return 0, configErr(d.Name, "timer_duration", ErrInvalidField, v)
	}
	return seconds(v), nil
}

func (d Descriptor) nonNegative(field string, p *float64, def float64) (time.Duration, error) {
	v := floatOr(p, def)
	if v < 0 {
		return 0, configErr(d.Name, field, ErrInvalidField, v)
	}
	return seconds(v), nil
}
