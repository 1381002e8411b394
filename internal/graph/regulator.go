package graph

import (
	"fmt"
	"math"
	"time"

	"github.com/sweeney/homegraph/internal/control"
	"github.com/sweeney/homegraph/internal/filter"
)

// AggOp aggregates upstream values in a Regulator.
type AggOp string

const (
	AggFirst AggOp = "first"
	AggAvg   AggOp = "avg"
	AggMin   AggOp = "min"
	AggMax   AggOp = "max"
)

// Regulator is a threshold switch with hysteresis. It turns on at
// thresh+delta_plus and off at thresh-delta_minus; values in between leave
// the output alone.
type Regulator struct {
	base
	op     AggOp
	thresh float64
	plus   float64
	minus  float64
	repeat *filter.AntiRepeat

	seeded bool
	output bool
	value  float64
}

func newRegulator(b base) (Node, error) {
	d := b.desc
	if d.Thresh == nil {
		return nil, configErr(d.Name, "thresh", ErrMissingField)
	}
	if d.DeltaPlus < 0 {
		return nil, configErr(d.Name, "delta_plus", ErrInvalidField, d.DeltaPlus)
	}
	if d.DeltaMinus < 0 {
		return nil, configErr(d.Name, "delta_minus", ErrInvalidField, d.DeltaMinus)
	}
	op := AggOp(d.InputOp)
	switch op {
	case "":
		op = AggFirst
	case AggFirst, AggAvg, AggMin, AggMax:
	default:
		return nil, configErr(d.Name, "input_op", ErrInvalidField, d.InputOp)
	}
	return &Regulator{
		base:   b,
		op:     op,
		thresh: *d.Thresh,
		plus:   d.DeltaPlus,
		minus:  d.DeltaMinus,
		repeat: filter.NewAntiRepeat(time.Duration(intOr(d.FilterReps, DefaultFilterReps)) * time.Second),
		value:  math.NaN(),
	}, nil
}

func (r *Regulator) Output() float64 {
	if !r.seeded {
		return math.NaN()
	}
	return bitf(r.output)
}

// State is [output, value]; both are null until the first value arrives.
func (r *Regulator) State() State {
	if !r.seeded {
		return State{nil, nil}
	}
	return State{bit(r.output), r.value}
}

// Threshold returns the current threshold.
func (r *Regulator) Threshold() float64 { return r.thresh }

func (r *Regulator) aggregate() (float64, bool) {
	var vals []float64
	for _, u := range r.upstream() {
		v := u.Output()
		if math.IsNaN(v) {
			continue
		}
		if r.op == AggFirst {
			return v, true
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return 0, false
	}
	agg := vals[0]
	for _, v := range vals[1:] {
		switch r.op {
		case AggAvg:
			agg += v
		case AggMin:
			agg = math.Min(agg, v)
		case AggMax:
			agg = math.Max(agg, v)
		}
	}
	if r.op == AggAvg {
		agg /= float64(len(vals))
	}
	return agg, true
}

// Propagate recomputes the aggregate over all upstream nodes.
func (r *Regulator) Propagate(Node) {
	v, ok := r.aggregate()
	if !ok {
		return
	}
	r.value = v
	inv := r.desc.Invert

	if !r.seeded {
		r.seeded = true
		r.output = (v > r.thresh) != inv
		r.emit()
		return
	}

	if r.repeat.Suppress(r.now()) {
		return
	}
	up := v >= r.thresh+r.plus
	down := v <= r.thresh-r.minus
	var on bool
	switch {
	case up && down:
		// Zero-width band and v sits on the threshold: hold.
		return
	case up:
		on = true
	case down:
		on = false
	default:
		return
	}
	if out := on != inv; out != r.output {
		r.output = out
		r.emit()
	}
}

func (r *Regulator) actions() map[string]action {
	return map[string]action{
		"thresh": func(req *control.Request) error {
			v, err := req.Float("value")
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return &ControlError{Node: r.Name(), Action: "thresh", Err: fmt.Errorf("%w: value", ErrBadParam)}
			}
			// Takes effect on the next value; the output is not re-evaluated.
			r.thresh = v
			return nil
		},
	}
}
