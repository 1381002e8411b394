package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// Configuration errors. They are fatal: Build stops at the first one and
// nothing is activated.
var (
	ErrDuplicateName      = errors.New("duplicate node name")
	ErrUnknownType        = errors.New("unknown node type")
	ErrMissingField       = errors.New("missing required field")
	ErrUnresolvedUpstream = errors.New("unresolved upstream")
	ErrInvalidField       = errors.New("invalid field value")
	ErrBadTopology        = errors.New("bad topology")
)

// Control request errors. They are answered, never fatal.
var (
	ErrUnknownAction = errors.New("unknown action")
	ErrBadParam      = errors.New("bad parameter")
)

// ConfigError ties a configuration error to the node and field at fault.
type ConfigError struct {
	Node  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("node %q: %v", e.Node, e.Err)
	}
	return fmt.Sprintf("node %q: %s: %v", e.Node, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(node, field string, err error, detail ...any) error {
	if len(detail) > 0 {
		err = fmt.Errorf("%w: %s", err, fmt.Sprint(detail...))
	}
	return &ConfigError{Node: node, Field: field, Err: err}
}

// ControlError is a rejected control request.
type ControlError struct {
	Node   string
	Action string
	Err    error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Node, e.Action, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

// Status maps the error onto an HTTP-style status code.
func (e *ControlError) Status() int {
	switch {
	case errors.Is(e.Err, ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(e.Err, ErrBadParam):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// HardwareError is a transient GPIO or one-wire failure. It is reported to
// the observer and not retried.
type HardwareError struct {
	Node string
	Op   string
	Err  error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Node, e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }
