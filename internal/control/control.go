// Package control is the transport-neutral request surface of the graph.
//
// Nodes register one handler per (node, action) path. A transport (HTTP,
// MQTT) builds a Request, hands it to Mux.Serve on the main loop and then
// reads the Response.
package control

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrDuplicateRoute is returned when a path is registered twice.
var ErrDuplicateRoute = errors.New("duplicate route")

// StatusError is implemented by errors that carry a response status.
type StatusError interface {
	error
	Status() int
}

// Response is what a handler answered.
type Response struct {
	Status int
	// Body is nil for an empty response.
	Body any
}

// Request is a single control request. Only the first Send call counts.
type Request struct {
	Method string
	Path   []string
	Params map[string]string

	resp *Response
}

// NewRequest creates a request. params may be nil.
func NewRequest(method string, path []string, params map[string]string) *Request {
	if params == nil {
		params = map[string]string{}
	}
	return &Request{Method: method, Path: path, Params: params}
}

// Param returns a parameter value.
func (r *Request) Param(key string) (string, bool) {
	v, ok := r.Params[key]
	return v, ok
}

// Float parses a numeric parameter.
func (r *Request) Float(key string) (float64, error) {
	v, ok := r.Params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", key, err)
	}
	return f, nil
}

// SendJSON answers 200 with body.
func (r *Request) SendJSON(body any) {
	r.send(http.StatusOK, body)
}

// SendEmpty answers 200 with no body.
func (r *Request) SendEmpty() {
	r.send(http.StatusOK, nil)
}

// SendError answers with status and no body.
func (r *Request) SendError(status int) {
	r.send(status, nil)
}

func (r *Request) send(status int, body any) {
	if r.resp != nil {
		return
	}
	r.resp = &Response{Status: status, Body: body}
}

// Response returns the answer, or nil if none was sent.
func (r *Request) Response() *Response { return r.resp }

// Handler serves one route. A returned error that was not already answered
// becomes an error response.
type Handler func(req *Request) error

// Mux maps path segments to handlers.
type Mux struct {
	mu     sync.RWMutex
	routes map[string]Handler
}

// NewMux creates an empty mux.
func NewMux() *Mux {
	return &Mux{routes: make(map[string]Handler)}
}

func key(path []string) string { return strings.Join(path, "/") }

// Register adds a handler for path.
func (m *Mux) Register(path []string, h Handler) error {
	if len(path) == 0 || h == nil {
		return errors.New("register: empty path or nil handler")
	}
	k := key(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[k]; ok {
		return fmt.Errorf("%s: %w", k, ErrDuplicateRoute)
	}
	m.routes[k] = h
	return nil
}

// Has reports whether path is registered.
func (m *Mux) Has(path []string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.routes[key(path)]
	return ok
}

// Serve dispatches req and guarantees it has a response afterwards:
// 404 for an unknown path, the error's status (or 500) for a failed
// handler, and an empty 200 if the handler sent nothing.
func (m *Mux) Serve(req *Request) *Response {
	m.mu.RLock()
	h, ok := m.routes[key(req.Path)]
	m.mu.RUnlock()

	if !ok {
		req.SendError(http.StatusNotFound)
		return req.Response()
	}
	if err := h(req); err != nil {
		var se StatusError
		if errors.As(err, &se) {
			req.SendError(se.Status())
		} else {
			req.SendError(http.StatusInternalServerError)
		}
	}
	req.SendEmpty()
	return req.Response()
}

// Routes lists registered paths, sorted.
func (m *Mux) Routes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.routes))
	for k := range m.routes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SplitPath turns "/a/b/" into ["a", "b"].
func SplitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
