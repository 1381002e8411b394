// Package web serves the control API and the status page over HTTP.
//
// Control requests ("/<node>/get", "/<node>/set/<action>") are not served
// on the HTTP goroutine: each is posted to the main loop, which owns the
// nodes, and the handler waits for the reply.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sweeney/homegraph/internal/control"
	"github.com/sweeney/homegraph/internal/status"
)

// DefaultTimeout bounds the wait for the main loop to answer.
const DefaultTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Addr    string
	Tracker *status.Tracker
	Control *control.Mux

	// Post queues work on the main loop. It must not block and returns
	// false when the queue is full.
	Post    func(func()) bool
	Timeout time.Duration

	// Allow restricts clients by address. Empty allows everyone.
	Allow []*net.IPNet

	// Metrics, if set, is served at /metrics.
	Metrics http.Handler

	// Observe, if set, is told the status of every control request.
	Observe func(status int)
}

// Server serves the control API and status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	control    *control.Mux
	post       func(func()) bool
	timeout    time.Duration
	allow      []*net.IPNet
	observe    func(int)
}

// New creates a Server.
func New(o Options) *Server {
	s := &Server{
		tracker: o.Tracker,
		control: o.Control,
		post:    o.Post,
		timeout: o.Timeout,
		allow:   o.Allow,
		observe: o.Observe,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}

	r := mux.NewRouter()
	r.Use(s.allowed)
	r.Path("/").HandlerFunc(s.handleIndex)
	r.Path("/index.html").HandlerFunc(s.handleIndex)
	r.Path("/index.json").HandlerFunc(s.handleJSON)
	if o.Metrics != nil {
		r.Path("/metrics").Handler(o.Metrics)
	}
	r.Path("/{node}/get").HandlerFunc(s.handleControl)
	r.Path("/{node}/set/{action}").HandlerFunc(s.handleControl)

	s.httpServer = &http.Server{
		Addr:              o.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// allowed rejects clients outside the allow-list with 403.
func (s *Server) allowed(next http.Handler) http.Handler {
	if len(s.allow) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		for _, n := range s.allow {
			if ip != nil && n.Contains(ip) {
				next.ServeHTTP(w, r)
				return
			}
		}
		log.Printf("web: rejected %s %s from %s", r.Method, r.URL.Path, host)
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleControl marshals the request onto the main loop and writes the
// reply. Query and form parameters are merged; the first value of a
// repeated key wins.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	path := []string{vars["node"], "get"}
	if action, ok := vars["action"]; ok {
		path = []string{vars["node"], "set", action}
	}

	if err := r.ParseForm(); err != nil {
		s.reply(w, &control.Response{Status: http.StatusBadRequest})
		return
	}
	params := make(map[string]string, len(r.Form))
	for k, v := range r.Form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	req := control.NewRequest(r.Method, path, params)
	done := make(chan *control.Response, 1)
	if !s.post(func() { done <- s.control.Serve(req) }) {
		log.Printf("web: main loop queue full, rejecting %s", r.URL.Path)
		s.reply(w, &control.Response{Status: http.StatusServiceUnavailable})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	select {
	case resp := <-done:
		s.reply(w, resp)
	case <-ctx.Done():
		s.reply(w, &control.Response{Status: http.StatusGatewayTimeout})
	}
}

func (s *Server) reply(w http.ResponseWriter, resp *control.Response) {
	if s.observe != nil {
		s.observe(resp.Status)
	}
	if resp.Body == nil {
		w.WriteHeader(resp.Status)
		return
	}
	data, err := json.Marshal(resp.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(data)
}
