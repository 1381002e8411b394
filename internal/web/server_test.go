package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/homegraph/internal/clock"
	"github.com/sweeney/homegraph/internal/control"
	"github.com/sweeney/homegraph/internal/graph"
	"github.com/sweeney/homegraph/internal/loop"
	"github.com/sweeney/homegraph/internal/status"
	"github.com/sweeney/homegraph/internal/timer"
)

func inline(fn func()) bool { fn(); return true }

// codes collects observed response codes from server goroutines.
type codes struct {
	mu  sync.Mutex
	got []int
}

func (c *codes) observe(code int) {
	c.mu.Lock()
	c.got = append(c.got, code)
	c.mu.Unlock()
}

func (c *codes) list() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.got...)
}

type fixture struct {
	reg     *graph.Registry
	tracker *status.Tracker
	mux     *control.Mux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, status.Config{
		BootID:      "b00t",
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":8081",
		QueueSize:   64,
	})
	hidden := false
	thresh, reps := 0.5, 0
	r := graph.NewRegistry(graph.Env{Observer: tr})
	err := r.Build([]graph.Descriptor{
		{Name: "sw1", Type: "toggleswitch"},
		{Name: "heat", Type: "regulator", Upstream: []string{"sw1"}, Thresh: &thresh, FilterReps: &reps},
		{Name: "hidden", Type: "toggleswitch", Web: &hidden},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := r.ActivateAll(); err != nil {
		t.Fatalf("ActivateAll: %v", err)
	}
	tr.Track(r.Nodes())

	m := control.NewMux()
	if err := r.RegisterControls(m); err != nil {
		t.Fatalf("RegisterControls: %v", err)
	}
	return &fixture{reg: r, tracker: tr, mux: m}
}

func (f *fixture) server(t *testing.T, o Options) *httptest.Server {
	t.Helper()
	o.Tracker = f.tracker
	o.Control = f.mux
	if o.Post == nil {
		o.Post = inline
	}
	ts := httptest.NewServer(New(o).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, u string) (int, string) {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestJSONEndpoint(t *testing.T) {
	f := newFixture(t)
	ts := f.server(t, Options{})
	f.tracker.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.BootID != "b00t" {
		t.Errorf("BootID: got %q", sj.Status.BootID)
	}
	if len(sj.Status.Nodes) != 3 {
		t.Fatalf("Nodes: got %d, want 3", len(sj.Status.Nodes))
	}
	if sj.Status.Nodes[1].Name != "heat" || sj.Status.Nodes[1].Kind != "regulator" {
		t.Errorf("node 1: got %+v", sj.Status.Nodes[1])
	}
}

func TestHTMLEndpoints(t *testing.T) {
	f := newFixture(t)
	ts := f.server(t, Options{})

	for _, p := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + p)
		if err != nil {
			t.Fatalf("GET %s: %v", p, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", p, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q, want text/html", p, ct)
		}
		if !strings.Contains(string(body), `id="state-heat"`) {
			t.Errorf("%s: node table missing", p)
		}
		if !strings.Contains(string(body), `<td id="out-heat" class="unknown">unknown</td>`) {
			t.Errorf("%s: unseeded regulator should render as unknown", p)
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	f := newFixture(t)
	ts := f.server(t, Options{})

	for _, p := range []string{"/nonexistent", "/sw1/set", "/sw1/set/on/now", "/nope/get", "/sw1/set/explode", "/hidden/get"} {
		if code, _ := get(t, ts.URL+p); code != http.StatusNotFound {
			t.Errorf("%s: got %d, want 404", p, code)
		}
	}
}

func TestControlGetAndSet(t *testing.T) {
	f := newFixture(t)
	var seen codes
	ts := f.server(t, Options{Observe: seen.observe})

	code, body := get(t, ts.URL+"/sw1/get")
	if code != 200 || body != `{"0":0,"1":1,"2":0}` {
		t.Errorf("get: %d %s", code, body)
	}

	code, body = get(t, ts.URL+"/sw1/set/on")
	if code != 200 || body != "" {
		t.Errorf("set: %d %q", code, body)
	}

	_, body = get(t, ts.URL+"/heat/get")
	if body != `{"0":1,"1":1}` {
		t.Errorf("heat should follow sw1, got %s", body)
	}

	snap := f.tracker.Snapshot()
	if n, _ := snap.Node("sw1"); n.Changes != 1 {
		t.Errorf("tracker changes: got %d, want 1", n.Changes)
	}
	if got := seen.list(); len(got) != 3 {
		t.Errorf("observed %d requests, want 3", len(got))
	}
}

func TestControlParams(t *testing.T) {
	f := newFixture(t)
	ts := f.server(t, Options{})
	heat, _ := f.reg.Lookup("heat")

	if code, _ := get(t, ts.URL+"/heat/set/thresh?value=19"); code != 200 {
		t.Fatalf("query: got %d", code)
	}
	if got := heat.(*graph.Regulator).Threshold(); got != 19 {
		t.Errorf("threshold from query: got %v, want 19", got)
	}

	resp, err := http.PostForm(ts.URL+"/heat/set/thresh", url.Values{"value": {"21.5"}})
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("form: got %d", resp.StatusCode)
	}
	if got := heat.(*graph.Regulator).Threshold(); got != 21.5 {
		t.Errorf("threshold from form: got %v, want 21.5", got)
	}

	if code, _ := get(t, ts.URL+"/heat/set/thresh?value=warm"); code != http.StatusBadRequest {
		t.Errorf("bad value: got %d, want 400", code)
	}
}

func TestControlQueueFull(t *testing.T) {
	f := newFixture(t)
	var seen codes
	ts := f.server(t, Options{
		Post:    func(func()) bool { return false },
		Observe: seen.observe,
	})

	if code, _ := get(t, ts.URL+"/sw1/set/on"); code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", code)
	}
	sw1, _ := f.reg.Lookup("sw1")
	if sw1.Output() != 0 {
		t.Error("a rejected request must not run")
	}
	if got := seen.list(); len(got) != 1 || got[0] != http.StatusServiceUnavailable {
		t.Errorf("observed %v", got)
	}
}

func TestControlTimeout(t *testing.T) {
	f := newFixture(t)
	ts := f.server(t, Options{
		Post:    func(func()) bool { return true }, // accepted, never run
		Timeout: 20 * time.Millisecond,
	})

	if code, _ := get(t, ts.URL+"/sw1/get"); code != http.StatusGatewayTimeout {
		t.Errorf("got %d, want 504", code)
	}
}

func TestControlThroughMainLoop(t *testing.T) {
	clk := clock.System{}
	l := loop.New(clk, timer.New(clk))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f := newFixture(t)
	ts := f.server(t, Options{Post: l.Post})

	if code, _ := get(t, ts.URL+"/sw1/set/toggle"); code != 200 {
		t.Fatalf("toggle: got %d", code)
	}
	if _, body := get(t, ts.URL+"/sw1/get"); body != `{"0":1,"1":1,"2":0}` {
		t.Errorf("get: %s", body)
	}
}

func TestAllowList(t *testing.T) {
	f := newFixture(t)
	_, local, _ := net.ParseCIDR("127.0.0.0/8")
	_, lan, _ := net.ParseCIDR("192.168.1.0/24")

	allowed := New(Options{Tracker: f.tracker, Control: f.mux, Post: inline, Allow: []*net.IPNet{local, lan}})

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:5000", 200},
		{"192.168.1.77:5000", 200},
		{"192.168.2.77:5000", 403},
		{"[::1]:5000", 403},
		{"garbage", 403},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/sw1/get", nil)
		req.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		allowed.Handler().ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.remote, rec.Code, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	ts := f.server(t, Options{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
	code, body := get(t, ts.URL+"/metrics")
	if code != 200 {
		t.Fatalf("status: got %d", code)
	}
	if !strings.Contains(body, "test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", body)
	}

	bare := f.server(t, Options{})
	if code, _ := get(t, bare.URL+"/metrics"); code != http.StatusNotFound {
		t.Errorf("without a handler: got %d, want 404", code)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	f := newFixture(t)
	ts := f.server(t, Options{})

	var sj1 status.StatusJSON
	_, body := get(t, ts.URL+"/index.json")
	json.Unmarshal([]byte(body), &sj1)
	if sj1.Status.Nodes[0].Changes != 0 {
		t.Error("expected no changes initially")
	}

	if err := f.reg.Act("sw1", "on", nil); err != nil {
		t.Fatalf("Act: %v", err)
	}
	f.tracker.SetMQTTConnected(true)

	var sj2 status.StatusJSON
	_, body = get(t, ts.URL+"/index.json")
	json.Unmarshal([]byte(body), &sj2)
	if sj2.Status.Nodes[0].Changes != 1 {
		t.Errorf("changes: got %d, want 1", sj2.Status.Nodes[0].Changes)
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
