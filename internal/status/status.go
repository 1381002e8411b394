// Package status provides a thread-safe view of the node graph for the
// HTTP status page, the JSON endpoint and MQTT system events.
//
// The Tracker is a graph.Observer: the main loop feeds it every state
// change, and readers on other goroutines take copies with Snapshot
// without ever touching a node.
package status

import (
	"math"
	"sync"
	"time"

	"github.com/sweeney/homegraph/internal/graph"
	"github.com/sweeney/homegraph/internal/loop"
)

// NetworkInfo contains network state, as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	BootID      string
	HTTPAddr    string
	Broker      string
	Topic       string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
	GPIOChip    string
	HeartbeatMs int64
	QueueSize   int
	MaxWaitMs   int64
	Simulate    bool
}

// NodeStatus is the last known state of one node.
type NodeStatus struct {
	Name      string
	Kind      graph.Kind
	State     graph.State
	Output    float64 // NaN until known
	Changes   int
	Faults    int
	LastFault string
	Updated   time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Nodes         []NodeStatus
	Loop          loop.Stats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Node returns the status of the named node.
func (s Snapshot) Node(name string) (NodeStatus, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	index map[string]int
	now   func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		index: make(map[string]int),
		now:   time.Now,
	}
}

// Track records the current state of nodes without counting a change.
// Called once after activation so the page lists every node in graph
// order, including those that have not changed yet.
func (t *Tracker) Track(nodes []graph.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range nodes {
		ns := t.entry(n)
		ns.State = n.State()
		ns.Output = n.Output()
	}
}

// entry returns the slot for n, creating it. Caller holds the write lock.
func (t *Tracker) entry(n graph.Node) *NodeStatus {
	i, ok := t.index[n.Name()]
	if !ok {
		i = len(t.snap.Nodes)
		t.index[n.Name()] = i
		t.snap.Nodes = append(t.snap.Nodes, NodeStatus{
			Name:   n.Name(),
			Kind:   n.Kind(),
			Output: math.NaN(),
		})
	}
	return &t.snap.Nodes[i]
}

// Changed implements graph.Observer.
func (t *Tracker) Changed(n graph.Node) {
	st := n.State()
	out := n.Output()
	now := t.now()

	t.mu.Lock()
	ns := t.entry(n)
	ns.State = st
	ns.Output = out
	ns.Changes++
	ns.Updated = now
	t.mu.Unlock()
}

// Fault implements graph.Observer.
func (t *Tracker) Fault(n graph.Node, err error) {
	t.mu.Lock()
	ns := t.entry(n)
	ns.Faults++
	ns.LastFault = err.Error()
	t.mu.Unlock()
}

// SetLoopStats records the main-loop counters. Suitable as loop.AfterStep.
func (t *Tracker) SetLoopStats(s loop.Stats) {
	t.mu.Lock()
	t.snap.Loop = s
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Nodes = append([]NodeStatus(nil), t.snap.Nodes...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
