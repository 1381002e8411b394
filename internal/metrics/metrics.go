// Package metrics exposes graph and main-loop activity as Prometheus
// collectors.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/homegraph/internal/graph"
	"github.com/sweeney/homegraph/internal/loop"
)

const namespace = "homegraph"

// Metrics is a graph.Observer that counts changes and faults per node.
// The loop and transport hooks are safe from any goroutine.
type Metrics struct {
	changesTotal   *prometheus.CounterVec
	faultsTotal    *prometheus.CounterVec
	nodeOutput     *prometheus.GaugeVec
	requestsTotal  *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	timersPending  prometheus.Gauge
	droppedTotal   prometheus.Counter
	processedTotal prometheus.Counter
	timerFires     prometheus.Counter
	mqttConnected  prometheus.Gauge

	mu   sync.Mutex
	last loop.Stats
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		changesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_changes_total",
			Help:      "State changes reported per node",
		}, []string{"node", "kind"}),
		faultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_faults_total",
			Help:      "Hardware faults reported per node",
		}, []string{"node"}),
		nodeOutput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_output",
			Help:      "Current primary output of each node, NaN while unknown",
		}, []string{"node"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_requests_total",
			Help:      "Control requests served, by transport and response code",
		}, []string{"transport", "code"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_queue_depth",
			Help:      "Deferred callbacks waiting for the main loop",
		}),
		timersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_timers_pending",
			Help:      "Timers scheduled in the timer engine",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_dropped_total",
			Help:      "Deferred callbacks dropped because the queue was full",
		}),
		processedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_processed_total",
			Help:      "Deferred callbacks run by the main loop",
		}),
		timerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_timer_fires_total",
			Help:      "Timer callbacks run by the main loop",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected_binary",
			Help:      "Registers when the MQTT broker connection is up",
		}),
	}

	reg.MustRegister(
		m.changesTotal,
		m.faultsTotal,
		m.nodeOutput,
		m.requestsTotal,
		m.queueDepth,
		m.timersPending,
		m.droppedTotal,
		m.processedTotal,
		m.timerFires,
		m.mqttConnected,
	)
	return m
}

// Track creates the per-node series so every node is exported before its
// first change.
func (m *Metrics) Track(nodes []graph.Node) {
	for _, n := range nodes {
		m.changesTotal.WithLabelValues(n.Name(), string(n.Kind()))
		m.faultsTotal.WithLabelValues(n.Name())
		m.nodeOutput.WithLabelValues(n.Name()).Set(n.Output())
	}
}

// Changed implements graph.Observer.
func (m *Metrics) Changed(n graph.Node) {
	m.changesTotal.WithLabelValues(n.Name(), string(n.Kind())).Inc()
	m.nodeOutput.WithLabelValues(n.Name()).Set(n.Output())
}

// Fault implements graph.Observer.
func (m *Metrics) Fault(n graph.Node, _ error) {
	m.faultsTotal.WithLabelValues(n.Name()).Inc()
}

// ObserveLoop records loop counters. The loop reports running totals;
// the counters advance by the difference since the previous call.
func (m *Metrics) ObserveLoop(s loop.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queueDepth.Set(float64(s.Queued))
	m.timersPending.Set(float64(s.Timers))
	if s.Dropped > m.last.Dropped {
		m.droppedTotal.Add(float64(s.Dropped - m.last.Dropped))
	}
	if s.Processed > m.last.Processed {
		m.processedTotal.Add(float64(s.Processed - m.last.Processed))
	}
	if s.TimerFires > m.last.TimerFires {
		m.timerFires.Add(float64(s.TimerFires - m.last.TimerFires))
	}
	m.last = s
}

// ObserveRequest counts a control request answered with status.
func (m *Metrics) ObserveRequest(transport string, status int) {
	m.requestsTotal.WithLabelValues(transport, strconv.Itoa(status)).Inc()
}

// SetMQTTConnected records the broker connection state.
func (m *Metrics) SetMQTTConnected(connected bool) {
	if connected {
		m.mqttConnected.Set(1)
		return
	}
	m.mqttConnected.Set(0)
}
