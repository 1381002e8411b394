package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	BootID        string       `json:"boot_id,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Loop          LoopJSON     `json:"loop"`
	Nodes         []NodeJSON   `json:"nodes"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// LoopJSON is the JSON representation of the main-loop counters.
type LoopJSON struct {
	Queued     int    `json:"queued"`
	Timers     int    `json:"timers"`
	Dropped    uint64 `json:"dropped"`
	Processed  uint64 `json:"processed"`
	TimerFires uint64 `json:"timer_fires"`
}

// NodeJSON is one node in the status output. State is the node's own
// encoding: an object keyed by field index.
type NodeJSON struct {
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	State     json.RawMessage `json:"state"`
	Changes   int             `json:"changes"`
	Faults    int             `json:"faults,omitempty"`
	LastFault string          `json:"last_fault,omitempty"`
	Updated   string          `json:"updated,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HTTPAddr    string `json:"http"`
	Broker      string `json:"broker"`
	Topic       string `json:"topic"`
	WSBroker    string `json:"ws_broker,omitempty"`
	GPIOChip    string `json:"gpio_chip"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	QueueSize   int    `json:"queue_size"`
	MaxWaitMs   int64  `json:"max_wait_ms"`
	Simulate    bool   `json:"simulate,omitempty"`
}

func buildNodes(snap Snapshot) []NodeJSON {
	nodes := make([]NodeJSON, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		st, err := n.State.MarshalJSON()
		if err != nil {
			st = []byte("null")
		}
		nj := NodeJSON{
			Name:      n.Name,
			Kind:      string(n.Kind),
			State:     st,
			Changes:   n.Changes,
			Faults:    n.Faults,
			LastFault: n.LastFault,
		}
		if !n.Updated.IsZero() {
			nj.Updated = n.Updated.UTC().Format(time.RFC3339)
		}
		nodes = append(nodes, nj)
	}
	return nodes
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		BootID:        snap.Config.BootID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Loop: LoopJSON{
			Queued:     snap.Loop.Queued,
			Timers:     snap.Loop.Timers,
			Dropped:    snap.Loop.Dropped,
			Processed:  snap.Loop.Processed,
			TimerFires: snap.Loop.TimerFires,
		},
		Nodes: buildNodes(snap),
		Config: ConfigJSON{
			HTTPAddr:    snap.Config.HTTPAddr,
			Broker:      snap.Config.Broker,
			Topic:       snap.Config.Topic,
			WSBroker:    snap.Config.WSBroker,
			GPIOChip:    snap.Config.GPIOChip,
			HeartbeatMs: snap.Config.HeartbeatMs,
			QueueSize:   snap.Config.QueueSize,
			MaxWaitMs:   snap.Config.MaxWaitMs,
			Simulate:    snap.Config.Simulate,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
