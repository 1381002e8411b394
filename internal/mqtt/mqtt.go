// Package mqtt publishes node state changes and daemon lifecycle events,
// and receives control commands, with an abstraction for testing.
//
// Topics live under a configurable base:
//
//	<base>/<node>/state         retained node state, published on change
//	<base>/<node>/set/<action>  commands, routed to the node's control action
//	<base>/system               lifecycle events (STARTUP, SHUTDOWN, ...)
package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sweeney/homegraph/internal/graph"
)

// DefaultBase is the topic prefix when none is configured.
const DefaultBase = "home/graph"

var errNotSubscribed = errors.New("no command handler subscribed")

// Topics builds topic names under Base.
type Topics struct {
	Base string
}

// State is the retained state topic for node.
func (t Topics) State(node string) string { return t.Base + "/" + node + "/state" }

// System is the topic for lifecycle events.
func (t Topics) System() string { return t.Base + "/system" }

// Commands is the subscription filter matching every command topic.
func (t Topics) Commands() string { return t.Base + "/+/set/+" }

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishState sends a node's state. It must not block: it is called
	// from the main loop.
	PublishState(event StateEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Command is a control request received on a command topic.
type Command struct {
	Node   string
	Action string
	Params map[string]string
}

// CommandHandler receives commands. It runs on the MQTT client's goroutine.
type CommandHandler func(cmd Command)

// Subscriber delivers commands from the broker.
type Subscriber interface {
	Subscribe(h CommandHandler) error
}

// StateEvent is one node state change.
type StateEvent struct {
	Timestamp time.Time
	Node      string
	Kind      string
	State     graph.State
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
	Async      bool   // Don't wait for the broker; set by callers on the main loop
}

// Payload represents the MQTT message payload for a state change.
type Payload struct {
	Node NodePayload `json:"node"`
}

// NodePayload contains the node state details.
type NodePayload struct {
	Timestamp string          `json:"timestamp"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	State     json.RawMessage `json:"state"`
}

// FormatPayload creates the JSON payload for a state change.
func FormatPayload(event StateEvent) ([]byte, error) {
	st, err := event.State.MarshalJSON()
	if err != nil {
		return nil, err
	}
	payload := Payload{
		Node: NodePayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Name:      event.Node,
			Kind:      event.Kind,
			State:     st,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED, FAULT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParseCommand decodes a message on a command topic. The payload is
// either empty, a JSON object of parameters, or a bare value which
// becomes the "value" parameter:
//
//	home/graph/heat/set/thresh  21.5
//	home/graph/hall/set/ontimer {"duration": 30}
func ParseCommand(t Topics, topic string, payload []byte) (Command, error) {
	rest, ok := strings.CutPrefix(topic, t.Base+"/")
	if !ok {
		return Command{}, fmt.Errorf("topic %q outside %q", topic, t.Base)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return Command{}, fmt.Errorf("not a command topic: %q", topic)
	}
	params, err := parseParams(payload)
	if err != nil {
		return Command{}, fmt.Errorf("%s: %w", topic, err)
	}
	return Command{Node: parts[0], Action: parts[2], Params: params}, nil
}

func parseParams(payload []byte) (map[string]string, error) {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 {
		return nil, nil
	}
	if p[0] != '{' {
		return map[string]string{"value": string(p)}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	params := make(map[string]string, len(obj))
	for k, v := range obj {
		switch v := v.(type) {
		case string:
			params[k] = v
		case json.Number:
			params[k] = v.String()
		case bool, nil:
			params[k] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("param %q: nested values not supported", k)
		}
	}
	return params, nil
}

// Notifier is a graph.Observer that publishes every state change to the
// node's state topic and every hardware fault as a FAULT system event.
type Notifier struct {
	pub Publisher
	now func() time.Time
}

// NewNotifier creates a Notifier publishing to pub.
func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub, now: time.Now}
}

// Changed implements graph.Observer.
func (n *Notifier) Changed(node graph.Node) {
	err := n.pub.PublishState(StateEvent{
		Timestamp: n.now(),
		Node:      node.Name(),
		Kind:      string(node.Kind()),
		State:     node.State(),
	})
	if err != nil {
		log.Printf("mqtt: publish %s state: %v", node.Name(), err)
	}
}

// Fault implements graph.Observer.
func (n *Notifier) Fault(node graph.Node, err error) {
	perr := n.pub.PublishSystem(SystemEvent{
		Timestamp: n.now(),
		Event:     "FAULT",
		Reason:    err.Error(),
		Async:     true,
	})
	if perr != nil {
		log.Printf("mqtt: publish %s fault: %v", node.Name(), perr)
	}
}
