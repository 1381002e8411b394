package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultBufferSize is how many messages are held while disconnected.
const DefaultBufferSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Base       string // topic prefix, DefaultBase if empty
	BufferSize int

	// OnConnectionChange, if set, is called from the client goroutine
	// whenever the connection comes up or goes down.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are kept in a ring buffer and sent, oldest
// first, once it is back.
type RealPublisher struct {
	client paho.Client
	topics Topics
	notify func(bool)

	mu        sync.Mutex
	buf       *ringBuffer
	handler   CommandHandler
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// A broker that is down at startup is not an error: the client keeps
// retrying and publications are buffered meanwhile.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Base == "" {
		o.Base = DefaultBase
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		topics: Topics{Base: o.Base},
		notify: o.OnConnectionChange,
		buf:    newRingBuffer(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetWill(p.topics.System(), string(will), 1, false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.onLost(err) })

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: %s not reachable yet, buffering until connected", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	pending := p.buf.drainAll()
	h := p.handler
	p.mu.Unlock()

	log.Printf("mqtt: connected, replaying %d buffered messages", len(pending))
	if h != nil {
		if err := p.subscribe(h); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}
	for _, m := range pending {
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		p.client.Publish(p.topics.System(), 1, false, payload)
	}
	if p.notify != nil {
		p.notify(true)
	}
}

func (p *RealPublisher) onLost(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	log.Printf("mqtt: connection lost: %v", err)
	if p.notify != nil {
		p.notify(false)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// send publishes or buffers msg. With wait set it blocks until the broker
// acknowledges or the timeout passes.
func (p *RealPublisher) send(msg bufferedMsg, wait bool) error {
	p.mu.Lock()
	if !p.connected {
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !wait {
		go func() {
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				log.Printf("mqtt: publish %s: %v", msg.topic, token.Error())
			}
		}()
		return nil
	}
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishState sends a node's state to its retained state topic. It does
// not wait for the broker.
func (p *RealPublisher) PublishState(event StateEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), retained so new subscribers see current state
	return p.send(bufferedMsg{
		topic:    p.topics.State(event.Node),
		payload:  payload,
		retained: true,
	}, false)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - we want to ensure delivery
	return p.send(bufferedMsg{
		topic:    p.topics.System(),
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	}, !event.Async)
}

// Subscribe routes messages on command topics to h. The subscription is
// renewed on every reconnect.
func (p *RealPublisher) Subscribe(h CommandHandler) error {
	p.mu.Lock()
	p.handler = h
	connected := p.connected
	p.mu.Unlock()

	if !connected {
		return nil
	}
	return p.subscribe(h)
}

func (p *RealPublisher) subscribe(h CommandHandler) error {
	token := p.client.Subscribe(p.topics.Commands(), 1, func(_ paho.Client, msg paho.Message) {
		if msg.Retained() {
			log.Printf("mqtt: ignoring retained command on %s", msg.Topic())
			return
		}
		cmd, err := ParseCommand(p.topics, msg.Topic(), msg.Payload())
		if err != nil {
			log.Printf("mqtt: %v", err)
			return
		}
		h(cmd)
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
