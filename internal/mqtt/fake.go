package mqtt

import "sync"

// FakePublisher records published events for test assertions. It is safe
// for use from the main loop while a test goroutine reads it through the
// accessor methods.
type FakePublisher struct {
	mu sync.Mutex

	// StateEvents contains all node state changes that were published.
	StateEvents []StateEvent

	// StatePayloads contains the JSON payloads for state changes.
	StatePayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishState.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	topics  Topics
	handler CommandHandler
}

// NewFakePublisher creates a FakePublisher for testing. Commands are
// expected under DefaultBase.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{topics: Topics{Base: DefaultBase}}
}

// PublishState records the state change.
func (f *FakePublisher) PublishState(event StateEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.StateEvents = append(f.StateEvents, event)
	f.StatePayloads = append(f.StatePayloads, payload)

	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Subscribe stores h for Deliver.
func (f *FakePublisher) Subscribe(h CommandHandler) error {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return nil
}

// Deliver simulates a message arriving on topic. It returns an error if
// the message is not a valid command or nothing is subscribed.
func (f *FakePublisher) Deliver(topic string, payload []byte) error {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return errNotSubscribed
	}
	cmd, err := ParseCommand(f.topics, topic, payload)
	if err != nil {
		return err
	}
	h(cmd)
	return nil
}

// Events returns copies of the recorded state and system events.
func (f *FakePublisher) Events() ([]StateEvent, []SystemEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StateEvent(nil), f.StateEvents...), append([]SystemEvent(nil), f.SystemEvents...)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StateEvents = nil
	f.StatePayloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
