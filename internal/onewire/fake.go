package onewire

import (
	"fmt"
	"sync"
)

// FakeBus is a test double holding temperatures in memory. Values set with
// SetTemp become readable only after the next StartConversion, as on real
// hardware.
type FakeBus struct {
	mu        sync.Mutex
	pending   map[string]float64
	converted map[string]float64

	// Conversions counts StartConversion calls.
	Conversions int

	// ConvertError, if set, will be returned by StartConversion()
	ConvertError error
	// ReadError, if set, will be returned by Read()
	ReadError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeBus creates an empty bus.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		pending:   make(map[string]float64),
		converted: make(map[string]float64),
	}
}

// SetTemp attaches or updates a sensor.
func (b *FakeBus) SetTemp(romID string, celsius float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[romID] = celsius
}

// StartConversion latches pending temperatures.
func (b *FakeBus) StartConversion() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ConvertError != nil {
		return b.ConvertError
	}
	b.Conversions++
	for id, v := range b.pending {
		b.converted[id] = v
	}
	return nil
}

// Read returns the latched temperature for romID.
func (b *FakeBus) Read(romID string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadError != nil {
		return 0, b.ReadError
	}
	v, ok := b.converted[romID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", romID, ErrNoDevice)
	}
	return v, nil
}

// Close marks the bus as closed.
func (b *FakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}
