// Package onewire provides access to one-wire temperature sensors.
//
// A conversion is started once for the whole bus and the sensors are read
// after a settle delay. Callers own the delay; nothing in this package
// sleeps.
package onewire

import (
	"errors"
	"time"
)

// DefaultSettle is the worst-case DS18B20 12-bit conversion time.
const DefaultSettle = 750 * time.Millisecond

// ErrNoDevice is returned when a ROM id is not present on the bus.
var ErrNoDevice = errors.New("onewire: no such device")

// ErrCRC is returned when a device answered with a bad checksum.
var ErrCRC = errors.New("onewire: crc mismatch")

// Bus is a one-wire bus master with temperature sensors attached.
type Bus interface {
	// StartConversion asks every sensor on the bus to sample.
	StartConversion() error

	// Read returns the last converted temperature, in degrees Celsius, of
	// the device with the given ROM id.
	Read(romID string) (float64, error)

	Close() error
}
