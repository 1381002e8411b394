package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/sweeney/homegraph/internal/config"
	"github.com/sweeney/homegraph/internal/gpio"
	"github.com/sweeney/homegraph/internal/graph"
	"github.com/sweeney/homegraph/internal/onewire"
)

// simulatedTemp is what simulated thermometers read.
const simulatedTemp = 20.0

// hardware owns the GPIO chip and the one-wire buses opened for it.
type hardware struct {
	chip  gpio.Chip
	open  func(bus string) (onewire.Bus, error)
	buses map[string]onewire.Bus
}

func realHardware(d *config.Daemon) (*hardware, error) {
	chip, err := gpio.NewRealChip(d.GPIOChip)
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	root := d.W1Root
	return &hardware{
		chip: chip,
		open: func(bus string) (onewire.Bus, error) {
			return onewire.NewSysfsBus(root, bus), nil
		},
		buses: make(map[string]onewire.Bus),
	}, nil
}

// simulatedHardware stands in fakes for the chip and buses. Every
// thermometer in nodes reads simulatedTemp.
func simulatedHardware(nodes []graph.Descriptor) *hardware {
	fake := onewire.NewFakeBus()
	for _, n := range nodes {
		if k, _ := graph.ParseKind(n.Type); k == graph.KindThermometer && n.RomID != "" {
			fake.SetTemp(n.RomID, simulatedTemp)
		}
	}
	return &hardware{
		chip: gpio.NewFakeChip(),
		open: func(string) (onewire.Bus, error) {
			return fake, nil
		},
		buses: make(map[string]onewire.Bus),
	}
}

// OneWire opens a bus once and hands out the same handle after that.
func (h *hardware) OneWire(bus string) (onewire.Bus, error) {
	if b, ok := h.buses[bus]; ok {
		return b, nil
	}
	b, err := h.open(bus)
	if err != nil {
		return nil, err
	}
	h.buses[bus] = b
	return b, nil
}

// Close releases the GPIO lines and buses.
func (h *hardware) Close() error {
	var errs []error
	for name, b := range h.buses {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	if err := h.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close gpio: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		log.Printf("hardware close: %v", err)
		return err
	}
	return nil
}
