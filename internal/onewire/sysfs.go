package onewire

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is where the Linux w1 subsystem exposes devices.
const DefaultRoot = "/sys/bus/w1/devices"

// SysfsBus reads sensors through the Linux w1 sysfs interface.
type SysfsBus struct {
	root   string
	master string
}

// NewSysfsBus creates a bus rooted at root (normally DefaultRoot) for the
// named bus master, e.g. "w1_bus_master1".
func NewSysfsBus(root, master string) *SysfsBus {
	if root == "" {
		root = DefaultRoot
	}
	return &SysfsBus{root: root, master: master}
}

// StartConversion triggers a bulk conversion on kernels that support it.
// Older kernels convert on every read, in which case this is a no-op.
func (b *SysfsBus) StartConversion() error {
	p := filepath.Join(b.root, b.master, "therm_bulk_read")
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.WriteFile(p, []byte("trigger\n"), 0o644); err != nil {
		return fmt.Errorf("start conversion on %s: %w", b.master, err)
	}
	return nil
}

// Read parses the device's w1_slave file.
func (b *SysfsBus) Read(romID string) (float64, error) {
	f, err := os.Open(filepath.Join(b.root, romID, "w1_slave"))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%s: %w", romID, ErrNoDevice)
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", romID, err)
	}
	defer f.Close()

	v, err := parseSlave(bufio.NewScanner(f))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", romID, err)
	}
	return v, nil
}

// parseSlave handles the two-line format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseSlave(sc *bufio.Scanner) (float64, error) {
	if !sc.Scan() {
		return 0, errors.New("empty w1_slave")
	}
	if !strings.HasSuffix(strings.TrimSpace(sc.Text()), "YES") {
		return 0, ErrCRC
	}
	if !sc.Scan() {
		return 0, errors.New("truncated w1_slave")
	}
	line := sc.Text()
	i := strings.LastIndex(line, "t=")
	if i < 0 {
		return 0, fmt.Errorf("no temperature in %q", line)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(line[i+2:]))
	if err != nil {
		return 0, fmt.Errorf("parse temperature: %w", err)
	}
	return float64(milli) / 1000, nil
}

// Close is a no-op; sysfs files are opened per read.
func (b *SysfsBus) Close() error { return nil }
