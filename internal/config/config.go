// Package config loads the daemon settings and node list from a YAML or
// JSON file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/homegraph/internal/graph"
	"github.com/sweeney/homegraph/internal/loop"
	"github.com/sweeney/homegraph/internal/onewire"
)

// Defaults for daemon settings left out of the file.
const (
	DefaultHTTP           = ":8081"
	DefaultTopic          = "home/graph"
	DefaultHeartbeat      = 15 * time.Minute
	DefaultGPIOChip       = "gpiochip0"
	DefaultRequestTimeout = 5 * time.Second
)

// Daemon holds process-level settings. An empty Broker disables MQTT.
// HTTP falls back to DefaultHTTP; the run command's --http flag can
// still clear it to disable the listener.
type Daemon struct {
	HTTP           string        `yaml:"http"`
	AllowIP        []string      `yaml:"allow_ip,omitempty"`
	Broker         string        `yaml:"broker,omitempty"`
	WSBroker       string        `yaml:"ws_broker,omitempty"`
	Topic          string        `yaml:"topic"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
	GPIOChip       string        `yaml:"gpio_chip"`
	W1Root         string        `yaml:"w1_root"`
	QueueSize      int           `yaml:"queue_size"`
	MaxWait        time.Duration `yaml:"max_wait"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// File is the on-disk layout.
type File struct {
	Daemon Daemon             `yaml:"daemon"`
	Nodes  []graph.Descriptor `yaml:"nodes"`
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a document, rejecting unknown keys, and applies defaults.
// Node descriptors are only checked for shape here; the registry validates
// their contents.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty config")
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	f.Daemon.applyDefaults()
	if err := f.Daemon.validate(); err != nil {
		return nil, err
	}
	if len(f.Nodes) == 0 {
		return nil, errors.New("config has no nodes")
	}
	return &f, nil
}

func (d *Daemon) applyDefaults() {
	if d.HTTP == "" {
		d.HTTP = DefaultHTTP
	}
	if d.Topic == "" {
		d.Topic = DefaultTopic
	}
	if d.Heartbeat == 0 {
		d.Heartbeat = DefaultHeartbeat
	}
	if d.GPIOChip == "" {
		d.GPIOChip = DefaultGPIOChip
	}
	if d.W1Root == "" {
		d.W1Root = onewire.DefaultRoot
	}
	if d.QueueSize == 0 {
		d.QueueSize = loop.DefaultQueueSize
	}
	if d.MaxWait == 0 {
		d.MaxWait = loop.DefaultMaxWait
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = DefaultRequestTimeout
	}
}

func (d *Daemon) validate() error {
	switch {
	case d.QueueSize < 0:
		return fmt.Errorf("daemon.queue_size must be positive, got %d", d.QueueSize)
	case d.MaxWait < 0:
		return fmt.Errorf("daemon.max_wait must be positive, got %v", d.MaxWait)
	case d.Heartbeat < 0:
		return fmt.Errorf("daemon.heartbeat must be positive, got %v", d.Heartbeat)
	case d.RequestTimeout < 0:
		return fmt.Errorf("daemon.request_timeout must be positive, got %v", d.RequestTimeout)
	}
	if _, err := d.AllowNets(); err != nil {
		return err
	}
	return nil
}

// AllowNets parses allow_ip. Each entry is an address or a CIDR block; a
// bare address matches only itself. A nil result means every client is
// allowed.
func (d Daemon) AllowNets() ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, s := range d.AllowIP {
		if ip := net.ParseIP(s); ip != nil {
			bits := 8 * net.IPv6len
			if v4 := ip.To4(); v4 != nil {
				ip, bits = v4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("daemon.allow_ip: invalid entry %q", s)
		}
		nets = append(nets, n)
	}
	return nets, nil
}
