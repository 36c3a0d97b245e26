package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration, with defaults applied and validated
	LoadConfig() (*ConfigData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Device  DeviceData  `json:"device" yaml:"device" toml:"device"`
	Server  ServerData  `json:"server" yaml:"server" toml:"server"`
	Hub     HubData     `json:"hub" yaml:"hub" toml:"hub"`
	Logging LoggingData `json:"logging" yaml:"logging" toml:"logging"`
}

// DeviceData holds configuration specific to the scale and its transport.
// Either SerialDevice or Hostname+Port must be set.
type DeviceData struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty" toml:"protocol"`

	// SerialDevice is a device path, or "auto" to search by DiscoverMatch.
	SerialDevice  string `json:"serial_device,omitempty" yaml:"serial_device,omitempty" toml:"serial_device"`
	DiscoverMatch string `json:"discover_match,omitempty" yaml:"discover_match,omitempty" toml:"discover_match"`
	Baud          int    `json:"baud,omitempty" yaml:"baud,omitempty" toml:"baud"`

	// Hostname and Port reach a serial-over-TCP adapter.
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty" toml:"hostname"`
	Port     string `json:"port,omitempty" yaml:"port,omitempty" toml:"port"`

	// FrameStart and FrameEnd are the literal marker bytes. Empty means STX/ETX.
	FrameStart    string `json:"frame_start,omitempty" yaml:"frame_start,omitempty" toml:"frame_start"`
	FrameEnd      string `json:"frame_end,omitempty" yaml:"frame_end,omitempty" toml:"frame_end"`
	MaxFrameBytes int    `json:"max_frame_bytes,omitempty" yaml:"max_frame_bytes,omitempty" toml:"max_frame_bytes"`

	// IdleTimeout reacquires the transport after this long without a byte.
	// Zero disables it; a scale is normally silent between weighings.
	IdleTimeout Duration    `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty" toml:"idle_timeout"`
	Backoff     BackoffData `json:"backoff,omitempty" yaml:"backoff,omitempty" toml:"backoff"`
}

// BackoffData controls reconnect pacing after a transport fault.
type BackoffData struct {
	Initial       Duration `json:"initial,omitempty" yaml:"initial,omitempty" toml:"initial"`
	Max           Duration `json:"max,omitempty" yaml:"max,omitempty" toml:"max"`
	Multiplier    float64  `json:"multiplier,omitempty" yaml:"multiplier,omitempty" toml:"multiplier"`
	DisableJitter bool     `json:"disable_jitter,omitempty" yaml:"disable_jitter,omitempty" toml:"disable_jitter"`
}

// ServerData configures the HTTP/WebSocket/gRPC listener.
type ServerData struct {
	ListenAddr  string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty" toml:"listen_addr"`
	Port        int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port"`
	Cert        string `json:"cert,omitempty" yaml:"cert,omitempty" toml:"cert"`
	Key         string `json:"key,omitempty" yaml:"key,omitempty" toml:"key"`
	GRPCEnabled bool   `json:"grpc_enabled,omitempty" yaml:"grpc_enabled,omitempty" toml:"grpc_enabled"`
	StaticDir   string `json:"static_dir,omitempty" yaml:"static_dir,omitempty" toml:"static_dir"`
}

// HubData configures per-subscriber queueing.
type HubData struct {
	QueueSize      int    `json:"queue_size,omitempty" yaml:"queue_size,omitempty" toml:"queue_size"`
	OverflowPolicy string `json:"overflow_policy,omitempty" yaml:"overflow_policy,omitempty" toml:"overflow_policy"`
}

// LoggingData configures optional file logging with rotation.
type LoggingData struct {
	Debug      bool   `json:"debug,omitempty" yaml:"debug,omitempty" toml:"debug"`
	File       string `json:"file,omitempty" yaml:"file,omitempty" toml:"file"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty" toml:"max_age_days"`
}

// Overflow policies for HubData.OverflowPolicy
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"
)

// ApplyDefaults fills every unset field with its default.
func (c *ConfigData) ApplyDefaults() {
	d := &c.Device
	if d.Name == "" {
		d.Name = "scale"
	}
	if d.Protocol == "" {
		d.Protocol = "healthometer"
	}
	if d.Baud == 0 {
		d.Baud = 9600
	}
	if d.SerialDevice == AutoDevice && d.DiscoverMatch == "" {
		d.DiscoverMatch = "UART_Bridge"
	}
	if d.MaxFrameBytes == 0 {
		d.MaxFrameBytes = 256
	}
	if d.Backoff.Initial.Duration == 0 {
		d.Backoff.Initial.Duration = time.Second
	}
	if d.Backoff.Max.Duration == 0 {
		d.Backoff.Max.Duration = 30 * time.Second
	}
	if d.Backoff.Multiplier == 0 {
		d.Backoff.Multiplier = 2
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Hub.QueueSize == 0 {
		c.Hub.QueueSize = 8
	}
	if c.Hub.OverflowPolicy == "" {
		c.Hub.OverflowPolicy = OverflowDropOldest
	}

	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// AutoDevice asks the station to discover the serial port by name.
const AutoDevice = "auto"

// Validate reports configuration that cannot work.
func (c *ConfigData) Validate() error {
	var errs []error
	d := c.Device

	if d.SerialDevice == "" && (d.Hostname == "" || d.Port == "") {
		errs = append(errs, fmt.Errorf("device [%s] must define either a serial device or hostname+port", d.Name))
	}
	if d.SerialDevice != "" && d.Hostname != "" {
		errs = append(errs, fmt.Errorf("device [%s] defines both a serial device and a hostname", d.Name))
	}
	if d.Baud < 0 {
		errs = append(errs, fmt.Errorf("device [%s] has invalid baud rate %d", d.Name, d.Baud))
	}
	if d.MaxFrameBytes < 0 {
		errs = append(errs, fmt.Errorf("device [%s] has invalid max_frame_bytes %d", d.Name, d.MaxFrameBytes))
	}
	if d.FrameStart != "" && d.FrameStart == d.FrameEnd {
		errs = append(errs, fmt.Errorf("device [%s] frame_start and frame_end must differ", d.Name))
	}
	if d.IdleTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("device [%s] idle_timeout must not be negative", d.Name))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if (c.Server.Cert == "") != (c.Server.Key == "") {
		errs = append(errs, errors.New("server cert and key must be set together"))
	}

	if c.Hub.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("hub queue_size must be at least 1, got %d", c.Hub.QueueSize))
	}
	switch strings.ToLower(c.Hub.OverflowPolicy) {
	case OverflowDropOldest, OverflowDisconnect:
	default:
		errs = append(errs, fmt.Errorf("unknown hub overflow_policy %q", c.Hub.OverflowPolicy))
	}

	return errors.Join(errs...)
}

// finish applies defaults and validates; every provider calls it on load.
func finish(c *ConfigData) (*ConfigData, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
