package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const yamlConfig = `
device:
  name: exam-room-3
  protocol: tagged
  serial_device: auto
  idle_timeout: 2m
  backoff:
    initial: 500ms
    max: 10s
server:
  port: 9090
  grpc_enabled: true
hub:
  queue_size: 16
  overflow_policy: disconnect
logging:
  file: /var/log/scalebridge.log
`

const tomlConfig = `
[device]
name = "exam-room-3"
protocol = "tagged"
serial_device = "auto"
idle_timeout = "2m"

[device.backoff]
initial = "500ms"
max = "10s"

[server]
port = 9090
grpc_enabled = true

[hub]
queue_size = 16
overflow_policy = "disconnect"

[logging]
file = "/var/log/scalebridge.log"
`

func checkLoaded(t *testing.T, c *ConfigData) {
	t.Helper()
	if c.Device.Name != "exam-room-3" || c.Device.Protocol != "tagged" {
		t.Errorf("device = %+v", c.Device)
	}
	if c.Device.DiscoverMatch != "UART_Bridge" {
		t.Errorf("DiscoverMatch default = %q", c.Device.DiscoverMatch)
	}
	if c.Device.Baud != 9600 {
		t.Errorf("Baud default = %d", c.Device.Baud)
	}
	if c.Device.IdleTimeout.Duration != 2*time.Minute {
		t.Errorf("IdleTimeout = %v", c.Device.IdleTimeout)
	}
	if c.Device.Backoff.Initial.Duration != 500*time.Millisecond || c.Device.Backoff.Max.Duration != 10*time.Second {
		t.Errorf("Backoff = %+v", c.Device.Backoff)
	}
	if c.Device.Backoff.Multiplier != 2 {
		t.Errorf("Backoff.Multiplier default = %v", c.Device.Backoff.Multiplier)
	}
	if c.Server.ListenAddr != "0.0.0.0" || c.Server.Port != 9090 || !c.Server.GRPCEnabled {
		t.Errorf("server = %+v", c.Server)
	}
	if c.Hub.QueueSize != 16 || c.Hub.OverflowPolicy != OverflowDisconnect {
		t.Errorf("hub = %+v", c.Hub)
	}
	if c.Logging.File != "/var/log/scalebridge.log" || c.Logging.MaxBackups != 3 {
		t.Errorf("logging = %+v", c.Logging)
	}
}

func TestYAMLProvider(t *testing.T) {
	p := NewYAMLProvider(writeFile(t, "scalebridge.yaml", yamlConfig))
	c, err := p.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	checkLoaded(t, c)
}

func TestTOMLProvider(t *testing.T) {
	p := NewTOMLProvider(writeFile(t, "scalebridge.toml", tomlConfig))
	c, err := p.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	checkLoaded(t, c)
}

func TestUnknownKeysRejected(t *testing.T) {
	if _, err := NewYAMLProvider(writeFile(t, "c.yaml", "device:\n  serial_devcie: /dev/ttyUSB0\n")).LoadConfig(); err == nil {
		t.Error("YAML with misspelled key loaded")
	}
	if _, err := NewTOMLProvider(writeFile(t, "c.toml", "[device]\nserial_devcie = \"/dev/ttyUSB0\"\n")).LoadConfig(); err == nil {
		t.Error("TOML with misspelled key loaded")
	}
}

func TestSQLiteProviderRoundTrip(t *testing.T) {
	src, err := NewYAMLProvider(writeFile(t, "scalebridge.yaml", yamlConfig)).LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(t.TempDir(), "scalebridge.db")
	p, err := NewSQLiteProvider(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.SaveConfig(src); err != nil {
		t.Fatal(err)
	}
	c, err := p.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	checkLoaded(t, c)
	if p.IsReadOnly() {
		t.Error("SQLite provider reports read-only")
	}
}

func TestSQLiteProviderUnknownKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "scalebridge.db")
	p, err := NewSQLiteProvider(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if _, err := p.db.Exec(`INSERT INTO config_items (section, key, value) VALUES ('device', 'colour', 'blue')`); err != nil {
		t.Fatal(err)
	}
	if _, err := p.LoadConfig(); err == nil || !strings.Contains(err.Error(), "device.colour") {
		t.Errorf("LoadConfig() error = %v, want unknown key device.colour", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConfigData)
		wantErr string
	}{
		{
			name:   "serial device ok",
			mutate: func(c *ConfigData) {},
		},
		{
			name:    "no transport",
			mutate:  func(c *ConfigData) { c.Device.SerialDevice = "" },
			wantErr: "either a serial device or hostname+port",
		},
		{
			name: "both transports",
			mutate: func(c *ConfigData) {
				c.Device.Hostname, c.Device.Port = "10.0.0.5", "4001"
			},
			wantErr: "both a serial device and a hostname",
		},
		{
			name:    "bad overflow policy",
			mutate:  func(c *ConfigData) { c.Hub.OverflowPolicy = "block" },
			wantErr: "overflow_policy",
		},
		{
			name:    "cert without key",
			mutate:  func(c *ConfigData) { c.Server.Cert = "/etc/ssl/cert.pem" },
			wantErr: "cert and key",
		},
		{
			name:    "same frame markers",
			mutate:  func(c *ConfigData) { c.Device.FrameStart, c.Device.FrameEnd = "|", "|" },
			wantErr: "must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ConfigData{Device: DeviceData{SerialDevice: "/dev/ttyUSB0"}}
			c.ApplyDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in       string
		expected time.Duration
		wantErr  bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"45", 45 * time.Second, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		d, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr || d.Duration != tt.expected {
			t.Errorf("ParseDuration(%q) = %v, %v", tt.in, d, err)
		}
	}
}

func TestSQLiteSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "scalebridge.db")
	p, err := NewSQLiteProvider(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	m := SchemaMigrator(p.db)
	v, err := m.GetCurrentVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("schema version = %d, want 2", v)
	}
	pending, err := m.GetPendingMigrations()
	if err != nil || len(pending) != 0 {
		t.Errorf("pending = %v, %v; want none", pending, err)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	c, err := NewYAMLProvider(filepath.Join("..", "..", "scalebridge.yaml.example")).LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if c.Device.SerialDevice != AutoDevice || c.Hub.OverflowPolicy != OverflowDropOldest {
		t.Errorf("example config = %+v", c)
	}
}
