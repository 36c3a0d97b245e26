package scale

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindSerialPort(t *testing.T) {
	dir := t.TempDir()
	devDir := filepath.Join(dir, "dev")
	idDir := filepath.Join(dir, "by-id")
	for _, d := range []string{devDir, idDir} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	links := map[string]string{
		"usb-FTDI_FT232R_USB_UART_A1-if00-port0":                       "ttyUSB0",
		"usb-Silicon_Labs_CP2102_USB_to_UART_Bridge_Controller_0001-if00": "ttyUSB1",
	}
	for name, dev := range links {
		target := filepath.Join(devDir, dev)
		if err := os.WriteFile(target, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(target, filepath.Join(idDir, name)); err != nil {
			t.Fatal(err)
		}
	}

	old := byIDDir
	byIDDir = idDir
	t.Cleanup(func() { byIDDir = old })

	ports, err := ListSerialPorts()
	if err != nil {
		t.Fatal(err)
	}
	if len(ports) != 2 {
		t.Fatalf("ListSerialPorts() returned %d ports, want 2", len(ports))
	}

	p, ok := FindSerialPort(DefaultDiscoverMatch)
	if !ok {
		t.Fatal("FindSerialPort did not match the UART bridge")
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(devDir, "ttyUSB1"))
	if p.Path != want {
		t.Errorf("Path = %q, want %q", p.Path, want)
	}

	if _, ok := FindSerialPort("prolific"); ok {
		t.Error("FindSerialPort matched a port that is not present")
	}
}

func TestListSerialPortsWithoutUdev(t *testing.T) {
	old := byIDDir
	byIDDir = filepath.Join(t.TempDir(), "missing")
	t.Cleanup(func() { byIDDir = old })

	ports, err := ListSerialPorts()
	if err != nil || len(ports) != 0 {
		t.Errorf("ListSerialPorts() = %v, %v; want empty, nil", ports, err)
	}
}
