package scale

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AutoDevice is the serial_device value that asks the station to find the
// scale by name instead of using a fixed path.
const AutoDevice = "auto"

// DefaultDiscoverMatch matches the CP210x USB to UART bridge built into the
// Health o meter scales.
const DefaultDiscoverMatch = "UART_Bridge"

// byIDDir is where udev publishes stable names for USB serial adapters.
var byIDDir = "/dev/serial/by-id"

// SerialPort is one serial device visible to the host.
type SerialPort struct {
	// Path is the device node, e.g. /dev/ttyUSB0.
	Path string
	// Description is the udev by-id name, which embeds vendor and product.
	Description string
}

// ListSerialPorts returns the USB serial adapters udev knows about. A host
// with no adapters, or without udev, returns an empty list.
func ListSerialPorts() ([]SerialPort, error) {
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ports []SerialPort
	for _, e := range entries {
		link := filepath.Join(byIDDir, e.Name())
		target, err := filepath.EvalSymlinks(link)
		if err != nil {
			continue
		}
		ports = append(ports, SerialPort{Path: target, Description: e.Name()})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Path < ports[j].Path })
	return ports, nil
}

// FindSerialPort returns the first adapter whose description contains match
// (case-insensitive). The path changes when a USB adapter is re-plugged, so
// this runs on every reconnect.
func FindSerialPort(match string) (SerialPort, bool) {
	ports, err := ListSerialPorts()
	if err != nil {
		return SerialPort{}, false
	}
	needle := strings.ToLower(match)
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p.Description), needle) {
			return p, true
		}
	}
	return SerialPort{}, false
}
