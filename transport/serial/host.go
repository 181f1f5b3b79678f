// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"fmt"
	"io"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
)

// DefaultBaudRates are tried in order until one opens.
var DefaultBaudRates = []int{9600, 115200, 38400, 19200, 57600}

// DefaultVendorIDs are USB vendor IDs of common scanner and USB-serial chipsets.
var DefaultVendorIDs = []uint16{
	0x0403, // FTDI
	0x067b, // Prolific
	0x10c4, // Silicon Labs CP210x
	0x1a86, // QinHeng CH340
	0x2341, // Arduino
	0x0c2e, // Honeywell / Metrologic
	0x05e0, // Zebra / Symbol
	0x1eab, // Newland
	0x0483, // STMicroelectronics
}

// PortInfo describes a serial port offered to the operator.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"usb"`
	VendorID     uint16 `json:"vendor_id,omitempty"`
	ProductID    uint16 `json:"product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// MatchesVendor reports whether the port's USB vendor is in ids.
func (p PortInfo) MatchesVendor(ids []uint16) bool {
	return p.IsUSB && slices.Contains(ids, p.VendorID)
}

// Port is an open serial connection. Drivers return ports that also
// implement io.Reader; the manager verifies this before reading.
type Port interface {
	io.Closer
}

// Host is the platform's serial capability.
type Host interface {
	// Ports lists the ports the operator may choose from.
	Ports() ([]PortInfo, error)
	// Open opens name at baud with 8 data bits, no parity, 1 stop bit and
	// no flow control.
	Open(name string, baud int) (Port, error)
}

// Driver names accepted by NewHost.
const (
	DriverGridX = "gridx"
	DriverBugST = "bugst"
)

// supportedOS lists the platforms the drivers and enumerator build for.
var supportedOS = []string{"linux", "darwin", "windows", "freebsd", "openbsd"}

// NewHost returns the host capability for a driver. It fails with
// ErrFeatureUnavailable on platforms without serial support.
func NewHost(driver string, pollInterval time.Duration) (Host, error) {
	if !slices.Contains(supportedOS, runtime.GOOS) {
		return nil, linkError(KindFeatureUnavailable, "host", ErrFeatureUnavailable)
	}
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	switch driver {
	case "", DriverGridX:
		return &gridxHost{poll: pollInterval}, nil
	case DriverBugST:
		return &bugstHost{poll: pollInterval}, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q", driver)
	}
}

// enumeratePorts lists ports with USB details where the platform has them.
func enumeratePorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if d.IsUSB {
			info.VendorID = parseUSBID(d.VID)
			info.ProductID = parseUSBID(d.PID)
		}
		ports = append(ports, info)
	}
	return ports, nil
}

// parseUSBID parses a hexadecimal VID/PID as reported by the enumerator.
func parseUSBID(s string) uint16 {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

// FilterByVendor keeps the ports whose USB vendor is in ids.
func FilterByVendor(ports []PortInfo, ids []uint16) []PortInfo {
	var out []PortInfo
	for _, p := range ports {
		if p.MatchesVendor(ids) {
			out = append(out, p)
		}
	}
	return out
}

// ParseVendorID parses a hexadecimal USB vendor ID such as "0403" or "0x0403".
func ParseVendorID(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid vendor id %q: %w", s, err)
	}
	return uint16(v), nil
}
