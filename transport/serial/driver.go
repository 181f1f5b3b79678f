// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	gridx "github.com/grid-x/serial"
	bugst "go.bug.st/serial"
)

// errPoll is returned by a driver port when a read timed out without data.
// The stream reader treats it as "nothing yet" and polls again.
var errPoll = errors.New("serial: poll interval elapsed")

// gridxHost opens ports with github.com/grid-x/serial.
type gridxHost struct {
	poll time.Duration
}

func (h *gridxHost) Ports() ([]PortInfo, error) {
	return enumeratePorts()
}

func (h *gridxHost) Open(name string, baud int) (Port, error) {
	cfg := &gridx.Config{
		Address:  name,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  h.poll, // read poll interval, not a scan timeout
	}
	p, err := gridx.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", name, err)
	}
	slog.Debug("serial port opened", "driver", DriverGridX, "device", name, "baudRate", baud)
	return &gridxPort{port: p}, nil
}

type gridxPort struct {
	port gridx.Port
}

func (p *gridxPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if errors.Is(err, gridx.ErrTimeout) {
		return n, errPoll
	}
	return n, err
}

func (p *gridxPort) Close() error {
	return p.port.Close()
}

// bugstHost opens ports with go.bug.st/serial.
type bugstHost struct {
	poll time.Duration
}

func (h *bugstHost) Ports() ([]PortInfo, error) {
	return enumeratePorts()
}

func (h *bugstHost) Open(name string, baud int) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	p, err := bugst.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(h.poll); err != nil {
		p.Close()
		return nil, fmt.Errorf("could not set read timeout on %s: %w", name, err)
	}
	slog.Debug("serial port opened", "driver", DriverBugST, "device", name, "baudRate", baud)
	return &bugstPort{port: p}, nil
}

type bugstPort struct {
	port bugst.Port
}

// Read maps the driver's (0, nil) timeout result onto errPoll.
func (p *bugstPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && err == nil {
		return 0, errPoll
	}
	return n, err
}

func (p *bugstPort) Close() error {
	return p.port.Close()
}
