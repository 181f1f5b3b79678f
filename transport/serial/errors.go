// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	bugst "go.bug.st/serial"
)

// Kind classifies link failures reported to the operator.
type Kind int

const (
	KindConnection Kind = iota
	KindFeatureUnavailable
	KindDeviceNotFound
	KindPortUnavailable
	KindOpenFailed
	KindNotReadable
	KindReadError
)

func (k Kind) String() string {
	switch k {
	case KindFeatureUnavailable:
		return "feature-unavailable"
	case KindDeviceNotFound:
		return "device-not-found"
	case KindPortUnavailable:
		return "port-unavailable"
	case KindOpenFailed:
		return "open-failed"
	case KindNotReadable:
		return "not-readable"
	case KindReadError:
		return "read-error"
	default:
		return "connection-error"
	}
}

var (
	ErrFeatureUnavailable = errors.New("serial: port access not available on this platform")
	ErrDeviceNotFound     = errors.New("serial: no matching device")
	ErrPermissionDenied   = errors.New("serial: permission denied")
	ErrPortBusy           = errors.New("serial: port busy")
	ErrPortDisconnected   = errors.New("serial: port disconnected")
	ErrOpenFailedAllBauds = errors.New("serial: unable to open at common baud rates")
	ErrNotReadable        = errors.New("serial: port is not readable")
	ErrReadFailed         = errors.New("serial: read failed")
	ErrConnection         = errors.New("serial: connection error")

	// ErrNoDeviceSelected means the operator declined to choose a port.
	// It aborts a connect attempt but is not a failure.
	ErrNoDeviceSelected = errors.New("serial: no device selected")
)

// LinkError carries the failure kind alongside the operation and cause.
type LinkError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func linkError(kind Kind, op string, err error) *LinkError {
	return &LinkError{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of a link error, KindConnection for anything else.
func KindOf(err error) Kind {
	var le *LinkError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindConnection
}

// UserMessage maps an error from this package to the operator-facing text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoDeviceSelected) {
		return "No device selected."
	}
	switch KindOf(err) {
	case KindFeatureUnavailable:
		return "Serial port access is not supported on this system. Use keyboard mode instead."
	case KindDeviceNotFound:
		return "No scanner device was found, or access to it was denied."
	case KindPortUnavailable:
		return "The serial port is busy or was disconnected. Close other programs using the scanner and try again."
	case KindOpenFailed:
		return "Unable to open the serial port at common baud rates."
	case KindNotReadable:
		return "The serial port cannot be read. Disconnect and reconnect the scanner."
	case KindReadError:
		return "Error while reading from the scanner."
	default:
		return "Scanner connection error."
	}
}

// classifyOpenError maps a driver error onto a sentinel of this package.
// It returns nil when the error carries no recognisable cause.
func classifyOpenError(err error) error {
	var portErr *bugst.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case bugst.PortBusy:
			return ErrPortBusy
		case bugst.PortNotFound:
			return ErrDeviceNotFound
		case bugst.PermissionDenied:
			return ErrPermissionDenied
		case bugst.PortClosed:
			return ErrPortDisconnected
		}
		return nil
	}
	switch {
	case errors.Is(err, syscall.EBUSY):
		return ErrPortBusy
	case errors.Is(err, fs.ErrNotExist):
		return ErrDeviceNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	}
	return nil
}

// kindFor maps a classified sentinel onto its operator-facing kind.
func kindFor(sentinel error) Kind {
	switch sentinel {
	case ErrPortBusy, ErrPortDisconnected:
		return KindPortUnavailable
	case ErrDeviceNotFound, ErrPermissionDenied:
		return KindDeviceNotFound
	}
	return KindConnection
}

// isAlreadyClosed reports whether a Close error only says the port was
// closed before.
func isAlreadyClosed(err error) bool {
	if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EBADF) {
		return true
	}
	var portErr *bugst.PortError
	return errors.As(err, &portErr) && portErr.Code() == bugst.PortClosed
}
