// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

// State is the link's position in its connection lifecycle:
//
//	Disconnected -> Connecting -> Connected -> Reading
//	Reading -> Connected      (line forwarded, or read error)
//	Reading -> Disconnected   (stream ended, stop)
//	Connecting -> Disconnected (no device chosen, open failed)
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReading
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReading:
		return "reading"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
