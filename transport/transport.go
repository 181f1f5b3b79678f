// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"

	"github.com/ffutop/scanintake/payload"
)

// Mode names an ingestion channel.
type Mode string

const (
	ModeKeyboard Mode = "keyboard"
	ModeSerial   Mode = "serial"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeKeyboard, ModeSerial:
		return Mode(s), true
	}
	return "", false
}

// LineHandler receives each complete scan line produced by a channel.
// It may be called from the channel's own goroutine and may close the channel.
type LineHandler func(line payload.RawScanLine)

// Channel is a source of raw scan lines (a keyboard wedge or a serial link).
// Only the owning controller opens and closes a channel.
type Channel interface {
	Mode() Mode
	// Open starts delivering lines to handle. It returns once the channel is
	// listening; lines arrive asynchronously.
	Open(ctx context.Context, handle LineHandler) error
	// Close stops delivery. It is idempotent.
	Close() error
}
