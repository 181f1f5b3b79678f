// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package keyboard captures scans from keyboard-wedge scanners: a burst of
// keystrokes terminated by Enter, or a paste.
package keyboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/ffutop/scanintake/internal/diaglog"
	"github.com/ffutop/scanintake/transport"
)

// ErrNotListening is returned when input arrives while the channel is closed.
var ErrNotListening = errors.New("keyboard: channel is not listening")

// Channel is the keyboard capture channel. Events are read from an optional
// terminal and from Paste/Sink calls made by other surfaces.
type Channel struct {
	sink Sink
	in   io.Reader
	out  io.Writer
	diag *diaglog.Log

	mu       sync.Mutex
	open     bool
	pumpOnce sync.Once
}

var _ transport.Channel = (*Channel)(nil)

// New returns a keyboard channel reading terminal events from in. in may
// be nil when input only comes through Paste or Sink. When out is a
// terminal, bracketed paste is enabled while the channel is open.
func New(in io.Reader, out io.Writer, diag *diaglog.Log) *Channel {
	return &Channel{in: in, out: out, diag: diag}
}

func (c *Channel) Mode() transport.Mode { return transport.ModeKeyboard }

// Sink exposes the text sink for programmatic keystroke injection.
func (c *Channel) Sink() *Sink { return &c.sink }

func (c *Channel) Open(_ context.Context, handle transport.LineHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink.attach(handle)
	if !c.open {
		c.open = true
		c.setBracketedPaste(true)
		c.diag.Infof("keyboard capture listening")
	}
	if c.in != nil {
		c.pumpOnce.Do(func() { go c.pump() })
	}
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	c.sink.detach()
	c.setBracketedPaste(false)
	c.diag.Infof("keyboard capture closed")
	return nil
}

// Paste delivers text as a paste event.
func (c *Channel) Paste(text string) error {
	if !c.sink.Paste(text) {
		return ErrNotListening
	}
	return nil
}

// pump feeds terminal events into the sink for the life of the process.
// Events read while the channel is closed are dropped by the sink.
func (c *Channel) pump() {
	dec := newDecoder(c.in)
	for {
		ev, err := dec.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("keyboard input stopped", "err", err)
			}
			return
		}
		switch ev.kind {
		case eventText:
			c.sink.Type(ev.text)
		case eventBackspace:
			c.sink.Backspace()
		case eventEnter:
			c.sink.Enter()
		case eventPaste:
			c.sink.Paste(ev.text)
		}
	}
}

func (c *Channel) setBracketedPaste(on bool) {
	f, ok := c.out.(interface {
		io.Writer
		Fd() uintptr
	})
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return
	}
	seq := disableBracketedPaste
	if on {
		seq = enableBracketedPaste
	}
	_, _ = io.WriteString(f, seq)
}
