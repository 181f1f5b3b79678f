// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package keyboard

import (
	"strings"
	"sync"

	"github.com/ffutop/scanintake/payload"
	"github.com/ffutop/scanintake/transport"
)

// Sink is the focused text sink a keyboard-wedge scanner types into.
// Input is dropped while no handler is attached.
type Sink struct {
	mu     sync.Mutex
	buf    strings.Builder
	handle transport.LineHandler
}

func (s *Sink) attach(handle transport.LineHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	s.handle = handle
}

func (s *Sink) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	s.handle = nil
}

// Type appends keystrokes to the buffer.
func (s *Sink) Type(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		s.buf.WriteString(text)
	}
}

// Backspace removes the last character.
func (s *Sink) Backspace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return
	}
	r := []rune(s.buf.String())
	if len(r) == 0 {
		return
	}
	s.buf.Reset()
	s.buf.WriteString(string(r[:len(r)-1]))
}

// Enter forwards the trimmed buffer and clears it.
func (s *Sink) Enter() bool {
	s.mu.Lock()
	handle := s.handle
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	s.mu.Unlock()

	if handle == nil {
		return false
	}
	handle(payload.NewRawScanLine(text, payload.SourceKeyboard))
	return true
}

// Paste forwards text directly. The buffer never receives pasted text.
func (s *Sink) Paste(text string) bool {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	if handle == nil {
		return false
	}
	handle(payload.NewRawScanLine(strings.TrimSpace(text), payload.SourcePaste))
	return true
}

// Buffer returns the text typed since the last Enter.
func (s *Sink) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
