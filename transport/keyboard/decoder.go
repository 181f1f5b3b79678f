// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package keyboard

import (
	"bufio"
	"io"
	"strings"
)

const (
	pasteStart = "\x1b[200~"
	pasteEnd   = "\x1b[201~"

	enableBracketedPaste  = "\x1b[?2004h"
	disableBracketedPaste = "\x1b[?2004l"
)

type eventKind int

const (
	eventText eventKind = iota
	eventEnter
	eventBackspace
	eventPaste
)

type event struct {
	kind eventKind
	text string
}

// decoder turns a terminal byte stream into sink events. Bracketed paste
// sequences become a single paste event.
type decoder struct {
	r *bufio.Reader
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: bufio.NewReader(r)}
}

func (d *decoder) next() (event, error) {
	for {
		r, _, err := d.r.ReadRune()
		if err != nil {
			return event{}, err
		}
		switch {
		case r == '\r':
			if d.r.Buffered() > 0 {
				if b, _ := d.r.Peek(1); len(b) == 1 && b[0] == '\n' {
					_, _ = d.r.Discard(1)
				}
			}
			return event{kind: eventEnter}, nil
		case r == '\n':
			return event{kind: eventEnter}, nil
		case r == 0x7f || r == '\b':
			return event{kind: eventBackspace}, nil
		case r == 0x1b:
			if ev, ok, err := d.escape(); ok || err != nil {
				return ev, err
			}
		case r == '\t' || r >= 0x20:
			return event{kind: eventText, text: string(r)}, nil
		}
	}
}

// escape consumes the sequence introduced by ESC. A paste start yields a
// paste event; other CSI and SS3 sequences such as arrow keys are dropped
// whole. ESC before any other byte is dropped on its own.
func (d *decoder) escape() (event, bool, error) {
	b, err := d.r.Peek(1)
	if err != nil {
		return event{}, false, err
	}
	switch b[0] {
	case '[':
		_, _ = d.r.Discard(1)
		seq, err := d.readCSI()
		if err != nil {
			return event{}, false, err
		}
		if seq == pasteStart[2:] {
			text, err := d.readPaste()
			return event{kind: eventPaste, text: text}, true, err
		}
	case 'O':
		_, _ = d.r.Discard(1)
		if _, err := d.r.ReadByte(); err != nil {
			return event{}, false, err
		}
	}
	return event{}, false, nil
}

// readCSI reads the parameter and intermediate bytes of a control sequence
// up to and including its final byte. A byte that cannot belong to the
// sequence ends it and is left unread.
func (d *decoder) readCSI() (string, error) {
	var sb strings.Builder
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			return sb.String(), err
		}
		switch {
		case c >= 0x40 && c <= 0x7e:
			sb.WriteByte(c)
			return sb.String(), nil
		case c >= 0x20 && c <= 0x3f:
			sb.WriteByte(c)
		default:
			_ = d.r.UnreadByte()
			return sb.String(), nil
		}
	}
}

func (d *decoder) readPaste() (string, error) {
	var sb strings.Builder
	for {
		r, _, err := d.r.ReadRune()
		if err != nil {
			return sb.String(), err
		}
		sb.WriteRune(r)
		if strings.HasSuffix(sb.String(), pasteEnd) {
			return strings.TrimSuffix(sb.String(), pasteEnd), nil
		}
	}
}
