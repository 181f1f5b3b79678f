// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultEncoding is the text encoding scanners emit unless configured.
const DefaultEncoding = "utf-8"

var errReaderCancelled = errors.New("serial: reader cancelled")

// streamReader blocks until the port yields data, ends, fails, or the
// reader is cancelled. Poll timeouts from the driver are absorbed here.
type streamReader struct {
	ctx context.Context
	r   io.Reader
}

func (s *streamReader) Read(b []byte) (int, error) {
	for {
		if s.ctx.Err() != nil {
			return 0, errReaderCancelled
		}
		n, err := s.r.Read(b)
		if errors.Is(err, errPoll) || (n == 0 && err == nil) {
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// newDecodingPipe wraps r so that reads yield text decoded from the named
// encoding (any WHATWG label, e.g. "utf-8", "iso-8859-1", "shift_jis").
// Multi-byte sequences split across reads are reassembled; invalid bytes
// become U+FFFD.
func newDecodingPipe(r io.Reader, encoding string) (io.Reader, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("unsupported scanner encoding %q: %w", encoding, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

var lineBreaks = regexp.MustCompile(`[\r\n]+`)

// SplitLines splits buf on runs of CR/LF. Every fragment but the last is a
// complete line; the last is the unterminated remainder to carry over.
func SplitLines(buf string) (lines []string, rest string) {
	parts := lineBreaks.Split(buf, -1)
	return parts[:len(parts)-1], parts[len(parts)-1]
}
