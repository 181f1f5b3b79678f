// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package payload turns the decoded text emitted by a barcode/QR scanner
// into a structured stock-intake payload.
package payload

import "time"

// Source identifies where a raw scan line came from.
type Source string

const (
	SourceKeyboard Source = "keyboard"
	SourcePaste    Source = "paste"
	SourceSerial   Source = "serial"
)

// RawScanLine is a single terminated burst of scanner output.
type RawScanLine struct {
	Text      string
	Source    Source
	Timestamp time.Time
}

// NewRawScanLine stamps text with its source and the current time.
func NewRawScanLine(text string, source Source) RawScanLine {
	return RawScanLine{Text: text, Source: source, Timestamp: time.Now()}
}

// ScannedPayload is the result of a successful parse.
// Name is never empty and Count is always >= 1.
type ScannedPayload struct {
	Name     string `json:"name"`
	Count    int    `json:"count"`
	Category string `json:"category"`
}

// ParseOutcome is either Parsed(payload) or Unparseable(reason).
type ParseOutcome struct {
	Payload ScannedPayload
	Reason  string
	parsed  bool
}

// Parsed wraps a payload. It reports Unparseable if the name is empty.
func Parsed(p ScannedPayload) ParseOutcome {
	if p.Name == "" {
		return Unparseable("empty name")
	}
	if p.Count < 1 {
		p.Count = 1
	}
	return ParseOutcome{Payload: p, parsed: true}
}

// Unparseable builds a failed outcome.
func Unparseable(reason string) ParseOutcome {
	return ParseOutcome{Reason: reason}
}

// OK reports whether the outcome carries a payload.
func (o ParseOutcome) OK() bool {
	return o.parsed
}
