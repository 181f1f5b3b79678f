// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package diaglog keeps the last N operator diagnostics in a fixed-capacity
// ring. Entries are for display only and never drive control decisions.
package diaglog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 50

// Severity of a diagnostic entry.
type Severity uint8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", s)
	}
}

// MarshalText renders the severity name in JSON output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	for _, c := range []Severity{SeverityDebug, SeverityInfo, SeverityWarn, SeverityError} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}

// Level maps the severity onto slog.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarn:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Entry is one diagnostic line.
type Entry struct {
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is an append-only ring of the most recent entries. A nil *Log
// discards everything.
type Log struct {
	mu       sync.Mutex
	capacity int
	next     int
	count    int
	data     []byte
	storage  Storage
	closed   bool
	retained []Entry
	logger   *slog.Logger
	now      func() time.Time
}

// New loads (or initialises) a ring of the given capacity from storage.
func New(capacity int, storage Storage) (*Log, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	size := imageSize(capacity)
	data, err := storage.Load(size)
	if err != nil {
		return nil, fmt.Errorf("failed to load diag log: %w", err)
	}
	if len(data) != size {
		return nil, fmt.Errorf("diag log storage returned %d bytes, want %d", len(data), size)
	}

	l := &Log{
		capacity: capacity,
		data:     data,
		storage:  storage,
		logger:   slog.With("component", "diag"),
		now:      time.Now,
	}
	if h, ok := readHeader(data); ok && h.capacity == capacity && h.next < capacity && h.count <= capacity {
		l.next, l.count = h.next, h.count
	} else {
		clear(data)
		writeHeader(data, header{capacity: capacity})
		storage.OnWrite(0, len(data))
	}
	return l, nil
}

// Append records a message, evicting the oldest entry once full, and
// mirrors it to slog.
func (l *Log) Append(sev Severity, msg string) {
	if l == nil {
		return
	}
	l.logger.Log(context.Background(), sev.Level(), msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	off := slotOffset(l.next)
	encodeEntry(l.data[off:off+slotSize], Entry{Message: msg, Severity: sev, Timestamp: l.now()})
	l.next = (l.next + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}
	writeHeader(l.data, header{capacity: l.capacity, next: l.next, count: l.count})
	l.storage.OnWrite(0, headerSize)
	l.storage.OnWrite(off, slotSize)
}

// Debugf appends a debug entry.
func (l *Log) Debugf(format string, args ...any) {
	l.Append(SeverityDebug, fmt.Sprintf(format, args...))
}

// Infof appends an info entry.
func (l *Log) Infof(format string, args ...any) {
	l.Append(SeverityInfo, fmt.Sprintf(format, args...))
}

// Warnf appends a warning entry.
func (l *Log) Warnf(format string, args ...any) {
	l.Append(SeverityWarn, fmt.Sprintf(format, args...))
}

// Errorf appends an error entry.
func (l *Log) Errorf(format string, args ...any) {
	l.Append(SeverityError, fmt.Sprintf(format, args...))
}

// Entries returns the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return append([]Entry(nil), l.retained...)
	}
	return l.snapshot()
}

// snapshot decodes the ring. Caller must hold the mutex.
func (l *Log) snapshot() []Entry {
	out := make([]Entry, 0, l.count)
	start := (l.next - l.count + l.capacity) % l.capacity
	for i := 0; i < l.count; i++ {
		off := slotOffset((start + i) % l.capacity)
		out = append(out, decodeEntry(l.data[off:off+slotSize]))
	}
	return out
}

// Capacity is the maximum number of retained entries.
func (l *Log) Capacity() int {
	if l == nil {
		return 0
	}
	return l.capacity
}

// Close releases the storage.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	entries := l.snapshot()
	l.data = nil
	l.retained = entries
	return l.storage.Close()
}
