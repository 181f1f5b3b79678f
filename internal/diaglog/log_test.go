// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package diaglog

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func messages(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestLog_RingEviction(t *testing.T) {
	l, err := New(3, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 1; i <= 5; i++ {
		l.Infof("entry %d", i)
	}

	got := messages(l.Entries())
	want := []string{"entry 3", "entry 4", "entry 5"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Entries() = %v, want %v", got, want)
	}
}

func TestLog_PartialRing(t *testing.T) {
	l, _ := New(4, NewMemoryStorage())
	l.Warnf("only")

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("len(Entries()) = %d, want 1", len(entries))
	}
	if entries[0].Severity != SeverityWarn {
		t.Errorf("severity = %v, want warn", entries[0].Severity)
	}
}

func TestLog_DefaultCapacity(t *testing.T) {
	l, _ := New(0, nil)
	if l.Capacity() != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", l.Capacity(), DefaultCapacity)
	}
}

func TestLog_TruncatesLongMessages(t *testing.T) {
	l, _ := New(2, nil)
	long := strings.Repeat("é", maxMessage) // 2 bytes per rune
	l.Errorf("%s", long)

	got := l.Entries()[0].Message
	if len(got) > maxMessage {
		t.Errorf("message length %d exceeds %d", len(got), maxMessage)
	}
	if !strings.HasPrefix(long, got) {
		t.Error("truncated message is not a prefix of the original")
	}
}

func TestLog_Timestamps(t *testing.T) {
	l, _ := New(2, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	l.now = func() time.Time { return fixed }
	l.Debugf("tick")

	if got := l.Entries()[0].Timestamp; !got.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", got, fixed)
	}
}

func TestLog_Nil(t *testing.T) {
	var l *Log
	l.Infof("ignored")
	if l.Entries() != nil {
		t.Error("nil log should have no entries")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() on nil log = %v", err)
	}
}

func TestLog_AppendAfterClose(t *testing.T) {
	l, _ := New(2, nil)
	l.Infof("before")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	l.Infof("after")
	if got := messages(l.Entries()); len(got) != 1 || got[0] != "before" {
		t.Errorf("Entries() after close = %v", got)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestLog_JSON(t *testing.T) {
	l, _ := New(2, nil)
	l.Warnf("port busy")
	raw, err := json.Marshal(l.Entries())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(raw), `"severity":"warn"`) {
		t.Errorf("JSON %s lacks severity name", raw)
	}
}

func TestLog_Persistence(t *testing.T) {
	backends := []struct {
		name string
		open func(path string) Storage
	}{
		{"file", func(path string) Storage { return NewFileStorage(path) }},
		{"mmap", func(path string) Storage { return NewMmapStorage(path) }},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "diag.bin")

			l, err := New(3, b.open(path))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			for i := 1; i <= 4; i++ {
				l.Infof("entry %d", i)
			}
			if err := l.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			reopened, err := New(3, b.open(path))
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			defer reopened.Close()

			got := messages(reopened.Entries())
			want := []string{"entry 2", "entry 3", "entry 4"}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("reloaded entries = %v, want %v", got, want)
			}

			// A different capacity starts from an empty ring.
			reopened.Close()
			resized, err := New(5, b.open(path))
			if err != nil {
				t.Fatalf("resize failed: %v", err)
			}
			defer resized.Close()
			if n := len(resized.Entries()); n != 0 {
				t.Errorf("resized ring has %d entries, want 0", n)
			}
		})
	}
}

func TestNewStorage(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		kind    string
		path    string
		wantErr bool
	}{
		{"", "", false},
		{"memory", "", false},
		{"file", filepath.Join(dir, "a.bin"), false},
		{"mmap", filepath.Join(dir, "b.bin"), false},
		{"file", "", true},
		{"mmap", "", true},
		{"redis", "", true},
	}
	for _, tt := range tests {
		_, err := NewStorage(tt.kind, tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewStorage(%q, %q) error = %v, wantErr %v", tt.kind, tt.path, err, tt.wantErr)
		}
	}
}
