// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package diaglog

import (
	"encoding/binary"
	"time"
	"unicode/utf8"
)

// Image layout (little endian):
//
//	header: magic(4) capacity(4) next(4) count(4)
//	slot i: at headerSize + i*slotSize
//	        timestamp unix nanos(8) severity(1) length(2) message(maxMessage)
const (
	magic      = 0x534c4447 // "SDLG"
	headerSize = 16
	slotSize   = 256
	maxMessage = slotSize - 11

	offsetMagic    = 0
	offsetCapacity = 4
	offsetNext     = 8
	offsetCount    = 12
)

func imageSize(capacity int) int {
	return headerSize + capacity*slotSize
}

func slotOffset(i int) int {
	return headerSize + i*slotSize
}

type header struct {
	capacity, next, count int
}

func readHeader(data []byte) (header, bool) {
	if binary.LittleEndian.Uint32(data[offsetMagic:]) != magic {
		return header{}, false
	}
	return header{
		capacity: int(binary.LittleEndian.Uint32(data[offsetCapacity:])),
		next:     int(binary.LittleEndian.Uint32(data[offsetNext:])),
		count:    int(binary.LittleEndian.Uint32(data[offsetCount:])),
	}, true
}

func writeHeader(data []byte, h header) {
	binary.LittleEndian.PutUint32(data[offsetMagic:], magic)
	binary.LittleEndian.PutUint32(data[offsetCapacity:], uint32(h.capacity))
	binary.LittleEndian.PutUint32(data[offsetNext:], uint32(h.next))
	binary.LittleEndian.PutUint32(data[offsetCount:], uint32(h.count))
}

func encodeEntry(slot []byte, e Entry) {
	msg := truncate(e.Message, maxMessage)
	binary.LittleEndian.PutUint64(slot[0:], uint64(e.Timestamp.UnixNano()))
	slot[8] = byte(e.Severity)
	binary.LittleEndian.PutUint16(slot[9:], uint16(len(msg)))
	n := copy(slot[11:], msg)
	clear(slot[11+n:])
}

func decodeEntry(slot []byte) Entry {
	n := int(binary.LittleEndian.Uint16(slot[9:]))
	if n > maxMessage {
		n = maxMessage
	}
	return Entry{
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(slot[0:]))),
		Severity:  Severity(slot[8]),
		Message:   string(slot[11 : 11+n]),
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
