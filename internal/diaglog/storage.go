// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package diaglog

import "fmt"

// Storage backs the ring's fixed-size byte image.
type Storage interface {
	// Load returns a byte slice of exactly size bytes. Existing contents are
	// preserved when the backing store already has that size.
	Load(size int) ([]byte, error)

	// OnWrite is called after bytes [offset, offset+length) were modified.
	// It allows the storage to persist the change immediately.
	OnWrite(offset, length int)

	Close() error
}

// NewStorage builds a backend by type name: "memory" (default), "file" or "mmap".
func NewStorage(kind, path string) (Storage, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		if path == "" {
			return nil, fmt.Errorf("file persistence requires a path")
		}
		return NewFileStorage(path), nil
	case "mmap":
		if path == "" {
			return nil, fmt.Errorf("mmap persistence requires a path")
		}
		return NewMmapStorage(path), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", kind)
	}
}
