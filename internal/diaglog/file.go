// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package diaglog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// FileStorage keeps the ring image in memory and writes every modified
// slot back to a regular file.
type FileStorage struct {
	path string
	file *os.File
	data []byte
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load reads the ring image, creating or resizing the file as needed.
func (fs *FileStorage) Load(size int) ([]byte, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if fi.Size() != int64(size) {
		// A size change means a different capacity; start from an empty ring.
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to reset file: %w", err)
		}
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	fs.file = f
	fs.data = data
	return data, nil
}

// OnWrite writes the modified range and syncs it to disk.
func (fs *FileStorage) OnWrite(offset, length int) {
	if fs.data == nil || fs.file == nil {
		return
	}
	if _, err := fs.file.WriteAt(fs.data[offset:offset+length], int64(offset)); err != nil {
		slog.Error("Failed to write diag log file", "err", err)
		return
	}
	if err := fs.file.Sync(); err != nil {
		slog.Error("Failed to sync diag log file", "err", err)
	}
}

// Close the file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	fs.data = nil
	return err
}
