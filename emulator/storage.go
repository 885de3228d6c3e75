// go-microsd
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-microsd.
//
// go-microsd is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-microsd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-microsd; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package emulator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const blockSize = 512

// ErrOutOfRange is returned for accesses beyond the end of a storage
var ErrOutOfRange = errors.New("access beyond end of storage")

// Storage backs the blocks of an emulated card
type Storage interface {
	io.ReaderAt
	io.WriterAt

	// Blocks returns the number of 512-byte blocks
	Blocks() uint32
}

// Memory is an in-memory Storage
type Memory struct {
	data []byte
	mu   sync.RWMutex
}

// NewMemory allocates a zero-filled storage of the given number of blocks
func NewMemory(blocks uint32) *Memory {
	return &Memory{data: make([]byte, int(blocks)*blockSize)}
}

// Blocks implements Storage
func (m *Memory) Blocks() uint32 {
	return uint32(len(m.data) / blockSize)
}

// ReadAt implements io.ReaderAt
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off < 0 || off >= int64(len(m.data)) {
		return 0, fmt.Errorf("%w: offset %d", ErrOutOfRange, off)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("%w: offset %d length %d", ErrOutOfRange, off, len(p))
	}
	return copy(m.data[off:], p), nil
}

// Image is a Storage backed by a raw disk image file
type Image struct {
	file   *os.File
	blocks uint32
}

// OpenImage opens a raw image for reading and writing. Trailing bytes that
// do not fill a whole block are not addressable.
func OpenImage(path string) (*Image, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.Size() < blockSize {
		_ = file.Close()
		return nil, fmt.Errorf("image %s is smaller than one block", path)
	}
	return &Image{file: file, blocks: uint32(info.Size() / blockSize)}, nil
}

// Blocks implements Storage
func (i *Image) Blocks() uint32 {
	return i.blocks
}

// ReadAt implements io.ReaderAt
func (i *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(i.blocks)*blockSize {
		return 0, fmt.Errorf("%w: offset %d", ErrOutOfRange, off)
	}
	n, err := i.file.ReadAt(p, off)
	if err != nil {
		return n, fmt.Errorf("image read: %w", err)
	}
	return n, nil
}

// WriteAt implements io.WriterAt
func (i *Image) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(i.blocks)*blockSize {
		return 0, fmt.Errorf("%w: offset %d length %d", ErrOutOfRange, off, len(p))
	}
	n, err := i.file.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("image write: %w", err)
	}
	return n, nil
}

// Sync flushes the image to disk
func (i *Image) Sync() error {
	if err := i.file.Sync(); err != nil {
		return fmt.Errorf("image sync: %w", err)
	}
	return nil
}

// Close closes the image file
func (i *Image) Close() error {
	if err := i.file.Close(); err != nil {
		return fmt.Errorf("image close: %w", err)
	}
	return nil
}
