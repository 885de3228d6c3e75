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

// Package diskio adapts a card to the block device contract used by FatFs
// style filesystems: sector reads and writes, status flags and ioctl queries.
package diskio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	microsd "github.com/ZaparooProject/go-microsd"
	"github.com/golang/glog"
)

// SectorSize is the fixed sector size in bytes
const SectorSize = microsd.BlockSize

// Card is the subset of *microsd.Card the adapter needs
type Card interface {
	ReadBlockContext(ctx context.Context, addr uint32) (microsd.Block, error)
	WriteBlockContext(ctx context.Context, addr uint32, data *microsd.Block) error
	SectorCount(ctx context.Context) (uint64, error)
	Reinitialize(ctx context.Context) error
	Ready() bool
}

// Status is a set of drive status flags
type Status uint8

// Status flags
const (
	StatusNoInit  Status = 0x01 // drive not initialized
	StatusNoDisk  Status = 0x02 // no medium in the drive
	StatusProtect Status = 0x04 // write protected
)

// Result is the outcome of a disk operation
type Result int

// Results
const (
	ResOK Result = iota
	ResError
	ResWriteProtected
	ResNotReady
	ResParameterError
)

func (r Result) String() string {
	switch r {
	case ResOK:
		return "ok"
	case ResError:
		return "error"
	case ResWriteProtected:
		return "write protected"
	case ResNotReady:
		return "not ready"
	case ResParameterError:
		return "parameter error"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// IoctlCmd is a control command
type IoctlCmd int

// Control commands
const (
	CtrlSync IoctlCmd = iota
	GetSectorCount
	GetSectorSize
	GetBlockSize
)

// Disk serializes access to one card and exposes it as a block device. It is
// safe for concurrent use.
type Disk struct {
	card     Card
	lastErr  error
	sectors  uint64
	mu       sync.Mutex
	readOnly bool
}

// Option configures a Disk
type Option func(*Disk)

// WithReadOnly rejects every write with ResWriteProtected
func WithReadOnly() Option {
	return func(d *Disk) { d.readOnly = true }
}

// New wraps card
func New(card Card, opts ...Option) *Disk {
	d := &Disk{card: card}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReadOnly reports whether writes are rejected
func (d *Disk) ReadOnly() bool {
	return d.readOnly
}

// Status returns the current drive status
func (d *Disk) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status()
}

func (d *Disk) status() Status {
	var s Status
	if !d.card.Ready() {
		s |= StatusNoInit
	}
	if d.readOnly {
		s |= StatusProtect
	}
	return s
}

// Initialize runs the card handshake again and returns the resulting status
func (d *Disk) Initialize(ctx context.Context) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sectors = 0
	if err := d.card.Reinitialize(ctx); err != nil {
		d.fail("initialize", err)
	}
	return d.status()
}

// Err returns the error behind the last failed operation
func (d *Disk) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *Disk) fail(op string, err error) Result {
	d.lastErr = err
	glog.Warningf("diskio: %s: %v", op, err)
	if errors.Is(err, microsd.ErrNotInitialized) {
		return ResNotReady
	}
	return ResError
}

func checkRange(sector uint64, count uint32, buf []byte) bool {
	if count == 0 || uint64(len(buf)) < uint64(count)*SectorSize {
		return false
	}
	return sector+uint64(count) <= math.MaxUint32+1
}

// Read reads count sectors starting at sector into buf. It stops at the first
// failing sector.
func (d *Disk) Read(ctx context.Context, sector uint64, count uint32, buf []byte) Result {
	if !checkRange(sector, count, buf) {
		return ResParameterError
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.card.Ready() {
		return ResNotReady
	}

	for i := range uint64(count) {
		blk, err := d.card.ReadBlockContext(ctx, uint32(sector+i))
		if err != nil {
			return d.fail("read", err)
		}
		copy(buf[i*SectorSize:], blk[:])
	}
	return ResOK
}

// Write writes count sectors from buf starting at sector. It stops at the
// first failing sector; earlier sectors stay written.
func (d *Disk) Write(ctx context.Context, sector uint64, count uint32, buf []byte) Result {
	if !checkRange(sector, count, buf) {
		return ResParameterError
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readOnly {
		return ResWriteProtected
	}
	if !d.card.Ready() {
		return ResNotReady
	}

	var blk microsd.Block
	for i := range uint64(count) {
		copy(blk[:], buf[i*SectorSize:])
		if err := d.card.WriteBlockContext(ctx, uint32(sector+i), &blk); err != nil {
			return d.fail("write", err)
		}
	}
	return ResOK
}

// Ioctl runs a control command. Every command except CtrlSync stores its
// answer in out.
func (d *Disk) Ioctl(cmd IoctlCmd, out *uint32) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cmd == CtrlSync {
		// writes complete before WriteBlock returns
		return ResOK
	}
	if out == nil {
		return ResParameterError
	}

	switch cmd {
	case GetSectorCount:
		n, err := d.sectorCount(context.Background())
		if err != nil {
			return d.fail("sector count", err)
		}
		*out = uint32(min(n, math.MaxUint32))
	case GetSectorSize:
		*out = SectorSize
	case GetBlockSize:
		// erase block size unknown
		*out = 1
	default:
		return ResParameterError
	}
	return ResOK
}

func (d *Disk) sectorCount(ctx context.Context) (uint64, error) {
	if d.sectors != 0 {
		return d.sectors, nil
	}
	n, err := d.card.SectorCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read sector count: %w", err)
	}
	d.sectors = n
	return n, nil
}
