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

package diskio

import (
	"context"
	"fmt"
	"io"

	microsd "github.com/ZaparooProject/go-microsd"
)

// Size returns the card size in bytes
func (d *Disk) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.sectorCount(context.Background())
	if err != nil {
		return 0, err
	}
	return int64(n) * SectorSize, nil
}

// ReadAt implements io.ReaderAt on byte offsets
func (d *Disk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	size, err := d.sectorCount(context.Background())
	if err != nil {
		return 0, err
	}
	end := int64(size) * SectorSize

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= end {
			return n, io.EOF
		}
		blk, err := d.card.ReadBlockContext(context.Background(), uint32(pos/SectorSize))
		if err != nil {
			d.lastErr = err
			return n, err
		}
		n += copy(p[n:], blk[pos%SectorSize:])
	}
	return n, nil
}

// WriteAt implements io.WriterAt on byte offsets. Partial sectors are read,
// patched and written back.
func (d *Disk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readOnly {
		return 0, fmt.Errorf("%w: disk is read-only", microsd.ErrWriteRejected)
	}

	size, err := d.sectorCount(context.Background())
	if err != nil {
		return 0, err
	}
	end := int64(size) * SectorSize
	ctx := context.Background()

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= end {
			return n, io.ErrShortWrite
		}
		addr := uint32(pos / SectorSize)
		within := int(pos % SectorSize)
		chunk := min(len(p)-n, SectorSize-within)

		var blk microsd.Block
		if chunk < SectorSize {
			if blk, err = d.card.ReadBlockContext(ctx, addr); err != nil {
				d.lastErr = err
				return n, err
			}
		}
		copy(blk[within:], p[n:n+chunk])
		if err := d.card.WriteBlockContext(ctx, addr, &blk); err != nil {
			d.lastErr = err
			return n, err
		}
		n += chunk
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Disk)(nil)
	_ io.WriterAt = (*Disk)(nil)
)
