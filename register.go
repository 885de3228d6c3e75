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

package microsd

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/ZaparooProject/go-microsd/internal/frame"
)

// CSD is the 16-byte card-specific data register
type CSD [frame.RegisterSize]byte

// Structure returns the CSD structure version field: 0 for version 1.0,
// 1 for version 2.0 (SDHC/SDXC).
func (c CSD) Structure() int {
	return int(c[0] >> 6)
}

// CSize returns the 22-bit device size field of a version 2.0 CSD
func (c CSD) CSize() uint32 {
	return binary.BigEndian.Uint32(c[6:10]) & 0x3FFFFF
}

// CID is the 16-byte card identification register
type CID [frame.RegisterSize]byte

// ManufacturerID returns the manufacturer ID assigned by the SD association
func (c CID) ManufacturerID() byte {
	return c[0]
}

// OEMID returns the two-character OEM/application ID
func (c CID) OEMID() string {
	return string(c[1:3])
}

// ProductName returns the five-character product name
func (c CID) ProductName() string {
	return strings.TrimRight(string(c[3:8]), "\x00 ")
}

// Revision returns the product revision as major and minor digits
func (c CID) Revision() (major, minor int) {
	return int(c[8] >> 4), int(c[8] & 0x0F)
}

// SerialNumber returns the 32-bit product serial number
func (c CID) SerialNumber() uint32 {
	return binary.BigEndian.Uint32(c[9:13])
}

// CapacityGB converts a version 2.0 C_SIZE into gigabytes
func CapacityGB(cSize uint32) float64 {
	return float64((uint64(cSize)+1)*512) / 1024 / 1024
}

// ReadCSD reads the card-specific data register
func (c *Card) ReadCSD() (CSD, error) {
	return c.ReadCSDContext(context.Background())
}

// ReadCSDContext is ReadCSD with cancellation between polls
func (c *Card) ReadCSDContext(ctx context.Context) (CSD, error) {
	var csd CSD
	err := c.readRegister(ctx, "read CSD", CmdSendCSD, csd[:])
	return csd, err
}

// ReadCID reads the card identification register
func (c *Card) ReadCID() (CID, error) {
	return c.ReadCIDContext(context.Background())
}

// ReadCIDContext is ReadCID with cancellation between polls
func (c *Card) ReadCIDContext(ctx context.Context) (CID, error) {
	var cid CID
	err := c.readRegister(ctx, "read CID", CmdSendCID, cid[:])
	return cid, err
}

// Capacity returns the card capacity in gigabytes. Only the version 2.0 CSD
// layout is decoded.
func (c *Card) Capacity() (float64, error) {
	return c.CapacityContext(context.Background())
}

// CapacityContext is Capacity with cancellation between polls
func (c *Card) CapacityContext(ctx context.Context) (float64, error) {
	csd, err := c.csdV2(ctx)
	if err != nil {
		return 0, err
	}
	return CapacityGB(csd.CSize()), nil
}

// SectorCount returns the number of 512-byte sectors on the card
func (c *Card) SectorCount(ctx context.Context) (uint64, error) {
	csd, err := c.csdV2(ctx)
	if err != nil {
		return 0, err
	}
	return (uint64(csd.CSize()) + 1) * 1024, nil
}

func (c *Card) csdV2(ctx context.Context) (CSD, error) {
	csd, err := c.ReadCSDContext(ctx)
	if err != nil {
		return csd, err
	}
	if csd.Structure() != 1 {
		debugf("CSD structure %d is not version 2.0, capacity will be wrong", csd.Structure())
	}
	return csd, nil
}

func (c *Card) readRegister(ctx context.Context, op string, cmd Command, dst []byte) error {
	if err := c.ensureReady(op); err != nil {
		return err
	}
	return c.transaction(op, func() error {
		r1, err := c.sendCommand(ctx, op, cmd, 0)
		if err != nil {
			return err
		}
		if r1 != 0x00 {
			return newResponseError(op, cmd, ErrCommandRejected, r1)
		}
		return c.readDataPacket(ctx, op, cmd, dst)
	})
}
