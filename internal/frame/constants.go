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

// Package frame provides command frame encoding and the checksums used by the
// SD card SPI protocol.
package frame

import "encoding/binary"

// Frame layout constants
const (
	CommandLength   = 6    // index + 4 argument bytes + CRC
	TransmissionBit = 0x40 // start bit 0, transmission bit 1
	IndexMask       = 0x3F
	EndBit          = 0x01
)

// Bus filler and data tokens
const (
	DummyByte       = 0xFF // idle MOSI/MISO level
	TokenStartBlock = 0xFE // precedes a single-block data packet
)

// Data sizes
const (
	BlockSize    = 512
	RegisterSize = 16
	DataCRCSize  = 2
)

// Command is an encoded 6-byte command frame.
type Command [CommandLength]byte

// Encode builds a command frame for the given command index, argument and CRC
// byte. The CRC byte is used verbatim.
func Encode(index byte, arg uint32, crc byte) Command {
	var c Command
	c[0] = TransmissionBit | (index & IndexMask)
	binary.BigEndian.PutUint32(c[1:5], arg)
	c[5] = crc
	return c
}

// Index returns the command index without the transmission bit.
func (c Command) Index() byte {
	return c[0] & IndexMask
}

// Arg returns the big-endian argument.
func (c Command) Arg() uint32 {
	return binary.BigEndian.Uint32(c[1:5])
}

// CRC returns the trailing CRC byte as transmitted.
func (c Command) CRC() byte {
	return c[5]
}

// CRCValid reports whether the trailing byte carries the correct CRC7 of the
// first five bytes together with the end bit.
func (c Command) CRCValid() bool {
	return c[5] == CommandCRC(c.Index(), c.Arg())
}

// Bytes returns the frame as a slice.
func (c Command) Bytes() []byte {
	return c[:]
}
