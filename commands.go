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
	"fmt"

	"github.com/ZaparooProject/go-microsd/internal/frame"
)

// Command is an SD command index in the SPI-mode command set.
type Command byte

// Commands used by the driver
const (
	CmdGoIdleState     Command = 0
	CmdSendIfCond      Command = 8
	CmdSendCSD         Command = 9
	CmdSendCID         Command = 10
	CmdSetBlockLen     Command = 16
	CmdReadSingleBlock Command = 17
	CmdWriteBlock      Command = 24
	AcmdSendOpCond     Command = 41 // only valid after CmdAppCmd
	CmdAppCmd          Command = 55
	CmdReadOCR         Command = 58

	cmdNone Command = 0xFF
)

// Command arguments
const (
	argSendIfCond = 0x000001AA // 2.7-3.6V, check pattern 0xAA
	argHCS        = 0x40000000 // host supports high capacity
	checkPattern  = 0xAA
	voltage27to36 = 0x01
)

// CRC bytes. The driver runs with CRC checking disabled, so every frame
// carries the placeholder except the two commands a card checks before it
// has entered SPI mode. Those two always use the fixed arguments above, so
// their true CRC is a constant.
const (
	crcGoIdleState = 0x95
	crcSendIfCond  = 0x87
	crcPlaceholder = frame.DummyByte
)

// R1 response bits
const (
	r1Idle           = 0x01
	r1EraseReset     = 0x02
	r1IllegalCommand = 0x04
	r1CRCError       = 0x08
	r1EraseSequence  = 0x10
	r1AddressError   = 0x20
	r1ParameterError = 0x40
	r1StartBit       = 0x80
)

// Data response token (sent by the card after a written block)
const (
	dataResponseMask   = 0x1F
	dataAccepted       = 0x05
	dataRejectedCRC    = 0x0B
	dataRejectedWrite  = 0x0D
	dataErrorTokenMask = 0xF0 // data error tokens have the upper nibble clear
)

// OCR bits
const (
	ocrPowerUp      = 1 << 31
	ocrCCS          = 1 << 30
	ocrVoltageRange = 0x00FF8000
)

func (c Command) String() string {
	switch c {
	case cmdNone:
		return ""
	case AcmdSendOpCond:
		return "ACMD41"
	default:
		return fmt.Sprintf("CMD%d", byte(c))
	}
}

func (c Command) crc() byte {
	switch c {
	case CmdGoIdleState:
		return crcGoIdleState
	case CmdSendIfCond:
		return crcSendIfCond
	default:
		return crcPlaceholder
	}
}

// frame encodes the command with arg. Arguments are not validated.
func (c Command) frame(arg uint32) frame.Command {
	return frame.Encode(byte(c), arg, c.crc())
}

// describeR1 renders the error bits of an R1 response for logs
func describeR1(r1 byte) string {
	names := []struct {
		name string
		bit  byte
	}{
		{"idle", r1Idle},
		{"erase-reset", r1EraseReset},
		{"illegal-command", r1IllegalCommand},
		{"crc-error", r1CRCError},
		{"erase-sequence", r1EraseSequence},
		{"address-error", r1AddressError},
		{"parameter-error", r1ParameterError},
	}
	out := ""
	for _, n := range names {
		if r1&n.bit == 0 {
			continue
		}
		if out != "" {
			out += ","
		}
		out += n.name
	}
	if out == "" {
		return "ok"
	}
	return out
}
