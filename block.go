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
	"fmt"

	"github.com/ZaparooProject/go-microsd/internal/frame"
)

// ReadBlock reads the 512-byte block at addr. addr is a block number for
// every card type; byte addressing is handled internally.
func (c *Card) ReadBlock(addr uint32) (Block, error) {
	return c.ReadBlockContext(context.Background(), addr)
}

// ReadBlockContext is ReadBlock with cancellation between polls. The returned
// block is only meaningful when err is nil.
func (c *Card) ReadBlockContext(ctx context.Context, addr uint32) (Block, error) {
	const op = "read block"
	var blk Block
	if err := c.ensureReady(op); err != nil {
		return blk, err
	}

	err := c.transaction(op, func() error {
		r1, err := c.sendCommand(ctx, op, CmdReadSingleBlock, c.blockArg(addr))
		if err != nil {
			return err
		}
		if r1 != 0x00 {
			return newResponseError(op, CmdReadSingleBlock, ErrCommandRejected, r1)
		}
		return c.readDataPacket(ctx, op, CmdReadSingleBlock, blk[:])
	})
	if err != nil {
		return Block{}, fmt.Errorf("block %d: %w", addr, err)
	}
	return blk, nil
}

// WriteBlock writes data to the block at addr and waits until the card has
// committed it.
func (c *Card) WriteBlock(addr uint32, data *Block) error {
	return c.WriteBlockContext(context.Background(), addr, data)
}

// WriteBlockContext is WriteBlock with cancellation between polls
func (c *Card) WriteBlockContext(ctx context.Context, addr uint32, data *Block) error {
	const op = "write block"
	if data == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidParameter)
	}
	if err := c.ensureReady(op); err != nil {
		return err
	}

	err := c.transaction(op, func() error {
		r1, err := c.sendCommand(ctx, op, CmdWriteBlock, c.blockArg(addr))
		if err != nil {
			return err
		}
		if r1 != 0x00 {
			return newResponseError(op, CmdWriteBlock, ErrCommandRejected, r1)
		}

		// gap byte then the start token
		if err := c.write(op, CmdWriteBlock, []byte{frame.DummyByte, frame.TokenStartBlock}); err != nil {
			return err
		}
		if err := c.write(op, CmdWriteBlock, data[:]); err != nil {
			return err
		}
		if err := c.write(op, CmdWriteBlock, dummyBytes[:frame.DataCRCSize]); err != nil {
			return err
		}

		token, err := c.readDataResponse(ctx, op, CmdWriteBlock)
		if err != nil {
			return err
		}
		if token&dataResponseMask != dataAccepted {
			return c.writeRejected(op, token)
		}
		return c.waitWriteDone(ctx, op, CmdWriteBlock)
	})
	if err != nil {
		return fmt.Errorf("block %d: %w", addr, err)
	}
	return nil
}

func (*Card) writeRejected(op string, token byte) error {
	reason := "unknown data response"
	switch token & dataResponseMask {
	case dataRejectedCRC:
		reason = "CRC error"
	case dataRejectedWrite:
		reason = "write error"
	}
	debugf("%s: data response 0x%02X (%s)", op, token, reason)
	return &CardError{
		Op:       op,
		Cmd:      CmdWriteBlock,
		Err:      fmt.Errorf("%w: %s", ErrWriteRejected, reason),
		Type:     ErrorTypePermanent,
		Response: token,
	}
}
